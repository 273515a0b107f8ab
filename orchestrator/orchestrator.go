package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/insightflow/ml-studio-backend/config"
	"github.com/insightflow/ml-studio-backend/converter"
	"github.com/insightflow/ml-studio-backend/h2o"
	"github.com/insightflow/ml-studio-backend/models"
	"github.com/insightflow/ml-studio-backend/repository"
	"github.com/insightflow/ml-studio-backend/simulator"
)

// ErrInvalidConfig marks training-config validation failures, rejected
// synchronously at submission before any job row exists.
var ErrInvalidConfig = errors.New("invalid training config")

// errJobGone signals that the job row disappeared mid-run (administrative
// deletion). The worker stops quietly; this is a no-op, not a failure.
var errJobGone = errors.New("job no longer exists")

// Engine is the AutoML engine surface the orchestrator drives
type Engine interface {
	CheckCluster(ctx context.Context) bool
	UploadCSV(ctx context.Context, data []byte, frameName string) (string, error)
	StartAutoML(ctx context.Context, trainingFrame, targetColumn string, maxModels, maxRuntimeSecs int) (*h2o.AutoMLJob, error)
	GetProgress(ctx context.Context, projectName string) (*h2o.RunStatus, error)
	GetLeaderboard(ctx context.Context, projectName string) (*h2o.Leaderboard, error)
}

// DatasetStore resolves dataset references for training
type DatasetStore interface {
	Get(ctx context.Context, owner, id string) (*config.Dataset, error)
	Download(ctx context.Context, ds *config.Dataset) ([]byte, error)
}

// Orchestrator owns the job state machine: it creates job records, dispatches
// exactly one background worker per job, persists progress snapshots, and
// registers the trained model on completion.
type Orchestrator struct {
	repo      *repository.Repository
	engine    Engine
	datasets  DatasetStore
	sim       *simulator.Simulator
	converter *converter.Converter

	// PollInterval is the sleep between engine progress polls
	PollInterval time.Duration
	// MaxModels is the candidate cap passed to the engine
	MaxModels int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]struct{}
}

// NewOrchestrator creates an orchestrator with production defaults
func NewOrchestrator(repo *repository.Repository, engine Engine, datasets DatasetStore, sim *simulator.Simulator) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		repo:         repo,
		engine:       engine,
		datasets:     datasets,
		sim:          sim,
		converter:    converter.NewConverter(),
		PollInterval: 10 * time.Second,
		MaxModels:    20,
		ctx:          ctx,
		cancel:       cancel,
		active:       make(map[string]struct{}),
	}
}

// Stop cancels all running workers and waits for them to exit. Jobs still in
// flight stay in running state; the job monitor reaps them after a restart.
func (o *Orchestrator) Stop() {
	o.cancel()
	o.wg.Wait()
}

// IsActive reports whether a live worker owns the given job id
func (o *Orchestrator) IsActive(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[jobID]
	return ok
}

// StartTraining validates the config, creates the job record with
// status=running, and dispatches the background worker. It returns as soon as
// the job row exists; the caller polls the repository for progress.
func (o *Orchestrator) StartTraining(ctx context.Context, owner string, cfg *models.TrainingConfig) (*config.MLJob, error) {
	if err := o.validate(ctx, owner, cfg); err != nil {
		return nil, err
	}

	job, err := o.repo.CreateJob(owner, cfg)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.active[job.ID] = struct{}{}
	o.mu.Unlock()

	o.wg.Add(1)
	go o.run(job.ID, owner, cfg)

	log.Printf("Training job %s started for user %s (dataset %s)", job.ID, owner, cfg.DatasetID)
	return job, nil
}

func (o *Orchestrator) validate(ctx context.Context, owner string, cfg *models.TrainingConfig) error {
	if cfg.TargetColumn == "" {
		return fmt.Errorf("%w: target column is required", ErrInvalidConfig)
	}
	if cfg.ProblemType != models.ProblemClassification && cfg.ProblemType != models.ProblemRegression {
		return fmt.Errorf("%w: unsupported problem type %q", ErrInvalidConfig, cfg.ProblemType)
	}
	if cfg.TimeBudget <= 0 {
		cfg.TimeBudget = 5
	}

	ds, err := o.datasets.Get(ctx, owner, cfg.DatasetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: dataset %s not found", ErrInvalidConfig, cfg.DatasetID)
		}
		return err
	}
	if ds.Status != models.DatasetStatusReady {
		return fmt.Errorf("%w: dataset %s is not ready (status: %s)", ErrInvalidConfig, ds.ID, ds.Status)
	}
	return nil
}

// run is the per-job worker. Exactly one worker owns a job id for its whole
// lifetime; no other goroutine writes the job row.
func (o *Orchestrator) run(jobID, owner string, cfg *models.TrainingConfig) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		delete(o.active, jobID)
		o.mu.Unlock()
	}()

	var err error
	if o.engine.CheckCluster(o.ctx) {
		log.Printf("Job %s: H2O cluster available, using real engine", jobID)
		err = o.runEngine(jobID, owner, cfg)
	} else {
		log.Printf("Job %s: H2O cluster unavailable, falling back to simulation", jobID)
		err = o.runSimulated(jobID, owner, cfg)
	}

	switch {
	case err == nil:
	case errors.Is(err, errJobGone):
		log.Printf("Job %s was deleted mid-run, worker stopped", jobID)
	case o.ctx.Err() != nil:
		log.Printf("Job %s interrupted by shutdown", jobID)
	default:
		log.Printf("Job %s failed: %v", jobID, err)
		if ferr := o.repo.FailJob(jobID, err.Error()); ferr != nil {
			log.Printf("Failed to mark job %s as failed: %v", jobID, ferr)
		}
	}
}

// runEngine drives the real engine path: fetch dataset, upload frame, submit
// AutoML, poll until done, then finalize from the leaderboard.
func (o *Orchestrator) runEngine(jobID, owner string, cfg *models.TrainingConfig) error {
	ctx := o.ctx

	ds, err := o.datasets.Get(ctx, owner, cfg.DatasetID)
	if err != nil {
		return fmt.Errorf("failed to fetch dataset: %w", err)
	}
	raw, err := o.datasets.Download(ctx, ds)
	if err != nil {
		return fmt.Errorf("failed to download dataset: %w", err)
	}
	trainCSV, err := o.converter.BuildTrainingCSV(raw, cfg.SelectedFeatures, cfg.TargetColumn)
	if err != nil {
		return err
	}

	frame, err := o.engine.UploadCSV(ctx, trainCSV, "dataset_"+jobID)
	if err != nil {
		return err
	}

	runInfo, err := o.engine.StartAutoML(ctx, frame, cfg.TargetColumn, o.MaxModels, cfg.TimeBudget*60)
	if err != nil {
		return err
	}

	history, err := o.pollEngine(jobID, cfg, runInfo.ProjectName)
	if err != nil {
		return err
	}

	final, err := o.engine.GetProgress(ctx, runInfo.ProjectName)
	if err != nil {
		return err
	}
	leaderboard, err := o.engine.GetLeaderboard(ctx, runInfo.ProjectName)
	if err != nil {
		return err
	}

	leader := final.AutoML.Leader
	accuracy := finalAccuracy(cfg.ProblemType, leader)
	bestModel := ""
	if leader != nil {
		bestModel = leader.ModelID
	}

	metrics := &models.JobMetrics{
		FinalAccuracy:  accuracy,
		ModelsTrained:  final.AutoML.ModelsBuilt,
		BestModel:      bestModel,
		TrainingMethod: models.ModelTypeH2O,
	}
	modelMetrics := engineModelMetrics(accuracy, final.AutoML.ModelsBuilt, leader)
	modelConfig := &models.ModelConfig{
		Framework:    "H2O",
		AutoMLConfig: cfg,
		BestModel:    bestModel,
		ProjectName:  runInfo.ProjectName,
		Leaderboard:  leaderboard.Models,
	}

	return o.finalize(jobID, owner, cfg, models.ModelTypeH2O, accuracy, metrics, modelMetrics, modelConfig, history)
}

// pollEngine repeats progress polls on a fixed interval, writing to the job
// row only when progress has advanced by at least 5 points. Transient poll
// failures are retried; a long streak of consecutive failures is treated as a
// hard engine failure.
func (o *Orchestrator) pollEngine(jobID string, cfg *models.TrainingConfig, projectName string) ([]models.TrainingHistoryEntry, error) {
	const minWriteDelta = 5
	const maxConsecutiveFailures = 30

	var history []models.TrainingHistoryEntry
	lastWritten := 0
	failures := 0

	for {
		status, err := o.engine.GetProgress(o.ctx, projectName)
		if err != nil {
			failures++
			if failures >= maxConsecutiveFailures {
				return nil, fmt.Errorf("progress polling failed %d times in a row: %w", failures, err)
			}
			log.Printf("Job %s: progress check failed, continuing: %v", jobID, err)
			if err := o.sleep(); err != nil {
				return nil, err
			}
			continue
		}
		failures = 0

		progress := int(status.AutoML.Progress * 100)
		if progress > 100 {
			progress = 100
		}

		if progress-lastWritten >= minWriteDelta || (progress >= 100 && lastWritten < 100) {
			leaderPerf := 0.0
			if status.AutoML.Leader != nil {
				leaderPerf = status.AutoML.Leader.ValidationMetrics.MeanPerClassError
			}
			ok, err := o.repo.UpdateJobProgress(jobID, progress, nil, &models.JobMetrics{
				ModelsTrained:        status.AutoML.ModelsBuilt,
				BestModelPerformance: leaderPerf,
			})
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, errJobGone
			}
			lastWritten = progress

			history = append(history, models.TrainingHistoryEntry{
				Model:     status.AutoML.ModelsBuilt,
				Algorithm: models.ModelTypeH2O,
				Accuracy:  finalAccuracy(cfg.ProblemType, status.AutoML.Leader),
				Timestamp: time.Now().UTC(),
			})
		}

		if progress >= 100 {
			return history, nil
		}
		if err := o.sleep(); err != nil {
			return nil, err
		}
	}
}

func (o *Orchestrator) sleep() error {
	select {
	case <-o.ctx.Done():
		return o.ctx.Err()
	case <-time.After(o.PollInterval):
		return nil
	}
}

// runSimulated drives the fallback simulator path
func (o *Orchestrator) runSimulated(jobID, owner string, cfg *models.TrainingConfig) error {
	result, err := o.sim.Run(o.ctx, cfg.ProblemType, func(snap simulator.Snapshot) error {
		acc := snap.BestAccuracy
		ok, err := o.repo.UpdateJobProgress(jobID, snap.Progress, &acc, &models.JobMetrics{
			ModelsTrained:    snap.ModelsTrained,
			CurrentAlgorithm: snap.CurrentAlgorithm,
			BestAccuracy:     snap.BestAccuracy,
		})
		if err != nil {
			return err
		}
		if !ok {
			return simulator.ErrStop
		}
		return nil
	})
	if errors.Is(err, simulator.ErrStop) {
		return errJobGone
	}
	if err != nil {
		return err
	}

	best := result.BestAccuracy
	metrics := &models.JobMetrics{
		FinalAccuracy:  best,
		ModelsTrained:  len(result.History),
		BestAlgorithm:  result.BestAlgorithm,
		TrainingMethod: models.ModelTypeSimulated,
	}
	modelMetrics := &models.ModelMetrics{
		Accuracy:      best,
		Precision:     capped(best+0.02, 0.98),
		Recall:        capped(best-0.01, 0.95),
		F1Score:       capped(best+0.01, 0.96),
		ModelsTrained: len(result.History),
	}
	modelConfig := &models.ModelConfig{
		Framework:    models.ModelTypeSimulated,
		AutoMLConfig: cfg,
		Algorithms:   []string{"GBM", "Random Forest", "Deep Learning", "GLM", "XGBoost"},
	}

	return o.finalize(jobID, owner, cfg, models.ModelTypeSimulated, best, metrics, modelMetrics, modelConfig, result.History)
}

// finalize completes the job and registers the trained model. Model creation
// is idempotent per job; if it fails, the job stays completed and the missing
// model is a state callers must tolerate.
func (o *Orchestrator) finalize(jobID, owner string, cfg *models.TrainingConfig, modelType string, accuracy float64,
	metrics *models.JobMetrics, modelMetrics *models.ModelMetrics, modelConfig *models.ModelConfig,
	history []models.TrainingHistoryEntry) error {

	ok, err := o.repo.CompleteJob(jobID, accuracy, metrics)
	if err != nil {
		return err
	}
	if !ok {
		// Either already completed (re-entry) or deleted; only register a
		// model if the job row still exists.
		if _, err := o.repo.GetJob(owner, jobID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errJobGone
			}
			return err
		}
	}

	model, err := buildModelRecord(jobID, owner, cfg, modelType, modelMetrics, modelConfig, history)
	if err != nil {
		return err
	}
	if _, err := o.repo.CreateModel(model); err != nil {
		// Best-effort secondary write: the job is already completed.
		log.Printf("Job %s completed but model registration failed: %v", jobID, err)
		return nil
	}

	log.Printf("Job %s completed, accuracy %.4f (%s)", jobID, accuracy, modelType)
	return nil
}

// finalAccuracy derives the headline accuracy from the leader's validation
// metrics. One derivation per problem type: classification uses accuracy,
// falling back to 1-mean_per_class_error; regression uses R². 0.85 is the
// last-resort constant when the engine reports nothing usable.
func finalAccuracy(problemType string, leader *h2o.Leader) float64 {
	if leader == nil {
		return 0.85
	}
	m := leader.ValidationMetrics
	if problemType == models.ProblemRegression {
		if m.R2 > 0 {
			return m.R2
		}
		return 0.85
	}
	if m.Accuracy > 0 {
		return m.Accuracy
	}
	if m.MeanPerClassError > 0 {
		return 1 - m.MeanPerClassError
	}
	return 0.85
}

func engineModelMetrics(accuracy float64, modelsBuilt int, leader *h2o.Leader) *models.ModelMetrics {
	metrics := &models.ModelMetrics{
		Accuracy:      accuracy,
		Precision:     capped(accuracy+0.02, 0.98),
		Recall:        capped(accuracy-0.01, 0.95),
		F1Score:       capped(accuracy+0.01, 0.96),
		ModelsTrained: modelsBuilt,
	}
	if leader != nil {
		m := leader.ValidationMetrics
		if m.Precision > 0 {
			metrics.Precision = m.Precision
		}
		if m.Recall > 0 {
			metrics.Recall = m.Recall
		}
		if m.F1 > 0 {
			metrics.F1Score = m.F1
		}
	}
	return metrics
}

func buildModelRecord(jobID, owner string, cfg *models.TrainingConfig, modelType string,
	metrics *models.ModelMetrics, modelConfig *models.ModelConfig,
	history []models.TrainingHistoryEntry) (*config.MLModel, error) {

	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("AutoML_%s", jobID[:8])
	}

	metricsJSON, err := marshalJSON(metrics)
	if err != nil {
		return nil, err
	}
	historyJSON, err := marshalJSON(history)
	if err != nil {
		return nil, err
	}
	configJSON, err := marshalJSON(modelConfig)
	if err != nil {
		return nil, err
	}

	return &config.MLModel{
		UserID:          owner,
		JobID:           jobID,
		Name:            name,
		ModelType:       modelType,
		Metrics:         metricsJSON,
		TrainingHistory: historyJSON,
		Status:          models.ModelStatusReady,
		ModelConfig:     configJSON,
	}, nil
}

func marshalJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON payload: %w", err)
	}
	return string(b), nil
}

func capped(v, max float64) float64 {
	if v > max {
		return max
	}
	return v
}
