package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/insightflow/ml-studio-backend/config"
	"github.com/insightflow/ml-studio-backend/models"
)

// Repository handles database operations. All reads and writes that touch
// user-owned rows are scoped by owner identity.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository instance
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// jobConfig is the serialized tail of a TrainingConfig stored on the job row
type jobConfig struct {
	TimeBudget         int    `json:"time_budget"`
	OptimizationMetric string `json:"optimization_metric"`
}

// CreateJob creates a new training job record with status=running
func (r *Repository) CreateJob(owner string, cfg *models.TrainingConfig) (*config.MLJob, error) {
	features := cfg.SelectedFeatures
	if features == nil {
		features = []string{}
	}
	featuresJSON, err := json.Marshal(features)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal selected features: %w", err)
	}
	cfgJSON, err := json.Marshal(jobConfig{
		TimeBudget:         cfg.TimeBudget,
		OptimizationMetric: cfg.OptimizationMetric,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job config: %w", err)
	}

	now := time.Now()
	job := &config.MLJob{
		ID:               uuid.New().String(),
		UserID:           owner,
		Name:             cfg.Name,
		DatasetID:        cfg.DatasetID,
		ProblemType:      cfg.ProblemType,
		TargetColumn:     cfg.TargetColumn,
		SelectedFeatures: string(featuresJSON),
		Config:           string(cfgJSON),
		Status:           models.JobStatusRunning,
		Progress:         0,
		StartedAt:        now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := r.db.Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to create training job: %w", err)
	}
	return job, nil
}

// GetJob retrieves a training job by ID, scoped to its owner
func (r *Repository) GetJob(owner, id string) (*config.MLJob, error) {
	var job config.MLJob
	if err := r.db.Where("id = ? AND user_id = ?", id, owner).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs lists all training jobs of an owner, newest first
func (r *Repository) ListJobs(owner string) ([]config.MLJob, error) {
	var jobs []config.MLJob
	err := r.db.Where("user_id = ?", owner).
		Order("created_at DESC").
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListActiveJobs lists all jobs that are not in a terminal state
func (r *Repository) ListActiveJobs() ([]config.MLJob, error) {
	var jobs []config.MLJob
	err := r.db.Where("status = ?", models.JobStatusRunning).
		Order("created_at DESC").
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// UpdateJobProgress writes a progress snapshot to a running job. The guards
// keep terminal rows immutable and progress non-decreasing; a write against a
// deleted or finished job affects zero rows, which the caller treats as a
// signal to stop. Accuracy is only touched once an estimate exists.
func (r *Repository) UpdateJobProgress(id string, progress int, accuracy *float64, metrics *models.JobMetrics) (bool, error) {
	updates := map[string]interface{}{
		"progress":   progress,
		"updated_at": time.Now(),
	}
	if accuracy != nil {
		updates["accuracy"] = *accuracy
	}
	if metrics != nil {
		metricsJSON, err := json.Marshal(metrics)
		if err != nil {
			return false, fmt.Errorf("failed to marshal job metrics: %w", err)
		}
		updates["metrics"] = string(metricsJSON)
	}

	result := r.db.Model(&config.MLJob{}).
		Where("id = ? AND status = ? AND progress <= ?", id, models.JobStatusRunning, progress).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CompleteJob transitions a running job to completed with its final snapshot
func (r *Repository) CompleteJob(id string, accuracy float64, metrics *models.JobMetrics) (bool, error) {
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return false, fmt.Errorf("failed to marshal final metrics: %w", err)
	}

	now := time.Now()
	result := r.db.Model(&config.MLJob{}).
		Where("id = ? AND status = ?", id, models.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":       models.JobStatusCompleted,
			"progress":     100,
			"accuracy":     accuracy,
			"metrics":      string(metricsJSON),
			"completed_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// FailJob transitions a running job to failed, capturing the cause verbatim
func (r *Repository) FailJob(id, message string) error {
	return r.db.Model(&config.MLJob{}).
		Where("id = ? AND status = ?", id, models.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":        models.JobStatusFailed,
			"error_message": message,
			"updated_at":    time.Now(),
		}).Error
}

// DeleteJob deletes a training job and its model. The model goes first so no
// orphaned model can point at a removed job.
func (r *Repository) DeleteJob(owner, id string) error {
	if err := r.db.Where("job_id = ? AND user_id = ?", id, owner).Delete(&config.MLModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete job's model: %w", err)
	}
	result := r.db.Where("id = ? AND user_id = ?", id, owner).Delete(&config.MLJob{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CreateModel creates the model record for a completed job. Idempotent per
// job: if a model already references the job, that model is returned and no
// duplicate is written.
func (r *Repository) CreateModel(model *config.MLModel) (*config.MLModel, error) {
	if existing, err := r.GetModelByJobID(model.JobID); err == nil {
		return existing, nil
	} else if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	if model.ID == "" {
		model.ID = uuid.New().String()
	}
	now := time.Now()
	model.CreatedAt = now
	model.UpdatedAt = now

	if err := r.db.Create(model).Error; err != nil {
		return nil, fmt.Errorf("failed to create model: %w", err)
	}
	return model, nil
}

// GetModelByJobID retrieves the model produced by a job, if any
func (r *Repository) GetModelByJobID(jobID string) (*config.MLModel, error) {
	var model config.MLModel
	if err := r.db.Where("job_id = ?", jobID).First(&model).Error; err != nil {
		return nil, err
	}
	return &model, nil
}

// GetModel retrieves a model by ID, scoped to its owner
func (r *Repository) GetModel(owner, id string) (*config.MLModel, error) {
	var model config.MLModel
	if err := r.db.Where("id = ? AND user_id = ?", id, owner).First(&model).Error; err != nil {
		return nil, err
	}
	return &model, nil
}

// ListModels lists all models of an owner, newest first
func (r *Repository) ListModels(owner string) ([]config.MLModel, error) {
	var list []config.MLModel
	err := r.db.Where("user_id = ?", owner).
		Order("created_at DESC").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// DeleteModel deletes a model. The originating job is left untouched.
func (r *Repository) DeleteModel(owner, id string) error {
	result := r.db.Where("id = ? AND user_id = ?", id, owner).Delete(&config.MLModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CreateDataset creates a dataset metadata record
func (r *Repository) CreateDataset(ds *config.Dataset) (*config.Dataset, error) {
	if ds.ID == "" {
		ds.ID = uuid.New().String()
	}
	now := time.Now()
	ds.CreatedAt = now
	ds.UpdatedAt = now
	if err := r.db.Create(ds).Error; err != nil {
		return nil, fmt.Errorf("failed to create dataset: %w", err)
	}
	return ds, nil
}

// GetDataset retrieves a dataset by ID, scoped to its owner
func (r *Repository) GetDataset(owner, id string) (*config.Dataset, error) {
	var ds config.Dataset
	if err := r.db.Where("id = ? AND user_id = ?", id, owner).First(&ds).Error; err != nil {
		return nil, err
	}
	return &ds, nil
}

// ListDatasets lists all datasets of an owner, newest first
func (r *Repository) ListDatasets(owner string) ([]config.Dataset, error) {
	var list []config.Dataset
	err := r.db.Where("user_id = ?", owner).
		Order("created_at DESC").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// SetDatasetReady records the raw data location and flips a dataset to ready
func (r *Repository) SetDatasetReady(id, filePath string) error {
	return r.db.Model(&config.Dataset{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"file_path":  filePath,
			"status":     models.DatasetStatusReady,
			"updated_at": time.Now(),
		}).Error
}

// UpdateDatasetStatus updates the status of a dataset
func (r *Repository) UpdateDatasetStatus(id, status string) error {
	return r.db.Model(&config.Dataset{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
}

// ToJobResponse converts a database MLJob to an API response
func (r *Repository) ToJobResponse(job *config.MLJob) (*models.JobResponse, error) {
	var features []string
	if job.SelectedFeatures != "" {
		if err := json.Unmarshal([]byte(job.SelectedFeatures), &features); err != nil {
			return nil, fmt.Errorf("failed to unmarshal selected features: %w", err)
		}
	}

	var metrics *models.JobMetrics
	if job.Metrics != "" {
		metrics = &models.JobMetrics{}
		if err := json.Unmarshal([]byte(job.Metrics), metrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job metrics: %w", err)
		}
	}

	return &models.JobResponse{
		ID:               job.ID,
		Name:             job.Name,
		DatasetID:        job.DatasetID,
		ProblemType:      job.ProblemType,
		TargetColumn:     job.TargetColumn,
		SelectedFeatures: features,
		Status:           job.Status,
		Progress:         job.Progress,
		Accuracy:         job.Accuracy,
		Metrics:          metrics,
		ErrorMessage:     job.ErrorMessage,
		StartedAt:        job.StartedAt,
		CompletedAt:      job.CompletedAt,
		CreatedAt:        job.CreatedAt,
	}, nil
}

// ToModelResponse converts a database MLModel to an API response
func (r *Repository) ToModelResponse(model *config.MLModel) (*models.ModelResponse, error) {
	var metrics *models.ModelMetrics
	if model.Metrics != "" {
		metrics = &models.ModelMetrics{}
		if err := json.Unmarshal([]byte(model.Metrics), metrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal model metrics: %w", err)
		}
	}

	var history []models.TrainingHistoryEntry
	if model.TrainingHistory != "" {
		if err := json.Unmarshal([]byte(model.TrainingHistory), &history); err != nil {
			return nil, fmt.Errorf("failed to unmarshal training history: %w", err)
		}
	}

	return &models.ModelResponse{
		ID:              model.ID,
		JobID:           model.JobID,
		Name:            model.Name,
		ModelType:       model.ModelType,
		Metrics:         metrics,
		TrainingHistory: history,
		Status:          model.Status,
		CreatedAt:       model.CreatedAt,
	}, nil
}

// ToDatasetResponse converts a database Dataset to an API response
func (r *Repository) ToDatasetResponse(ds *config.Dataset) *models.DatasetResponse {
	return &models.DatasetResponse{
		ID:        ds.ID,
		Name:      ds.Name,
		Source:    ds.Source,
		Rows:      ds.Rows,
		Columns:   ds.Columns,
		Status:    ds.Status,
		CreatedAt: ds.CreatedAt,
	}
}
