package simulator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/insightflow/ml-studio-backend/models"
)

// Algorithm rotation used for synthetic candidates
var algorithms = []string{"GBM", "Random Forest", "Deep Learning", "GLM", "XGBoost"}

// DefaultTotalModels is the number of synthetic candidates per run
const DefaultTotalModels = 15

// Snapshot is the coarse progress update handed to the sink while a
// simulated run is in flight.
type Snapshot struct {
	Progress         int
	BestAccuracy     float64
	ModelsTrained    int
	CurrentAlgorithm string
}

// Result is the outcome of a finished simulated run
type Result struct {
	BestAccuracy  float64
	BestAlgorithm string
	History       []models.TrainingHistoryEntry
}

type stopError struct{}

func (stopError) Error() string { return "simulation stopped by sink" }

// ErrStop can be returned by a sink to abort the run without an error being
// reported (the job was deleted out from under the worker).
var ErrStop error = stopError{}

// Simulator emulates an AutoML run when the real engine is unreachable.
// Candidate scores follow a monotonic trend with bounded noise so the
// best-so-far metric never decreases.
type Simulator struct {
	TotalModels int
	StepDelay   time.Duration

	// rng is shared by concurrent runs and must be locked
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a simulator with production pacing
func New() *Simulator {
	return NewWithSeed(time.Now().UnixNano())
}

// NewWithSeed creates a simulator with a fixed random seed, used by tests
func NewWithSeed(seed int64) *Simulator {
	return &Simulator{
		TotalModels: DefaultTotalModels,
		StepDelay:   1500 * time.Millisecond,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Run executes the synthetic candidate loop. The sink is invoked every 3rd
// iteration and on the final one, bounding write amplification on the job
// row. A sink error aborts the run; ErrStop aborts it quietly.
func (s *Simulator) Run(ctx context.Context, problemType string, sink func(Snapshot) error) (*Result, error) {
	total := s.TotalModels
	if total <= 0 {
		total = DefaultTotalModels
	}

	history := make([]models.TrainingHistoryEntry, 0, total)
	best := 0.5
	bestAlgo := algorithms[0]

	for model := 1; model <= total; model++ {
		algo := algorithms[model%len(algorithms)]
		score := s.candidateScore(problemType, model, total)

		if score > best {
			best = score
			bestAlgo = algo
		}

		history = append(history, models.TrainingHistoryEntry{
			Model:        model,
			Algorithm:    algo,
			Accuracy:     score,
			TrainingTime: s.randFloat()*60 + 10,
			Timestamp:    time.Now().UTC(),
		})

		if model%3 == 0 || model == total {
			err := sink(Snapshot{
				Progress:         model * 100 / total,
				BestAccuracy:     best,
				ModelsTrained:    model,
				CurrentAlgorithm: algo,
			})
			if err != nil {
				return nil, err
			}
		}

		if model < total {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.StepDelay):
			}
		}
	}

	return &Result{
		BestAccuracy:  best,
		BestAlgorithm: bestAlgo,
		History:       history,
	}, nil
}

// candidateScore computes a synthetic performance value: a trend that rises
// with the iteration index plus bounded noise, capped by a problem-type
// ceiling (classification 0.95, regression 0.92).
func (s *Simulator) candidateScore(problemType string, model, total int) float64 {
	frac := float64(model) / float64(total)
	if problemType == models.ProblemClassification {
		score := 0.65 + frac*0.25 + s.randFloat()*0.08
		if score > 0.95 {
			score = 0.95
		}
		return score
	}
	score := 0.70 + frac*0.20 + s.randFloat()*0.06
	if score > 0.92 {
		score = 0.92
	}
	return score
}

func (s *Simulator) randFloat() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}
