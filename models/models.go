package models

import "time"

// Job status values. Completed and failed are terminal.
const (
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Model backends
const (
	ModelTypeH2O       = "H2O_AutoML"
	ModelTypeSimulated = "AutoML_Simulation"

	ModelStatusReady = "ready"
)

// Problem types
const (
	ProblemClassification = "classification"
	ProblemRegression     = "regression"
)

// Dataset status values
const (
	DatasetStatusProcessing = "processing"
	DatasetStatusReady      = "ready"
	DatasetStatusError      = "error"
)

// TrainingConfig represents the training request payload from the frontend
type TrainingConfig struct {
	Name               string   `json:"name" binding:"required"`
	DatasetID          string   `json:"datasetId" binding:"required"`
	ProblemType        string   `json:"problemType" binding:"required,oneof=classification regression"`
	TargetColumn       string   `json:"targetColumn" binding:"required"`
	SelectedFeatures   []string `json:"selectedFeatures"` // empty means use all columns
	TimeBudget         int      `json:"timeBudget"`       // minutes
	OptimizationMetric string   `json:"optimizationMetric"`
}

// JobMetrics is the progress snapshot written to the job row while training.
// Known fields are typed; Extra carries engine-specific values.
type JobMetrics struct {
	ModelsTrained        int                    `json:"models_trained"`
	CurrentAlgorithm     string                 `json:"current_algorithm,omitempty"`
	BestAccuracy         float64                `json:"best_accuracy,omitempty"`
	BestModelPerformance float64                `json:"best_model_performance,omitempty"`
	FinalAccuracy        float64                `json:"final_accuracy,omitempty"`
	BestModel            string                 `json:"best_model,omitempty"`
	BestAlgorithm        string                 `json:"best_algorithm,omitempty"`
	TrainingMethod       string                 `json:"training_method,omitempty"`
	Extra                map[string]interface{} `json:"extra,omitempty"`
}

// TrainingHistoryEntry is one point-in-time record of a candidate model.
// The list is append-only and owned by a single job until completion.
type TrainingHistoryEntry struct {
	Model        int       `json:"model"`
	Algorithm    string    `json:"algorithm"`
	Accuracy     float64   `json:"accuracy"`
	TrainingTime float64   `json:"training_time"` // seconds
	Timestamp    time.Time `json:"timestamp"`
}

// ModelMetrics is the final metrics snapshot persisted with a model
type ModelMetrics struct {
	Accuracy      float64                `json:"accuracy"`
	Precision     float64                `json:"precision"`
	Recall        float64                `json:"recall"`
	F1Score       float64                `json:"f1_score"`
	ModelsTrained int                    `json:"models_trained"`
	Extra         map[string]interface{} `json:"extra,omitempty"`
}

// ModelConfig is the opaque bag of engine-specific handles stored with a model
type ModelConfig struct {
	Framework    string          `json:"framework"`
	AutoMLConfig *TrainingConfig `json:"automl_config,omitempty"`
	BestModel    string          `json:"best_model,omitempty"` // the engine's internal model id
	ProjectName  string          `json:"project_name,omitempty"`
	Leaderboard  interface{}     `json:"leaderboard,omitempty"`
	Algorithms   []string        `json:"algorithms_tested,omitempty"`
}

// JobResponse represents a training job sent to the frontend
type JobResponse struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	DatasetID        string      `json:"datasetId"`
	DatasetName      string      `json:"datasetName,omitempty"`
	ProblemType      string      `json:"problemType"`
	TargetColumn     string      `json:"targetColumn"`
	SelectedFeatures []string    `json:"selectedFeatures"`
	Status           string      `json:"status"`
	Progress         int         `json:"progress"`
	Accuracy         *float64    `json:"accuracy,omitempty"`
	Metrics          *JobMetrics `json:"metrics,omitempty"`
	ErrorMessage     string      `json:"errorMessage,omitempty"`
	StartedAt        time.Time   `json:"startedAt"`
	CompletedAt      *time.Time  `json:"completedAt,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
}

// ModelResponse represents a trained model sent to the frontend
type ModelResponse struct {
	ID              string                 `json:"id"`
	JobID           string                 `json:"jobId"`
	Name            string                 `json:"name"`
	ModelType       string                 `json:"modelType"`
	Metrics         *ModelMetrics          `json:"metrics,omitempty"`
	TrainingHistory []TrainingHistoryEntry `json:"trainingHistory,omitempty"`
	Status          string                 `json:"status"`
	CreatedAt       time.Time              `json:"createdAt"`
}

// StartTrainingResponse is returned as soon as the job row exists
type StartTrainingResponse struct {
	JobID   string `json:"jobId"`
	Message string `json:"message"`
}

// PredictRequest carries a single input row for prediction
type PredictRequest struct {
	Input map[string]interface{} `json:"input" binding:"required"`
}

// PredictOutput is the prediction payload. Fallback predictions are always
// flagged so they can never be mistaken for engine output.
type PredictOutput struct {
	Prediction  interface{} `json:"prediction"`
	Probability float64     `json:"probability"`
}

// PredictResponse is the response of the predict route
type PredictResponse struct {
	ModelID   string        `json:"modelId"`
	ModelName string        `json:"modelName"`
	Output    PredictOutput `json:"output"`
	Fallback  bool          `json:"fallback"`
	Warning   string        `json:"warning,omitempty"`
}

// ExportRequest selects the export format
type ExportRequest struct {
	Format string `json:"format" binding:"required"`
}

// ExportResponse carries a time-limited download URL for the exported artifact
type ExportResponse struct {
	DownloadURL string `json:"downloadUrl"`
	Path        string `json:"path"`
	FileName    string `json:"fileName"`
	Format      string `json:"format"`
	Warning     string `json:"warning,omitempty"`
}

// DeployResponse describes the logical prediction endpoint for a model
type DeployResponse struct {
	Endpoint string `json:"endpoint"`
}

// DatasetResponse represents a dataset sent to the frontend
type DatasetResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	Rows      int       `json:"rows"`
	Columns   int       `json:"columns"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}
