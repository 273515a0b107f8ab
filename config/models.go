package config

import (
	"time"

	"gorm.io/gorm"
)

// Dataset represents an uploaded tabular dataset in the database.
// Raw bytes live in object storage; FilePath is the object key.
type Dataset struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"index"`
	Name      string
	Source    string
	Rows      int
	Columns   int
	Status    string `gorm:"index"` // processing, ready, error
	FilePath  string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// TableName overrides the table name
func (Dataset) TableName() string {
	return "datasets"
}

// MLJob represents an AutoML training job in the database.
// Status is one of running, completed, failed; completed and failed are
// terminal and the row is never mutated again afterwards.
type MLJob struct {
	ID               string `gorm:"primaryKey"`
	UserID           string `gorm:"index"`
	Name             string
	DatasetID        string `gorm:"index"`
	ProblemType      string // classification or regression
	TargetColumn     string
	SelectedFeatures string `gorm:"type:jsonb"` // JSON array of column names; empty means use all
	Config           string `gorm:"type:jsonb"` // time budget, optimization metric
	Status           string `gorm:"index"`
	Progress         int // 0-100, non-decreasing while running
	Accuracy         *float64
	Metrics          string `gorm:"type:jsonb"` // snapshot, updated in place
	ErrorMessage     string `gorm:"type:text"`
	StartedAt        time.Time
	CompletedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        gorm.DeletedAt `gorm:"index"`
}

// TableName overrides the table name
func (MLJob) TableName() string {
	return "ml_jobs"
}

// MLModel represents a trained model produced by a completed job.
// Created exactly once per job; never mutated except by deletion.
type MLModel struct {
	ID              string `gorm:"primaryKey"`
	UserID          string `gorm:"index"`
	JobID           string `gorm:"index"`
	Name            string
	ModelType       string // which backend produced it: H2O_AutoML or AutoML_Simulation
	Metrics         string `gorm:"type:jsonb"`
	TrainingHistory string `gorm:"type:jsonb"` // copied from the job at completion
	Status          string // ready
	ModelConfig     string `gorm:"type:jsonb"` // engine handles: best model id, project name, leaderboard
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       gorm.DeletedAt `gorm:"index"`
}

// TableName overrides the table name
func (MLModel) TableName() string {
	return "ml_models"
}
