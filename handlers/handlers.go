package handlers

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/insightflow/ml-studio-backend/converter"
	"github.com/insightflow/ml-studio-backend/gateway"
	"github.com/insightflow/ml-studio-backend/middleware"
	"github.com/insightflow/ml-studio-backend/models"
	"github.com/insightflow/ml-studio-backend/orchestrator"
	"github.com/insightflow/ml-studio-backend/repository"
	"github.com/insightflow/ml-studio-backend/storage"

	configpkg "github.com/insightflow/ml-studio-backend/config"
)

// Handler handles HTTP requests
type Handler struct {
	repo      *repository.Repository
	orch      *orchestrator.Orchestrator
	gw        *gateway.Gateway
	datasets  *storage.DatasetStore
	converter *converter.Converter
}

// NewHandler creates a new handler instance
func NewHandler(repo *repository.Repository, orch *orchestrator.Orchestrator, gw *gateway.Gateway, datasets *storage.DatasetStore) *Handler {
	return &Handler{
		repo:      repo,
		orch:      orch,
		gw:        gw,
		datasets:  datasets,
		converter: converter.NewConverter(),
	}
}

// StartTraining handles POST /api/v1/ml/train
func (h *Handler) StartTraining(c *gin.Context) {
	var cfg models.TrainingConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		log.Printf("Invalid training config: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid training config",
			"details": err.Error(),
		})
		return
	}

	owner := middleware.GetUserID(c)
	log.Printf("User %s starting training %q on dataset %s", owner, cfg.Name, cfg.DatasetID)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	job, err := h.orch.StartTraining(ctx, owner, &cfg)
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalidConfig) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Printf("Failed to start training: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start training"})
		return
	}

	c.JSON(http.StatusCreated, models.StartTrainingResponse{
		JobID:   job.ID,
		Message: "Training started successfully",
	})
}

// ListJobs handles GET /api/v1/ml/jobs
func (h *Handler) ListJobs(c *gin.Context) {
	owner := middleware.GetUserID(c)

	jobs, err := h.repo.ListJobs(owner)
	if err != nil {
		log.Printf("Failed to list jobs: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list training jobs"})
		return
	}

	responses := make([]*models.JobResponse, 0, len(jobs))
	for i := range jobs {
		resp, err := h.repo.ToJobResponse(&jobs[i])
		if err != nil {
			log.Printf("Failed to convert job %s: %v", jobs[i].ID, err)
			continue
		}
		responses = append(responses, resp)
	}

	c.JSON(http.StatusOK, gin.H{"jobs": responses})
}

// GetJob handles GET /api/v1/ml/jobs/:id
func (h *Handler) GetJob(c *gin.Context) {
	owner := middleware.GetUserID(c)

	job, err := h.repo.GetJob(owner, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Training job not found"})
		return
	}

	resp, err := h.repo.ToJobResponse(job)
	if err != nil {
		log.Printf("Failed to convert job %s: %v", job.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read training job"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteJob handles DELETE /api/v1/ml/jobs/:id
// Deleting a job also deletes its model; the running worker, if any, notices
// on its next write and stops.
func (h *Handler) DeleteJob(c *gin.Context) {
	owner := middleware.GetUserID(c)
	id := c.Param("id")

	if err := h.repo.DeleteJob(owner, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Training job not found"})
			return
		}
		log.Printf("Failed to delete job %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete training job"})
		return
	}

	log.Printf("User %s deleted job %s", owner, id)
	c.JSON(http.StatusOK, gin.H{"message": "Training job deleted successfully"})
}

// ListModels handles GET /api/v1/ml/models
func (h *Handler) ListModels(c *gin.Context) {
	owner := middleware.GetUserID(c)

	list, err := h.repo.ListModels(owner)
	if err != nil {
		log.Printf("Failed to list models: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list models"})
		return
	}

	responses := make([]*models.ModelResponse, 0, len(list))
	for i := range list {
		resp, err := h.repo.ToModelResponse(&list[i])
		if err != nil {
			log.Printf("Failed to convert model %s: %v", list[i].ID, err)
			continue
		}
		responses = append(responses, resp)
	}

	c.JSON(http.StatusOK, gin.H{"models": responses})
}

// GetModel handles GET /api/v1/ml/models/:id
func (h *Handler) GetModel(c *gin.Context) {
	owner := middleware.GetUserID(c)

	model, err := h.repo.GetModel(owner, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Model not found"})
		return
	}

	resp, err := h.repo.ToModelResponse(model)
	if err != nil {
		log.Printf("Failed to convert model %s: %v", model.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read model"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteModel handles DELETE /api/v1/ml/models/:id
// The originating job is left untouched.
func (h *Handler) DeleteModel(c *gin.Context) {
	owner := middleware.GetUserID(c)
	id := c.Param("id")

	if err := h.repo.DeleteModel(owner, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Model not found"})
			return
		}
		log.Printf("Failed to delete model %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete model"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Model deleted successfully"})
}

// Predict handles POST /api/v1/ml/models/:id/predict
func (h *Handler) Predict(c *gin.Context) {
	owner := middleware.GetUserID(c)

	var req models.PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Input row is required", "details": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	resp, err := h.gw.Predict(ctx, owner, c.Param("id"), req.Input)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Model not found"})
			return
		}
		log.Printf("Prediction failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Prediction failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ExportModel handles POST /api/v1/ml/models/:id/export
func (h *Handler) ExportModel(c *gin.Context) {
	owner := middleware.GetUserID(c)

	var req models.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Export format is required", "details": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 120*time.Second)
	defer cancel()

	resp, err := h.gw.Export(ctx, owner, c.Param("id"), req.Format)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Model not found"})
			return
		}
		log.Printf("Export failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Export failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// DeployModel handles POST /api/v1/ml/models/:id/deploy
func (h *Handler) DeployModel(c *gin.Context) {
	owner := middleware.GetUserID(c)

	resp, err := h.gw.Deploy(c.Request.Context(), owner, c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Model not found"})
			return
		}
		log.Printf("Deploy failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Deploy failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// UploadDataset handles POST /api/v1/datasets/upload
// Stores the raw CSV in object storage and registers the metadata row.
func (h *Handler) UploadDataset(c *gin.Context) {
	owner := middleware.GetUserID(c)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		log.Printf("Failed to read uploaded file: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
		return
	}

	rows, cols, err := h.converter.CountRowsAndColumns(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File is not valid CSV", "details": err.Error()})
		return
	}

	name := c.PostForm("name")
	if name == "" {
		name = strings.TrimSuffix(header.Filename, ".csv")
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	ds, err := h.repo.CreateDataset(&configpkg.Dataset{
		UserID:  owner,
		Name:    name,
		Source:  header.Filename,
		Rows:    rows,
		Columns: cols,
		Status:  models.DatasetStatusProcessing,
	})
	if err != nil {
		log.Printf("Failed to create dataset record: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register dataset"})
		return
	}

	objectKey, err := h.datasets.Put(ctx, owner, ds.ID, data)
	if err != nil {
		log.Printf("Failed to store dataset %s: %v", ds.ID, err)
		if serr := h.repo.UpdateDatasetStatus(ds.ID, models.DatasetStatusError); serr != nil {
			log.Printf("Failed to mark dataset %s as errored: %v", ds.ID, serr)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store dataset"})
		return
	}

	ds.FilePath = objectKey
	if err := h.repo.SetDatasetReady(ds.ID, objectKey); err != nil {
		log.Printf("Failed to mark dataset %s ready: %v", ds.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register dataset"})
		return
	}
	ds.Status = models.DatasetStatusReady

	log.Printf("Dataset %s uploaded by user %s (%d rows, %d columns)", ds.ID, owner, rows, cols)
	c.JSON(http.StatusCreated, h.repo.ToDatasetResponse(ds))
}

// ListDatasets handles GET /api/v1/datasets
func (h *Handler) ListDatasets(c *gin.Context) {
	owner := middleware.GetUserID(c)

	list, err := h.repo.ListDatasets(owner)
	if err != nil {
		log.Printf("Failed to list datasets: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list datasets"})
		return
	}

	responses := make([]*models.DatasetResponse, 0, len(list))
	for i := range list {
		responses = append(responses, h.repo.ToDatasetResponse(&list[i]))
	}
	c.JSON(http.StatusOK, gin.H{"datasets": responses})
}
