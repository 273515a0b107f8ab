package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/insightflow/ml-studio-backend/h2o"
	"github.com/insightflow/ml-studio-backend/models"
	"github.com/insightflow/ml-studio-backend/repository"
)

const exportURLExpiry = time.Hour

// Engine is the engine surface needed on the read paths
type Engine interface {
	CheckCluster(ctx context.Context) bool
	PredictRow(ctx context.Context, modelID string, input map[string]interface{}) (*h2o.Prediction, error)
	DownloadMOJO(ctx context.Context, modelID string) ([]byte, error)
}

// ObjectStore persists export artifacts and issues time-limited links
type ObjectStore interface {
	Upload(ctx context.Context, bucket, object string, data []byte, contentType string) error
	PresignedURL(ctx context.Context, bucket, object string, expiry time.Duration) (string, error)
}

// Gateway serves the prediction, export and deployment paths for persisted
// models. These are read paths: availability is favored over strict
// correctness, so engine unavailability degrades to labeled fallbacks rather
// than errors.
type Gateway struct {
	repo         *repository.Repository
	engine       Engine
	store        ObjectStore
	exportBucket string
	baseURL      string
}

// NewGateway creates a gateway instance
func NewGateway(repo *repository.Repository, engine Engine, store ObjectStore, exportBucket, baseURL string) *Gateway {
	return &Gateway{
		repo:         repo,
		engine:       engine,
		store:        store,
		exportBucket: exportBucket,
		baseURL:      baseURL,
	}
}

// Predict scores one input row against a model. When the engine is
// unreachable or the model has no engine handle, the response carries a
// fallback value explicitly flagged as such.
func (g *Gateway) Predict(ctx context.Context, owner, modelID string, input map[string]interface{}) (*models.PredictResponse, error) {
	model, err := g.repo.GetModel(owner, modelID)
	if err != nil {
		return nil, err
	}
	mc := parseModelConfig(model.ModelConfig)

	if mc.BestModel != "" && g.engine.CheckCluster(ctx) {
		pred, err := g.engine.PredictRow(ctx, mc.BestModel, input)
		if err == nil {
			return &models.PredictResponse{
				ModelID:   model.ID,
				ModelName: model.Name,
				Output:    extractOutput(pred),
			}, nil
		}
		log.Printf("H2O prediction failed for model %s, using fallback: %v", model.ID, err)
	}

	return &models.PredictResponse{
		ModelID:   model.ID,
		ModelName: model.Name,
		Output:    fallbackOutput(mc),
		Fallback:  true,
		Warning:   "H2O unavailable, using fallback prediction",
	}, nil
}

// Export persists a model artifact to object storage and returns a
// time-limited download URL. The mojo format yields the engine's native
// portable package; every other format yields a clearly-labeled JSON
// placeholder, never claimed as a real converted artifact.
func (g *Gateway) Export(ctx context.Context, owner, modelID, format string) (*models.ExportResponse, error) {
	model, err := g.repo.GetModel(owner, modelID)
	if err != nil {
		return nil, err
	}
	mc := parseModelConfig(model.ModelConfig)

	var data []byte
	var fileName, contentType, warning string

	if format == "mojo" && mc.BestModel != "" && g.engine.CheckCluster(ctx) {
		data, err = g.engine.DownloadMOJO(ctx, mc.BestModel)
		if err != nil {
			log.Printf("H2O export failed for model %s, falling back to placeholder: %v", model.ID, err)
		}
	}

	if format == "mojo" && data != nil {
		fileName = model.Name + ".mojo.zip"
		contentType = "application/zip"
	} else {
		note := "This is a placeholder export. Use MOJO format for actual model files."
		if format == "mojo" {
			note = "H2O unavailable, this is a placeholder export"
			warning = "H2O unavailable, placeholder exported"
		}
		placeholder := map[string]interface{}{
			"model_id":     model.ID,
			"model_name":   model.Name,
			"h2o_model_id": mc.BestModel,
			"format":       format,
			"created_at":   time.Now().UTC().Format(time.RFC3339),
			"note":         note,
		}
		data, err = json.MarshalIndent(placeholder, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to build placeholder export: %w", err)
		}
		fileName = fmt.Sprintf("%s.%s", model.Name, format)
		contentType = "application/json"
	}

	path := fmt.Sprintf("%s/%s_%s", owner, model.ID, fileName)
	if err := g.store.Upload(ctx, g.exportBucket, path, data, contentType); err != nil {
		return nil, fmt.Errorf("failed to persist export: %w", err)
	}
	downloadURL, err := g.store.PresignedURL(ctx, g.exportBucket, path, exportURLExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to sign export URL: %w", err)
	}

	return &models.ExportResponse{
		DownloadURL: downloadURL,
		Path:        path,
		FileName:    fileName,
		Format:      format,
		Warning:     warning,
	}, nil
}

// Deploy returns the stable prediction endpoint descriptor for a model.
// Deployment is logical: the endpoint points at this service's own predict
// route, no infrastructure is provisioned.
func (g *Gateway) Deploy(ctx context.Context, owner, modelID string) (*models.DeployResponse, error) {
	model, err := g.repo.GetModel(owner, modelID)
	if err != nil {
		return nil, err
	}
	return &models.DeployResponse{
		Endpoint: fmt.Sprintf("%s/api/v1/ml/models/%s/predict", g.baseURL, model.ID),
	}, nil
}

func parseModelConfig(raw string) *models.ModelConfig {
	mc := &models.ModelConfig{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), mc); err != nil {
			log.Printf("Failed to parse model config: %v", err)
		}
	}
	return mc
}

func extractOutput(pred *h2o.Prediction) models.PredictOutput {
	out := models.PredictOutput{Prediction: 0, Probability: 0.5}
	if len(pred.Predictions) > 0 {
		out.Prediction = pred.Predictions[0]
	}
	if len(pred.Predictions) > 1 {
		if p, ok := pred.Predictions[1].(float64); ok {
			out.Probability = p
		}
	}
	return out
}

func fallbackOutput(mc *models.ModelConfig) models.PredictOutput {
	regression := mc.AutoMLConfig != nil && mc.AutoMLConfig.ProblemType == models.ProblemRegression

	var prediction interface{}
	if regression {
		prediction = math.Round(rand.Float64()*1000) / 10
	} else if rand.Float64() > 0.5 {
		prediction = 1
	} else {
		prediction = 0
	}

	return models.PredictOutput{
		Prediction:  prediction,
		Probability: math.Round((0.5+rand.Float64()*0.5)*1000) / 1000,
	}
}
