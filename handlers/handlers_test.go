package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	configpkg "github.com/insightflow/ml-studio-backend/config"
	"github.com/insightflow/ml-studio-backend/gateway"
	"github.com/insightflow/ml-studio-backend/h2o"
	"github.com/insightflow/ml-studio-backend/middleware"
	"github.com/insightflow/ml-studio-backend/models"
	"github.com/insightflow/ml-studio-backend/orchestrator"
	"github.com/insightflow/ml-studio-backend/repository"
	"github.com/insightflow/ml-studio-backend/simulator"
)

// offlineEngine satisfies both engine surfaces and always reports the cluster
// as down, forcing the simulated path everywhere.
type offlineEngine struct{}

func (offlineEngine) CheckCluster(ctx context.Context) bool { return false }
func (offlineEngine) UploadCSV(ctx context.Context, data []byte, frameName string) (string, error) {
	return frameName, nil
}
func (offlineEngine) StartAutoML(ctx context.Context, trainingFrame, targetColumn string, maxModels, maxRuntimeSecs int) (*h2o.AutoMLJob, error) {
	return &h2o.AutoMLJob{ProjectName: "automl_test"}, nil
}
func (offlineEngine) GetProgress(ctx context.Context, projectName string) (*h2o.RunStatus, error) {
	return &h2o.RunStatus{}, nil
}
func (offlineEngine) GetLeaderboard(ctx context.Context, projectName string) (*h2o.Leaderboard, error) {
	return &h2o.Leaderboard{}, nil
}
func (offlineEngine) PredictRow(ctx context.Context, modelID string, input map[string]interface{}) (*h2o.Prediction, error) {
	return &h2o.Prediction{}, nil
}
func (offlineEngine) DownloadMOJO(ctx context.Context, modelID string) ([]byte, error) {
	return nil, nil
}

type memoryStore struct{}

func (memoryStore) Upload(ctx context.Context, bucket, object string, data []byte, contentType string) error {
	return nil
}
func (memoryStore) PresignedURL(ctx context.Context, bucket, object string, expiry time.Duration) (string, error) {
	return "https://minio.local/" + bucket + "/" + object, nil
}

type repoDatasets struct {
	repo *repository.Repository
}

func (r *repoDatasets) Get(ctx context.Context, owner, id string) (*configpkg.Dataset, error) {
	return r.repo.GetDataset(owner, id)
}

func (r *repoDatasets) Download(ctx context.Context, ds *configpkg.Dataset) ([]byte, error) {
	return []byte("age,income,churn\n34,52000,1\n51,61000,0\n"), nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *repository.Repository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&configpkg.Dataset{}, &configpkg.MLJob{}, &configpkg.MLModel{}))
	repo := repository.NewRepository(db)

	sim := simulator.NewWithSeed(7)
	sim.StepDelay = 0
	orch := orchestrator.NewOrchestrator(repo, offlineEngine{}, &repoDatasets{repo: repo}, sim)
	t.Cleanup(orch.Stop)
	gw := gateway.NewGateway(repo, offlineEngine{}, memoryStore{}, "exports", "https://api.insightflow.dev")

	h := NewHandler(repo, orch, gw, nil)

	router := gin.New()
	router.Use(middleware.AuthMiddleware())
	api := router.Group("/api/v1")
	{
		api.POST("/ml/train", h.StartTraining)
		api.GET("/ml/jobs", h.ListJobs)
		api.GET("/ml/jobs/:id", h.GetJob)
		api.DELETE("/ml/jobs/:id", h.DeleteJob)
		api.GET("/ml/models", h.ListModels)
		api.GET("/ml/models/:id", h.GetModel)
		api.DELETE("/ml/models/:id", h.DeleteModel)
		api.POST("/ml/models/:id/predict", h.Predict)
		api.POST("/ml/models/:id/export", h.ExportModel)
		api.POST("/ml/models/:id/deploy", h.DeployModel)
		api.GET("/datasets", h.ListDatasets)
	}
	return router, repo
}

func doJSON(t *testing.T, router *gin.Engine, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(middleware.UserIDHeader, user)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seedReadyDataset(t *testing.T, repo *repository.Repository, owner string) *configpkg.Dataset {
	t.Helper()
	ds, err := repo.CreateDataset(&configpkg.Dataset{
		UserID:  owner,
		Name:    "customers.csv",
		Source:  "upload",
		Rows:    2,
		Columns: 3,
		Status:  models.DatasetStatusReady,
	})
	require.NoError(t, err)
	return ds
}

func TestStartTrainingRejectsMalformedBody(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/ml/train", "user-a", gin.H{
		"name": "missing everything else",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartTrainingRejectsUnknownDataset(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/ml/train", "user-a", models.TrainingConfig{
		Name:         "churn model",
		DatasetID:    "no-such-dataset",
		ProblemType:  models.ProblemClassification,
		TargetColumn: "churn",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "not found")
}

func TestTrainingLifecycleOverHTTP(t *testing.T) {
	router, repo := newTestRouter(t)
	ds := seedReadyDataset(t, repo, "user-a")

	w := doJSON(t, router, http.MethodPost, "/api/v1/ml/train", "user-a", models.TrainingConfig{
		Name:         "churn model",
		DatasetID:    ds.ID,
		ProblemType:  models.ProblemClassification,
		TargetColumn: "churn",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var started models.StartTrainingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	require.NotEmpty(t, started.JobID)

	// Poll the job route until the simulated run finishes
	var job models.JobResponse
	require.Eventually(t, func() bool {
		w := doJSON(t, router, http.MethodGet, "/api/v1/ml/jobs/"+started.JobID, "user-a", nil)
		if w.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil {
			return false
		}
		return job.Status == models.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.Accuracy)

	// The trained model is listed and scoped to its owner
	w = doJSON(t, router, http.MethodGet, "/api/v1/ml/models", "user-a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Models []models.ModelResponse `json:"models"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Models, 1)
	assert.Equal(t, started.JobID, listing.Models[0].JobID)

	w = doJSON(t, router, http.MethodGet, "/api/v1/ml/models", "user-b", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Empty(t, listing.Models)

	// Predict against the simulated model degrades to a flagged fallback
	modelID := ""
	w = doJSON(t, router, http.MethodGet, "/api/v1/ml/models", "user-a", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	modelID = listing.Models[0].ID

	w = doJSON(t, router, http.MethodPost, "/api/v1/ml/models/"+modelID+"/predict", "user-a", models.PredictRequest{
		Input: map[string]interface{}{"age": 34, "income": 52000},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var pred models.PredictResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pred))
	assert.True(t, pred.Fallback)

	// Deploy points back at this service's predict route
	w = doJSON(t, router, http.MethodPost, "/api/v1/ml/models/"+modelID+"/deploy", "user-a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/v1/ml/models/"+modelID+"/predict")

	// Deleting the job removes its model too
	w = doJSON(t, router, http.MethodDelete, "/api/v1/ml/jobs/"+started.JobID, "user-a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, router, http.MethodGet, "/api/v1/ml/models/"+modelID, "user-a", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMissingResourcesReturn404(t *testing.T) {
	router, _ := newTestRouter(t)

	cases := []struct {
		method string
		path   string
		body   interface{}
	}{
		{http.MethodGet, "/api/v1/ml/jobs/nope", nil},
		{http.MethodDelete, "/api/v1/ml/jobs/nope", nil},
		{http.MethodGet, "/api/v1/ml/models/nope", nil},
		{http.MethodDelete, "/api/v1/ml/models/nope", nil},
		{http.MethodPost, "/api/v1/ml/models/nope/predict", models.PredictRequest{Input: map[string]interface{}{"a": 1}}},
		{http.MethodPost, "/api/v1/ml/models/nope/export", models.ExportRequest{Format: "mojo"}},
		{http.MethodPost, "/api/v1/ml/models/nope/deploy", nil},
	}
	for _, tc := range cases {
		w := doJSON(t, router, tc.method, tc.path, "user-a", tc.body)
		assert.Equal(t, http.StatusNotFound, w.Code, "%s %s", tc.method, tc.path)
	}
}

func TestAnonymousUserIsScopedSeparately(t *testing.T) {
	router, repo := newTestRouter(t)
	seedReadyDataset(t, repo, "anonymous")

	// No identity header falls back to the anonymous owner
	w := doJSON(t, router, http.MethodGet, "/api/v1/datasets", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "customers.csv")

	w = doJSON(t, router, http.MethodGet, "/api/v1/datasets", "user-a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "customers.csv")
}
