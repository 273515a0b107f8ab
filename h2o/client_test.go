package h2o

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCluster(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/3/Cloud", r.URL.Path)
		w.Write([]byte(`{"version":"3.46.0.1"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	assert.True(t, client.CheckCluster(context.Background()))
}

func TestCheckClusterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	client := NewClient(srv.URL)
	assert.False(t, client.CheckCluster(context.Background()), "non-2xx means unavailable")

	// Network failure also means unavailable, never an error
	srv.Close()
	assert.False(t, client.CheckCluster(context.Background()))
}

func TestUploadCSVRunsAllThreeSteps(t *testing.T) {
	var steps []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		steps = append(steps, r.URL.Path)
		switch r.URL.Path {
		case "/3/PostFile":
			assert.Equal(t, "text/csv", r.Header.Get("Content-Type"))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"destination_frames": []string{"upload_1"},
			})
		case "/3/ParseSetup":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, []interface{}{"upload_1"}, body["source_frames"])
			assert.Equal(t, "CSV", body["parse_type"])
			w.Write([]byte(`{"job":{"key":{"name":"job_42"}}}`))
		case "/3/Parse":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "frame_abc", body["destination_frame"])
			// The parse-setup job is forwarded untouched
			assert.NotNil(t, body["job"])
			w.Write([]byte(`{}`))
		default:
			t.Errorf("unexpected request: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	frame, err := client.UploadCSV(context.Background(), []byte("a,b\n1,2\n"), "frame_abc")
	require.NoError(t, err)
	assert.Equal(t, "frame_abc", frame)
	assert.Equal(t, []string{"/3/PostFile", "/3/ParseSetup", "/3/Parse"}, steps)
}

func TestUploadCSVFailsLoudly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/3/PostFile" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"destination_frames": []string{"upload_1"},
			})
			return
		}
		http.Error(w, "schema inference exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.UploadCSV(context.Background(), []byte("a,b\n1,2\n"), "frame_abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse setup failed")
	assert.Contains(t, err.Error(), "schema inference exploded")
}

func TestStartAutoML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/3/AutoML", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "frame_abc", body["training_frame"])
		assert.Equal(t, "churn", body["y"])
		assert.Equal(t, float64(20), body["max_models"])
		assert.Equal(t, float64(300), body["max_runtime_secs"])
		assert.Equal(t, float64(5), body["nfolds"])
		assert.Equal(t, "AUTO", body["sort_metric"])
		assert.Empty(t, body["exclude_algos"])
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	job, err := client.StartAutoML(context.Background(), "frame_abc", "churn", 20, 300)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(job.ProjectName, "automl_"))
}

func TestGetProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/3/AutoML/automl_1", r.URL.Path)
		w.Write([]byte(`{
			"auto_ml": {
				"progress": 0.5,
				"models_built": 7,
				"leader": {
					"model_id": "GBM_1_AutoML",
					"validation_metrics": {"accuracy": 0.91, "mean_per_class_error": 0.09}
				}
			}
		}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	status, err := client.GetProgress(context.Background(), "automl_1")
	require.NoError(t, err)
	assert.Equal(t, 0.5, status.AutoML.Progress)
	assert.Equal(t, 7, status.AutoML.ModelsBuilt)
	require.NotNil(t, status.AutoML.Leader)
	assert.Equal(t, "GBM_1_AutoML", status.AutoML.Leader.ModelID)
	assert.Equal(t, 0.91, status.AutoML.Leader.ValidationMetrics.Accuracy)
}

func TestGetProgressPropagatesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such project", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.GetProgress(context.Background(), "automl_missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "progress check failed")
}

func TestGetLeaderboard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/3/AutoML/automl_1/leaderboard", r.URL.Path)
		w.Write([]byte(`{"models":[{"model_id":"GBM_1"},{"model_id":"DRF_2"}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	lb, err := client.GetLeaderboard(context.Background(), "automl_1")
	require.NoError(t, err)

	var entries []map[string]interface{}
	require.NoError(t, json.Unmarshal(lb.Models, &entries))
	assert.Len(t, entries, 2)
}

func TestPredictRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/3/PostFile":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"destination_frames": []string{"upload_p"},
			})
		case r.URL.Path == "/3/ParseSetup":
			w.Write([]byte(`{"job":{}}`))
		case r.URL.Path == "/3/Parse":
			w.Write([]byte(`{}`))
		case strings.HasPrefix(r.URL.Path, "/3/Predictions/models/GBM_1/frames/predict_"):
			w.Write([]byte(`{"predictions":[1, 0.82]}`))
		default:
			t.Errorf("unexpected request: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	pred, err := client.PredictRow(context.Background(), "GBM_1", map[string]interface{}{"age": 34})
	require.NoError(t, err)
	require.Len(t, pred.Predictions, 2)
	assert.Equal(t, float64(1), pred.Predictions[0])
	assert.Equal(t, 0.82, pred.Predictions[1])
}

func TestDownloadMOJO(t *testing.T) {
	payload := []byte("PK\x03\x04mojo-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/3/Models/GBM_1/mojo", r.URL.Path)
		w.Write(payload)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	data, err := client.DownloadMOJO(context.Background(), "GBM_1")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}
