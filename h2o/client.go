package h2o

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/insightflow/ml-studio-backend/converter"
)

// Client talks to an H2O cluster over its v3 REST API. The cluster sits on an
// internal network and does not require authentication.
type Client struct {
	baseURL   string
	hc        *http.Client
	probeHC   *http.Client
	converter *converter.Converter
}

// NewClient creates a new H2O client for the given base URL
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: 60 * time.Second},
		// Short timeout: the probe gates engine vs simulator and must answer fast
		probeHC:   &http.Client{Timeout: 5 * time.Second},
		converter: converter.NewConverter(),
	}
}

// AutoMLJob identifies a submitted AutoML run
type AutoMLJob struct {
	ProjectName string
}

// LeaderMetrics holds the leader model's validation metrics
type LeaderMetrics struct {
	Accuracy          float64 `json:"accuracy"`
	R2                float64 `json:"r2"`
	MeanPerClassError float64 `json:"mean_per_class_error"`
	Precision         float64 `json:"precision"`
	Recall            float64 `json:"recall"`
	F1                float64 `json:"f1"`
	LogLoss           float64 `json:"logloss"`
	RMSE              float64 `json:"rmse"`
}

// Leader is the current best model of an AutoML run
type Leader struct {
	ModelID           string        `json:"model_id"`
	ValidationMetrics LeaderMetrics `json:"validation_metrics"`
}

// RunStatus is the normalized progress of an AutoML run
type RunStatus struct {
	AutoML struct {
		Progress    float64 `json:"progress"` // fraction in [0,1]
		ModelsBuilt int     `json:"models_built"`
		Leader      *Leader `json:"leader"`
	} `json:"auto_ml"`
}

// Leaderboard is the ordered candidate list of an AutoML run
type Leaderboard struct {
	Models json.RawMessage `json:"models"`
}

// Prediction is the engine's response for a single-row prediction
type Prediction struct {
	Predictions []interface{} `json:"predictions"`
}

// CheckCluster probes the H2O cluster. Any network failure or non-2xx status
// means the cluster is unavailable; this call never returns an error.
func (c *Client) CheckCluster(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/3/Cloud", nil)
	if err != nil {
		return false
	}
	resp, err := c.probeHC.Do(req)
	if err != nil {
		log.Printf("H2O cluster not available: %v", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("H2O cluster check failed: %s", resp.Status)
		return false
	}
	return true
}

// UploadCSV uploads raw CSV bytes and materializes them as a named frame:
// PostFile, then ParseSetup for schema inference, then Parse. Any failing step
// is a hard engine failure and propagates to the caller.
func (c *Client) UploadCSV(ctx context.Context, data []byte, frameName string) (string, error) {
	log.Printf("Uploading CSV to H2O, frame name: %s (%d bytes)", frameName, len(data))

	// Step 1: upload the raw file
	var upload struct {
		DestinationFrames []string `json:"destination_frames"`
	}
	if err := c.post(ctx, "/3/PostFile", "text/csv", data, &upload); err != nil {
		return "", fmt.Errorf("file upload failed: %w", err)
	}
	if len(upload.DestinationFrames) == 0 {
		return "", fmt.Errorf("file upload returned no destination frame")
	}

	// Step 2: parse setup (schema inference)
	setupBody, err := json.Marshal(map[string]interface{}{
		"source_frames": []string{upload.DestinationFrames[0]},
		"parse_type":    "CSV",
		"separator":     44, // comma
		"single_quotes": false,
		"check_header":  1,
	})
	if err != nil {
		return "", err
	}
	var setup struct {
		Job json.RawMessage `json:"job"`
	}
	if err := c.post(ctx, "/3/ParseSetup", "application/json", setupBody, &setup); err != nil {
		return "", fmt.Errorf("parse setup failed: %w", err)
	}

	// Step 3: parse into the named frame
	parseBody, err := json.Marshal(map[string]interface{}{
		"job":               json.RawMessage(setup.Job),
		"destination_frame": frameName,
	})
	if err != nil {
		return "", err
	}
	if err := c.post(ctx, "/3/Parse", "application/json", parseBody, nil); err != nil {
		return "", fmt.Errorf("parse failed: %w", err)
	}

	return frameName, nil
}

// StartAutoML submits an AutoML run against an uploaded frame and returns the
// generated project name. Defaults follow the engine's conventions: 5-fold
// cross validation, auto-selected sort metric, no algorithm exclusions.
func (c *Client) StartAutoML(ctx context.Context, trainingFrame, targetColumn string, maxModels, maxRuntimeSecs int) (*AutoMLJob, error) {
	projectName := fmt.Sprintf("automl_%d", time.Now().UnixMilli())

	body, err := json.Marshal(map[string]interface{}{
		"training_frame":   trainingFrame,
		"y":                targetColumn,
		"max_models":       maxModels,
		"max_runtime_secs": maxRuntimeSecs,
		"project_name":     projectName,
		"sort_metric":      "AUTO",
		"nfolds":           5,
		"fold_assignment":  "AUTO",
		"balance_classes":  false,
		"seed":             -1,
		"exclude_algos":    []string{},
		"include_algos":    []string{},
	})
	if err != nil {
		return nil, err
	}

	if err := c.post(ctx, "/3/AutoML", "application/json", body, nil); err != nil {
		return nil, fmt.Errorf("AutoML start failed: %w", err)
	}

	log.Printf("AutoML run started, project: %s", projectName)
	return &AutoMLJob{ProjectName: projectName}, nil
}

// GetProgress retrieves the current state of an AutoML run
func (c *Client) GetProgress(ctx context.Context, projectName string) (*RunStatus, error) {
	var status RunStatus
	if err := c.get(ctx, "/3/AutoML/"+projectName, &status); err != nil {
		return nil, fmt.Errorf("progress check failed: %w", err)
	}
	return &status, nil
}

// GetLeaderboard retrieves the final candidate ranking of an AutoML run
func (c *Client) GetLeaderboard(ctx context.Context, projectName string) (*Leaderboard, error) {
	var lb Leaderboard
	if err := c.get(ctx, "/3/AutoML/"+projectName+"/leaderboard", &lb); err != nil {
		return nil, fmt.Errorf("leaderboard fetch failed: %w", err)
	}
	return &lb, nil
}

// PredictRow scores a single input row against a model. The row is
// materialized as a transient frame before prediction.
func (c *Client) PredictRow(ctx context.Context, modelID string, input map[string]interface{}) (*Prediction, error) {
	csvRow, err := c.converter.RowToCSV(input)
	if err != nil {
		return nil, err
	}

	frameName := fmt.Sprintf("predict_%d", time.Now().UnixMilli())
	if _, err := c.UploadCSV(ctx, csvRow, frameName); err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]interface{}{
		"predict_contributions":        false,
		"predict_leaf_node_assignment": false,
	})
	if err != nil {
		return nil, err
	}

	var pred Prediction
	path := fmt.Sprintf("/3/Predictions/models/%s/frames/%s", modelID, frameName)
	if err := c.post(ctx, path, "application/json", body, &pred); err != nil {
		return nil, fmt.Errorf("prediction failed: %w", err)
	}
	return &pred, nil
}

// DownloadMOJO downloads a model's portable MOJO package as raw bytes
func (c *Client) DownloadMOJO(ctx context.Context, modelID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/3/Models/"+modelID+"/mojo", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("MOJO download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("MOJO download failed: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) post(ctx context.Context, path, contentType string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s %s", req.Method, req.URL.Path, resp.Status, bytes.TrimSpace(text))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", req.URL.Path, err)
	}
	return nil
}
