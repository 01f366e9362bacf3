package yolo2ls

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultImportTimeout bounds a single import request.
const DefaultImportTimeout = 5 * time.Minute

// ImportResult is the response of the Label Studio project import endpoint.
type ImportResult struct {
	TaskCount       int     `json:"task_count"`
	AnnotationCount int     `json:"annotation_count"`
	PredictionCount int     `json:"prediction_count"`
	Duration        float64 `json:"duration"`
}

// Importer uploads tasks to a Label Studio project.
type Importer struct {
	client *resty.Client
}

// NewImporter returns an Importer for the Label Studio instance at baseURL, authenticating with
// the legacy API token apiKey.
func NewImporter(baseURL, apiKey string) *Importer {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(DefaultImportTimeout).
		SetHeader("Authorization", "Token "+apiKey).
		SetHeader("Content-Type", "application/json")
	return &Importer{client: client}
}

// Import posts tasks to the project with the given id.
func (im *Importer) Import(ctx context.Context, projectID int, tasks []LSTask) (ImportResult, error) {
	if tasks == nil {
		tasks = []LSTask{}
	}

	var result ImportResult
	resp, err := im.client.R().
		SetContext(ctx).
		SetBody(tasks).
		SetResult(&result).
		Post(fmt.Sprintf("/api/projects/%d/import", projectID))
	if err != nil {
		return ImportResult{}, fmt.Errorf("import request failed: %w", err)
	}
	if resp.IsError() {
		return ImportResult{}, fmt.Errorf("label studio returned %s: %s", resp.Status(), resp.String())
	}

	logger().Infof("Imported %d tasks into project %d", result.TaskCount, projectID)
	return result, nil
}
