package yolo2ls

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/projects/3/import", r.URL.Path)
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		var tasks []map[string]interface{}
		if assert.NoError(t, json.Unmarshal(body, &tasks)) && assert.Len(t, tasks, 2) {
			assert.Contains(t, tasks[0], "data")
			assert.Contains(t, tasks[1], "annotations")
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"task_count":2,"annotation_count":1,"prediction_count":0,"duration":0.5}`))
	}))
	defer server.Close()

	tasks := ToLabelStudio([]AnnotatedFile{
		{
			FilePath:    "a.jpg",
			Width:       10,
			Height:      10,
			Annotations: []Annotation{{Box: NormalizedBox{XCenter: 0.5, YCenter: 0.5, Width: 1, Height: 1}, Label: "cat"}},
		},
		{FilePath: "b.jpg", Width: 10, Height: 10},
	}, "train/images")

	result, err := NewImporter(server.URL+"/", "secret").Import(context.Background(), 3, tasks)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{TaskCount: 2, AnnotationCount: 1, Duration: 0.5}, result)
}

func TestImportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Invalid token."}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewImporter(server.URL, "wrong").Import(context.Background(), 1, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "Invalid token.")
}
