package yolo2ls

// Label Studio specific functionality.

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Fixed values of the Label Studio rectangle import schema.
const (
	lsLocalFilesURL = "/data/local-files/?d="
	lsModelVersion  = "yolo_converted"
	lsResultType    = "rectanglelabels"
	lsToName        = "image"
	lsFromName      = "label"
)

// LSValue is the geometry and label of a rectangle result, in percent of the image size.
type LSValue struct {
	X               float64  `json:"x"`
	Y               float64  `json:"y"`
	Width           float64  `json:"width"`
	Height          float64  `json:"height"`
	Rotation        int      `json:"rotation"`
	RectangleLabels []string `json:"rectanglelabels"`
}

// LSResult is a single region within a Label Studio annotation.
type LSResult struct {
	ID             string  `json:"id"`
	Type           string  `json:"type"`
	Value          LSValue `json:"value"`
	ToName         string  `json:"to_name"`
	FromName       string  `json:"from_name"`
	ImageRotation  int     `json:"image_rotation"`
	OriginalWidth  int     `json:"original_width"`
	OriginalHeight int     `json:"original_height"`
}

// LSAnnotation is the set of results attached to a task by one model version.
type LSAnnotation struct {
	ModelVersion string     `json:"model_version"`
	Result       []LSResult `json:"result"`
}

// LSTaskData holds the task payload.
type LSTaskData struct {
	Image string `json:"image"`
}

// LSTask is one Label Studio task: an image reference and its annotations.
type LSTask struct {
	ID          int            `json:"-"` // Unique within one conversion.
	Data        LSTaskData     `json:"data"`
	Annotations []LSAnnotation `json:"annotations"`
}

// ImageReference returns the local-files URL under which Label Studio serves fileName. The prefix
// is the path of the file's directory relative to the document root and may be empty.
func ImageReference(prefix, fileName string) string {
	if prefix != "" {
		return lsLocalFilesURL + prefix + "/" + fileName
	}
	return lsLocalFilesURL + fileName
}

// ToLabelStudioTask converts the intermediate representation for a single file to a Label Studio
// task with the given id.
func ToLabelStudioTask(fileData AnnotatedFile, id int, prefix string) LSTask {
	task := LSTask{
		ID:          id,
		Data:        LSTaskData{Image: ImageReference(prefix, filepath.Base(fileData.FilePath))},
		Annotations: []LSAnnotation{}, // Must not be nil as that becomes JSON null.
	}
	if len(fileData.Annotations) == 0 {
		return task
	}

	results := make([]LSResult, len(fileData.Annotations))
	for i, a := range fileData.Annotations {
		b := a.Box.ToPercent()
		results[i] = LSResult{
			ID:   fmt.Sprintf("%d_%d", id, a.Index),
			Type: lsResultType,
			Value: LSValue{
				X:               b.X,
				Y:               b.Y,
				Width:           b.Width,
				Height:          b.Height,
				RectangleLabels: []string{a.Label},
			},
			ToName:         lsToName,
			FromName:       lsFromName,
			OriginalWidth:  fileData.Width,
			OriginalHeight: fileData.Height,
		}
	}
	task.Annotations = []LSAnnotation{{ModelVersion: lsModelVersion, Result: results}}

	return task
}

// ToLabelStudio converts the intermediate representation to Label Studio tasks, numbered from 1
// in the order of data.
func ToLabelStudio(data []AnnotatedFile, prefix string) []LSTask {
	tasks := make([]LSTask, len(data))
	for i, fileData := range data {
		tasks[i] = ToLabelStudioTask(fileData, i+1, prefix)
	}
	return tasks
}

// BuildTask converts the image at imagePath and its YOLO labels at labelPath to a Label Studio
// task.
//
// If the image cannot be decoded, the returned task is nil and the error is a *DecodeError.
// Boxes with a class id outside of classes are logged and skipped.
func BuildTask(imagePath, labelPath string, id int, classes ClassTable, prefix string) (
	*LSTask, error) {

	fileData, err := loadYOLOFile(logger(), imagePath, labelPath, classes)
	if err != nil {
		return nil, err
	}

	task := ToLabelStudioTask(fileData, id, prefix)
	return &task, nil
}

// WriteLabelStudio writes the tasks to outFile as a JSON array, creating missing parent
// directories.
func WriteLabelStudio(outFile string, tasks []LSTask) error {
	if tasks == nil {
		tasks = []LSTask{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(tasks); err != nil {
		return err
	}

	if err := ensureDir(filepath.Dir(outFile)); err != nil {
		return err
	}
	if err := os.WriteFile(outFile, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("cannot write file %q: %w", outFile, err)
	}
	return nil
}

// Stats summarises a list of tasks.
type Stats struct {
	Tasks       int
	Annotations int
}

// Average returns the mean number of annotations per task, or 0 if there are no tasks.
func (s Stats) Average() float64 {
	if s.Tasks == 0 {
		return 0
	}
	return float64(s.Annotations) / float64(s.Tasks)
}

// Summarize counts the tasks and their annotation results.
func Summarize(tasks []LSTask) Stats {
	s := Stats{Tasks: len(tasks)}
	for _, t := range tasks {
		for _, a := range t.Annotations {
			s.Annotations += len(a.Result)
		}
	}
	return s
}
