package yolo2ls

// TFRecord object detection specific functionality.

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/golang/protobuf/proto"
	"github.com/ryszard/tfutils/go/example"
	"github.com/ryszard/tfutils/go/tfrecord"
	tensorflow "github.com/ryszard/tfutils/proto/tensorflow/core/example"
)

// TFFeatureMap maps feature names to their values. Values must be convertible to
// tensorflow.Feature.
type TFFeatureMap map[string]interface{}

// TFLabelMap maps label names to the 1-based class ids used in TFRecord files.
type TFLabelMap map[string]int64

// NewTFLabelMap assigns ids to the names in classes, in order, followed by any other labels in
// data in lexical order. Ids start at 1 as 0 is reserved for the background class.
func NewTFLabelMap(classes ClassTable, data []AnnotatedFile) TFLabelMap {
	labelMap := make(TFLabelMap, len(classes))
	var nextID int64 = 1
	for _, name := range classes {
		if _, ok := labelMap[name]; !ok {
			labelMap[name] = nextID
			nextID++
		}
	}

	var extra []string
	seen := make(map[string]bool)
	for _, f := range data {
		for _, a := range f.Annotations {
			if _, ok := labelMap[a.Label]; !ok && !seen[a.Label] {
				seen[a.Label] = true
				extra = append(extra, a.Label)
			}
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		labelMap[name] = nextID
		nextID++
	}

	return labelMap
}

// toTFRecord converts the intermediate representation for a single file to a TFRecord feature
// map.
func toTFRecord(fileData AnnotatedFile, labelMap TFLabelMap) (TFFeatureMap, error) {
	// Get the encoding format.
	_, format, err := decodeImageConfig(fileData.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to decode the image metadata: %w", err)
	}

	// Read the image data.
	imgData, err := os.ReadFile(fileData.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read the image: %w", err)
	}

	// Prepare the feature map for the per file data.
	f := make(TFFeatureMap, 16)
	f["image/height"] = fileData.Height
	f["image/width"] = fileData.Width
	f["image/filename"] = filepath.Base(fileData.FilePath)
	f["image/source_id"] = fileData.FilePath
	f["image/encoded"] = imgData
	f["image/format"] = format

	// Prepare the per label data. The boxes are already normalised.
	numLabels := len(fileData.Annotations)
	xmins := make([]float32, numLabels)
	ymins := make([]float32, numLabels)
	xmaxs := make([]float32, numLabels)
	ymaxs := make([]float32, numLabels)
	classes := make([]string, numLabels)
	classIDs := make([]int64, numLabels)
	for i, a := range fileData.Annotations {
		b := a.Box
		xmins[i] = float32(b.XCenter - b.Width/2)
		ymins[i] = float32(b.YCenter - b.Height/2)
		xmaxs[i] = float32(b.XCenter + b.Width/2)
		ymaxs[i] = float32(b.YCenter + b.Height/2)
		classes[i] = a.Label
		classIDs[i] = labelMap[a.Label]
	}
	f["image/object/bbox/xmin"] = xmins
	f["image/object/bbox/ymin"] = ymins
	f["image/object/bbox/xmax"] = xmaxs
	f["image/object/bbox/ymax"] = ymaxs
	f["image/object/class/text"] = classes
	f["image/object/class/label"] = classIDs

	return f, nil
}

// WriteTFRecord does a streaming conversion, serialisation and file write for the annotation data
// to one or more TFRecord files stored under recordFilePath (with suffixes added when
// numShards>1).
//
// The label map is written to labelMapPath in the prototxt format of the TensorFlow object
// detection API.
func WriteTFRecord(recordFilePath, labelMapPath string, data []AnnotatedFile,
	labelMap TFLabelMap, numShards int) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("conversion to TensorFlow Example failed: %v", e)
		}
	}()

	if numShards <= 0 {
		numShards = 1
	}

	fmtShardSuffix := func(idx int) string {
		return fmt.Sprintf("-%05d-of-%05d", idx, numShards)
	}

	var shardFile *os.File
	shardSize := int(math.Ceil(float64(len(data)) / float64(numShards)))
	if shardSize == 0 {
		shardSize = 1
	}
	shardIdx := -1

	// Convert and serialise one data element at a time.
	for i, fileData := range data {
		// Check if a new shard file needs to be opened for writing.
		if i%shardSize == 0 {
			shardIdx++

			// Close the previous shard file.
			if shardFile != nil {
				if err := shardFile.Close(); err != nil {
					return err
				}
				shardFile = nil
			}

			// Create the new shard file.
			shardPath := recordFilePath
			if numShards > 1 {
				shardPath += fmtShardSuffix(shardIdx)
			}
			f, err := os.Create(shardPath)
			if err != nil {
				return fmt.Errorf("failed to create shard at %q: %w", shardPath, err)
			}
			shardFile = f
		}

		// Convert the file data to an example.
		features, err := toTFRecord(fileData, labelMap)
		if err != nil {
			logger().Warnf("Failed to convert %q: %v", fileData.FilePath, err)
			continue
		}
		tfExample := example.New(features)

		// Write the example.
		if err := writeTFRecordExample(shardFile, tfExample); err != nil {
			_ = shardFile.Close()
			return fmt.Errorf("failed to write example for %q: %w", fileData.FilePath, err)
		}
	}

	if shardFile != nil {
		if err := shardFile.Close(); err != nil {
			return err
		}
	}

	return saveTFRecordLabelMap(labelMapPath, labelMap)
}

// writeTFRecordExample serialises the example and writes it as a TFRecord to w.
func writeTFRecordExample(w io.Writer, e *tensorflow.Example) error {
	enc, err := proto.Marshal(e)
	if err != nil {
		return err
	}

	return tfrecord.Write(w, enc)
}

// saveTFRecordLabelMap writes the labelMap to path in prototxt format, ordered by id.
func saveTFRecordLabelMap(path string, labelMap TFLabelMap) (err error) {
	names := make([]string, 0, len(labelMap))
	for name := range labelMap {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return labelMap[names[i]] < labelMap[names[j]] })

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create the label map file %q: %w", path, err)
	}
	defer closeWithErrCheck(file, &err)

	w := bufio.NewWriter(file)
	for _, name := range names {
		if _, err := fmt.Fprintf(w, "item {\n  id: %d\n  name: %q\n}\n", labelMap[name], name); err != nil {
			return fmt.Errorf("failed to write the label map %q: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write the label map %q: %w", path, err)
	}

	return nil
}
