package yolo2ls

import (
	"fmt"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// progressInterval is the number of converted images between progress messages.
const progressInterval = 100

// Splits are the names of the standard dataset splits.
var Splits = []string{"train", "valid", "test"}

// DatasetPaths locates the images and labels of a YOLO dataset.
type DatasetPaths struct {
	Dir      string // The dataset directory.
	ImageDir string // Dir/images.
	LabelDir string // Dir/labels.
	// The image directory relative to the Label Studio document root, with forward slashes. Used
	// as the prefix of the task image references.
	RelativeImageDir string
}

// ResolveDatasetPaths returns the paths for either a standard split under projectRoot or a custom
// dataset directory. Exactly one of split and datasetPath must be set.
//
// For a custom directory the relative image dir is derived from its position under projectRoot.
// If it is outside of projectRoot, only its base name is used.
func ResolveDatasetPaths(projectRoot, split, datasetPath string) (DatasetPaths, error) {
	var p DatasetPaths
	switch {
	case split == "" && datasetPath == "":
		return p, fmt.Errorf("either a dataset split or a dataset path must be specified")
	case split != "" && datasetPath != "":
		return p, fmt.Errorf("cannot specify both a dataset split and a dataset path")
	case split != "":
		if !isSplit(split) {
			return p, fmt.Errorf("unknown dataset split %q, expected one of %s",
				split, strings.Join(Splits, ", "))
		}
		p.Dir = filepath.Join(projectRoot, split)
		p.RelativeImageDir = split + "/images"
	default:
		p.Dir = filepath.Clean(datasetPath)
		rel := relativeToRoot(projectRoot, p.Dir)
		p.RelativeImageDir = path.Join(rel, "images")
		if rel == "." {
			p.RelativeImageDir = "./images"
		}
	}

	p.ImageDir = filepath.Join(p.Dir, "images")
	p.LabelDir = filepath.Join(p.Dir, "labels")
	return p, nil
}

// ImagePrefix returns the image reference prefix for images stored in dir, relative to the Label
// Studio document root projectRoot. A dir outside of projectRoot is referenced by its base name
// and projectRoot itself by the empty prefix.
func ImagePrefix(projectRoot, dir string) string {
	rel := relativeToRoot(projectRoot, filepath.Clean(dir))
	if rel == "." {
		return ""
	}
	return rel
}

// relativeToRoot returns dir relative to projectRoot with forward slashes, or the base name of dir
// if it is not below projectRoot.
func relativeToRoot(projectRoot, dir string) string {
	rel, err := filepath.Rel(filepath.Clean(projectRoot), dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		rel = filepath.Base(dir)
	}
	return filepath.ToSlash(rel)
}

func isSplit(s string) bool {
	for _, v := range Splits {
		if v == s {
			return true
		}
	}
	return false
}

// YOLOOptions configures FromYOLO.
type YOLOOptions struct {
	// Workers is the number of images read concurrently. Values <= 0 select 2*runtime.NumCPU().
	// The result does not depend on it.
	Workers int
}

// conversionRun is the state of a single FromYOLO call.
type conversionRun struct {
	log        *zap.SugaredLogger // Tagged with the run id.
	imageFiles []string           // Sorted by name.
	files      []*AnnotatedFile   // One slot per image file; nil if the image was skipped.
	converted  atomic.Int64
}

// FromYOLO reads the images in imageDir and the YOLO labels with the same base name in labelDir.
//
// The returned files are sorted by image file name. Images that cannot be decoded are logged and
// left out. An image without a label file gets no annotations; labelDir need not exist at all.
// If imageDir does not exist, the error wraps ErrDirectoryNotFound.
func FromYOLO(imageDir, labelDir string, classes ClassTable, opts YOLOOptions) (
	[]AnnotatedFile, error) {

	if len(classes) == 0 {
		return nil, ErrNoClassNames
	}

	imageFiles, err := imageFilesInDir(imageDir)
	if err != nil {
		return nil, err
	}

	run := &conversionRun{
		log:        logger().With("run", uuid.NewString()),
		imageFiles: imageFiles,
		files:      make([]*AnnotatedFile, len(imageFiles)),
	}
	log := run.log
	log.Infof("Found %d images in %q", len(imageFiles), imageDir)
	if !dirExists(labelDir) {
		log.Warnf("Labels directory not found, creating tasks without annotations: %q", labelDir)
	}

	numTasks := opts.Workers
	if numTasks <= 0 {
		numTasks = 2 * runtime.NumCPU()
	}
	if len(imageFiles) < numTasks {
		numTasks = len(imageFiles)
	}

	// Each worker writes only the slots of the indices it receives.
	workQueue := make(chan int, 2*numTasks)
	var wg sync.WaitGroup
	wg.Add(numTasks)
	for i := 0; i < numTasks; i++ {
		go func() {
			defer wg.Done()
			for idx := range workQueue {
				run.convert(idx, labelDir, classes)
			}
		}()
	}

	for i := range imageFiles {
		workQueue <- i
	}
	close(workQueue)
	wg.Wait()

	data := make([]AnnotatedFile, 0, len(imageFiles))
	for _, f := range run.files {
		if f != nil {
			data = append(data, *f)
		}
	}
	log.Infof("Successfully converted %d images", len(data))

	return data, nil
}

// convert reads the image at index idx and its labels into run.files[idx].
func (run *conversionRun) convert(idx int, labelDir string, classes ClassTable) {
	imagePath := run.imageFiles[idx]
	fileData, err := loadYOLOFile(run.log, imagePath, labelPathFor(labelDir, imagePath), classes)
	if err != nil {
		run.log.Warnf("Cannot read image, skipping %q: %v", imagePath, err)
		return
	}
	run.files[idx] = &fileData

	if n := run.converted.Add(1); n%progressInterval == 0 {
		run.log.Infof("Processed %d images...", n)
	}
}

// loadYOLOFile reads the image dimensions of imagePath and the YOLO labels at labelPath.
//
// Fails with a *DecodeError if the image cannot be read. Label read errors are logged to log and
// yield an unannotated file.
func loadYOLOFile(log *zap.SugaredLogger, imagePath, labelPath string, classes ClassTable) (
	AnnotatedFile, error) {

	img, err := ImageDimensions(imagePath)
	if err != nil {
		return AnnotatedFile{}, err
	}

	boxes, err := ReadYOLOLabels(labelPath)
	if err != nil {
		log.Warnf("Error while parsing, ignoring labels for %q: %v", imagePath, err)
	}

	fileData := AnnotatedFile{
		Annotations: make([]Annotation, 0, len(boxes)),
		FilePath:    imagePath,
		Width:       img.Width,
		Height:      img.Height,
	}
	for i, b := range boxes {
		label, ok := classes.Name(b.ClassID)
		if !ok {
			log.Warnf("Class ID %d out of range in %q", b.ClassID, labelPath)
			continue
		}
		fileData.Annotations = append(fileData.Annotations,
			Annotation{Box: b, Index: i, Label: label})
	}

	return fileData, nil
}

// ConvertDataset converts the YOLO dataset in imageDir and labelDir to Label Studio tasks with ids
// starting at 1. See FromYOLO and ToLabelStudio.
func ConvertDataset(imageDir, labelDir string, classes ClassTable, prefix string,
	opts YOLOOptions) ([]LSTask, error) {

	data, err := FromYOLO(imageDir, labelDir, classes, opts)
	if err != nil {
		return nil, err
	}
	return ToLabelStudio(data, prefix), nil
}
