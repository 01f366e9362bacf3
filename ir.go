package yolo2ls

// The intermediate annotation metadata representation.

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
)

// Annotation is the intermediate representation of an object label.
type Annotation struct {
	Box   NormalizedBox // The box, normalised to the image size.
	Index int           // Position of the box in its label file, counting parsed lines only.
	Label string
}

// AnnotatedFile is the intermediate representation of image file metadata.
type AnnotatedFile struct {
	Annotations []Annotation // The annotations.
	FilePath    string       // The annotated image.
	Width       int          // Image width in pixels.
	Height      int          // Image height in pixels.
}

// AnnotatedFiles is the annotation metadata for a list of files.
type AnnotatedFiles []AnnotatedFile

// MapLabels replaces label (sub-)strings with substitution values, as specified in mappings.
//
// The format of mappings is old=new.
func (data AnnotatedFiles) MapLabels(mappings []string) error {
	if len(mappings) == 0 {
		return nil
	}

	// Extract the individual old and new strings to map between.
	replacements := make([]struct{ old, new string }, len(mappings))
	for i, v := range mappings {
		a := strings.Split(v, "=")
		if len(a) != 2 || a[0] == "" {
			return fmt.Errorf("invalid mapping: %v", v)
		}

		replacements[i].old = a[0]
		replacements[i].new = a[1]
	}

	// Apply the replacements, in order, to all labels.
	count := 0
	for _, f := range data {
		for i := range f.Annotations {
			a := &f.Annotations[i]

			oldLabel := a.Label
			for _, r := range replacements {
				a.Label = strings.ReplaceAll(a.Label, r.old, r.new)
			}

			if a.Label != oldLabel {
				count++
			}
		}
	}

	logger().Infof("The label mappings changed %d labels", count)
	return nil
}

// Filter removes annotations whose label is not in labelNames (if non-empty) or whose box is
// narrower than minWidth or lower than minHeight. Sizes are fractions of the image size.
//
// If requireLabel is true, files left without annotations are removed as well. The order of
// files and annotations is preserved.
func (data *AnnotatedFiles) Filter(labelNames []string, requireLabel bool,
	minWidth, minHeight float64) {

	keepLabel := make(map[string]bool, len(labelNames))
	for _, name := range labelNames {
		keepLabel[name] = true
	}

	numFiles := len(*data)
	numLabelsBeforeFilter := 0
	numLabelsAfterFilter := 0

	files := (*data)[:0]
	for _, f := range *data {
		numLabelsBeforeFilter += len(f.Annotations)

		annotations := f.Annotations[:0]
		for _, a := range f.Annotations {
			if len(keepLabel) > 0 && !keepLabel[a.Label] {
				continue
			}
			if a.Box.Width < minWidth || a.Box.Height < minHeight {
				continue
			}
			annotations = append(annotations, a)
		}
		f.Annotations = annotations
		numLabelsAfterFilter += len(annotations)

		// Drop the file if files with no labels are filtered out.
		if requireLabel && len(annotations) == 0 {
			continue
		}
		files = append(files, f)
	}
	*data = files

	logger().Infof("Filtered out %d labels and %d files",
		numLabelsBeforeFilter-numLabelsAfterFilter, numFiles-len(*data))
}

// Split randomly splits the data into multiple datasets, preserving the relative order of files.
//
// The cumulativeSplits specify the cumulative distribution according to which the data is split
// into the returned datasets. Its last value must be 100. The same seed always produces the same
// split for the same data.
func (data AnnotatedFiles) Split(cumulativeSplits []int, seed int64) ([]AnnotatedFiles, error) {
	datasets := make([]AnnotatedFiles, len(cumulativeSplits))

	// Allocate slightly more than the expected size for each dataset.
	var sum int
	for i, s := range cumulativeSplits {
		if s < sum {
			return nil, fmt.Errorf("the split percentages must be cumulative")
		}
		percent := s - sum
		datasets[i] = make(AnnotatedFiles, 0, int(1.05*float64(percent)/100*float64(len(data))))
		sum = s
	}
	if sum != 100 {
		return nil, fmt.Errorf("the split percentages do not add up to 100")
	}

	rng := rand.New(rand.NewSource(seed))

outer:
	for _, d := range data {
		r := rng.Intn(100)
		for i, s := range cumulativeSplits {
			if r < s {
				datasets[i] = append(datasets[i], d)
				continue outer
			}
		}
	}

	return datasets, nil
}

// ResampleFilter returns the imaging filter for name, one of nearest, box, linear, gaussian or
// lanczos.
func ResampleFilter(name string) (imaging.ResampleFilter, error) {
	switch name {
	case "nearest":
		return imaging.NearestNeighbor, nil
	case "box":
		return imaging.Box, nil
	case "linear":
		return imaging.Linear, nil
	case "gaussian":
		return imaging.Gaussian, nil
	case "lanczos":
		return imaging.Lanczos, nil
	}
	return imaging.ResampleFilter{}, fmt.Errorf("unknown resampling filter %q", name)
}

// ImageOptions configures ProcessImages.
type ImageOptions struct {
	LongerSide  int    // Target length of the longer side; 0 keeps the aspect ratio.
	ShorterSide int    // Target length of the shorter side; 0 keeps the aspect ratio.
	Downsample  string // Filter name used when shrinking.
	Upsample    string // Filter name used when enlarging.
	Encoding    string // "jpg" or "png".
	JPEGQuality int
}

// ProcessImages resizes all referenced images and writes them to imageOutDir using the specified
// encoding. FilePath, Width and Height of every file are updated to the written image. The
// normalised boxes stay valid and are not changed.
//
// Nothing is done if neither side length is set.
func (data AnnotatedFiles) ProcessImages(imageOutDir string, opts ImageOptions) error {
	if opts.LongerSide <= 0 && opts.ShorterSide <= 0 {
		return nil
	}
	logger().Info("Processing images")

	downsample, err := ResampleFilter(opts.Downsample)
	if err != nil {
		return err
	}
	upsample, err := ResampleFilter(opts.Upsample)
	if err != nil {
		return err
	}

	// Select the output file extension based on the requested encoding.
	var fileExt string
	switch strings.ToLower(opts.Encoding) {
	case "jpg", "jpeg":
		fileExt = ".jpg"
	case "png":
		fileExt = ".png"
	default:
		return fmt.Errorf("unsupported output encoding %q", opts.Encoding)
	}

	// Images that differ only in their extension would be written to the same file.
	outPaths := make([]string, len(data))
	sources := make(map[string]string, len(data))
	for i, d := range data {
		_, baseNoExt, _, err := splitPath(d.FilePath)
		if err != nil {
			return err
		}
		outPaths[i] = filepath.Join(imageOutDir, baseNoExt+fileExt)
		if src, ok := sources[outPaths[i]]; ok {
			return fmt.Errorf("both %q and %q would be written to %q", src, d.FilePath, outPaths[i])
		}
		sources[outPaths[i]] = d.FilePath
	}

	if err := ensureDir(imageOutDir); err != nil {
		return err
	}

	// Prepare for concurrent processing. Limit the number of goroutines in flight, as they load
	// potentially large images into memory.
	numTasks := 2 * runtime.NumCPU()
	if len(data) < numTasks {
		numTasks = len(data)
	}
	workQueue := make(chan int, 2*numTasks)
	errors := make(chan error, 1)
	var wg sync.WaitGroup

	wg.Add(numTasks)
	for i := 0; i < numTasks; i++ {
		go func() {
			defer wg.Done()
			for idx := range workQueue {
				if err := processImage(&data[idx], outPaths[idx], opts, downsample, upsample); err != nil {
					select {
					case errors <- err:
					default:
					}
				}
			}
		}()
	}

	for i := range data {
		workQueue <- i
	}
	close(workQueue)

	wg.Wait()
	close(errors)
	if len(errors) > 0 {
		return <-errors
	}

	return nil
}

// processImage resizes the image described by data, writes it to outPath and updates data to refer
// to the output.
func processImage(data *AnnotatedFile, outPath string, opts ImageOptions,
	downsample, upsample imaging.ResampleFilter) error {

	img, err := imaging.Open(data.FilePath)
	if err != nil {
		return &DecodeError{Path: data.FilePath, Err: err}
	}

	img = resizeImage(img, opts.LongerSide, opts.ShorterSide, downsample, upsample)

	if err := saveImage(outPath, img, opts.JPEGQuality); err != nil {
		return fmt.Errorf("cannot write image %q: %w", outPath, err)
	}

	bounds := img.Bounds()
	data.FilePath = outPath
	data.Width = bounds.Dx()
	data.Height = bounds.Dy()

	return nil
}
