// Converts YOLO datasets to Label Studio import files, with optional TFRecord export and direct
// import into a Label Studio project.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sensorable/yolo2ls"
)

var (
	datasetSplit string               // The standard dataset split to convert.
	datasetPath  string               // A custom dataset directory.
	configPath   string               // The YOLO data.yaml with the class names.
	projectRoot  string               // The Label Studio local files document root.
	numWorkers   int                  // The number of images read concurrently.
	datasetPaths yolo2ls.DatasetPaths // The resolved dataset directories.

	outPaths    []string // The manifest output file(s).
	outSplits   []int    // The cumulative split percentages for the output manifests.
	splitSeed   int64    // The seed for the random split.
	imagePrefix string   // The image path prefix relative to the project root.

	labelMappings string  // A comma-separated string of label mappings.
	filterLabels  string  // A comma-separated string of labels to keep (empty keeps all).
	requireLabel  bool    // Filter out images with no labels.
	minBboxWidth  float64 // The minimum normalised bounding box width.
	minBboxHeight float64 // The minimum normalised bounding box height.

	imageOutDir string               // The output directory for resized images.
	imageOpts   yolo2ls.ImageOptions // Resize and encoding options.

	tfRecordPath   string // The TFRecord output file.
	tfLabelMapPath string // The TFRecord label map output file.
	numShardFiles  int    // The number of TFRecord shard files to create.

	lsURL       string // The Label Studio base URL.
	lsAPIKey    string // The Label Studio API token.
	lsProjectID int    // The Label Studio project to import into.

	logFormat string // The log encoding, console or json.
	verbose   bool   // Enables debug logging.
)

func init() {
	// Optional .env file with Label Studio credentials.
	_ = godotenv.Load()

	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage of %s:\n", filepath.Base(os.Args[0]))
		_, _ = fmt.Fprintf(os.Stderr, "  %s -dataset {train,valid,test} -output <file> [options]\n",
			filepath.Base(os.Args[0]))
		_, _ = fmt.Fprintf(os.Stderr, "  %s -dataset-path <dir> -output <file> [options]\n",
			filepath.Base(os.Args[0]))
		_, _ = fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}

	printUsageAndExit := func(msg ...interface{}) {
		_, _ = fmt.Fprintln(os.Stderr, msg...)
		flag.Usage()
		os.Exit(1)
	}

	// Input arguments.
	flag.StringVar(&datasetSplit, "dataset", "",
		"The dataset `split` to convert {"+strings.Join(yolo2ls.Splits, ", ")+"}")
	flag.StringVar(&datasetPath, "dataset-path", "",
		"A custom dataset `dir` with images/ and labels/ (alternative to -dataset)")
	flag.StringVar(&configPath, "config", "./datasets/data.yaml",
		"The `path` to the YOLO dataset config with the class names")
	flag.StringVar(&projectRoot, "project-root", "./datasets",
		"The project root `dir`, served by Label Studio as local files document root")
	flag.IntVar(&numWorkers, "workers", 0,
		"The number of images read concurrently (0 selects twice the number of CPUs)")

	// Output arguments.
	outputs := flag.String("output", "",
		"The comma-separated Label Studio JSON output file `path[,...]`; one path per value in -split")
	splits := flag.String("split", "100",
		"The comma-separated output split percentages (`percent[,...]`); must add up to 100%")
	flag.Int64Var(&splitSeed, "split-seed", 1, "The random `seed` for -split")
	flag.StringVar(&imagePrefix, "image-prefix", "",
		"Overrides the image path `prefix` relative to the project root (derived from the dataset"+
			" directory, or from -images-out when resizing, by default)")

	// Conversion arguments.
	flag.StringVar(&labelMappings, "map-labels", "",
		"Comma-separated list of old=new label (sub-)string replacements")
	flag.StringVar(&filterLabels, "filter-labels", "",
		"Comma-separated list of labels to keep (after map-labels; empty string keeps all)")
	flag.BoolVar(&requireLabel, "require-label", false,
		"Require at least one label (after filters) to keep the image")
	flag.Float64Var(&minBboxWidth, "min-bbox-width", 0,
		"The min. bounding box width as a `fraction` of the image width")
	flag.Float64Var(&minBboxHeight, "min-bbox-height", 0,
		"The min. bounding box height as a `fraction` of the image height")

	// Image processing arguments.
	flag.StringVar(&imageOutDir, "images-out", "",
		"The `dir` for resized images (required when resizing)")
	flag.IntVar(&imageOpts.LongerSide, "resize-longer", 0,
		"The target `length` for the longer side of the image (zero to keep aspect ratio)")
	flag.IntVar(&imageOpts.ShorterSide, "resize-shorter", 0,
		"The target `length` for the shorter side of the image (zero to keep aspect ratio)")
	flag.StringVar(&imageOpts.Downsample, "downsample-filter", "box",
		"The filter to use when downsampling an image {nearest, box, linear, gaussian, lanczos}")
	flag.StringVar(&imageOpts.Upsample, "upsample-filter", "linear",
		"The filter to use when upsampling an image {nearest, box, linear, gaussian, lanczos}")
	flag.StringVar(&imageOpts.Encoding, "image-enc", "jpg",
		"The `encoding` for resized images {jpg, png}")
	flag.IntVar(&imageOpts.JPEGQuality, "jpeg-quality", 90,
		"The quality to use when encoding JPEGs [1, 100]")

	// TFRecord arguments.
	flag.StringVar(&tfRecordPath, "tfrecord-out", "",
		"Also write the dataset as TFRecord to this `path`")
	flag.StringVar(&tfLabelMapPath, "tfrecord-label-map-file", "",
		"The TFRecord label map output `path` (default: label_map.pbtxt next to -tfrecord-out)")
	flag.IntVar(&numShardFiles, "num-shards", 1, "The number of TFRecord shard files to create")

	// Label Studio import arguments.
	flag.StringVar(&lsURL, "ls-url", os.Getenv("LABEL_STUDIO_URL"),
		"The Label Studio base `url` (env LABEL_STUDIO_URL)")
	flag.StringVar(&lsAPIKey, "ls-token", os.Getenv("LABEL_STUDIO_API_KEY"),
		"The Label Studio API `token` (env LABEL_STUDIO_API_KEY)")
	flag.IntVar(&lsProjectID, "ls-project", 0,
		"Import the tasks into the Label Studio project with this `id`")

	// Logging arguments.
	flag.StringVar(&logFormat, "log-format", "console", "The log `format` {console, json}")
	flag.BoolVar(&verbose, "v", false, "Enable debug logging")

	// Parse and validate flags.
	flag.Parse()

	var err error
	datasetPaths, err = yolo2ls.ResolveDatasetPaths(projectRoot, datasetSplit, datasetPath)
	if err != nil {
		printUsageAndExit(err)
	}

	// Validate output split arguments.
	if *outputs == "" {
		printUsageAndExit("Missing -output argument")
	}
	outPaths = strings.Split(*outputs, ",")
	splitValues := strings.Split(*splits, ",")
	if len(splitValues) != len(outPaths) {
		printUsageAndExit("The number of output datasets defined by -split and the number of" +
			" paths in -output must match")
	}

	// Parse splits as cumulative int percentages.
	var splitSum int
	for _, v := range splitValues {
		if i, err := strconv.Atoi(v); err != nil || i < 0 || i > 100 {
			printUsageAndExit("Invalid value in -split: ", v)
		} else {
			splitSum += i
			outSplits = append(outSplits, splitSum)
		}
	}
	if splitSum != 100 {
		printUsageAndExit("The values in -split must add up to 100%")
	}
	for i, v := range outPaths {
		outPaths[i] = filepath.Clean(v)
	}

	// Validate the optional outputs.
	if len(outPaths) > 1 && (tfRecordPath != "" || lsProjectID > 0) {
		printUsageAndExit("-tfrecord-out and -ls-project are not supported with -split")
	}
	if tfRecordPath != "" && tfLabelMapPath == "" {
		tfLabelMapPath = filepath.Join(filepath.Dir(tfRecordPath), "label_map.pbtxt")
	}
	if lsProjectID > 0 && (lsURL == "" || lsAPIKey == "") {
		printUsageAndExit("-ls-project requires -ls-url and -ls-token")
	}

	// Image processing arguments.
	if imageOpts.LongerSide > 0 || imageOpts.ShorterSide > 0 {
		if imageOutDir == "" {
			printUsageAndExit("Missing image output directory path")
		}
		if filepath.Clean(imageOutDir) == filepath.Clean(datasetPaths.ImageDir) {
			printUsageAndExit("The image input and output paths cannot be identical")
		}
	}

	// Tasks reference the resized images when they are written.
	if imagePrefix == "" {
		if imageOutDir != "" && (imageOpts.LongerSide > 0 || imageOpts.ShorterSide > 0) {
			imagePrefix = yolo2ls.ImagePrefix(projectRoot, imageOutDir)
		} else {
			imagePrefix = datasetPaths.RelativeImageDir
		}
	}
	if imageOpts.JPEGQuality < 1 || imageOpts.JPEGQuality > 100 {
		imageOpts.JPEGQuality = 92
		_, _ = fmt.Fprintln(os.Stderr, "Invalid JPEG quality, setting it to", imageOpts.JPEGQuality)
	}

	// Validate filter arguments.
	if minBboxWidth < 0 || minBboxWidth > 1 || minBboxHeight < 0 || minBboxHeight > 1 {
		printUsageAndExit("Invalid minimum bounding box size, must be in [0.0, 1.0]")
	}
}

// newLogger builds the zap logger selected by the flags.
func newLogger() (*zap.Logger, error) {
	var cfg zap.Config
	switch logFormat {
	case "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
	default:
		return nil, fmt.Errorf("unknown log format %q", logFormat)
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func main() {
	l, err := newLogger()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to create the logger:", err)
		os.Exit(1)
	}
	defer func() { _ = l.Sync() }()
	yolo2ls.SetLogger(l)
	log := l.Sugar()

	// Load the class names.
	log.Infof("Loading config from %q", configPath)
	classes, err := yolo2ls.LoadClassTable(configPath)
	if err != nil {
		log.Fatal("Failed to load the class names: ", err)
	}
	log.Infof("Classes: %v", []string(classes))

	log.Infof("Dataset path: %s", datasetPaths.Dir)
	log.Infof("Images directory: %s", datasetPaths.ImageDir)
	log.Infof("Labels directory: %s", datasetPaths.LabelDir)
	log.Infof("Relative path for Label Studio: %s", imagePrefix)

	// Parse input.
	data, err := yolo2ls.FromYOLO(datasetPaths.ImageDir, datasetPaths.LabelDir, classes,
		yolo2ls.YOLOOptions{Workers: numWorkers})
	if err != nil {
		log.Fatal("Failed to parse the input: ", err)
	}
	af := yolo2ls.AnnotatedFiles(data)

	// Map labels.
	if len(labelMappings) > 0 {
		if err := af.MapLabels(strings.Split(labelMappings, ",")); err != nil {
			log.Fatal("Failed to map labels: ", err)
		}
	}

	// Apply filters.
	var labelNames []string
	if filterLabels != "" {
		labelNames = strings.Split(filterLabels, ",")
	}
	if len(labelNames) > 0 || requireLabel || minBboxWidth > 0 || minBboxHeight > 0 {
		af.Filter(labelNames, requireLabel, minBboxWidth, minBboxHeight)
	}

	// Process images.
	if err := af.ProcessImages(imageOutDir, imageOpts); err != nil {
		log.Fatal("Image processing failed: ", err)
	}

	if len(af) == 0 {
		log.Warn("No tasks were created. Please check your dataset.")
		return
	}

	// Split data into output datasets.
	var datasets []yolo2ls.AnnotatedFiles
	if len(outSplits) == 1 {
		datasets = []yolo2ls.AnnotatedFiles{af}
	} else {
		if datasets, err = af.Split(outSplits, splitSeed); err != nil {
			log.Fatal("Failed to split the dataset: ", err)
		}
	}

	// Write output datasets.
	var tasks []yolo2ls.LSTask
	for i, data := range datasets {
		outPath := outPaths[i]
		tasks = yolo2ls.ToLabelStudio(data, imagePrefix)
		if err := yolo2ls.WriteLabelStudio(outPath, tasks); err != nil {
			log.Fatal("Conversion failed: ", err)
		}

		stats := yolo2ls.Summarize(tasks)
		log.Infof("Successfully converted %d tasks, output saved to %s", len(tasks), outPath)
		log.Infof("Total tasks: %d, total annotations: %d, average annotations per image: %.2f",
			stats.Tasks, stats.Annotations, stats.Average())
	}

	if tfRecordPath != "" {
		labelMap := yolo2ls.NewTFLabelMap(classes, af)
		if err := yolo2ls.WriteTFRecord(tfRecordPath, tfLabelMapPath, af, labelMap,
			numShardFiles); err != nil {
			log.Fatal("TFRecord export failed: ", err)
		}
		log.Infof("Wrote TFRecord to %s and label map to %s", tfRecordPath, tfLabelMapPath)
	}

	if lsProjectID > 0 {
		importer := yolo2ls.NewImporter(lsURL, lsAPIKey)
		if _, err := importer.Import(context.Background(), lsProjectID, tasks); err != nil {
			log.Fatal("Import into Label Studio failed: ", err)
		}
	} else {
		log.Infof("You can now import %s into Label Studio", strings.Join(outPaths, ", "))
	}
}
