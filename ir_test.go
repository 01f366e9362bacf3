package yolo2ls

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFiles() AnnotatedFiles {
	box := func(w, h float64) NormalizedBox {
		return NormalizedBox{XCenter: 0.5, YCenter: 0.5, Width: w, Height: h}
	}
	return AnnotatedFiles{
		{
			FilePath: "a.jpg",
			Annotations: []Annotation{
				{Box: box(0.5, 0.5), Index: 0, Label: "car"},
				{Box: box(0.01, 0.5), Index: 1, Label: "person"},
				{Box: box(0.3, 0.3), Index: 2, Label: "bicycle"},
			},
		},
		{FilePath: "b.jpg"},
		{
			FilePath:    "c.jpg",
			Annotations: []Annotation{{Box: box(0.2, 0.2), Label: "person"}},
		},
	}
}

func TestMapLabels(t *testing.T) {
	data := testFiles()
	require.NoError(t, data.MapLabels([]string{"person=pedestrian", "car=vehicle"}))

	assert.Equal(t, "vehicle", data[0].Annotations[0].Label)
	assert.Equal(t, "pedestrian", data[0].Annotations[1].Label)
	assert.Equal(t, "bicycle", data[0].Annotations[2].Label)
	assert.Equal(t, "pedestrian", data[2].Annotations[0].Label)

	assert.Error(t, data.MapLabels([]string{"person"}))
	assert.Error(t, data.MapLabels([]string{"=x"}))
}

func TestFilter(t *testing.T) {
	data := testFiles()
	data.Filter([]string{"person", "bicycle"}, false, 0.05, 0)

	require.Len(t, data, 3)
	require.Len(t, data[0].Annotations, 1)
	assert.Equal(t, "bicycle", data[0].Annotations[0].Label)
	assert.Equal(t, 2, data[0].Annotations[0].Index)
	assert.Empty(t, data[1].Annotations)
	assert.Len(t, data[2].Annotations, 1)
}

func TestFilterRequireLabel(t *testing.T) {
	data := testFiles()
	data.Filter([]string{"car"}, true, 0, 0)

	require.Len(t, data, 1)
	assert.Equal(t, "a.jpg", data[0].FilePath)

	// Files keep their relative order.
	data = testFiles()
	data.Filter(nil, true, 0, 0)
	require.Len(t, data, 2)
	assert.Equal(t, "a.jpg", data[0].FilePath)
	assert.Equal(t, "c.jpg", data[1].FilePath)
}

func TestSplit(t *testing.T) {
	data := make(AnnotatedFiles, 200)
	for i := range data {
		data[i].FilePath = filepath.Join("images", string(rune('a'+i%26))+".jpg")
		data[i].Width = i
	}

	datasets, err := data.Split([]int{80, 100}, 42)
	require.NoError(t, err)
	require.Len(t, datasets, 2)
	assert.Equal(t, len(data), len(datasets[0])+len(datasets[1]))
	assert.NotEmpty(t, datasets[0])
	assert.NotEmpty(t, datasets[1])

	// Order is preserved within each split.
	for _, ds := range datasets {
		for i := 1; i < len(ds); i++ {
			assert.Less(t, ds[i-1].Width, ds[i].Width)
		}
	}

	again, err := data.Split([]int{80, 100}, 42)
	require.NoError(t, err)
	assert.Equal(t, datasets, again)
}

func TestSplitInvalid(t *testing.T) {
	data := testFiles()
	_, err := data.Split([]int{50, 90}, 1)
	assert.Error(t, err)
	_, err = data.Split([]int{60, 40}, 1)
	assert.Error(t, err)
}

func TestResampleFilter(t *testing.T) {
	for _, name := range []string{"nearest", "box", "linear", "gaussian", "lanczos"} {
		_, err := ResampleFilter(name)
		assert.NoError(t, err, name)
	}
	_, err := ResampleFilter("bicubic")
	assert.Error(t, err)
}

func TestProcessImages(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "in", "wide.png")
	writeImage(t, imagePath, 400, 200)
	outDir := filepath.Join(dir, "out")

	data := AnnotatedFiles{{
		FilePath:    imagePath,
		Width:       400,
		Height:      200,
		Annotations: []Annotation{{Box: NormalizedBox{XCenter: 0.5, YCenter: 0.5, Width: 0.5, Height: 0.5}, Label: "cat"}},
	}}
	opts := ImageOptions{LongerSide: 100, Downsample: "box", Upsample: "linear", Encoding: "jpg", JPEGQuality: 90}
	require.NoError(t, data.ProcessImages(outDir, opts))

	assert.Equal(t, filepath.Join(outDir, "wide.jpg"), data[0].FilePath)
	assert.Equal(t, 100, data[0].Width)
	assert.Equal(t, 50, data[0].Height)
	assert.Equal(t, 0.5, data[0].Annotations[0].Box.Width)

	config, err := ImageDimensions(data[0].FilePath)
	require.NoError(t, err)
	assert.Equal(t, 100, config.Width)
	assert.Equal(t, 50, config.Height)

	// The task reports the size of the written image.
	task := ToLabelStudioTask(data[0], 1, "resized")
	assert.Equal(t, "/data/local-files/?d=resized/wide.jpg", task.Data.Image)
	assert.Equal(t, 100, task.Annotations[0].Result[0].OriginalWidth)
}

func TestProcessImagesOptions(t *testing.T) {
	data := AnnotatedFiles{{FilePath: "missing.png"}}

	// Nothing to do without a target size.
	require.NoError(t, data.ProcessImages(t.TempDir(), ImageOptions{}))
	assert.Equal(t, "missing.png", data[0].FilePath)

	opts := ImageOptions{LongerSide: 10, Downsample: "box", Upsample: "linear", Encoding: "gif"}
	assert.Error(t, data.ProcessImages(t.TempDir(), opts))

	opts.Encoding = "png"
	var decodeErr *DecodeError
	assert.ErrorAs(t, data.ProcessImages(t.TempDir(), opts), &decodeErr)
}

func TestProcessImagesOutputCollision(t *testing.T) {
	dir := t.TempDir()
	data := AnnotatedFiles{
		{FilePath: filepath.Join(dir, "in", "x.png"), Width: 40, Height: 20},
		{FilePath: filepath.Join(dir, "in", "x.jpg"), Width: 40, Height: 20},
	}
	for _, d := range data {
		writeImage(t, d.FilePath, d.Width, d.Height)
	}
	outDir := filepath.Join(dir, "out")

	opts := ImageOptions{LongerSide: 20, Downsample: "box", Upsample: "linear", Encoding: "jpg", JPEGQuality: 90}
	err := data.ProcessImages(outDir, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), filepath.Join(outDir, "x.jpg"))

	// Nothing is written and the files still refer to the inputs.
	_, statErr := os.Stat(outDir)
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, filepath.Join(dir, "in", "x.png"), data[0].FilePath)

	// Distinct names in the output encoding are fine.
	opts.Encoding = "png"
	data[1].FilePath = filepath.Join(dir, "in", "y.jpg")
	writeImage(t, data[1].FilePath, 40, 20)
	require.NoError(t, data.ProcessImages(outDir, opts))
	assert.Equal(t, filepath.Join(outDir, "x.png"), data[0].FilePath)
	assert.Equal(t, filepath.Join(outDir, "y.png"), data[1].FilePath)
}
