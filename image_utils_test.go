package yolo2ls

import (
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

func TestImageDimensions(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.jpg", "c.jpeg", "d.bmp", "e.tif", "f.tiff"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			writeImage(t, path, 64, 48)

			config, err := ImageDimensions(path)
			require.NoError(t, err)
			require.Equal(t, 64, config.Width)
			require.Equal(t, 48, config.Height)
		})
	}
}

func TestImageDimensionsDecodeError(t *testing.T) {
	dir := t.TempDir()

	corrupt := filepath.Join(dir, "corrupt.jpg")
	writeFile(t, corrupt, "definitely not a jpeg")
	_, err := ImageDimensions(corrupt)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	require.Equal(t, corrupt, decodeErr.Path)
	require.Contains(t, err.Error(), corrupt)

	missing := filepath.Join(dir, "missing.png")
	_, err = ImageDimensions(missing)
	require.ErrorAs(t, err, &decodeErr)
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestResizeImage(t *testing.T) {
	landscape := imaging.New(200, 100, color.White)
	portrait := imaging.New(100, 200, color.White)

	got := resizeImage(landscape, 100, 0, imaging.Box, imaging.Linear)
	require.Equal(t, 100, got.Bounds().Dx())
	require.Equal(t, 50, got.Bounds().Dy())

	got = resizeImage(portrait, 0, 50, imaging.Box, imaging.Linear)
	require.Equal(t, 50, got.Bounds().Dx())
	require.Equal(t, 100, got.Bounds().Dy())

	got = resizeImage(landscape, 400, 300, imaging.Box, imaging.Linear)
	require.Equal(t, 400, got.Bounds().Dx())
	require.Equal(t, 300, got.Bounds().Dy())
}
