package yolo2ls

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrDirectoryNotFound is returned when a required input directory does not exist.
var ErrDirectoryNotFound = errors.New("directory not found")

// imageExtensions are the lower-case file extensions that are recognised as images.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".tiff": true,
	".tif":  true,
}

// isImageFile reports whether name has one of the imageExtensions, ignoring case.
func isImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// imageFilesInDir returns the paths of all regular files (or symlinks) directly in dirPath that
// have an image file extension. The paths are sorted by file name.
func imageFilesInDir(dirPath string) (files []string, err error) {
	// Open the directory.
	dirInfo, err := os.Stat(dirPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrDirectoryNotFound, dirPath)
	} else if err != nil {
		return nil, fmt.Errorf("cannot read directory %q: %w", dirPath, err)
	} else if !dirInfo.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a directory", ErrDirectoryNotFound, dirPath)
	}
	dir, err := os.Open(dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to access %q: %w", dirPath, err)
	}
	defer closeWithErrCheck(dir, &err)

	// Iterate over all files in dir.
	names := make([]string, 0, 100)
	var entries []os.DirEntry
	for entries, err = dir.ReadDir(100); len(entries) > 0; entries, err = dir.ReadDir(100) {
		for _, entry := range entries {
			// Must be a regular file or a symlink and have an image extension.
			if (!entry.Type().IsRegular() && (entry.Type()&os.ModeSymlink == 0)) ||
				!isImageFile(entry.Name()) {
				continue
			}
			names = append(names, entry.Name())
		}
	}
	if err != nil && err != io.EOF {
		logger().Warnf("Failed to access some files in %q: %v", dirPath, err)
	}
	err = nil

	sort.Strings(names)
	files = make([]string, len(names))
	for i, name := range names {
		files[i] = filepath.Join(dirPath, name)
	}

	return files, nil
}

// dirExists reports whether path exists and is a directory.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// ensureDir creates dirPath and any missing parents.
func ensureDir(dirPath string) error {
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return fmt.Errorf("cannot create directory %q: %w", dirPath, err)
	}
	return nil
}

// splitPath splits the given file path into the dir name, the base name without extension and the
// extension (without the dot).
func splitPath(path string) (dir, baseNoExt, ext string, err error) {
	dir, file := filepath.Split(path)
	ext = filepath.Ext(file)
	if ext == "" {
		return "", "", "", fmt.Errorf("missing file extension in %q", path)
	}

	dir = strings.TrimSuffix(dir, string(os.PathSeparator))
	baseNoExt = file[0 : len(file)-len(ext)]
	ext = ext[1:]

	return dir, baseNoExt, ext, nil
}

// labelPathFor returns the YOLO label file path in labelDir for the image at imagePath.
func labelPathFor(labelDir, imagePath string) string {
	name := filepath.Base(imagePath)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return filepath.Join(labelDir, stem+".txt")
}

// readLines returns a slice of lines read from the file at path.
func readLines(path string) (lines []string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer closeWithErrCheck(file, &err)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %q as lines: %w", path, err)
	}

	return lines, nil
}

// closeWithErrCheck calls c.Close(). If it returns an error, and (*e == nil), e is set to that
// error.
func closeWithErrCheck(c io.Closer, e *error) {
	err := c.Close()
	if err != nil && *e == nil {
		*e = err
	}
}
