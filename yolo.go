package yolo2ls

// YOLO specific functionality.

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// NormalizedBox is a single object annotation in a YOLO label file. All coordinates are fractions
// of the image width or height.
type NormalizedBox struct {
	ClassID int     // Index into the ClassTable.
	XCenter float64 // Horizontal center of the box, in [0, 1].
	YCenter float64 // Vertical center of the box, in [0, 1].
	Width   float64
	Height  float64
}

// PercentBox is a bounding box anchored at its top-left corner, in percent of the image size.
type PercentBox struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// ToPercent converts b to the corner-based percent representation.
func (b NormalizedBox) ToPercent() PercentBox {
	return PercentBox{
		X:      (b.XCenter - b.Width/2) * 100,
		Y:      (b.YCenter - b.Height/2) * 100,
		Width:  b.Width * 100,
		Height: b.Height * 100,
	}
}

// errShortLine marks a line with too few fields to be an annotation.
var errShortLine = errors.New("insufficient fields")

// ReadYOLOLabels reads the YOLO label file at path.
//
// A missing file is not an error; it yields no boxes. Blank lines and lines with fewer than five
// fields are skipped, as are lines with values that do not parse as numbers. The latter are logged
// as warnings.
func ReadYOLOLabels(path string) ([]NormalizedBox, error) {
	lines, err := readLines(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("cannot read labels %q: %w", path, err)
	}

	boxes := make([]NormalizedBox, 0, len(lines))
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		b, err := parseYOLOLine(line)
		if errors.Is(err, errShortLine) {
			logger().Debugf("Skipping line %d in %q: %v", i+1, path, err)
			continue
		} else if err != nil {
			logger().Warnf("Error while parsing, skipping line %d in %q: %v", i+1, path, err)
			continue
		}
		boxes = append(boxes, b)
	}

	return boxes, nil
}

// parseYOLOLine parses the whitespace separated values for a single annotation. Fields beyond the
// fifth are ignored.
func parseYOLOLine(line string) (NormalizedBox, error) {
	b := NormalizedBox{}

	tokens := strings.Fields(line)
	if len(tokens) < 5 {
		return b, fmt.Errorf("%w in %q", errShortLine, line)
	}

	var err error
	if b.ClassID, err = strconv.Atoi(tokens[0]); err != nil {
		return b, fmt.Errorf("unexpected class id in %q: %w", line, err)
	}
	if b.ClassID < 0 {
		return b, fmt.Errorf("negative class id in %q", line)
	}

	coords := [4]*float64{&b.XCenter, &b.YCenter, &b.Width, &b.Height}
	for i := 0; i < 4 && err == nil; i++ {
		*coords[i], err = strconv.ParseFloat(tokens[i+1], 64)
		if err == nil && (math.IsNaN(*coords[i]) || math.IsInf(*coords[i], 0)) {
			err = fmt.Errorf("non-finite value %q", tokens[i+1])
		}
	}
	if err != nil {
		return b, fmt.Errorf("unexpected values in %q: %w", line, err)
	}

	return b, nil
}
