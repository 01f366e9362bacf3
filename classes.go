package yolo2ls

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrNoClassNames is returned when a dataset config does not define any class names.
var ErrNoClassNames = errors.New("no class names found in config")

// ClassTable maps YOLO class ids (the index) to class names.
type ClassTable []string

// Name returns the name for class id, or false if id is out of range.
func (t ClassTable) Name(id int) (string, bool) {
	if id < 0 || id >= len(t) {
		return "", false
	}
	return t[id], true
}

// datasetConfig is the subset of a YOLO data.yaml that is used here.
type datasetConfig struct {
	Names yaml.Node `yaml:"names"`
}

// LoadClassTable reads the class names from the "names" key of the YOLO dataset config at path.
//
// Both the list form (names: [cat, dog]) and the indexed map form (names: {0: cat, 1: dog}) are
// supported. Map keys must cover 0..n-1 without gaps.
func LoadClassTable(path string) (ClassTable, error) {
	enc, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg datasetConfig
	if err := yaml.Unmarshal(enc, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse dataset config %q: %w", path, err)
	}

	var names ClassTable
	switch cfg.Names.Kind {
	case yaml.SequenceNode:
		if err := cfg.Names.Decode(&names); err != nil {
			return nil, fmt.Errorf("invalid names in %q: %w", path, err)
		}
	case yaml.MappingNode:
		var indexed map[int]string
		if err := cfg.Names.Decode(&indexed); err != nil {
			return nil, fmt.Errorf("invalid names in %q: %w", path, err)
		}
		names = make(ClassTable, len(indexed))
		for i := range names {
			name, ok := indexed[i]
			if !ok {
				return nil, fmt.Errorf("missing class id %d in names of %q", i, path)
			}
			names[i] = name
		}
	case 0:
		// The key is absent.
	case yaml.ScalarNode:
		if cfg.Names.Tag != "!!null" {
			return nil, fmt.Errorf("names in %q must be a list or a map", path)
		}
	default:
		return nil, fmt.Errorf("names in %q must be a list or a map", path)
	}

	if len(names) == 0 {
		return nil, fmt.Errorf("%w %q", ErrNoClassNames, path)
	}

	return names, nil
}
