package inference

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// LoadLabels reads class names from a YOLO dataset file. Both the list form
// (names: [mass, calcification]) and the indexed map form (names: {0: mass})
// are accepted.
func LoadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	return ParseLabels(data)
}

// ParseLabels decodes class names from YOLO dataset YAML.
func ParseLabels(data []byte) ([]string, error) {
	var doc struct {
		Names yaml.Node `yaml:"names"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse labels: %w", err)
	}

	switch doc.Names.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := doc.Names.Decode(&names); err != nil {
			return nil, fmt.Errorf("decode label list: %w", err)
		}
		return names, nil
	case yaml.MappingNode:
		var indexed map[int]string
		if err := doc.Names.Decode(&indexed); err != nil {
			return nil, fmt.Errorf("decode label map: %w", err)
		}
		ids := make([]int, 0, len(indexed))
		for id := range indexed {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		if len(ids) > 0 && (ids[0] != 0 || ids[len(ids)-1] != len(ids)-1) {
			return nil, fmt.Errorf("label ids must be contiguous from 0")
		}
		names := make([]string, len(ids))
		for _, id := range ids {
			names[id] = indexed[id]
		}
		return names, nil
	default:
		return nil, fmt.Errorf("labels file has no names entry")
	}
}
