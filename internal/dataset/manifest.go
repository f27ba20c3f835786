package dataset

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/croak/internal/pipeline"
)

// Manifest is the data.yaml consumed by the training engine.
type Manifest struct {
	Path  string         `yaml:"path"`
	Train string         `yaml:"train"`
	Val   string         `yaml:"val"`
	Test  string         `yaml:"test"`
	Names NameTable `yaml:"names"`
	NC    int       `yaml:"nc"`
}

// NameTable maps class ids to names. It is written as a mapping and reads
// either a mapping or the plain list form Ultralytics also accepts.
type NameTable map[int]string

func (t *NameTable) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		out := make(NameTable, len(list))
		for i, name := range list {
			out[i] = name
		}
		*t = out
		return nil
	case yaml.MappingNode:
		var m map[int]string
		if err := node.Decode(&m); err != nil {
			return err
		}
		*t = m
		return nil
	}
	return fmt.Errorf("line %d: names must be a list or a mapping", node.Line)
}

// NewManifest builds a manifest rooted at path with the standard split subpaths.
func NewManifest(path string, classes []string) Manifest {
	names := make(NameTable, len(classes))
	for i, c := range classes {
		names[i] = c
	}
	return Manifest{
		Path:  path,
		Train: "images/" + SplitTrain,
		Val:   "images/" + SplitVal,
		Test:  "images/" + SplitTest,
		Names: names,
		NC:    len(classes),
	}
}

// ClassNames returns the class names ordered by index.
func (m Manifest) ClassNames() []string {
	ids := make([]int, 0, len(m.Names))
	for id := range m.Names {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = m.Names[id]
	}
	return out
}

// ReadManifest loads a data.yaml file.
func ReadManifest(path string) (*Manifest, error) {
	var m Manifest
	if err := pipeline.ReadYAML(path, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// WriteManifest writes m to path with a comment header describing the split.
func WriteManifest(path string, m Manifest, res *SplitResult) error {
	header := "# croak dataset configuration\n"
	if res != nil {
		header += fmt.Sprintf("# Seed: %d, dataset hash: %s\n# Train: %d, Val: %d, Test: %d\n",
			res.Seed, res.Hash, res.Train, res.Val, res.Test)
	}
	return pipeline.WriteYAML(path, m, header+"\n")
}
