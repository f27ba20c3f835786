// Package project locates a croak project on disk and lays out its directories.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucasnoah/croak/internal/config"
	"github.com/lucasnoah/croak/internal/pipeline"
)

// DirName is the per-project metadata directory.
const DirName = ".croak"

// ErrNotInitialized is returned when no project root can be found.
var ErrNotInitialized = errors.New("not a croak project (run 'croak init' first)")

// ErrAlreadyInitialized is returned by Init when the metadata directory exists.
var ErrAlreadyInitialized = errors.New("croak already initialized in this directory")

// Paths resolves the fixed layout of a project rooted at Root.
type Paths struct {
	Root string
}

func (p Paths) MetaDir() string        { return filepath.Join(p.Root, DirName) }
func (p Paths) StatePath() string      { return filepath.Join(p.MetaDir(), "pipeline-state.yaml") }
func (p Paths) ConfigPath() string     { return filepath.Join(p.MetaDir(), "config.yaml") }
func (p Paths) ContractsDir() string   { return filepath.Join(p.MetaDir(), "contracts") }
func (p Paths) HandoffsDir() string    { return filepath.Join(p.MetaDir(), "handoffs") }
func (p Paths) WorkflowsDir() string   { return filepath.Join(p.MetaDir(), "workflows") }
func (p Paths) LogsDir() string        { return filepath.Join(p.MetaDir(), "logs") }
func (p Paths) DataDir() string        { return filepath.Join(p.Root, "data") }
func (p Paths) ProcessedDir() string   { return filepath.Join(p.DataDir(), "processed") }
func (p Paths) ExperimentsDir() string { return filepath.Join(p.Root, "training", "experiments") }
func (p Paths) ScriptsDir() string     { return filepath.Join(p.Root, "training", "scripts") }
func (p Paths) ReportsDir() string     { return filepath.Join(p.Root, "evaluation", "reports") }
func (p Paths) DeploymentDir() string  { return filepath.Join(p.Root, "deployment") }

// layout is created by Init, relative to the project root.
var layout = []string{
	DirName,
	filepath.Join(DirName, "logs"),
	filepath.Join(DirName, "handoffs"),
	filepath.Join("data", "raw"),
	filepath.Join("data", "annotations"),
	filepath.Join("data", "processed"),
	filepath.Join("training", "configs"),
	filepath.Join("training", "scripts"),
	filepath.Join("training", "experiments"),
	filepath.Join("evaluation", "reports"),
	filepath.Join("evaluation", "visualizations"),
	filepath.Join("deployment", "cloud"),
	filepath.Join("deployment", "edge"),
}

// Find walks upward from start looking for a directory containing DirName.
func Find(start string) (Paths, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return Paths{}, fmt.Errorf("resolve %s: %w", start, err)
	}
	for {
		info, err := os.Stat(filepath.Join(dir, DirName))
		if err == nil && info.IsDir() {
			return Paths{Root: dir}, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Paths{}, ErrNotInitialized
		}
		dir = parent
	}
}

// Init creates the project layout under root along with a default config and
// an empty state document.
func Init(root, name string, now time.Time) (Paths, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Paths{}, fmt.Errorf("resolve %s: %w", root, err)
	}
	p := Paths{Root: abs}
	if _, err := os.Stat(p.MetaDir()); err == nil {
		return p, ErrAlreadyInitialized
	}

	for _, d := range layout {
		if err := os.MkdirAll(filepath.Join(abs, d), 0o755); err != nil {
			return p, fmt.Errorf("mkdir %s: %w", d, err)
		}
	}
	if err := config.Save(p.ConfigPath(), config.Default(name, now)); err != nil {
		return p, err
	}
	if err := pipeline.WriteYAML(p.StatePath(), pipeline.New(now), ""); err != nil {
		return p, fmt.Errorf("write state: %w", err)
	}
	return p, nil
}

// Rel returns path relative to the project root when it lies inside it.
func (p Paths) Rel(path string) string {
	rel, err := filepath.Rel(p.Root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}
