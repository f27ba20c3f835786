package workflow

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/croak/internal/pipeline"
)

// Executor loads workflow definitions from a directory laid out as
// <dir>/<id>/workflow.yaml with step content under <dir>/<id>/steps/.
// Progress lives in the pipeline state passed to each call.
type Executor struct {
	dir       string
	logger    *slog.Logger
	workflows map[string]*Workflow
}

// NewExecutor creates an executor for dir. A nil logger discards output.
func NewExecutor(dir string, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{dir: dir, logger: logger, workflows: make(map[string]*Workflow)}
}

// Dir returns the workflows directory.
func (e *Executor) Dir() string {
	return e.dir
}

// Load reads and caches the workflow with the given id.
func (e *Executor) Load(id string) (*Workflow, error) {
	if wf, ok := e.workflows[id]; ok {
		return wf, nil
	}

	wfDir := filepath.Join(e.dir, id)
	data, err := os.ReadFile(filepath.Join(wfDir, "workflow.yaml"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
		}
		return nil, fmt.Errorf("reading workflow %s: %w", id, err)
	}

	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parsing workflow %s: %w", id, err)
	}
	wf.ID = id
	if wf.Name == "" {
		wf.Name = id
	}
	if wf.Version == "" {
		wf.Version = "1.0"
	}
	for i := range wf.Steps {
		s := &wf.Steps[i]
		if s.Name == "" {
			s.Name = s.ID
		}
		if s.Agent == "" {
			s.Agent = wf.Agent
		}
		file := s.File
		if file == "" {
			file = s.ID + ".md"
		}
		s.FilePath = filepath.Join(wfDir, "steps", file)
	}

	e.workflows[id] = &wf
	return &wf, nil
}

// Summary describes an available workflow.
type Summary struct {
	ID          string
	Name        string
	Description string
	Agent       string
	Steps       int
}

// List returns every loadable workflow in the directory, sorted by id.
// Workflows that fail to parse are logged and skipped.
func (e *Executor) List() ([]Summary, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", e.dir, err)
	}

	var out []Summary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(e.dir, entry.Name(), "workflow.yaml")); err != nil {
			continue
		}
		wf, err := e.Load(entry.Name())
		if err != nil {
			e.logger.Warn("skipping workflow", "id", entry.Name(), "err", err)
			continue
		}
		out = append(out, Summary{
			ID:          wf.ID,
			Name:        wf.Name,
			Description: wf.Description,
			Agent:       wf.Agent,
			Steps:       len(wf.Steps),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Status is the progress of a workflow against a pipeline state.
type Status struct {
	WorkflowID   string
	WorkflowName string
	Agent        string
	Progress
	Current      *Step
	CompletedIDs []string
	RemainingIDs []string
}

// Status reports the progress of workflow id recorded in ps.
func (e *Executor) Status(ps *pipeline.PipelineState, id string) (*Status, error) {
	wf, err := e.Load(id)
	if err != nil {
		return nil, err
	}
	completed := ps.CompletedSteps(id)
	return &Status{
		WorkflowID:   id,
		WorkflowName: wf.Name,
		Agent:        wf.Agent,
		Progress:     wf.Progress(completed),
		Current:      wf.NextStep(completed),
		CompletedIDs: append([]string{}, completed...),
		RemainingIDs: wf.Remaining(completed),
	}, nil
}

// NextStep returns the next actionable step of workflow id, or nil.
func (e *Executor) NextStep(ps *pipeline.PipelineState, id string) (*Step, error) {
	wf, err := e.Load(id)
	if err != nil {
		return nil, err
	}
	return wf.NextStep(ps.CompletedSteps(id)), nil
}

// CompleteStep records stepID of workflow id as completed in ps. Every
// dependency of the step must already be completed.
func (e *Executor) CompleteStep(ps *pipeline.PipelineState, id, stepID string, artifacts map[string]any) (*Status, error) {
	wf, err := e.Load(id)
	if err != nil {
		return nil, err
	}
	step := wf.Step(stepID)
	if step == nil {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
	}

	done := toSet(ps.CompletedSteps(id))
	for _, dep := range step.DependsOn {
		if !done[dep] {
			return nil, &DependencyError{Step: stepID, Dependency: dep}
		}
	}

	ps.CompleteWorkflowStep(id, stepID, artifacts)
	e.logger.Debug("workflow step completed", "workflow", id, "step", stepID)
	return e.Status(ps, id)
}

// Reset clears the recorded progress of workflow id.
func (e *Executor) Reset(ps *pipeline.PipelineState, id string) (*Status, error) {
	ps.ResetWorkflow(id)
	return e.Status(ps, id)
}

// StepContent returns the markdown for a step, or a generated placeholder
// when the step has no content file.
func (e *Executor) StepContent(step *Step) string {
	data, err := os.ReadFile(step.FilePath)
	if err != nil {
		return fmt.Sprintf("# %s\n\n%s\n\n*Step file not found: %s*\n", step.Name, step.Description, step.FilePath)
	}
	return string(data)
}
