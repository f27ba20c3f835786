// Package workflow loads guided multi-step workflows and tracks their
// progress against the pipeline state.
package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkflowNotFound is returned when no workflow.yaml exists for an id.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrStepNotFound is returned when a step id is not part of a workflow.
	ErrStepNotFound = errors.New("step not found")
)

// DependencyError is returned when a step is completed before its dependencies.
type DependencyError struct {
	Step       string
	Dependency string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("Dependency not met: '%s' must be completed before '%s'", e.Dependency, e.Step)
}

// Step is one unit of a workflow.
type Step struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	File        string   `yaml:"file,omitempty"`
	Agent       string   `yaml:"agent,omitempty"`
	Required    *bool    `yaml:"required,omitempty"`
	DependsOn   []string `yaml:"depends_on,omitempty"`
	Outputs     []string `yaml:"outputs,omitempty"`

	// FilePath is the resolved step content path, set by the loader.
	FilePath string `yaml:"-"`
}

// IsRequired reports whether the step must be completed. Steps are required
// unless they say otherwise.
func (s *Step) IsRequired() bool {
	return s.Required == nil || *s.Required
}

// Workflow is a static list of steps with declared dependencies.
type Workflow struct {
	ID          string `yaml:"-"`
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Agent       string `yaml:"agent,omitempty"`
	Version     string `yaml:"version,omitempty"`
	Steps       []Step `yaml:"steps"`
}

// Step returns the step with the given id, or nil if not found.
func (w *Workflow) Step(id string) *Step {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i]
		}
	}
	return nil
}

// NextStep returns the first step in declared order that is not completed
// and whose dependencies are all completed. It returns nil when every step
// is done or when nothing can make progress.
func (w *Workflow) NextStep(completed []string) *Step {
	done := toSet(completed)
	for i := range w.Steps {
		s := &w.Steps[i]
		if done[s.ID] {
			continue
		}
		ready := true
		for _, dep := range s.DependsOn {
			if !done[dep] {
				ready = false
				break
			}
		}
		if ready {
			return s
		}
	}
	return nil
}

// Progress summarizes how many steps of a workflow are completed.
type Progress struct {
	Total      int     `json:"total_steps"`
	Completed  int     `json:"completed_steps"`
	Remaining  int     `json:"remaining_steps"`
	Percent    float64 `json:"progress_percent"`
	IsComplete bool    `json:"is_complete"`
}

// Progress counts the completed steps. Completed ids that are not part of
// the workflow are ignored.
func (w *Workflow) Progress(completed []string) Progress {
	done := toSet(completed)
	p := Progress{Total: len(w.Steps)}
	for _, s := range w.Steps {
		if done[s.ID] {
			p.Completed++
		}
	}
	p.Remaining = p.Total - p.Completed
	if p.Total > 0 {
		p.Percent = float64(p.Completed) / float64(p.Total) * 100
	}
	p.IsComplete = p.Completed == p.Total
	return p
}

// Remaining returns the ids of steps not yet completed, in declared order.
func (w *Workflow) Remaining(completed []string) []string {
	done := toSet(completed)
	out := []string{}
	for _, s := range w.Steps {
		if !done[s.ID] {
			out = append(out, s.ID)
		}
	}
	return out
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
