package workflow

import (
	"errors"
	"fmt"
	"os"
)

// ValidationResult is the outcome of statically checking a workflow.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// Validate checks workflow id for dependencies on unknown steps, duplicate
// step ids, missing step files and dependency cycles. A missing workflow is
// reported as an invalid result rather than an error.
func (e *Executor) Validate(id string) (*ValidationResult, error) {
	wf, err := e.Load(id)
	if err != nil {
		if errors.Is(err, ErrWorkflowNotFound) {
			return &ValidationResult{Errors: []string{err.Error()}, Warnings: []string{}}, nil
		}
		return nil, err
	}
	return ValidateWorkflow(wf), nil
}

// ValidateWorkflow runs the static checks on an already loaded workflow.
func ValidateWorkflow(wf *Workflow) *ValidationResult {
	res := &ValidationResult{Errors: []string{}, Warnings: []string{}}

	ids := make(map[string]bool, len(wf.Steps))
	for _, s := range wf.Steps {
		if ids[s.ID] {
			res.Errors = append(res.Errors, fmt.Sprintf("Duplicate step id '%s'", s.ID))
		}
		ids[s.ID] = true
	}

	for _, s := range wf.Steps {
		for _, dep := range s.DependsOn {
			if !ids[dep] {
				res.Errors = append(res.Errors, fmt.Sprintf("Step '%s' depends on non-existent step '%s'", s.ID, dep))
			}
		}
		if s.FilePath != "" {
			if _, err := os.Stat(s.FilePath); err != nil {
				res.Warnings = append(res.Warnings, fmt.Sprintf("Step '%s' file not found: %s", s.ID, s.FilePath))
			}
		}
	}

	if id, ok := findCycle(wf); ok {
		res.Errors = append(res.Errors, fmt.Sprintf("Circular dependency detected involving step '%s'", id))
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// findCycle runs a depth-first search from each step in declared order and
// returns the first starting step whose search reaches a back edge.
func findCycle(wf *Workflow) (string, bool) {
	var visit func(id string, visited, stack map[string]bool) bool
	visit = func(id string, visited, stack map[string]bool) bool {
		visited[id] = true
		stack[id] = true
		if s := wf.Step(id); s != nil {
			for _, dep := range s.DependsOn {
				if stack[dep] {
					return true
				}
				if !visited[dep] && visit(dep, visited, stack) {
					return true
				}
			}
		}
		delete(stack, id)
		return false
	}

	for _, s := range wf.Steps {
		if visit(s.ID, map[string]bool{}, map[string]bool{}) {
			return s.ID, true
		}
	}
	return "", false
}
