package pipeline

import (
	"fmt"
	"slices"
	"time"
)

// New returns an empty state document initialized at now.
func New(now time.Time) *PipelineState {
	ps := &PipelineState{
		Version:       StateVersion,
		InitializedAt: now.UTC().Format(time.RFC3339),
		CurrentStage:  StageUninitialized,
	}
	ps.normalize()
	return ps
}

// normalize replaces nil collections so a freshly loaded document
// behaves the same as a new one.
func (ps *PipelineState) normalize() {
	if ps.Version == "" {
		ps.Version = StateVersion
	}
	if ps.CurrentStage == "" {
		ps.CurrentStage = StageUninitialized
	}
	if ps.StagesCompleted == nil {
		ps.StagesCompleted = []string{}
	}
	if ps.StageHistory == nil {
		ps.StageHistory = []StageHistoryEntry{}
	}
	if ps.Experiments == nil {
		ps.Experiments = []Experiment{}
	}
	if ps.Warnings == nil {
		ps.Warnings = []string{}
	}
	if ps.Errors == nil {
		ps.Errors = []string{}
	}
	if ps.WorkflowProgress == nil {
		ps.WorkflowProgress = map[string][]string{}
	}
	if ps.WorkflowArtifacts == nil {
		ps.WorkflowArtifacts = map[string]map[string]map[string]any{}
	}
}

// ValidStage reports whether name is a known stage.
func ValidStage(name string) bool {
	return name == StageUninitialized || name == StageComplete || slices.Contains(stageOrder, name)
}

// NextStage returns the stage that follows name. The last working stage is
// followed by StageComplete, and StageUninitialized by the first working stage.
func NextStage(name string) string {
	if name == StageUninitialized {
		return stageOrder[0]
	}
	i := slices.Index(stageOrder, name)
	if i < 0 || i == len(stageOrder)-1 {
		return StageComplete
	}
	return stageOrder[i+1]
}

// CompleteStage marks a stage as completed. Completing the same stage twice is a no-op.
func (ps *PipelineState) CompleteStage(stage string) {
	if !slices.Contains(ps.StagesCompleted, stage) {
		ps.StagesCompleted = append(ps.StagesCompleted, stage)
	}
}

// IsStageComplete reports whether stage has been completed.
func (ps *PipelineState) IsStageComplete(stage string) bool {
	return slices.Contains(ps.StagesCompleted, stage)
}

// FinishStage records a history entry for stage, marks it completed and
// advances CurrentStage past it.
func (ps *PipelineState) FinishStage(stage string, started, now time.Time, artifacts map[string]string) {
	ps.StageHistory = append(ps.StageHistory, StageHistoryEntry{
		Stage:           stage,
		CompletedAt:     now.UTC().Format(time.RFC3339),
		DurationSeconds: now.Sub(started).Seconds(),
		Artifacts:       artifacts,
	})
	ps.CompleteStage(stage)
	ps.CurrentStage = NextStage(stage)
}

// AddWarning appends a warning unless it is already recorded.
func (ps *PipelineState) AddWarning(msg string) {
	if !slices.Contains(ps.Warnings, msg) {
		ps.Warnings = append(ps.Warnings, msg)
	}
}

// AddError appends an error unless it is already recorded.
func (ps *PipelineState) AddError(msg string) {
	if !slices.Contains(ps.Errors, msg) {
		ps.Errors = append(ps.Errors, msg)
	}
}

// AddExperiment records a new experiment. Experiment IDs are unique.
func (ps *PipelineState) AddExperiment(e Experiment) error {
	if e.ID == "" {
		return fmt.Errorf("experiment id is required")
	}
	if _, ok := ps.Experiment(e.ID); ok {
		return fmt.Errorf("experiment %q already exists", e.ID)
	}
	if e.Status == "" {
		e.Status = ExperimentPending
	}
	ps.Experiments = append(ps.Experiments, e)
	return nil
}

// Experiment returns the experiment with the given id.
func (ps *PipelineState) Experiment(id string) (*Experiment, bool) {
	for i := range ps.Experiments {
		if ps.Experiments[i].ID == id {
			return &ps.Experiments[i], true
		}
	}
	return nil, false
}

// UpdateExperiment applies fn to the experiment with the given id.
func (ps *PipelineState) UpdateExperiment(id string, fn func(*Experiment)) error {
	e, ok := ps.Experiment(id)
	if !ok {
		return fmt.Errorf("experiment %q not found", id)
	}
	fn(e)
	return nil
}

// ProviderAnnotationIssues reports mismatches between the training provider and
// the annotation source. The platform only trains on its own annotations and
// never exports them, so the other providers cannot use platform annotations.
func (ps *PipelineState) ProviderAnnotationIssues() []string {
	var issues []string
	provider := ps.Training.Provider
	source := ps.Annotation.Source

	if provider == ProviderPlatform && source != "" && source != SourcePlatform {
		issues = append(issues, fmt.Sprintf(
			"Training provider is '%s' but annotations are from '%s'. %s training requires %s annotations.",
			provider, source, ProviderPlatform, SourcePlatform))
	}
	if (provider == ProviderLocal || provider == ProviderModal) && source == SourcePlatform {
		issues = append(issues, fmt.Sprintf(
			"Training provider is '%s' but annotations are from '%s'. %s does not export annotations. "+
				"Use classic annotations for local/Modal training, or train with --provider %s.",
			provider, SourcePlatform, SourcePlatform, ProviderPlatform))
	}
	return issues
}

// CompleteWorkflowStep records stepID as completed for workflowID along with
// any artifacts it produced. Repeated completion keeps a single entry but
// replaces the artifacts.
func (ps *PipelineState) CompleteWorkflowStep(workflowID, stepID string, artifacts map[string]any) {
	ps.normalize()
	if !slices.Contains(ps.WorkflowProgress[workflowID], stepID) {
		ps.WorkflowProgress[workflowID] = append(ps.WorkflowProgress[workflowID], stepID)
	}
	if len(artifacts) > 0 {
		if ps.WorkflowArtifacts[workflowID] == nil {
			ps.WorkflowArtifacts[workflowID] = map[string]map[string]any{}
		}
		ps.WorkflowArtifacts[workflowID][stepID] = artifacts
	}
}

// ResetWorkflow clears all progress and artifacts for workflowID.
func (ps *PipelineState) ResetWorkflow(workflowID string) {
	ps.normalize()
	ps.WorkflowProgress[workflowID] = []string{}
	delete(ps.WorkflowArtifacts, workflowID)
}

// CompletedSteps returns a copy of the completed step ids for workflowID.
func (ps *PipelineState) CompletedSteps(workflowID string) []string {
	return slices.Clone(ps.WorkflowProgress[workflowID])
}

// StepArtifacts returns the artifacts recorded for a workflow step, or nil.
func (ps *PipelineState) StepArtifacts(workflowID, stepID string) map[string]any {
	return ps.WorkflowArtifacts[workflowID][stepID]
}
