package workflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/croak/internal/pipeline"
)

func writeWorkflow(t *testing.T, dir, id, body string) {
	t.Helper()
	wfDir := filepath.Join(dir, id)
	require.NoError(t, os.MkdirAll(filepath.Join(wfDir, "steps"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(wfDir, "workflow.yaml"), []byte(body), 0o644))
}

const twoSteps = `name: Two Steps
agent: data
steps:
  - id: a
    name: Step A
  - id: b
    name: Step B
    depends_on: [a]
`

func newState() *pipeline.PipelineState {
	return pipeline.New(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "wf", `steps:
  - id: only
    file: custom.md
    required: false
`)
	e := NewExecutor(dir, nil)

	wf, err := e.Load("wf")
	require.NoError(t, err)
	assert.Equal(t, "wf", wf.ID)
	assert.Equal(t, "wf", wf.Name)
	assert.Equal(t, "1.0", wf.Version)
	require.Len(t, wf.Steps, 1)
	assert.Equal(t, "only", wf.Steps[0].Name)
	assert.False(t, wf.Steps[0].IsRequired())
	assert.Equal(t, filepath.Join(dir, "wf", "steps", "custom.md"), wf.Steps[0].FilePath)

	again, err := e.Load("wf")
	require.NoError(t, err)
	assert.Same(t, wf, again)
}

func TestLoadMissing(t *testing.T) {
	e := NewExecutor(t.TempDir(), nil)
	_, err := e.Load("nope")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestNextStepFollowsDependencies(t *testing.T) {
	wf := &Workflow{Steps: []Step{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c"},
	}}

	assert.Equal(t, "a", wf.NextStep(nil).ID)
	assert.Equal(t, "c", wf.NextStep([]string{"a", "b"}).ID)
	assert.Equal(t, "b", wf.NextStep([]string{"a"}).ID)
	assert.Equal(t, "b", wf.NextStep([]string{"a", "c"}).ID)
	assert.Nil(t, wf.NextStep([]string{"a", "b", "c"}))

	blocked := &Workflow{Steps: []Step{
		{ID: "x", DependsOn: []string{"y"}},
		{ID: "y", DependsOn: []string{"x"}},
	}}
	assert.Nil(t, blocked.NextStep(nil))
}

func TestProgress(t *testing.T) {
	wf := &Workflow{Steps: []Step{{ID: "a"}, {ID: "b"}}}

	p := wf.Progress(nil)
	assert.Equal(t, Progress{Total: 2, Remaining: 2}, p)

	p = wf.Progress([]string{"a", "unknown"})
	assert.Equal(t, 1, p.Completed)
	assert.Equal(t, 1, p.Remaining)
	assert.InDelta(t, 50.0, p.Percent, 1e-9)
	assert.False(t, p.IsComplete)

	p = wf.Progress([]string{"a", "b"})
	assert.True(t, p.IsComplete)
	assert.InDelta(t, 100.0, p.Percent, 1e-9)

	empty := &Workflow{}
	assert.True(t, empty.Progress(nil).IsComplete)
}

func TestCompleteStepDependencyGate(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "wf", twoSteps)
	e := NewExecutor(dir, nil)
	ps := newState()

	_, err := e.CompleteStep(ps, "wf", "b", nil)
	var depErr *DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, "Dependency not met: 'a' must be completed before 'b'", err.Error())
	assert.Empty(t, ps.CompletedSteps("wf"))

	status, err := e.CompleteStep(ps, "wf", "a", map[string]any{"output": "x"})
	require.NoError(t, err)
	assert.Equal(t, 1, status.Completed)
	assert.InDelta(t, 50.0, status.Percent, 1e-9)
	assert.Equal(t, "b", status.Current.ID)
	assert.Equal(t, []string{"a"}, status.CompletedIDs)
	assert.Equal(t, []string{"b"}, status.RemainingIDs)
	assert.Equal(t, map[string]any{"output": "x"}, ps.StepArtifacts("wf", "a"))

	status, err = e.CompleteStep(ps, "wf", "b", nil)
	require.NoError(t, err)
	assert.True(t, status.IsComplete)
	assert.Nil(t, status.Current)
}

func TestCompleteStepUnknown(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "wf", twoSteps)
	e := NewExecutor(dir, nil)

	_, err := e.CompleteStep(newState(), "wf", "zzz", nil)
	assert.ErrorIs(t, err, ErrStepNotFound)
}

func TestReset(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "wf", twoSteps)
	e := NewExecutor(dir, nil)
	ps := newState()

	_, err := e.CompleteStep(ps, "wf", "a", nil)
	require.NoError(t, err)
	status, err := e.Reset(ps, "wf")
	require.NoError(t, err)
	assert.Equal(t, 0, status.Completed)
	assert.Equal(t, "a", status.Current.ID)
}

func TestValidateWorkflow(t *testing.T) {
	tests := []struct {
		name      string
		steps     []Step
		valid     bool
		errSubstr string
	}{
		{"ok", []Step{{ID: "a"}, {ID: "b", DependsOn: []string{"a"}}}, true, ""},
		{"missing dep", []Step{{ID: "a", DependsOn: []string{"ghost"}}}, false, "non-existent step 'ghost'"},
		{"two cycle", []Step{{ID: "a", DependsOn: []string{"b"}}, {ID: "b", DependsOn: []string{"a"}}}, false, "Circular dependency detected involving step 'a'"},
		{"self cycle", []Step{{ID: "a", DependsOn: []string{"a"}}}, false, "Circular dependency"},
		{"duplicate", []Step{{ID: "a"}, {ID: "a"}}, false, "Duplicate step id 'a'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateWorkflow(&Workflow{Steps: tt.steps})
			assert.Equal(t, tt.valid, res.Valid)
			if tt.errSubstr != "" {
				require.NotEmpty(t, res.Errors)
				assert.Contains(t, res.Errors[len(res.Errors)-1], tt.errSubstr)
			}
		})
	}
}

func TestValidateMissingFileIsWarning(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "wf", twoSteps)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wf", "steps", "a.md"), []byte("# A\n"), 0o644))
	e := NewExecutor(dir, nil)

	res, err := e.Validate("wf")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "Step 'b' file not found")

	res, err = e.Validate("ghost")
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestStepContent(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "wf", twoSteps)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wf", "steps", "a.md"), []byte("# A\nbody\n"), 0o644))
	e := NewExecutor(dir, nil)
	wf, err := e.Load("wf")
	require.NoError(t, err)

	assert.Equal(t, "# A\nbody\n", e.StepContent(wf.Step("a")))
	assert.Contains(t, e.StepContent(wf.Step("b")), "Step file not found")
}

func TestBuiltinsInstallAndValidate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, InstallBuiltins(dir))

	e := NewExecutor(dir, nil)
	list, err := e.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, DataPreparation, list[0].ID)
	assert.Equal(t, 5, list[0].Steps)

	res, err := e.Validate(DataPreparation)
	require.NoError(t, err)
	assert.True(t, res.Valid, "%v", res.Errors)
	assert.Empty(t, res.Warnings)

	// Local edits survive a second install.
	path := filepath.Join(dir, DataPreparation, "steps", "scan.md")
	require.NoError(t, os.WriteFile(path, []byte("mine\n"), 0o644))
	require.NoError(t, InstallBuiltins(dir))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "mine\n", string(data))
}
