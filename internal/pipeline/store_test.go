package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newTestStore(t *testing.T) (*Store, *clockwork.FakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC))
	return NewStore(filepath.Join(t.TempDir(), ".croak", "pipeline-state.yaml"), clk), clk
}

func TestLoadMissingReturnsFreshState(t *testing.T) {
	s, _ := newTestStore(t)

	ps, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ps.CurrentStage != StageUninitialized {
		t.Errorf("CurrentStage = %q, want %q", ps.CurrentStage, StageUninitialized)
	}
	if ps.Version != StateVersion {
		t.Errorf("Version = %q, want %q", ps.Version, StateVersion)
	}
	if len(ps.StagesCompleted) != 0 {
		t.Errorf("StagesCompleted = %v, want empty", ps.StagesCompleted)
	}
	if s.Exists() {
		t.Error("Load should not create the state file")
	}
}

func TestSaveStampsLastUpdatedAndCreatesDirs(t *testing.T) {
	s, clk := newTestStore(t)

	ps, _ := s.Load()
	clk.Advance(time.Hour)
	if err := s.Save(ps); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ps.LastUpdated != "2025-03-04T06:06:07Z" {
		t.Errorf("LastUpdated = %q, want %q", ps.LastUpdated, "2025-03-04T06:06:07Z")
	}
	if !s.Exists() {
		t.Fatal("state file not written")
	}

	clk.Advance(time.Minute)
	if err := s.Save(ps); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ps.LastUpdated != "2025-03-04T06:07:07Z" {
		t.Errorf("LastUpdated = %q after second save", ps.LastUpdated)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, clk := newTestStore(t)

	ps, _ := s.Load()
	started := clk.Now()
	clk.Advance(90 * time.Second)
	ps.FinishStage(StageDataPreparation, started, clk.Now(), map[string]string{"data_yaml": "processed/data.yaml"})
	ps.AddWarning("low image count")
	map50 := 0.71
	ps.Artifacts.Model.Metrics = Metrics{"mAP50": &map50, "mAP50-95": nil}
	ps.CompleteWorkflowStep("data-preparation", "scan", map[string]any{"images": 120})
	if err := ps.AddExperiment(Experiment{ID: "exp-1", Architecture: "yolov8s"}); err != nil {
		t.Fatalf("AddExperiment: %v", err)
	}
	if err := s.Save(ps); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.CurrentStage != StageTraining {
		t.Errorf("CurrentStage = %q, want %q", got.CurrentStage, StageTraining)
	}
	if len(got.StageHistory) != 1 || got.StageHistory[0].DurationSeconds != 90 {
		t.Errorf("StageHistory = %+v", got.StageHistory)
	}
	if got.StageHistory[0].Artifacts["data_yaml"] != "processed/data.yaml" {
		t.Errorf("history artifacts = %v", got.StageHistory[0].Artifacts)
	}
	if v := got.Artifacts.Model.Metrics["mAP50"]; v == nil || *v != 0.71 {
		t.Errorf("mAP50 = %v, want 0.71", v)
	}
	if v, ok := got.Artifacts.Model.Metrics["mAP50-95"]; !ok || v != nil {
		t.Errorf("mAP50-95 = %v (present %v), want present nil", v, ok)
	}
	if steps := got.CompletedSteps("data-preparation"); len(steps) != 1 || steps[0] != "scan" {
		t.Errorf("CompletedSteps = %v", steps)
	}
	if e, ok := got.Experiment("exp-1"); !ok || e.Status != ExperimentPending {
		t.Errorf("Experiment exp-1 = %+v, %v", e, ok)
	}
}

func TestUpdateDoesNotWriteOnError(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Update(func(ps *PipelineState) error {
		ps.CompleteStage(StageTraining)
		return os.ErrInvalid
	})
	if err == nil {
		t.Fatal("expected error from Update")
	}
	if s.Exists() {
		t.Error("state file written despite error")
	}

	ps, err := s.Update(func(ps *PipelineState) error {
		ps.CompleteStage(StageTraining)
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !ps.IsStageComplete(StageTraining) {
		t.Error("training not completed")
	}
}

func TestLastWriterWins(t *testing.T) {
	s, _ := newTestStore(t)

	a, _ := s.Load()
	b, _ := s.Load()
	a.AddWarning("from a")
	b.AddWarning("from b")
	if err := s.Save(a); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(b); err != nil {
		t.Fatal(err)
	}

	got, _ := s.Load()
	if len(got.Warnings) != 1 || got.Warnings[0] != "from b" {
		t.Errorf("Warnings = %v, want [from b]", got.Warnings)
	}
}

func TestReset(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.Update(func(ps *PipelineState) error {
		ps.CompleteStage(StageDataPreparation)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	ps, err := s.Reset()
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(ps.StagesCompleted) != 0 {
		t.Errorf("StagesCompleted = %v after reset", ps.StagesCompleted)
	}
	got, _ := s.Load()
	if got.IsStageComplete(StageDataPreparation) {
		t.Error("reset state still has data_preparation")
	}
}

func TestLoadCorruptDocument(t *testing.T) {
	s, _ := newTestStore(t)
	if err := WriteAtomic(s.Path(), []byte("current_stage: [unterminated\n")); err != nil {
		t.Fatal(err)
	}
	_, err := s.Load()
	if err == nil || !strings.Contains(err.Error(), "load state") {
		t.Errorf("Load error = %v, want load state error", err)
	}
}

func TestWriteAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "doc.yaml")
	if err := WriteYAML(path, map[string]int{"a": 1}, "# header\n"); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# header\na: 1") {
		t.Errorf("content = %q", data)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1", len(entries))
	}
}
