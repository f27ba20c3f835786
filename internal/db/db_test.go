package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lucasnoah/croak/internal/pipeline"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("CROAK_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CROAK_TEST_DATABASE_URL not set")
	}
	d, err := Open(t.Context(), dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(t.Context()); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

// testProject isolates rows of one test from the others.
func testProject() string {
	return "test-" + uuid.NewString()
}

func TestMigrateIdempotent(t *testing.T) {
	d := testDB(t)
	if err := d.Migrate(t.Context()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var version int
	if err := d.conn.QueryRowContext(t.Context(), "SELECT version FROM croak_schema_version").Scan(&version); err != nil {
		t.Fatalf("query schema version: %v", err)
	}
	if version != 1 {
		t.Errorf("schema version = %d, want 1", version)
	}
}

func TestPipelineHistory(t *testing.T) {
	d := testDB(t)
	project := testProject()
	base := time.Date(2025, 3, 4, 5, 0, 0, 0, time.UTC)

	for i, ev := range []string{"stage_completed", "handoff_created", "stage_completed"} {
		if err := d.LogPipelineEvent(t.Context(), project, ev, pipeline.StageDataPreparation, "detail", base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("log event: %v", err)
		}
	}

	events, err := d.GetPipelineHistory(t.Context(), project, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Event != "stage_completed" || !events[0].Timestamp.Equal(base.Add(2*time.Minute)) {
		t.Errorf("newest event = %+v", events[0])
	}

	limited, err := d.GetPipelineHistory(t.Context(), project, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("got %d events, want 2", len(limited))
	}
}

func TestExperimentUpsert(t *testing.T) {
	d := testDB(t)
	project := testProject()
	id := "exp-" + uuid.NewString()
	started := time.Date(2025, 3, 4, 5, 0, 0, 0, time.UTC)

	if err := d.UpsertExperiment(t.Context(), Experiment{ID: id, Project: project, Status: pipeline.ExperimentRunning, Started: &started}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	mAP := 0.61
	completed := started.Add(time.Hour)
	if err := d.UpsertExperiment(t.Context(), Experiment{
		ID: id, Project: project, Status: pipeline.ExperimentCompleted, Architecture: "yolov8s",
		Metrics: map[string]*float64{"mAP50": &mAP, "recall": nil}, ModelPath: "best.pt",
		Started: &started, Completed: &completed,
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := d.GetExperiment(t.Context(), id)
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.Status != pipeline.ExperimentCompleted {
		t.Errorf("Status = %q, want %q", got.Status, pipeline.ExperimentCompleted)
	}
	if got.Metrics["mAP50"] == nil || *got.Metrics["mAP50"] != mAP {
		t.Errorf("mAP50 = %v, want %v", got.Metrics["mAP50"], mAP)
	}
	if v, ok := got.Metrics["recall"]; !ok || v != nil {
		t.Errorf("recall = %v (present %v), want null", v, ok)
	}

	list, err := d.ListExperiments(t.Context(), project)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("got %d experiments, want 1", len(list))
	}

	missing, err := d.GetExperiment(t.Context(), "nope-"+uuid.NewString())
	if err != nil || missing != nil {
		t.Errorf("missing experiment = %v, %v", missing, err)
	}
}

func TestLedgerDisabledIsNoop(t *testing.T) {
	l := OpenLedger(context.Background(), "", "p", nil, nil)
	if l.Enabled() {
		t.Fatal("expected disabled ledger")
	}
	l.Event(context.Background(), "x", "", "")
	l.Experiment(context.Background(), pipeline.Experiment{ID: "e"})
	if err := l.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	var nilLedger *Ledger
	if nilLedger.Enabled() || nilLedger.DB() != nil {
		t.Error("nil ledger should be disabled")
	}
}

func TestLedgerBadDSNIsDisabled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	l := OpenLedger(ctx, "postgres://nobody@127.0.0.1:1/none?connect_timeout=1", "p", nil, nil)
	if l.Enabled() {
		t.Error("expected disabled ledger for unreachable database")
	}
}

func TestLedgerRecords(t *testing.T) {
	d := testDB(t)
	project := testProject()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC))
	l := NewLedger(d, project, clock, nil)

	l.Event(t.Context(), "stage_completed", pipeline.StageTraining, "")
	l.Experiment(t.Context(), pipeline.Experiment{ID: "exp-" + uuid.NewString(), Status: pipeline.ExperimentPending, Started: "2025-03-04T05:06:07Z"})

	events, err := d.GetPipelineHistory(t.Context(), project, 0)
	if err != nil || len(events) != 1 {
		t.Fatalf("events = %v, %v", events, err)
	}
	exps, err := d.ListExperiments(t.Context(), project)
	if err != nil || len(exps) != 1 {
		t.Fatalf("experiments = %v, %v", exps, err)
	}
}
