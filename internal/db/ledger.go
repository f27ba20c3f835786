package db

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lucasnoah/croak/internal/pipeline"
)

// Ledger records a project's events when a database is configured. A
// disabled ledger accepts every call and does nothing. Write failures are
// logged, never returned.
type Ledger struct {
	db      *DB
	project string
	clock   clockwork.Clock
	logger  *slog.Logger
}

// Disabled returns a ledger that records nothing.
func Disabled() *Ledger {
	return &Ledger{clock: clockwork.NewRealClock(), logger: slog.New(slog.DiscardHandler)}
}

// OpenLedger connects and migrates when dsn is set. Connection problems are
// logged and yield a disabled ledger.
func OpenLedger(ctx context.Context, dsn, project string, clock clockwork.Clock, logger *slog.Logger) *Ledger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	l := &Ledger{project: project, clock: clock, logger: logger}
	if dsn == "" {
		return l
	}
	d, err := Open(ctx, dsn)
	if err != nil {
		logger.Warn("ledger disabled", "err", err)
		return l
	}
	if err := d.Migrate(ctx); err != nil {
		logger.Warn("ledger disabled", "err", err)
		d.Close()
		return l
	}
	l.db = d
	return l
}

// NewLedger wraps an open database.
func NewLedger(d *DB, project string, clock clockwork.Clock, logger *slog.Logger) *Ledger {
	l := OpenLedger(context.Background(), "", project, clock, logger)
	l.db = d
	return l
}

// Enabled reports whether events are recorded.
func (l *Ledger) Enabled() bool {
	return l != nil && l.db != nil
}

// DB returns the underlying database, or nil when disabled.
func (l *Ledger) DB() *DB {
	if l == nil {
		return nil
	}
	return l.db
}

// Close releases the database connection.
func (l *Ledger) Close() error {
	if !l.Enabled() {
		return nil
	}
	return l.db.Close()
}

// Event records a pipeline event.
func (l *Ledger) Event(ctx context.Context, event, stage, detail string) {
	if !l.Enabled() {
		return
	}
	if err := l.db.LogPipelineEvent(ctx, l.project, event, stage, detail, l.clock.Now().UTC()); err != nil {
		l.logger.Warn("ledger write failed", "event", event, "err", err)
	}
}

// Experiment records the current state of an experiment.
func (l *Ledger) Experiment(ctx context.Context, e pipeline.Experiment) {
	if !l.Enabled() {
		return
	}
	row := Experiment{
		ID:           e.ID,
		Project:      l.project,
		Status:       e.Status,
		Architecture: e.Architecture,
		Metrics:      e.Metrics,
		ModelPath:    e.ModelPath,
		Started:      parseTime(e.Started),
		Completed:    parseTime(e.Completed),
	}
	if err := l.db.UpsertExperiment(ctx, row); err != nil {
		l.logger.Warn("ledger write failed", "experiment", e.ID, "err", err)
	}
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
