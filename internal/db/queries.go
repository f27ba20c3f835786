package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PipelineEvent represents a row in the pipeline_events table.
type PipelineEvent struct {
	ID        int64
	Project   string
	Event     string
	Stage     string
	Detail    string
	Timestamp time.Time
}

// Experiment represents a row in the experiments table.
type Experiment struct {
	ID           string
	Project      string
	Status       string
	Architecture string
	Metrics      map[string]*float64
	ModelPath    string
	Started      *time.Time
	Completed    *time.Time
}

// LogPipelineEvent inserts a pipeline event.
func (d *DB) LogPipelineEvent(ctx context.Context, project, event, stage, detail string, at time.Time) error {
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO pipeline_events (project, event, stage, detail, timestamp) VALUES ($1, $2, $3, $4, $5)`,
		project, event, stage, detail, at,
	)
	if err != nil {
		return fmt.Errorf("log pipeline event: %w", err)
	}
	return nil
}

// GetPipelineHistory returns the latest events of a project, newest first.
// A limit of zero returns every event.
func (d *DB) GetPipelineHistory(ctx context.Context, project string, limit int) ([]PipelineEvent, error) {
	query := `SELECT id, project, event, stage, detail, timestamp
		 FROM pipeline_events WHERE project = $1 ORDER BY timestamp DESC, id DESC`
	args := []any{project}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get pipeline history: %w", err)
	}
	defer rows.Close()

	var events []PipelineEvent
	for rows.Next() {
		var e PipelineEvent
		if err := rows.Scan(&e.ID, &e.Project, &e.Event, &e.Stage, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pipeline event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// UpsertExperiment inserts an experiment or replaces the stored row.
func (d *DB) UpsertExperiment(ctx context.Context, e Experiment) error {
	metrics := e.Metrics
	if metrics == nil {
		metrics = map[string]*float64{}
	}
	data, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	_, err = d.conn.ExecContext(ctx,
		`INSERT INTO experiments (id, project, status, architecture, metrics, model_path, started, completed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   architecture = EXCLUDED.architecture,
		   metrics = EXCLUDED.metrics,
		   model_path = EXCLUDED.model_path,
		   started = EXCLUDED.started,
		   completed = EXCLUDED.completed`,
		e.ID, e.Project, e.Status, e.Architecture, string(data), e.ModelPath, e.Started, e.Completed,
	)
	if err != nil {
		return fmt.Errorf("upsert experiment %s: %w", e.ID, err)
	}
	return nil
}

// GetExperiment returns one experiment, or nil when it does not exist.
func (d *DB) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT id, project, status, architecture, metrics, model_path, started, completed
		 FROM experiments WHERE id = $1`, id)
	e, err := scanExperiment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get experiment %s: %w", id, err)
	}
	return e, nil
}

// ListExperiments returns a project's experiments, most recently started first.
func (d *DB) ListExperiments(ctx context.Context, project string) ([]Experiment, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, project, status, architecture, metrics, model_path, started, completed
		 FROM experiments WHERE project = $1 ORDER BY started DESC NULLS LAST, id`, project)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	var out []Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan experiment: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExperiment(s scanner) (*Experiment, error) {
	var e Experiment
	var metrics []byte
	var started, completed sql.NullTime
	if err := s.Scan(&e.ID, &e.Project, &e.Status, &e.Architecture, &metrics, &e.ModelPath, &started, &completed); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(metrics, &e.Metrics); err != nil {
		return nil, fmt.Errorf("decode metrics: %w", err)
	}
	if started.Valid {
		e.Started = &started.Time
	}
	if completed.Valid {
		e.Completed = &completed.Time
	}
	return &e, nil
}
