package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/lucasnoah/croak/internal/pipeline"
	"github.com/lucasnoah/croak/internal/training"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
}

// StageDuration holds duration stats for a stage.
type StageDuration struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg_minutes"`
	P50   float64 `json:"p50_minutes"`
	P95   float64 `json:"p95_minutes"`
}

// StageDurations summarizes the recorded stage history. A stage that was
// completed more than once contributes every run.
func StageDurations(history []pipeline.StageHistoryEntry) []StageDuration {
	stageDurations := make(map[string][]float64)
	for _, h := range history {
		if h.DurationSeconds <= 0 {
			continue
		}
		stageDurations[h.Stage] = append(stageDurations[h.Stage], h.DurationSeconds/60)
	}

	var results []StageDuration
	for stage, durations := range stageDurations {
		sort.Float64s(durations)
		results = append(results, StageDuration{
			Stage: stage,
			Count: len(durations),
			Avg:   avg(durations),
			P50:   percentile(durations, 50),
			P95:   percentile(durations, 95),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Stage < results[j].Stage
	})
	return results
}

// EventCount is the number of ledger events of one kind in a stage.
type EventCount struct {
	Event string    `json:"event"`
	Stage string    `json:"stage"`
	Count int       `json:"count"`
	Last  time.Time `json:"last"`
}

// QueryEventCounts counts the ledger events of a project since the given
// time, most frequent first. A zero since counts every event.
func QueryEventCounts(ctx context.Context, database DB, project string, since time.Time) ([]EventCount, error) {
	query := `
		SELECT event, stage, COUNT(*) AS n, MAX(timestamp) AS last
		FROM pipeline_events
		WHERE project = $1`
	args := []any{project}
	if !since.IsZero() {
		query += ` AND timestamp >= $2`
		args = append(args, since)
	}
	query += ` GROUP BY event, stage ORDER BY n DESC, event, stage`

	rows, err := database.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query event counts: %w", err)
	}
	defer rows.Close()

	var results []EventCount
	for rows.Next() {
		var ec EventCount
		if err := rows.Scan(&ec.Event, &ec.Stage, &ec.Count, &ec.Last); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		results = append(results, ec)
	}
	return results, rows.Err()
}

// RankedExperiment is an experiment with its leaderboard position.
type RankedExperiment struct {
	Rank       int                 `json:"rank"`
	Experiment pipeline.Experiment `json:"experiment"`
	Score      *float64            `json:"score"`
}

// RankExperiments orders completed experiments by metric, best first.
// Experiments without the metric sort last, by id.
func RankExperiments(exps []pipeline.Experiment, metric string) []RankedExperiment {
	var out []RankedExperiment
	for _, e := range exps {
		if e.Status != pipeline.ExperimentCompleted {
			continue
		}
		out = append(out, RankedExperiment{Experiment: e, Score: e.Metrics[metric]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].Score, out[j].Score
		switch {
		case si != nil && sj != nil && *si != *sj:
			return *si > *sj
		case (si == nil) != (sj == nil):
			return si != nil
		}
		return out[i].Experiment.ID < out[j].Experiment.ID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// ModelComparison is one model's evaluation within a comparison.
type ModelComparison struct {
	Model           string           `yaml:"model" json:"model"`
	Metrics         training.Metrics `yaml:"metrics" json:"metrics"`
	DeploymentReady bool             `yaml:"deployment_ready" json:"deployment_ready"`
}

// Comparison ranks several models evaluated on the same data.
type Comparison struct {
	Models     []ModelComparison `yaml:"comparison" json:"comparison"`
	Best       string            `yaml:"best_model" json:"best_model"`
	ComparedAt string            `yaml:"compared_at" json:"compared_at"`
}

// CompareModels evaluates every model with base as the request template and
// ranks them by mAP50-95. The first evaluation failure aborts the comparison.
func CompareModels(ctx context.Context, engine training.Engine, base training.EvalRequest, models []string, thresholds training.Thresholds, now time.Time) (*Comparison, error) {
	c := &Comparison{ComparedAt: now.UTC().Format(time.RFC3339)}
	for _, model := range models {
		req := base
		req.ModelPath = model
		res, err := engine.Evaluate(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("compare %s: %w", model, err)
		}
		c.Models = append(c.Models, ModelComparison{
			Model:           model,
			Metrics:         res.Metrics,
			DeploymentReady: thresholds.DeploymentReady(res.Metrics),
		})
	}
	sort.SliceStable(c.Models, func(i, j int) bool {
		return c.Models[i].Metrics.MAP5095 > c.Models[j].Metrics.MAP5095
	})
	if len(c.Models) > 0 {
		c.Best = c.Models[0].Model
	}
	return c, nil
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}
