package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lucasnoah/croak/internal/analytics"
	"github.com/lucasnoah/croak/internal/pipeline"
	"github.com/lucasnoah/croak/internal/printer"
	"github.com/lucasnoah/croak/internal/training"
	"github.com/spf13/cobra"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Pipeline and experiment analytics",
}

var analyticsStagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "Show how long each completed stage took",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		ps, err := a.store.Load()
		if err != nil {
			return err
		}
		durations := analytics.StageDurations(ps.StageHistory)
		if len(durations) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No stage history recorded.")
			return nil
		}
		rows := make([][]string, 0, len(durations))
		for _, d := range durations {
			rows = append(rows, []string{
				d.Stage,
				strconv.Itoa(d.Count),
				fmt.Sprintf("%.1f", d.Avg),
				fmt.Sprintf("%.1f", d.P50),
				fmt.Sprintf("%.1f", d.P95),
			})
		}
		printer.New(cmd.OutOrStdout()).Table([]string{"Stage", "Runs", "Avg (min)", "P50", "P95"}, rows)
		return nil
	},
}

var analyticsExperimentsCmd = &cobra.Command{
	Use:   "experiments",
	Short: "Rank completed experiments by a metric",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		ps, err := a.store.Load()
		if err != nil {
			return err
		}
		metric, _ := cmd.Flags().GetString("metric")
		ranked := analytics.RankExperiments(ps.Experiments, metric)
		if len(ranked) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No completed experiments.")
			return nil
		}
		rows := make([][]string, 0, len(ranked))
		for _, r := range ranked {
			rows = append(rows, []string{
				strconv.Itoa(r.Rank),
				r.Experiment.ID,
				orNone(r.Experiment.Architecture),
				formatMetric(r.Experiment.Metrics, metric),
			})
		}
		printer.New(cmd.OutOrStdout()).Table([]string{"#", "Experiment", "Architecture", metric}, rows)
		return nil
	},
}

var analyticsCompareCmd = &cobra.Command{
	Use:   "compare <model> <model>...",
	Short: "Evaluate several models on the same split and rank them",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		ps, err := a.store.Load()
		if err != nil {
			return err
		}
		if ps.DataYAMLPath == "" {
			return errors.New("no prepared dataset; run 'croak prepare' first")
		}
		engine, err := newEngine(a)
		if err != nil {
			return err
		}

		ec := a.cfg.Evaluation
		split, _ := cmd.Flags().GetString("split")
		now := clock.Now()
		c, err := analytics.CompareModels(cmd.Context(), engine, training.EvalRequest{
			DataManifest: ps.DataYAMLPath,
			Confidence:   ec.Confidence,
			IoU:          ec.IoU,
			Split:        split,
		}, args, evaluationThresholds(ec), now)
		if err != nil {
			return err
		}

		out := filepath.Join(a.paths.ReportsDir(), fmt.Sprintf("comparison-%s.yaml", now.UTC().Format("20060102-150405")))
		if err := pipeline.WriteYAML(out, c, ""); err != nil {
			return fmt.Errorf("write comparison: %w", err)
		}

		rows := make([][]string, 0, len(c.Models))
		for _, m := range c.Models {
			ready := "no"
			if m.DeploymentReady {
				ready = "yes"
			}
			rows = append(rows, []string{
				a.paths.Rel(m.Model),
				fmt.Sprintf("%.3f", m.Metrics.MAP50),
				fmt.Sprintf("%.3f", m.Metrics.MAP5095),
				fmt.Sprintf("%.3f", m.Metrics.Precision),
				fmt.Sprintf("%.3f", m.Metrics.Recall),
				ready,
			})
		}
		p := printer.New(cmd.OutOrStdout())
		p.Table([]string{"Model", "mAP50", "mAP50-95", "Precision", "Recall", "Ready"}, rows)
		p.Success("Best model: %s", a.paths.Rel(c.Best))
		p.Info("Comparison: %s", a.paths.Rel(out))
		a.ledger.Event(cmd.Context(), "models_compared", pipeline.StageEvaluation, c.Best)
		return nil
	},
}

var analyticsEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Count ledger events by kind and stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, project, cleanup, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if err := d.Migrate(cmd.Context()); err != nil {
			return err
		}
		var since time.Time
		if window, _ := cmd.Flags().GetDuration("since"); window > 0 {
			since = clock.Now().Add(-window)
		}
		counts, err := analytics.QueryEventCounts(cmd.Context(), d, project, since)
		if err != nil {
			return err
		}
		if len(counts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No events recorded.")
			return nil
		}
		rows := make([][]string, 0, len(counts))
		for _, c := range counts {
			rows = append(rows, []string{c.Event, orNone(c.Stage), strconv.Itoa(c.Count), c.Last.Local().Format(time.DateTime)})
		}
		printer.New(cmd.OutOrStdout()).Table([]string{"Event", "Stage", "Count", "Last"}, rows)
		return nil
	},
}

func init() {
	analyticsExperimentsCmd.Flags().String("metric", "mAP50_95", "metric to rank by")
	analyticsCompareCmd.Flags().String("split", "test", "dataset split to evaluate on")
	analyticsEventsCmd.Flags().Duration("since", 0, "only count events newer than this (e.g. 24h)")

	analyticsCmd.AddCommand(analyticsStagesCmd)
	analyticsCmd.AddCommand(analyticsExperimentsCmd)
	analyticsCmd.AddCommand(analyticsCompareCmd)
	analyticsCmd.AddCommand(analyticsEventsCmd)
}
