package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lucasnoah/croak/internal/pipeline"
	"github.com/lucasnoah/croak/internal/printer"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline status",
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

		p := printer.New(cmd.OutOrStdout())
		p.Header("%s", a.cfg.ProjectName)
		p.KeyValues([][2]string{
			{"Stage", ps.CurrentStage},
			{"Completed", orNone(strings.Join(ps.StagesCompleted, ", "))},
			{"Last updated", orNone(ps.LastUpdated)},
			{"Dataset", orNone(a.paths.Rel(ps.Artifacts.Dataset.Path))},
			{"Model", orNone(a.paths.Rel(ps.Artifacts.Model.Path))},
			{"Endpoint", orNone(ps.Artifacts.Deployment.CloudEndpoint)},
		})

		if len(ps.Artifacts.Dataset.Splits) > 0 {
			p.Info("")
			p.Table([]string{"Split", "Images"}, splitRows(ps.Artifacts.Dataset.Splits))
		}
		if len(ps.Experiments) > 0 {
			p.Info("")
			rows := make([][]string, 0, len(ps.Experiments))
			for _, e := range ps.Experiments {
				rows = append(rows, []string{e.ID, e.Status, e.Architecture, formatMetric(e.Metrics, "mAP50")})
			}
			p.Table([]string{"Experiment", "Status", "Architecture", "mAP50"}, rows)
		}
		for _, issue := range ps.ProviderAnnotationIssues() {
			p.Warning("%s", issue)
		}
		for _, w := range ps.Warnings {
			p.Warning("%s", w)
		}
		for _, e := range ps.Errors {
			p.Failure("%s", e)
		}
		return nil
	},
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// splitRows renders split counts in pipeline order, unknown splits last.
func splitRows(splits map[string]int) [][]string {
	order := map[string]int{"train": 0, "val": 1, "test": 2}
	names := make([]string, 0, len(splits))
	for name := range splits {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		oi, iok := order[names[i]]
		oj, jok := order[names[j]]
		if iok != jok {
			return iok
		}
		if iok {
			return oi < oj
		}
		return names[i] < names[j]
	})
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, fmt.Sprint(splits[name])})
	}
	return rows
}

func formatMetric(m pipeline.Metrics, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return "-"
	}
	return fmt.Sprintf("%.3f", *v)
}
