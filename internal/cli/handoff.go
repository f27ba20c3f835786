package cli

import (
	"fmt"

	"github.com/lucasnoah/croak/internal/pipeline"
	"github.com/lucasnoah/croak/internal/printer"
	"github.com/spf13/cobra"
)

var handoffCmd = &cobra.Command{
	Use:   "handoff",
	Short: "Inspect stage handoff documents",
}

var handoffLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Print the newest handoff matching --from/--to",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		handoffs, err := a.handoffs()
		if err != nil {
			return err
		}
		path, err := handoffs.FindLatest(from, to)
		if err != nil {
			return err
		}
		if path == "" {
			return fmt.Errorf("no handoff found (from=%q to=%q)", from, to)
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var handoffShowCmd = &cobra.Command{
	Use:   "show <path>",
	Short: "Show a handoff document and re-validate it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		handoffs, err := a.handoffs()
		if err != nil {
			return err
		}
		doc, report, err := handoffs.Read(args[0])
		if err != nil {
			return err
		}

		p := printer.New(cmd.OutOrStdout())
		p.Header("%s: %s → %s", doc.Contract, doc.FromAgent, doc.ToAgent)
		p.KeyValues([][2]string{{"Created", doc.CreatedAt}})
		data, err := pipeline.MarshalYAML(doc.Data)
		if err != nil {
			return err
		}
		p.Info("")
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		p.Info("")
		if !report.Valid {
			for _, m := range report.Messages() {
				p.Failure("%s", m)
			}
			return fmt.Errorf("handoff %s no longer satisfies %s", args[0], doc.Contract)
		}
		p.Success("Valid against %s", doc.Contract)
		return nil
	},
}

func init() {
	handoffLatestCmd.Flags().String("from", "", "source agent (data, training, evaluation)")
	handoffLatestCmd.Flags().String("to", "", "target agent (training, evaluation, deployment)")

	handoffCmd.AddCommand(handoffLatestCmd)
	handoffCmd.AddCommand(handoffShowCmd)
}
