package cli

import (
	"fmt"
	"strings"

	"github.com/lucasnoah/croak/internal/pipeline"
	"github.com/lucasnoah/croak/internal/printer"
	"github.com/lucasnoah/croak/internal/workflow"
	"github.com/spf13/cobra"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Follow guided multi-step workflows",
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available workflows",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		summaries, err := a.executor().List()
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No workflows found.")
			return nil
		}
		rows := make([][]string, 0, len(summaries))
		for _, s := range summaries {
			rows = append(rows, []string{s.ID, s.Name, s.Agent, fmt.Sprint(s.Steps)})
		}
		printer.New(cmd.OutOrStdout()).Table([]string{"ID", "Name", "Agent", "Steps"}, rows)
		return nil
	},
}

var workflowStatusCmd = &cobra.Command{
	Use:   "status <workflow>",
	Short: "Show progress of a workflow",
	Args:  cobra.ExactArgs(1),
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
		st, err := a.executor().Status(ps, args[0])
		if err != nil {
			return err
		}
		printWorkflowStatus(printer.New(cmd.OutOrStdout()), st)
		return nil
	},
}

var workflowNextCmd = &cobra.Command{
	Use:   "next <workflow>",
	Short: "Show the next actionable step",
	Args:  cobra.ExactArgs(1),
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
		exec := a.executor()
		step, err := exec.NextStep(ps, args[0])
		if err != nil {
			return err
		}
		if step == nil {
			printer.New(cmd.OutOrStdout()).Success("Workflow %s is complete", args[0])
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), exec.StepContent(step))
		return nil
	},
}

var workflowCompleteCmd = &cobra.Command{
	Use:   "complete <workflow> <step>",
	Short: "Mark a workflow step completed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		raw, _ := cmd.Flags().GetStringToString("artifact")
		artifacts := make(map[string]any, len(raw))
		for k, v := range raw {
			artifacts[k] = v
		}

		exec := a.executor()
		var st *workflow.Status
		if _, err := a.store.Update(func(ps *pipeline.PipelineState) error {
			var err error
			st, err = exec.CompleteStep(ps, args[0], args[1], artifacts)
			return err
		}); err != nil {
			return err
		}
		a.ledger.Event(cmd.Context(), "workflow_step_completed", args[0], args[1])

		p := printer.New(cmd.OutOrStdout())
		p.Success("Completed %s/%s", args[0], args[1])
		printWorkflowStatus(p, st)
		return nil
	},
}

var workflowResetCmd = &cobra.Command{
	Use:   "reset <workflow>",
	Short: "Clear the recorded progress of a workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		exec := a.executor()
		if _, err := exec.Load(args[0]); err != nil {
			return err
		}
		if _, err := a.store.Update(func(ps *pipeline.PipelineState) error {
			_, err := exec.Reset(ps, args[0])
			return err
		}); err != nil {
			return err
		}
		printer.New(cmd.OutOrStdout()).Success("Reset workflow %s", args[0])
		return nil
	},
}

var workflowValidateCmd = &cobra.Command{
	Use:   "validate <workflow>",
	Short: "Check a workflow definition for errors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := a.executor().Validate(args[0])
		if err != nil {
			return err
		}
		p := printer.New(cmd.OutOrStdout())
		for _, w := range res.Warnings {
			p.Warning("%s", w)
		}
		for _, e := range res.Errors {
			p.Failure("%s", e)
		}
		if !res.Valid {
			return fmt.Errorf("workflow %s has %d error(s)", args[0], len(res.Errors))
		}
		p.Success("Workflow %s is valid", args[0])
		return nil
	},
}

func printWorkflowStatus(p *printer.Printer, st *workflow.Status) {
	p.Header("%s (%s)", st.WorkflowName, st.WorkflowID)
	current := "-"
	if st.Current != nil {
		current = fmt.Sprintf("%s (%s)", st.Current.Name, st.Current.ID)
	}
	p.KeyValues([][2]string{
		{"Progress", fmt.Sprintf("%d/%d (%.0f%%)", st.Completed, st.Total, st.Percent)},
		{"Current", current},
		{"Completed", orNone(strings.Join(st.CompletedIDs, ", "))},
		{"Remaining", orNone(strings.Join(st.RemainingIDs, ", "))},
	})
}

func init() {
	workflowCompleteCmd.Flags().StringToString("artifact", nil, "artifact produced by the step (key=value, repeatable)")

	workflowCmd.AddCommand(workflowListCmd)
	workflowCmd.AddCommand(workflowStatusCmd)
	workflowCmd.AddCommand(workflowNextCmd)
	workflowCmd.AddCommand(workflowCompleteCmd)
	workflowCmd.AddCommand(workflowResetCmd)
	workflowCmd.AddCommand(workflowValidateCmd)
}
