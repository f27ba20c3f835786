package cli

import (
	"errors"
	"path/filepath"

	"github.com/lucasnoah/croak/internal/contract"
	"github.com/lucasnoah/croak/internal/printer"
	"github.com/lucasnoah/croak/internal/project"
	"github.com/lucasnoah/croak/internal/workflow"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a croak project",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := projectDir
		if len(args) == 1 {
			root = args[0]
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = filepath.Base(abs)
		}

		p := printer.New(cmd.OutOrStdout())
		paths, err := project.Init(abs, name, clock.Now())
		if errors.Is(err, project.ErrAlreadyInitialized) {
			return p.Error("croak is already initialized here", paths.MetaDir()+" exists.",
				[]string{"Run 'croak status' to inspect the pipeline", "Run 'croak reset --yes' to start over"})
		}
		if err != nil {
			return err
		}
		if err := contract.InstallSchemas(paths.ContractsDir()); err != nil {
			return err
		}
		if err := workflow.InstallBuiltins(paths.WorkflowsDir()); err != nil {
			return err
		}

		p.Success("Initialized croak project %q in %s", name, paths.Root)
		p.Info("")
		p.Info("Next steps:")
		p.Step("Put images in data/raw/ and YOLO labels in data/annotations/")
		p.Step("Run 'croak prepare' to validate and split the dataset")
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the pipeline state",
	Long:  "Replace .croak/pipeline-state.yaml with a fresh document. Config, datasets and handoffs are kept.",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		p := printer.New(cmd.OutOrStdout())
		if !yes {
			return p.Error("refusing to reset without confirmation", "This discards all recorded stages and experiments.",
				[]string{"Re-run with --yes"})
		}

		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if _, err := a.store.Reset(); err != nil {
			return err
		}
		a.ledger.Event(cmd.Context(), "reset", "", "")
		p.Success("Pipeline state reset")
		return nil
	},
}

func init() {
	initCmd.Flags().String("name", "", "project name (defaults to the directory name)")
	resetCmd.Flags().Bool("yes", false, "confirm the reset")
}
