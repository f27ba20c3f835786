package cli

import (
	"fmt"
	"os"

	"github.com/lucasnoah/croak/internal/pipeline"
	"github.com/lucasnoah/croak/internal/platform"
	"github.com/lucasnoah/croak/internal/printer"
	"github.com/spf13/cobra"
)

var platformCmd = &cobra.Command{
	Use:   "platform",
	Short: "Work with the vfrog annotation and training platform",
}

var platformCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the vfrog CLI is installed and logged in",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		r, err := a.runner()
		if err != nil {
			return err
		}
		client := platform.NewClient(r, a.paths.Root)
		p := printer.New(cmd.OutOrStdout())
		if !client.Installed() {
			return p.Error("vfrog CLI not found", "", []string{"Install the vfrog CLI and make sure it is on PATH"})
		}
		p.Success("vfrog CLI installed")

		cfg, err := client.GetConfig(cmd.Context())
		if err != nil || !cfg.Authenticated {
			return p.Error("vfrog CLI is not logged in", "", []string{"Run 'vfrog login'"})
		}
		p.Success("Logged in")
		p.KeyValues([][2]string{
			{"Organisation", orNone(cfg.OrganisationID)},
			{"Project", orNone(cfg.ProjectID)},
			{"Object", orNone(cfg.ObjectID)},
		})

		if err := platform.ValidateAPIKey(os.Getenv(a.cfg.Platform.APIKeyEnv)); err != nil {
			p.Warning("%s: %v (needed for inference)", a.cfg.Platform.APIKeyEnv, err)
		}
		return nil
	},
}

var platformContextCmd = &cobra.Command{
	Use:   "context",
	Short: "Select the organisation, project and object to work in",
	Long: `Select the vfrog organisation, project and object, in that order.
A level can only be set together with its parent. --iteration records the
annotation iteration that 'croak train --provider vfrog' will train.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		flags := cmd.Flags()
		var sel platform.Selection
		sel.OrganisationID, _ = flags.GetString("organisation")
		sel.ProjectID, _ = flags.GetString("project")
		sel.ObjectID, _ = flags.GetString("object")
		iteration, _ := flags.GetString("iteration")

		r, err := a.runner()
		if err != nil {
			return err
		}
		if err := platform.NewClient(r, a.paths.Root).SetContext(cmd.Context(), sel); err != nil {
			return err
		}

		if _, err := a.store.Update(func(ps *pipeline.PipelineState) error {
			if sel.ProjectID != "" {
				ps.Artifacts.Dataset.PlatformProjectID = sel.ProjectID
			}
			if sel.ObjectID != "" {
				ps.Annotation.PlatformObjectID = sel.ObjectID
			}
			if iteration != "" {
				ps.Annotation.Source = pipeline.SourcePlatform
				ps.Annotation.PlatformIterationID = iteration
			}
			return nil
		}); err != nil {
			return err
		}
		a.ledger.Event(cmd.Context(), "platform_context", "", fmt.Sprintf("%s/%s/%s", sel.OrganisationID, sel.ProjectID, sel.ObjectID))
		printer.New(cmd.OutOrStdout()).Success("Platform context updated")
		return nil
	},
}

func init() {
	platformContextCmd.Flags().String("organisation", "", "organisation id")
	platformContextCmd.Flags().String("project", "", "project id")
	platformContextCmd.Flags().String("object", "", "object id")
	platformContextCmd.Flags().String("iteration", "", "annotation iteration id")

	platformCmd.AddCommand(platformCheckCmd)
	platformCmd.AddCommand(platformContextCmd)
}
