package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lucasnoah/croak/internal/db"
	"github.com/lucasnoah/croak/internal/printer"
	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the Postgres event ledger",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, _, cleanup, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if err := d.Migrate(cmd.Context()); err != nil {
			return err
		}
		printer.New(cmd.OutOrStdout()).Success("Ledger schema is up to date")
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate the ledger tables (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to drop ledger tables without --yes")
		}
		d, _, cleanup, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if err := d.Reset(cmd.Context()); err != nil {
			return err
		}
		printer.New(cmd.OutOrStdout()).Success("Ledger reset")
		return nil
	},
}

var dbEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent pipeline events for this project",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, project, cleanup, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if err := d.Migrate(cmd.Context()); err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		events, err := d.GetPipelineHistory(cmd.Context(), project, limit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No events recorded.")
			return nil
		}
		rows := make([][]string, 0, len(events))
		for _, e := range events {
			rows = append(rows, []string{e.Timestamp.Local().Format(time.DateTime), e.Event, orNone(e.Stage), e.Detail})
		}
		printer.New(cmd.OutOrStdout()).Table([]string{"Time", "Event", "Stage", "Detail"}, rows)
		return nil
	},
}

var dbExperimentsCmd = &cobra.Command{
	Use:   "experiments",
	Short: "List experiments recorded for this project",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, project, cleanup, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if err := d.Migrate(cmd.Context()); err != nil {
			return err
		}
		exps, err := d.ListExperiments(cmd.Context(), project)
		if err != nil {
			return err
		}
		if len(exps) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No experiments recorded.")
			return nil
		}
		rows := make([][]string, 0, len(exps))
		for _, e := range exps {
			rows = append(rows, []string{e.ID, e.Status, e.Architecture, formatMetric(e.Metrics, "mAP50")})
		}
		printer.New(cmd.OutOrStdout()).Table([]string{"Experiment", "Status", "Architecture", "mAP50"}, rows)
		return nil
	},
}

// openDB connects to the ledger database named by the project's tracking
// config, returning it with the project name and a cleanup func.
func openDB(ctx context.Context) (*db.DB, string, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", nil, err
	}
	dsn := os.Getenv(cfg.Tracking.DatabaseURLEnv)
	if dsn == "" {
		return nil, "", nil, fmt.Errorf("%s is not set", cfg.Tracking.DatabaseURLEnv)
	}
	d, err := db.Open(ctx, dsn)
	if err != nil {
		return nil, "", nil, err
	}
	return d, cfg.ProjectName, func() { d.Close() }, nil
}

func init() {
	dbResetCmd.Flags().Bool("yes", false, "confirm dropping the ledger tables")
	dbEventsCmd.Flags().Int("limit", 50, "maximum number of events")

	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
	dbCmd.AddCommand(dbEventsCmd)
	dbCmd.AddCommand(dbExperimentsCmd)
}
