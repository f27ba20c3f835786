package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/lucasnoah/croak/internal/config"
	"github.com/lucasnoah/croak/internal/contract"
	"github.com/lucasnoah/croak/internal/db"
	"github.com/lucasnoah/croak/internal/pipeline"
	"github.com/lucasnoah/croak/internal/project"
	"github.com/lucasnoah/croak/internal/runner"
	"github.com/lucasnoah/croak/internal/workflow"
)

// app bundles what a command needs from an initialized project.
type app struct {
	paths  project.Paths
	cfg    *config.ProjectConfig
	store  *pipeline.Store
	ledger *db.Ledger
}

// openApp finds the project, loads its config and opens the ledger. The
// returned cleanup closes the ledger.
func openApp(ctx context.Context) (*app, func(), error) {
	paths, err := project.Find(projectDir)
	if err != nil {
		return nil, nil, err
	}
	_ = godotenv.Load(filepath.Join(paths.Root, ".env"))

	cfg, err := config.Load(paths.ConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	a := &app{
		paths: paths,
		cfg:   cfg,
		store: pipeline.NewStore(paths.StatePath(), clock),
	}
	a.ledger = openLedger(ctx, cfg)
	return a, func() { a.ledger.Close() }, nil
}

// openLedger opens the event ledger when tracking is configured.
func openLedger(ctx context.Context, cfg *config.ProjectConfig) *db.Ledger {
	if cfg.Tracking.Backend != "postgres" {
		return db.Disabled()
	}
	dsn := os.Getenv(cfg.Tracking.DatabaseURLEnv)
	if dsn == "" {
		logger.Warn("tracking enabled but database url is unset", "env", cfg.Tracking.DatabaseURLEnv)
	}
	return db.OpenLedger(ctx, dsn, cfg.ProjectName, clock, logger)
}

func (a *app) runner() (*runner.Runner, error) {
	def, ceiling, err := a.cfg.RunnerTimeouts()
	if err != nil {
		return nil, err
	}
	policy := runner.DefaultPolicy()
	policy.DefaultTimeout = def
	policy.MaxTimeout = ceiling
	return runner.New(nil, policy, logger), nil
}

func (a *app) handoffs() (*contract.Handoffs, error) {
	v, err := contract.NewValidator(a.paths.ContractsDir(), clock)
	if err != nil {
		return nil, err
	}
	return contract.NewHandoffs(a.paths.HandoffsDir(), v, clock, logger), nil
}

func (a *app) executor() *workflow.Executor {
	return workflow.NewExecutor(a.paths.WorkflowsDir(), logger)
}

// finishStage completes stage in ps and records it in the ledger.
func (a *app) finishStage(ctx context.Context, ps *pipeline.PipelineState, stage string, started time.Time, artifacts map[string]string) {
	ps.FinishStage(stage, started, clock.Now(), artifacts)
	a.ledger.Event(ctx, "stage_completed", stage, "")
}
