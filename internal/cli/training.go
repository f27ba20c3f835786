package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/lucasnoah/croak/internal/compute"
	"github.com/lucasnoah/croak/internal/config"
	"github.com/lucasnoah/croak/internal/contract"
	"github.com/lucasnoah/croak/internal/pipeline"
	"github.com/lucasnoah/croak/internal/platform"
	"github.com/lucasnoah/croak/internal/printer"
	"github.com/lucasnoah/croak/internal/training"
	"github.com/spf13/cobra"
)

// newEngine builds the training engine for a project. Tests replace it.
var newEngine = func(a *app) (training.Engine, error) {
	r, err := a.runner()
	if err != nil {
		return nil, err
	}
	return training.NewYOLO(r, a.paths.Root, clock, logger), nil
}

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate training time and GPU cost",
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
		arch := stringFlag(cmd, "architecture", a.cfg.Training.Architecture)
		epochs := intFlag(cmd, "epochs", a.cfg.Training.Epochs)
		images := intFlag(cmd, "images", ps.Artifacts.Dataset.Splits["train"])
		if images <= 0 {
			return errors.New("no training images recorded; run 'croak split' or pass --images")
		}

		p := printer.New(cmd.OutOrStdout())
		if gpu, _ := cmd.Flags().GetString("gpu"); gpu != "" {
			est := compute.EstimateTraining(arch, images, epochs, gpu)
			printEstimates(p, arch, images, epochs, []compute.Estimate{est})
			return nil
		}
		var ests []compute.Estimate
		for _, gpu := range compute.GPUs() {
			ests = append(ests, compute.EstimateTraining(arch, images, epochs, gpu))
		}
		printEstimates(p, arch, images, epochs, ests)
		return nil
	},
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a model on the prepared dataset",
	Long: `Train a detection model on data/processed.

--provider local runs yolo on this machine and waits for it to finish.
--provider modal renders a training script and submits it to Modal.
--provider vfrog trains the current platform iteration.`,
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
		if ps.DataYAMLPath == "" {
			return p.Error("no prepared dataset", "Training needs the data.yaml written by the split.",
				[]string{"Run 'croak prepare'"})
		}

		provider := stringFlag(cmd, "provider", a.cfg.Compute.Provider)
		ps.Training.Provider = provider
		if issues := ps.ProviderAnnotationIssues(); len(issues) > 0 {
			return errors.New(issues[0])
		}

		tc := a.cfg.Training
		req := training.TrainRequest{
			ExperimentID: training.NewExperimentID(clock.Now()),
			DataManifest: ps.DataYAMLPath,
			Architecture: stringFlag(cmd, "architecture", tc.Architecture),
			Epochs:       intFlag(cmd, "epochs", tc.Epochs),
			BatchSize:    intFlag(cmd, "batch", tc.BatchSize),
			ImageSize:    tc.ImageSize,
			Patience:     tc.Patience,
			Seed:         int64(tc.Seed),
			OutputDir:    a.paths.ExperimentsDir(),
			Timeout:      time.Duration(a.cfg.Compute.TimeoutHours) * time.Hour,
		}

		switch provider {
		case pipeline.ProviderLocal:
			return a.trainLocal(cmd.Context(), p, req)
		case pipeline.ProviderModal:
			return a.trainModal(cmd.Context(), p, req)
		case pipeline.ProviderPlatform:
			return a.trainPlatform(cmd.Context(), p, ps.Annotation.PlatformIterationID)
		default:
			return fmt.Errorf("unknown compute provider %q", provider)
		}
	},
}

func (a *app) startExperiment(ctx context.Context, provider string, req training.TrainRequest) error {
	var exp pipeline.Experiment
	_, err := a.store.Update(func(ps *pipeline.PipelineState) error {
		exp = pipeline.Experiment{
			ID:           req.ExperimentID,
			Status:       pipeline.ExperimentRunning,
			Started:      clock.Now().UTC().Format(time.RFC3339),
			Architecture: req.Architecture,
		}
		if err := ps.AddExperiment(exp); err != nil {
			return err
		}
		ps.CurrentStage = pipeline.StageTraining
		ps.Training.Provider = provider
		ps.Training.Architecture = req.Architecture
		ps.Training.ExperimentID = req.ExperimentID
		return nil
	})
	if err != nil {
		return err
	}
	a.ledger.Experiment(ctx, exp)
	return nil
}

func (a *app) failExperiment(ctx context.Context, id string, cause error) {
	ps, err := a.store.Update(func(ps *pipeline.PipelineState) error {
		ps.AddError(fmt.Sprintf("training %s failed: %v", id, cause))
		return ps.UpdateExperiment(id, func(e *pipeline.Experiment) {
			e.Status = pipeline.ExperimentFailed
			e.Completed = clock.Now().UTC().Format(time.RFC3339)
		})
	})
	if err != nil {
		logger.Warn("recording failed experiment", "experiment", id, "err", err)
		return
	}
	if e, ok := ps.Experiment(id); ok {
		a.ledger.Experiment(ctx, *e)
	}
}

func (a *app) trainLocal(ctx context.Context, p *printer.Printer, req training.TrainRequest) error {
	engine, err := newEngine(a)
	if err != nil {
		return err
	}
	started := clock.Now()
	if err := a.startExperiment(ctx, pipeline.ProviderLocal, req); err != nil {
		return err
	}
	p.Step("Training %s as %s", req.Architecture, req.ExperimentID)

	res, err := engine.Train(ctx, req)
	if err != nil {
		a.failExperiment(ctx, req.ExperimentID, err)
		return err
	}

	handoffs, err := a.handoffs()
	if err != nil {
		return err
	}
	ps, err := a.store.Load()
	if err != nil {
		return err
	}
	metrics := res.Metrics.Map()
	handoffPath, err := handoffs.CreateTraining(contract.TrainingHandoff{
		ModelPath:    res.ModelPath,
		Architecture: req.Architecture,
		Config: map[string]any{
			"epochs":     req.Epochs,
			"batch_size": req.BatchSize,
			"image_size": req.ImageSize,
			"patience":   req.Patience,
		},
		Experiment:      map[string]any{"id": req.ExperimentID},
		TrainingMetrics: metrics,
		Checkpoints:     res.Checkpoints,
		Compute:         map[string]any{"provider": pipeline.ProviderLocal, "duration_seconds": res.Duration.Seconds()},
		DatasetHash:     ps.Artifacts.Dataset.Checksum,
		RandomSeed:      req.Seed,
	})
	if err != nil {
		a.failExperiment(ctx, req.ExperimentID, err)
		return err
	}

	hours := res.Duration.Hours()
	ps, err = a.store.Update(func(ps *pipeline.PipelineState) error {
		err := ps.UpdateExperiment(req.ExperimentID, func(e *pipeline.Experiment) {
			e.Status = pipeline.ExperimentCompleted
			e.Completed = clock.Now().UTC().Format(time.RFC3339)
			e.Metrics = metrics
			e.ModelPath = res.ModelPath
		})
		if err != nil {
			return err
		}
		ps.Artifacts.Model = pipeline.ModelArtifact{
			Path:              res.ModelPath,
			Architecture:      req.Architecture,
			Framework:         a.cfg.Training.Framework,
			ExperimentID:      req.ExperimentID,
			Checkpoints:       res.Checkpoints,
			Metrics:           metrics,
			TrainingTimeHours: &hours,
			HandoffPath:       handoffPath,
		}
		a.finishStage(ctx, ps, pipeline.StageTraining, started, map[string]string{
			"model":   res.ModelPath,
			"handoff": handoffPath,
		})
		return nil
	})
	if err != nil {
		return err
	}
	if e, ok := ps.Experiment(req.ExperimentID); ok {
		a.ledger.Experiment(ctx, *e)
	}

	p.Success("Training complete: %s", a.paths.Rel(res.ModelPath))
	printMetrics(p, res.Metrics)
	p.Step("Next: croak evaluate")
	return nil
}

func (a *app) trainModal(ctx context.Context, p *printer.Printer, req training.TrainRequest) error {
	r, err := a.runner()
	if err != nil {
		return err
	}
	modal := compute.NewModal(r, a.paths.Root, logger)
	if setup := modal.CheckSetup(ctx); setup.Problem != "" {
		return errors.New(setup.Problem)
	}

	script, err := compute.TrainingScript(compute.TrainingSpec{
		ExperimentID: req.ExperimentID,
		Architecture: req.Architecture,
		DataDir:      filepath.Dir(req.DataManifest),
		GPU:          a.cfg.Compute.GPUType,
		Timeout:      req.Timeout,
		Epochs:       req.Epochs,
		BatchSize:    req.BatchSize,
		ImageSize:    req.ImageSize,
		Seed:         req.Seed,
		Patience:     req.Patience,
	})
	if err != nil {
		return err
	}
	scriptPath := filepath.Join(a.paths.ScriptsDir(), req.ExperimentID+"_modal.py")
	if err := pipeline.WriteAtomic(scriptPath, []byte(script)); err != nil {
		return fmt.Errorf("write training script: %w", err)
	}

	if err := a.startExperiment(ctx, pipeline.ProviderModal, req); err != nil {
		return err
	}
	if _, err := modal.RunTraining(ctx, scriptPath, true, 0); err != nil {
		a.failExperiment(ctx, req.ExperimentID, err)
		return err
	}
	p.Success("Submitted %s to Modal (%s)", req.ExperimentID, a.cfg.Compute.GPUType)
	p.Info("Script: %s", a.paths.Rel(scriptPath))
	return nil
}

func (a *app) trainPlatform(ctx context.Context, p *printer.Printer, iterationID string) error {
	if iterationID == "" {
		return p.Error("no platform iteration", "vfrog trains on its own annotated iterations.",
			[]string{"Annotate with vfrog and record the iteration with 'croak platform context --iteration <id>'"})
	}
	r, err := a.runner()
	if err != nil {
		return err
	}
	client := platform.NewClient(r, a.paths.Root)
	if _, err := client.TrainIteration(ctx, iterationID); err != nil {
		return err
	}
	if _, err := a.store.Update(func(ps *pipeline.PipelineState) error {
		ps.CurrentStage = pipeline.StageTraining
		ps.Training.Provider = pipeline.ProviderPlatform
		ps.Training.PlatformIterationID = iterationID
		return nil
	}); err != nil {
		return err
	}
	a.ledger.Event(ctx, "platform_training_started", pipeline.StageTraining, iterationID)
	p.Success("Training started for iteration %s", iterationID)
	return nil
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate the trained model against deployment thresholds",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := cmd.Context()
		ps, err := a.store.Load()
		if err != nil {
			return err
		}
		modelPath := stringFlag(cmd, "model", ps.Artifacts.Model.Path)
		if modelPath == "" || ps.DataYAMLPath == "" {
			return errors.New("no trained model; run 'croak train' or pass --model")
		}

		engine, err := newEngine(a)
		if err != nil {
			return err
		}
		started := clock.Now()
		ec := a.cfg.Evaluation
		split, _ := cmd.Flags().GetString("split")
		res, err := engine.Evaluate(ctx, training.EvalRequest{
			ModelPath:    modelPath,
			DataManifest: ps.DataYAMLPath,
			Confidence:   ec.Confidence,
			IoU:          ec.IoU,
			Split:        split,
		})
		if err != nil {
			return err
		}
		res.Judge(evaluationThresholds(ec))

		reportPath := filepath.Join(a.paths.ReportsDir(), fmt.Sprintf("evaluation-%s.md", started.UTC().Format("20060102-150405")))
		if err := pipeline.WriteAtomic(reportPath, []byte(res.Markdown())); err != nil {
			return fmt.Errorf("write report: %w", err)
		}

		handoffs, err := a.handoffs()
		if err != nil {
			return err
		}
		var failure map[string]any
		if len(res.Failures) > 0 {
			failure = map[string]any{"threshold_failures": res.Failures}
		}
		metrics := res.Metrics.Map()
		handoffPath, err := handoffs.CreateEvaluation(contract.EvaluationHandoff{
			ModelPath:            modelPath,
			EvaluationReportPath: reportPath,
			Metrics:              metrics,
			DeploymentReady:      res.DeploymentReady,
			RecommendedThreshold: res.RecommendedThreshold,
			FailureAnalysis:      failure,
		})
		if err != nil {
			return err
		}

		threshold := res.RecommendedThreshold
		if _, err := a.store.Update(func(ps *pipeline.PipelineState) error {
			ps.Artifacts.Evaluation = pipeline.EvaluationArtifact{
				ReportPath:           reportPath,
				Metrics:              metrics,
				DeploymentReady:      res.DeploymentReady,
				RecommendedThreshold: &threshold,
				HandoffPath:          handoffPath,
			}
			a.finishStage(ctx, ps, pipeline.StageEvaluation, started, map[string]string{
				"report":  reportPath,
				"handoff": handoffPath,
			})
			return nil
		}); err != nil {
			return err
		}

		p := printer.New(cmd.OutOrStdout())
		printMetrics(p, res.Metrics)
		if res.DeploymentReady {
			p.Success("Model meets deployment thresholds")
		} else {
			for _, f := range res.Failures {
				p.Warning("%s", f)
			}
		}
		p.Info("Report: %s", a.paths.Rel(reportPath))
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the trained model for edge deployment",
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
		format := stringFlag(cmd, "format", a.cfg.Deployment.EdgeFormat)
		if err := training.CheckFormat(format); err != nil {
			return err
		}
		modelPath := stringFlag(cmd, "model", ps.Artifacts.Model.Path)
		if modelPath == "" {
			return errors.New("no trained model; run 'croak train' or pass --model")
		}

		engine, err := newEngine(a)
		if err != nil {
			return err
		}
		out, err := engine.Export(cmd.Context(), training.ExportRequest{
			ModelPath: modelPath,
			Format:    format,
			ImageSize: a.cfg.Training.ImageSize,
			Half:      a.cfg.Deployment.Precision == "fp16",
		})
		if err != nil {
			return err
		}
		if _, err := a.store.Update(func(ps *pipeline.PipelineState) error {
			ps.Artifacts.Deployment.EdgeModelPath = out
			ps.Artifacts.Deployment.EdgeFormat = format
			return nil
		}); err != nil {
			return err
		}
		a.ledger.Event(cmd.Context(), "model_exported", pipeline.StageDeployment, out)
		printer.New(cmd.OutOrStdout()).Success("Exported %s: %s", format, a.paths.Rel(out))
		return nil
	},
}

func evaluationThresholds(c config.EvaluationConfig) training.Thresholds {
	return training.Thresholds{MinMAP50: c.MinMAP50, MinPrecision: c.MinPrecision, MinRecall: c.MinRecall}
}

func printMetrics(p *printer.Printer, m training.Metrics) {
	p.Table([]string{"Metric", "Value"}, [][]string{
		{"mAP50", fmt.Sprintf("%.4f", m.MAP50)},
		{"mAP50-95", fmt.Sprintf("%.4f", m.MAP5095)},
		{"Precision", fmt.Sprintf("%.4f", m.Precision)},
		{"Recall", fmt.Sprintf("%.4f", m.Recall)},
		{"F1", fmt.Sprintf("%.4f", m.F1)},
	})
}

func printEstimates(p *printer.Printer, arch string, images, epochs int, ests []compute.Estimate) {
	p.Header("%s, %d images, %d epochs", arch, images, epochs)
	rows := make([][]string, 0, len(ests))
	for _, e := range ests {
		rows = append(rows, []string{
			e.GPU,
			fmt.Sprintf("$%.2f", e.RatePerHour),
			fmt.Sprintf("%.2f", e.Hours),
			fmt.Sprintf("$%.2f", e.CostUSD),
		})
	}
	p.Table([]string{"GPU", "Rate/h", "Hours", "Cost"}, rows)
}

// stringFlag returns the flag value when it was set, otherwise def.
func stringFlag(cmd *cobra.Command, name, def string) string {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetString(name)
		return v
	}
	return def
}

func intFlag(cmd *cobra.Command, name string, def int) int {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetInt(name)
		return v
	}
	return def
}

func init() {
	estimateCmd.Flags().String("architecture", "", "model architecture (defaults to config)")
	estimateCmd.Flags().Int("epochs", 0, "epochs (defaults to config)")
	estimateCmd.Flags().Int("images", 0, "training images (defaults to the recorded train split)")
	estimateCmd.Flags().String("gpu", "", "GPU type; all GPUs are listed when omitted")

	trainCmd.Flags().String("provider", "", "compute provider: local, modal or vfrog (defaults to config)")
	trainCmd.Flags().String("architecture", "", "model architecture (defaults to config)")
	trainCmd.Flags().Int("epochs", 0, "epochs (defaults to config)")
	trainCmd.Flags().Int("batch", 0, "batch size (defaults to config)")

	evaluateCmd.Flags().String("model", "", "weights to evaluate (defaults to the trained model)")
	evaluateCmd.Flags().String("split", "test", "dataset split to evaluate on")

	exportCmd.Flags().String("format", "", "export format: "+fmt.Sprint(training.FormatNames()))
	exportCmd.Flags().String("model", "", "weights to export (defaults to the trained model)")
}
