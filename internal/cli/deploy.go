package cli

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/lucasnoah/croak/internal/compute"
	"github.com/lucasnoah/croak/internal/pipeline"
	"github.com/lucasnoah/croak/internal/platform"
	"github.com/lucasnoah/croak/internal/printer"
	"github.com/spf13/cobra"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the trained model",
}

var deployModalCmd = &cobra.Command{
	Use:   "modal",
	Short: "Deploy a serverless inference endpoint on Modal",
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
		p := printer.New(cmd.OutOrStdout())
		modelPath := stringFlag(cmd, "model", ps.Artifacts.Model.Path)
		if modelPath == "" {
			return p.Error("no trained model", "", []string{"Run 'croak train'", "Pass --model <weights>"})
		}
		if !ps.Artifacts.Evaluation.DeploymentReady {
			p.Warning("The model has not passed evaluation thresholds")
		}

		r, err := a.runner()
		if err != nil {
			return err
		}
		modal := compute.NewModal(r, a.paths.Root, logger)
		if setup := modal.CheckSetup(ctx); setup.Problem != "" {
			return errors.New(setup.Problem)
		}

		confidence := a.cfg.Evaluation.Confidence
		if t := ps.Artifacts.Evaluation.RecommendedThreshold; t != nil {
			confidence = *t
		}
		started := clock.Now()
		d, err := modal.Deploy(ctx, compute.DeploySpec{
			AppName:    stringFlag(cmd, "app", appName(a.cfg.ProjectName)),
			ModelPath:  modelPath,
			GPU:        stringFlag(cmd, "gpu", a.cfg.Compute.GPUType),
			Confidence: confidence,
		}, filepath.Join(a.paths.DeploymentDir(), "cloud"), started)
		if err != nil {
			return err
		}

		if _, err := a.store.Update(func(ps *pipeline.PipelineState) error {
			ps.Deployment.Target = pipeline.ProviderModal
			ps.Artifacts.Deployment.CloudEndpoint = d.Endpoint
			a.finishStage(ctx, ps, pipeline.StageDeployment, started, map[string]string{
				"endpoint": d.Endpoint,
				"script":   d.ScriptPath,
			})
			return nil
		}); err != nil {
			return err
		}

		p.Success("Deployed %s", d.AppName)
		p.KeyValues([][2]string{
			{"Endpoint", orNone(d.Endpoint)},
			{"GPU", d.GPU},
			{"Script", a.paths.Rel(d.ScriptPath)},
		})
		return nil
	},
}

var deployPlatformCmd = &cobra.Command{
	Use:   "vfrog",
	Short: "Deploy the trained platform iteration",
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
		iteration := ps.Training.PlatformIterationID
		if iteration == "" {
			return errors.New("no platform iteration has been trained; run 'croak train --provider vfrog'")
		}
		keyEnv := a.cfg.Platform.APIKeyEnv
		if err := platform.ValidateAPIKey(os.Getenv(keyEnv)); err != nil {
			return err
		}

		r, err := a.runner()
		if err != nil {
			return err
		}
		started := clock.Now()
		out, err := platform.NewClient(r, a.paths.Root).DeployIteration(ctx, iteration)
		if err != nil {
			return err
		}

		if _, err := a.store.Update(func(ps *pipeline.PipelineState) error {
			ps.Deployment.Target = pipeline.ProviderPlatform
			ps.Deployment.APIKeyEnv = keyEnv
			ps.Artifacts.Deployment.CloudAPIKeyEnv = keyEnv
			ps.Artifacts.Deployment.CloudEndpoint = out.String("endpoint")
			ps.Artifacts.Deployment.CloudDashboard = out.String("dashboard_url")
			a.finishStage(ctx, ps, pipeline.StageDeployment, started, map[string]string{"iteration": iteration})
			return nil
		}); err != nil {
			return err
		}
		printer.New(cmd.OutOrStdout()).Success("Deployed iteration %s", iteration)
		return nil
	},
}

// appName turns a project name into a Modal app name.
func appName(project string) string {
	name := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return '-'
	}, project)
	name = strings.Trim(name, "-")
	if name == "" {
		name = "croak"
	}
	return name + "-inference"
}

func init() {
	deployModalCmd.Flags().String("model", "", "weights to deploy (defaults to the trained model)")
	deployModalCmd.Flags().String("app", "", "Modal app name (defaults to <project>-inference)")
	deployModalCmd.Flags().String("gpu", "", "GPU type (defaults to config)")

	deployCmd.AddCommand(deployModalCmd)
	deployCmd.AddCommand(deployPlatformCmd)
}
