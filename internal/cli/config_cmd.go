package cli

import (
	"fmt"
	"os"

	"github.com/lucasnoah/croak/internal/config"
	"github.com/lucasnoah/croak/internal/pipeline"
	"github.com/lucasnoah/croak/internal/printer"
	"github.com/lucasnoah/croak/internal/project"
	"github.com/spf13/cobra"
)

var configFile string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate and inspect project configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the project configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		p := printer.New(cmd.OutOrStdout())
		for _, w := range secretWarnings(cfg) {
			p.Warning("%s", w)
		}
		errs := config.Validate(cfg)
		if len(errs) == 0 {
			p.Success("Configuration is valid.")
			return nil
		}
		for _, e := range errs {
			p.Failure("%s", e)
		}
		return fmt.Errorf("config has %d validation error(s)", len(errs))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration with defaults merged",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := pipeline.MarshalYAML(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

// secretWarnings names the environment variables the configured providers
// need but that are unset.
func secretWarnings(cfg *config.ProjectConfig) []string {
	var out []string
	if cfg.Compute.Provider == "vfrog" && os.Getenv(cfg.Platform.APIKeyEnv) == "" {
		out = append(out, fmt.Sprintf("%s is not set; vfrog training and deployment will fail", cfg.Platform.APIKeyEnv))
	}
	if cfg.Tracking.Backend == "postgres" && os.Getenv(cfg.Tracking.DatabaseURLEnv) == "" {
		out = append(out, fmt.Sprintf("%s is not set; the event ledger stays disabled", cfg.Tracking.DatabaseURLEnv))
	}
	return out
}

// loadConfig reads --file when given, otherwise the config of the project
// containing --dir.
func loadConfig() (*config.ProjectConfig, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	paths, err := project.Find(projectDir)
	if err != nil {
		return nil, err
	}
	return config.Load(paths.ConfigPath())
}

func init() {
	configCmd.PersistentFlags().StringVarP(&configFile, "file", "f", "", "path to a config file (defaults to .croak/config.yaml)")
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}
