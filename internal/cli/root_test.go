package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lucasnoah/croak/internal/config"
)

func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSubcommands := []string{
		"init", "status", "reset", "scan", "validate", "split", "prepare",
		"workflow", "handoff", "config", "estimate", "train", "evaluate",
		"export", "deploy", "analytics", "platform", "db", "version",
	}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestSubcommandHelp(t *testing.T) {
	groups := map[string][]string{
		"workflow":  {"list", "status", "next", "complete", "reset", "validate"},
		"handoff":   {"latest", "show"},
		"config":    {"validate", "show"},
		"deploy":    {"modal", "vfrog"},
		"analytics": {"stages", "experiments", "compare", "events"},
		"platform":  {"check", "context"},
		"db":        {"migrate", "reset", "events", "experiments"},
	}
	for group, subcmds := range groups {
		for _, sub := range subcmds {
			out, err := executeCommand(group, sub, "--help")
			if err != nil {
				t.Errorf("%s %s --help failed: %v", group, sub, err)
			}
			if out == "" {
				t.Errorf("%s %s --help produced no output", group, sub)
			}
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := executeCommand("nonexistent")
	if err == nil {
		t.Error("expected error for unknown command, got nil")
	}
}

func TestAppName(t *testing.T) {
	tests := map[string]string{
		"Bird Detector": "bird-detector-inference",
		"frogs_2024":    "frogs-2024-inference",
		"--":            "croak-inference",
	}
	for in, want := range tests {
		if got := appName(in); got != want {
			t.Errorf("appName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSplitRowsOrder(t *testing.T) {
	rows := splitRows(map[string]int{"test": 1, "extra": 4, "train": 16, "val": 3})
	var names []string
	for _, r := range rows {
		names = append(names, r[0])
	}
	if got := strings.Join(names, ","); got != "train,val,test,extra" {
		t.Errorf("split order = %s", got)
	}
}

func TestSecretWarnings(t *testing.T) {
	t.Setenv("CROAK_TEST_VFROG_KEY", "")
	cfg := &config.ProjectConfig{}
	cfg.Compute.Provider = "vfrog"
	cfg.Platform.APIKeyEnv = "CROAK_TEST_VFROG_KEY"
	cfg.Tracking.Backend = "none"

	warnings := secretWarnings(cfg)
	if len(warnings) != 1 || !strings.Contains(warnings[0], "CROAK_TEST_VFROG_KEY") {
		t.Errorf("warnings = %v", warnings)
	}

	t.Setenv("CROAK_TEST_VFROG_KEY", "vf_key")
	if warnings := secretWarnings(cfg); len(warnings) != 0 {
		t.Errorf("expected no warnings, got %v", warnings)
	}
}
