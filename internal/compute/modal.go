// Package compute drives the Modal serverless GPU platform: it renders
// training and inference scripts, submits them with the modal CLI and
// estimates cost.
package compute

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"text/template"
	"time"

	"github.com/lucasnoah/croak/internal/pipeline"
	"github.com/lucasnoah/croak/internal/runner"
)

// DeployTimeout bounds a modal deploy call.
const DeployTimeout = 10 * time.Minute

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

var endpointRE = regexp.MustCompile(`https://[a-zA-Z0-9-]+\.modal\.run`)

// ParseEndpoint returns the first Modal endpoint URL in out, or "".
func ParseEndpoint(out string) string {
	return endpointRE.FindString(out)
}

// TrainingSpec parameterizes a training script.
type TrainingSpec struct {
	ExperimentID string
	Architecture string
	DataDir      string
	GPU          string
	Timeout      time.Duration
	Epochs       int
	BatchSize    int
	ImageSize    int
	Seed         int64
	Patience     int
}

// TimeoutSeconds is the function timeout passed to Modal.
func (s TrainingSpec) TimeoutSeconds() int {
	return int(s.Timeout.Seconds())
}

// DeploySpec parameterizes an inference endpoint script.
type DeploySpec struct {
	AppName     string
	ModelPath   string
	GPU         string
	Concurrency int
	Timeout     time.Duration
	Confidence  float64
}

// ModelName is the weight file name inside the model volume.
func (s DeploySpec) ModelName() string {
	return filepath.Base(s.ModelPath)
}

// TimeoutSeconds is the request timeout passed to Modal.
func (s DeploySpec) TimeoutSeconds() int {
	return int(s.Timeout.Seconds())
}

// TrainingScript renders the Modal training script for spec.
func TrainingScript(spec TrainingSpec) (string, error) {
	if spec.ExperimentID == "" || spec.Architecture == "" || spec.DataDir == "" {
		return "", errors.New("experiment id, architecture and data dir are required")
	}
	return render("train.py.tmpl", spec)
}

// DeployScript renders the Modal inference script for spec.
func DeployScript(spec DeploySpec) (string, error) {
	if spec.AppName == "" || spec.ModelPath == "" {
		return "", errors.New("app name and model path are required")
	}
	if spec.Concurrency <= 0 {
		spec.Concurrency = 10
	}
	if spec.Timeout <= 0 {
		spec.Timeout = 5 * time.Minute
	}
	if spec.Confidence <= 0 {
		spec.Confidence = 0.25
	}
	return render("deploy.py.tmpl", spec)
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// Modal submits scripts with the modal CLI.
type Modal struct {
	runner *runner.Runner
	dir    string
	logger *slog.Logger
}

// NewModal creates a Modal client running commands in dir. A nil logger
// discards output.
func NewModal(r *runner.Runner, dir string, logger *slog.Logger) *Modal {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Modal{runner: r, dir: dir, logger: logger}
}

// Setup reports whether the modal CLI is usable.
type Setup struct {
	Installed     bool
	Authenticated bool
	Problem       string
}

// CheckSetup verifies the CLI is installed and holds a token.
func (m *Modal) CheckSetup(ctx context.Context) Setup {
	if !m.runner.Available("modal") {
		return Setup{Problem: "Modal not installed. Run: pip install modal"}
	}
	s := Setup{Installed: true}
	if _, err := m.runner.Run(ctx, runner.Request{Args: []string{"modal", "token", "show"}, Dir: m.dir}); err != nil {
		s.Problem = "Modal not authenticated. Run: modal token new"
		return s
	}
	s.Authenticated = true
	return s
}

// RunTraining runs a training script and blocks until it finishes, or
// returns immediately after submission when detach is set.
func (m *Modal) RunTraining(ctx context.Context, scriptPath string, detach bool, timeout time.Duration) (*runner.Result, error) {
	args := []string{"modal", "run"}
	if detach {
		args = append(args, "--detach")
	}
	args = append(args, scriptPath)
	return m.runner.Run(ctx, runner.Request{Args: args, Dir: m.dir, Timeout: timeout})
}

// Deployment is the outcome of a modal deploy.
type Deployment struct {
	AppName    string `json:"app_name" yaml:"app_name"`
	Endpoint   string `json:"endpoint_url" yaml:"endpoint_url"`
	ScriptPath string `json:"script_path" yaml:"script_path"`
	GPU        string `json:"gpu" yaml:"gpu"`
	DeployedAt string `json:"deployed_at" yaml:"deployed_at"`
}

// Deploy writes the inference script for spec into scriptDir and deploys it.
// The script is kept on failure so it can be deployed by hand.
func (m *Modal) Deploy(ctx context.Context, spec DeploySpec, scriptDir string, now time.Time) (*Deployment, error) {
	if _, err := os.Stat(spec.ModelPath); err != nil {
		return nil, fmt.Errorf("model not found: %s", spec.ModelPath)
	}
	script, err := DeployScript(spec)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(scriptDir, spec.AppName+"_modal.py")
	if err := pipeline.WriteAtomic(path, []byte(script)); err != nil {
		return nil, fmt.Errorf("write deploy script: %w", err)
	}

	res, err := m.runner.Run(ctx, runner.Request{Args: []string{"modal", "deploy", path}, Dir: m.dir, Timeout: DeployTimeout})
	if err != nil {
		return nil, fmt.Errorf("deploy %s (script kept at %s): %w", spec.AppName, path, err)
	}
	d := &Deployment{
		AppName:    spec.AppName,
		Endpoint:   ParseEndpoint(res.Stdout),
		ScriptPath: path,
		GPU:        spec.GPU,
		DeployedAt: now.UTC().Format(time.RFC3339),
	}
	m.logger.Info("modal deployment finished", "app", d.AppName, "endpoint", d.Endpoint)
	return d, nil
}
