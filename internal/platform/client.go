package platform

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lucasnoah/croak/internal/runner"
)

// Binary is the platform CLI executable.
const Binary = "vfrog"

// Timeouts for the long-running platform operations.
const (
	WatchTimeout  = 10 * time.Minute
	ExportTimeout = 10 * time.Minute
	TrainTimeout  = time.Hour
)

// ErrContextOrder is returned when a context level is set before its parent.
var ErrContextOrder = errors.New("platform context must be set in order organisation, project, object")

// Client invokes the platform CLI through a runner. Every call requests
// JSON output.
type Client struct {
	runner *runner.Runner
	dir    string
}

// NewClient creates a Client. Commands run in dir.
func NewClient(r *runner.Runner, dir string) *Client {
	return &Client{runner: r, dir: dir}
}

func (c *Client) call(ctx context.Context, timeout time.Duration, args ...string) (*Output, error) {
	argv := append([]string{Binary}, args...)
	argv = append(argv, "--json")
	res, err := c.runner.Run(ctx, runner.Request{Args: argv, Dir: c.dir, Timeout: timeout})
	if err != nil {
		return nil, err
	}
	return parseOutput(res.Stdout), nil
}

// Installed reports whether the platform CLI is on PATH.
func (c *Client) Installed() bool {
	return c.runner.Available(Binary)
}

// Config is the platform CLI's current configuration.
type Config struct {
	Authenticated  bool   `json:"authenticated"`
	OrganisationID string `json:"organisation_id"`
	ProjectID      string `json:"project_id"`
	ObjectID       string `json:"object_id"`
}

// GetConfig returns the CLI configuration.
func (c *Client) GetConfig(ctx context.Context) (*Config, error) {
	out, err := c.call(ctx, 0, "config", "show")
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := out.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Authenticated reports whether the CLI has a logged-in session. Any
// failure counts as not authenticated.
func (c *Client) Authenticated(ctx context.Context) bool {
	cfg, err := c.GetConfig(ctx)
	return err == nil && cfg.Authenticated
}

// Login authenticates the CLI.
func (c *Client) Login(ctx context.Context, email, password string) (*Output, error) {
	if err := checkArgs("email", email, "password", password); err != nil {
		return nil, err
	}
	return c.call(ctx, 0, "login", "--email", email, "--password", password)
}

// SetOrganisation selects the active organisation.
func (c *Client) SetOrganisation(ctx context.Context, id string) (*Output, error) {
	return c.setConfig(ctx, "organisation", id)
}

// SetProject selects the active project.
func (c *Client) SetProject(ctx context.Context, id string) (*Output, error) {
	return c.setConfig(ctx, "project", id)
}

// SetObject selects the active object.
func (c *Client) SetObject(ctx context.Context, id string) (*Output, error) {
	return c.setConfig(ctx, "object", id)
}

func (c *Client) setConfig(ctx context.Context, level, id string) (*Output, error) {
	if err := checkArgs(level+"_id", id); err != nil {
		return nil, err
	}
	return c.call(ctx, 0, "config", "set", level, "--"+level+"_id", id)
}

// Selection is the organisation, project and object a session works in.
type Selection struct {
	OrganisationID string
	ProjectID      string
	ObjectID       string
}

// SetContext applies sel in order organisation, project, object. Empty
// trailing levels are skipped; a level without its parent is rejected
// before anything runs.
func (c *Client) SetContext(ctx context.Context, sel Selection) error {
	if sel.ObjectID != "" && sel.ProjectID == "" || sel.ProjectID != "" && sel.OrganisationID == "" {
		return ErrContextOrder
	}
	steps := []struct {
		id  string
		set func(context.Context, string) (*Output, error)
	}{
		{sel.OrganisationID, c.SetOrganisation},
		{sel.ProjectID, c.SetProject},
		{sel.ObjectID, c.SetObject},
	}
	for _, s := range steps {
		if s.id == "" {
			break
		}
		if _, err := s.set(ctx, s.id); err != nil {
			return err
		}
	}
	return nil
}

// ListOrganisations lists the organisations of the account.
func (c *Client) ListOrganisations(ctx context.Context) (*Output, error) {
	return c.call(ctx, 0, "organisations", "list")
}

// ListProjects lists projects in the active organisation.
func (c *Client) ListProjects(ctx context.Context) (*Output, error) {
	return c.call(ctx, 0, "projects", "list")
}

// CreateProject creates a project in the active organisation.
func (c *Client) CreateProject(ctx context.Context, name string) (*Output, error) {
	if err := checkArgs("name", name); err != nil {
		return nil, err
	}
	return c.call(ctx, 0, "projects", "create", name)
}

// ImageSource selects what to upload: URLs, a directory, or a single file.
type ImageSource struct {
	URLs []string
	Dir  string
	File string
}

// UploadImages uploads dataset images to the active project.
func (c *Client) UploadImages(ctx context.Context, src ImageSource) (*Output, error) {
	args := []string{"dataset_images", "upload"}
	switch {
	case len(src.URLs) > 0:
		for _, u := range src.URLs {
			if err := checkURL("url", u); err != nil {
				return nil, err
			}
		}
		args = append(args, src.URLs...)
	case src.Dir != "":
		if err := checkArgs("dir", src.Dir); err != nil {
			return nil, err
		}
		args = append(args, "--dir", src.Dir)
	case src.File != "":
		if err := checkArgs("file", src.File); err != nil {
			return nil, err
		}
		args = append(args, "--file", src.File)
	default:
		return nil, errors.New("one of urls, dir or file is required")
	}
	return c.call(ctx, ExportTimeout, args...)
}

// ListImages lists the dataset images of the active project.
func (c *Client) ListImages(ctx context.Context) (*Output, error) {
	return c.call(ctx, 0, "dataset_images", "list")
}

// DeleteImage removes a dataset image.
func (c *Client) DeleteImage(ctx context.Context, id string) (*Output, error) {
	if err := checkArgs("dataset_image_id", id); err != nil {
		return nil, err
	}
	return c.call(ctx, 0, "dataset_images", "delete", "--dataset_image_id", id)
}

// ObjectSpec describes a reference object to detect.
type ObjectSpec struct {
	URL        string
	File       string
	Label      string
	ExternalID string
}

// CreateObject creates a reference object from a URL or a local file.
func (c *Client) CreateObject(ctx context.Context, spec ObjectSpec) (*Output, error) {
	args := []string{"objects", "create"}
	switch {
	case spec.URL != "":
		if err := checkURL("url", spec.URL); err != nil {
			return nil, err
		}
		args = append(args, spec.URL)
	case spec.File != "":
		if err := checkArgs("file", spec.File); err != nil {
			return nil, err
		}
		args = append(args, "--file", spec.File)
	default:
		return nil, errors.New("one of url or file is required")
	}
	if spec.Label != "" {
		if err := checkArgs("label", spec.Label); err != nil {
			return nil, err
		}
		args = append(args, "--label", spec.Label)
	}
	if spec.ExternalID != "" {
		if err := checkArgs("external_id", spec.ExternalID); err != nil {
			return nil, err
		}
		args = append(args, "--external_id", spec.ExternalID)
	}
	return c.call(ctx, 0, args...)
}

// ListObjects lists reference objects in the active project.
func (c *Client) ListObjects(ctx context.Context) (*Output, error) {
	return c.call(ctx, 0, "objects", "list")
}

// DeleteObject removes a reference object.
func (c *Client) DeleteObject(ctx context.Context, id string) (*Output, error) {
	if err := checkArgs("object_id", id); err != nil {
		return nil, err
	}
	return c.call(ctx, 0, "objects", "delete", "--object_id", id)
}

// CreateIteration starts an annotation iteration over random images.
func (c *Client) CreateIteration(ctx context.Context, objectID string, random int) (*Output, error) {
	if err := checkArgs("object_id", objectID); err != nil {
		return nil, err
	}
	return c.call(ctx, 0, "iterations", "create", objectID, "--random", strconv.Itoa(random))
}

// ListIterations lists iterations, optionally for one object.
func (c *Client) ListIterations(ctx context.Context, objectID string) (*Output, error) {
	args := []string{"iterations", "list"}
	if objectID != "" {
		if err := checkArgs("object_id", objectID); err != nil {
			return nil, err
		}
		args = append(args, "--object_id", objectID)
	}
	return c.call(ctx, 0, args...)
}

// SSATOptions tunes an auto-annotation run.
type SSATOptions struct {
	Random   int
	Restart  bool
	Industry string
}

// RunSSAT starts auto-annotation for an iteration.
func (c *Client) RunSSAT(ctx context.Context, iterationID string, opts SSATOptions) (*Output, error) {
	if err := checkArgs("iteration_id", iterationID); err != nil {
		return nil, err
	}
	args := []string{"iterations", "ssat", "--iteration_id", iterationID}
	if opts.Random > 0 {
		args = append(args, "--random", strconv.Itoa(opts.Random))
	}
	if opts.Restart {
		args = append(args, "--restart")
	}
	if opts.Industry != "" {
		if err := checkArgs("industry", opts.Industry); err != nil {
			return nil, err
		}
		args = append(args, "--industry", opts.Industry)
	}
	return c.call(ctx, ExportTimeout, args...)
}

// HaloURL returns the human review URL of an iteration.
func (c *Client) HaloURL(ctx context.Context, iterationID string) (string, error) {
	out, err := c.iteration(ctx, 0, "halo", iterationID)
	if err != nil {
		return "", err
	}
	if u := out.String("halo_url"); u != "" {
		return u, nil
	}
	return out.Raw, nil
}

// IterationStatus reports an iteration's status. With watch the call
// blocks until the platform reports a terminal state.
func (c *Client) IterationStatus(ctx context.Context, iterationID string, watch bool) (*Output, error) {
	if !watch {
		return c.iteration(ctx, 0, "status", iterationID)
	}
	if err := checkArgs("iteration_id", iterationID); err != nil {
		return nil, err
	}
	return c.call(ctx, WatchTimeout, "iterations", "status", "--iteration_id", iterationID, "--watch")
}

// NextIteration creates the follow-up iteration.
func (c *Client) NextIteration(ctx context.Context, iterationID string) (*Output, error) {
	return c.iteration(ctx, 0, "next", iterationID)
}

// RestartIteration restarts an iteration.
func (c *Client) RestartIteration(ctx context.Context, iterationID string) (*Output, error) {
	return c.iteration(ctx, 0, "restart", iterationID)
}

// Annotations returns the annotations of an iteration.
func (c *Client) Annotations(ctx context.Context, iterationID string) (*Output, error) {
	return c.iteration(ctx, 0, "annotations", iterationID)
}

// TrainIteration trains a model on the platform from an iteration.
func (c *Client) TrainIteration(ctx context.Context, iterationID string) (*Output, error) {
	return c.iteration(ctx, TrainTimeout, "train", iterationID)
}

// DeployIteration deploys an iteration's model to the platform endpoint.
func (c *Client) DeployIteration(ctx context.Context, iterationID string) (*Output, error) {
	return c.iteration(ctx, 0, "deploy", iterationID)
}

func (c *Client) iteration(ctx context.Context, timeout time.Duration, sub, iterationID string) (*Output, error) {
	if err := checkArgs("iteration_id", iterationID); err != nil {
		return nil, err
	}
	return c.call(ctx, timeout, "iterations", sub, "--iteration_id", iterationID)
}

// ExportYOLO exports an iteration's annotations in YOLO format.
func (c *Client) ExportYOLO(ctx context.Context, iterationID, outputDir string) (*Output, error) {
	if outputDir == "" {
		outputDir = "./export"
	}
	if err := checkArgs("iteration_id", iterationID, "output", outputDir); err != nil {
		return nil, err
	}
	return c.call(ctx, ExportTimeout, "export", "yolo", "--iteration_id", iterationID, "--output", outputDir)
}

// InferenceRequest is a single hosted inference call.
type InferenceRequest struct {
	ImagePath string
	ImageURL  string
	APIKey    string
}

// Inference runs the deployed model on one image.
func (c *Client) Inference(ctx context.Context, req InferenceRequest) (*Output, error) {
	args := []string{"inference"}
	switch {
	case req.ImagePath != "":
		if err := checkArgs("image", req.ImagePath); err != nil {
			return nil, err
		}
		args = append(args, "--image", req.ImagePath)
	case req.ImageURL != "":
		if err := checkURL("image_url", req.ImageURL); err != nil {
			return nil, err
		}
		args = append(args, "--image_url", req.ImageURL)
	default:
		return nil, errors.New("one of image path or image url is required")
	}
	if req.APIKey != "" {
		if err := checkArgs("api_key", req.APIKey); err != nil {
			return nil, err
		}
		args = append(args, "--api-key", req.APIKey)
	}
	return c.call(ctx, 0, args...)
}

// checkArgs takes name/value pairs and rejects values that would be parsed
// as flags.
func checkArgs(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.HasPrefix(pairs[i+1], "-") {
			return fmt.Errorf("%s must not start with '-': %q", pairs[i], pairs[i+1])
		}
	}
	return nil
}

func checkURL(name, value string) error {
	if err := checkArgs(name, value); err != nil {
		return err
	}
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		return fmt.Errorf("%s must start with http:// or https://: %q", name, value)
	}
	return nil
}

// ValidateAPIKey checks the shape of a platform API key.
func ValidateAPIKey(key string) error {
	switch {
	case key == "":
		return errors.New("VFROG_API_KEY cannot be empty")
	case len(key) < 20:
		return errors.New("invalid VFROG_API_KEY format: key too short")
	case strings.HasPrefix(key, "sk-"):
		return errors.New("this looks like an OpenAI key, not a vfrog key")
	}
	return nil
}
