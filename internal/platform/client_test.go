package platform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/croak/internal/runner"
)

type call struct {
	args     []string
	deadline time.Duration
}

type fakeCmd struct {
	calls  []call
	stdout string
	code   int
}

func (f *fakeCmd) Run(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	var d time.Duration
	if dl, ok := ctx.Deadline(); ok {
		d = time.Until(dl)
	}
	f.calls = append(f.calls, call{args: append([]string{name}, args...), deadline: d})
	return f.stdout, "", f.code, nil
}

func newClient(stdout string) (*Client, *fakeCmd) {
	fake := &fakeCmd{stdout: stdout}
	return NewClient(runner.New(fake, runner.DefaultPolicy(), nil), ""), fake
}

func TestCommandShapes(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		run  func(c *Client) error
		want []string
	}{
		{"config show", func(c *Client) error { _, err := c.GetConfig(ctx); return err },
			[]string{"vfrog", "config", "show", "--json"}},
		{"set organisation", func(c *Client) error { _, err := c.SetOrganisation(ctx, "org-123"); return err },
			[]string{"vfrog", "config", "set", "organisation", "--organisation_id", "org-123", "--json"}},
		{"upload urls", func(c *Client) error {
			_, err := c.UploadImages(ctx, ImageSource{URLs: []string{"https://e.com/1.jpg", "https://e.com/2.jpg"}})
			return err
		}, []string{"vfrog", "dataset_images", "upload", "https://e.com/1.jpg", "https://e.com/2.jpg", "--json"}},
		{"upload dir", func(c *Client) error { _, err := c.UploadImages(ctx, ImageSource{Dir: "/imgs"}); return err },
			[]string{"vfrog", "dataset_images", "upload", "--dir", "/imgs", "--json"}},
		{"create object", func(c *Client) error {
			_, err := c.CreateObject(ctx, ObjectSpec{File: "/p.jpg", Label: "my-product"})
			return err
		}, []string{"vfrog", "objects", "create", "--file", "/p.jpg", "--label", "my-product", "--json"}},
		{"create iteration", func(c *Client) error { _, err := c.CreateIteration(ctx, "obj-123", 20); return err },
			[]string{"vfrog", "iterations", "create", "obj-123", "--random", "20", "--json"}},
		{"ssat", func(c *Client) error {
			_, err := c.RunSSAT(ctx, "iter-1", SSATOptions{Random: 40, Restart: true, Industry: "retail"})
			return err
		}, []string{"vfrog", "iterations", "ssat", "--iteration_id", "iter-1", "--random", "40", "--restart", "--industry", "retail", "--json"}},
		{"list iterations", func(c *Client) error { _, err := c.ListIterations(ctx, ""); return err },
			[]string{"vfrog", "iterations", "list", "--json"}},
		{"export default dir", func(c *Client) error { _, err := c.ExportYOLO(ctx, "iter-1", ""); return err },
			[]string{"vfrog", "export", "yolo", "--iteration_id", "iter-1", "--output", "./export", "--json"}},
		{"inference url", func(c *Client) error {
			_, err := c.Inference(ctx, InferenceRequest{ImageURL: "https://e.com/x.jpg", APIKey: "k"})
			return err
		}, []string{"vfrog", "inference", "--image_url", "https://e.com/x.jpg", "--api-key", "k", "--json"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, fake := newClient(`{}`)
			require.NoError(t, tt.run(c))
			require.Len(t, fake.calls, 1)
			assert.Equal(t, tt.want, fake.calls[0].args)
		})
	}
}

func TestLongOperationsGetLongerTimeouts(t *testing.T) {
	c, fake := newClient(`{"status":"training"}`)
	_, err := c.TrainIteration(context.Background(), "iter-1")
	require.NoError(t, err)
	_, err = c.IterationStatus(context.Background(), "iter-1", true)
	require.NoError(t, err)
	_, err = c.ListProjects(context.Background())
	require.NoError(t, err)

	require.Len(t, fake.calls, 3)
	assert.Greater(t, fake.calls[0].deadline, 50*time.Minute)
	assert.Greater(t, fake.calls[1].deadline, 9*time.Minute)
	assert.LessOrEqual(t, fake.calls[2].deadline, runner.DefaultTimeout)
}

func TestInputValidation(t *testing.T) {
	ctx := context.Background()
	c, fake := newClient(`{}`)

	_, err := c.UploadImages(ctx, ImageSource{URLs: []string{"--malicious-flag"}})
	assert.ErrorContains(t, err, "must not start with")
	_, err = c.UploadImages(ctx, ImageSource{URLs: []string{"ftp://e.com/a.jpg"}})
	assert.ErrorContains(t, err, "http:// or https://")
	_, err = c.UploadImages(ctx, ImageSource{})
	assert.Error(t, err)
	_, err = c.CreateObject(ctx, ObjectSpec{URL: "https://e.com/a.jpg", Label: "-x"})
	assert.ErrorContains(t, err, "must not start with")
	_, err = c.DeleteObject(ctx, "--all")
	assert.ErrorContains(t, err, "must not start with")
	_, err = c.RunSSAT(ctx, "-i", SSATOptions{})
	assert.ErrorContains(t, err, "must not start with")
	_, err = c.Inference(ctx, InferenceRequest{ImageURL: "file:///etc/passwd"})
	assert.ErrorContains(t, err, "http:// or https://")

	assert.Empty(t, fake.calls)
}

func TestAuthenticated(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		code   int
		want   bool
	}{
		{"true", `{"authenticated": true, "organisation_id": "org-1"}`, 0, true},
		{"false", `{"authenticated": false}`, 0, false},
		{"command fails", ``, 1, false},
		{"not json", `some string`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, fake := newClient(tt.stdout)
			fake.code = tt.code
			assert.Equal(t, tt.want, c.Authenticated(context.Background()))
		})
	}
}

func TestSetContextOrder(t *testing.T) {
	ctx := context.Background()
	c, fake := newClient(`{}`)

	err := c.SetContext(ctx, Selection{ProjectID: "p"})
	assert.ErrorIs(t, err, ErrContextOrder)
	err = c.SetContext(ctx, Selection{OrganisationID: "o", ObjectID: "x"})
	assert.ErrorIs(t, err, ErrContextOrder)
	assert.Empty(t, fake.calls)

	require.NoError(t, c.SetContext(ctx, Selection{OrganisationID: "o", ProjectID: "p", ObjectID: "x"}))
	require.Len(t, fake.calls, 3)
	assert.Equal(t, "organisation", fake.calls[0].args[3])
	assert.Equal(t, "project", fake.calls[1].args[3])
	assert.Equal(t, "object", fake.calls[2].args[3])
}

func TestOutputParsing(t *testing.T) {
	c, _ := newClient(`{"halo_url": "https://halo.vfrog.ai/review/iter-1"}`)
	u, err := c.HaloURL(context.Background(), "iter-1")
	require.NoError(t, err)
	assert.Equal(t, "https://halo.vfrog.ai/review/iter-1", u)

	out := parseOutput("Logged in\n")
	assert.False(t, out.IsJSON())
	assert.Equal(t, "Logged in", out.Raw)
	assert.Nil(t, out.Object())
	var v map[string]any
	assert.Error(t, out.Decode(&v))
}

func TestExitErrorKeepsKind(t *testing.T) {
	c, fake := newClient("")
	fake.code = 2
	_, err := c.ListObjects(context.Background())
	assert.True(t, runner.IsKind(err, runner.KindExit))
}

func TestValidateAPIKey(t *testing.T) {
	assert.Error(t, ValidateAPIKey(""))
	assert.Error(t, ValidateAPIKey("short"))
	assert.Error(t, ValidateAPIKey("sk-0123456789abcdefghijklmnop"))
	assert.NoError(t, ValidateAPIKey("vfrog_0123456789abcdefghij"))
}
