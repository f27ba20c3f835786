package compute

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/croak/internal/runner"
)

type fakeCmd struct {
	calls  [][]string
	stdout string
	code   int
}

func (f *fakeCmd) Run(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.stdout, "", f.code, nil
}

func TestParseEndpoint(t *testing.T) {
	out := "✓ Created objects.\n├── 🔨 Created web function Detector.health => https://me--croak-app-detector-health.modal.run\n"
	assert.Equal(t, "https://me--croak-app-detector-health.modal.run", ParseEndpoint(out))
	assert.Empty(t, ParseEndpoint("no url here"))
	assert.Empty(t, ParseEndpoint("http://x.modal.run"))
}

func TestEstimateCost(t *testing.T) {
	e := EstimateCost("A100", 2)
	assert.Equal(t, 2.78, e.RatePerHour)
	assert.InDelta(t, 5.56, e.CostUSD, 1e-9)

	unknown := EstimateCost("TPU", 1.5)
	assert.Equal(t, 1.0, unknown.RatePerHour)
	assert.InDelta(t, 1.5, unknown.CostUSD, 1e-9)

	assert.Equal(t, []string{"T4", "A10G", "A100", "A100-80GB", "H100"}, GPUs())
}

func TestEstimateHours(t *testing.T) {
	// 1000 images, 100 epochs of yolov8s on a T4: 6000s plus setup.
	assert.InDelta(t, 1.75, EstimateHours("yolov8s", 1000, 100, "T4"), 1e-9)
	faster := EstimateHours("yolov8s", 1000, 100, "H100")
	assert.Less(t, faster, 1.75)
	assert.InDelta(t, 0.08, EstimateHours("yolov8n", 0, 10, "T4"), 1e-9)

	est := EstimateTraining("yolov8s", 1000, 100, "T4")
	assert.InDelta(t, 1.75*0.59, est.CostUSD, 0.006)
}

func TestTrainingScript(t *testing.T) {
	script, err := TrainingScript(TrainingSpec{
		ExperimentID: "exp-1",
		Architecture: "yolov8s",
		DataDir:      "/p/data/processed",
		GPU:          "A10G",
		Timeout:      4 * time.Hour,
		Epochs:       50,
		BatchSize:    16,
		ImageSize:    640,
		Seed:         42,
		Patience:     20,
	})
	require.NoError(t, err)
	assert.Contains(t, script, `app = modal.App("croak-exp-1")`)
	assert.Contains(t, script, `gpu="A10G"`)
	assert.Contains(t, script, "timeout=14400")
	assert.Contains(t, script, "epochs=50")
	assert.Contains(t, script, `YOLO("yolov8s.pt")`)
	assert.Contains(t, script, `from_local_dir("/p/data/processed"`)

	_, err = TrainingScript(TrainingSpec{})
	assert.Error(t, err)
}

func TestDeployScriptDefaults(t *testing.T) {
	script, err := DeployScript(DeploySpec{AppName: "croak-app", ModelPath: "/m/best.pt", GPU: "T4"})
	require.NoError(t, err)
	assert.Contains(t, script, "concurrency_limit=10")
	assert.Contains(t, script, "timeout=300")
	assert.Contains(t, script, `YOLO("/models/best.pt")`)
	assert.Contains(t, script, "conf: float = 0.25")
}

func TestDeploy(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "best.pt")
	require.NoError(t, os.WriteFile(model, []byte("w"), 0o644))

	fake := &fakeCmd{stdout: "deployed => https://acct--croak-app.modal.run\n"}
	m := NewModal(runner.New(fake, runner.DefaultPolicy(), nil), dir, nil)
	now := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

	d, err := m.Deploy(context.Background(), DeploySpec{AppName: "croak-app", ModelPath: model, GPU: "T4"}, filepath.Join(dir, "deployment"), now)
	require.NoError(t, err)
	assert.Equal(t, "https://acct--croak-app.modal.run", d.Endpoint)
	assert.Equal(t, "2025-03-04T05:06:07Z", d.DeployedAt)
	assert.FileExists(t, d.ScriptPath)
	require.Len(t, fake.calls, 1)
	assert.Equal(t, []string{"modal", "deploy", d.ScriptPath}, fake.calls[0])
}

func TestDeployFailureKeepsScript(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "best.pt")
	require.NoError(t, os.WriteFile(model, []byte("w"), 0o644))

	fake := &fakeCmd{code: 1}
	m := NewModal(runner.New(fake, runner.DefaultPolicy(), nil), dir, nil)
	_, err := m.Deploy(context.Background(), DeploySpec{AppName: "a", ModelPath: model}, dir, time.Now())
	assert.True(t, runner.IsKind(err, runner.KindExit))
	assert.FileExists(t, filepath.Join(dir, "a_modal.py"))

	_, err = m.Deploy(context.Background(), DeploySpec{AppName: "a", ModelPath: filepath.Join(dir, "missing.pt")}, dir, time.Now())
	assert.ErrorContains(t, err, "model not found")
}

func TestRunTrainingArgs(t *testing.T) {
	fake := &fakeCmd{}
	m := NewModal(runner.New(fake, runner.DefaultPolicy(), nil), "", nil)
	_, err := m.RunTraining(context.Background(), "s.py", true, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"modal", "run", "--detach", "s.py"}, fake.calls[0])
}
