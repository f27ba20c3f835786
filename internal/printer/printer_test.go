package printer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func newTestPrinter(t *testing.T) (*Printer, *bytes.Buffer) {
	t.Helper()
	old := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = old })
	var buf bytes.Buffer
	return New(&buf), &buf
}

func TestMessages(t *testing.T) {
	p, buf := newTestPrinter(t)
	p.Success("split %d images", 100)
	p.Warning("low coverage")
	p.Failure("validation failed")
	p.Step("copying")
	p.Info("plain %s", "text")

	assert.Equal(t, "✓ split 100 images\n⚠ low coverage\n✗ validation failed\n→ copying\nplain text\n", buf.String())
}

func TestError(t *testing.T) {
	p, buf := newTestPrinter(t)
	err := p.Error("Not a croak project", "No .croak directory was found.", []string{"Run croak init", "cd into a project"})
	assert.EqualError(t, err, "Not a croak project")
	out := buf.String()
	assert.Contains(t, out, "Either:\n  1. Run croak init\n  2. cd into a project\n")
}

func TestTableAndKeyValues(t *testing.T) {
	p, buf := newTestPrinter(t)
	p.Table([]string{"split", "images"}, [][]string{{"train", "80"}, {"val", "15"}})
	out := buf.String()
	assert.Contains(t, out, "train")
	assert.Contains(t, out, "images")

	buf.Reset()
	p.KeyValues([][2]string{{"stage", "training"}, {"experiments", "2"}})
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Equal(t, strings.Index(lines[0], "training"), strings.Index(lines[1], "2"))
}
