package contract

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lucasnoah/croak/internal/pipeline"
)

// Document is a persisted handoff. It is never modified after being written.
type Document struct {
	Contract  string         `yaml:"contract"`
	FromAgent string         `yaml:"from_agent"`
	ToAgent   string         `yaml:"to_agent"`
	CreatedAt string         `yaml:"created_at"`
	Data      map[string]any `yaml:"data"`
}

// Handoffs writes and finds handoff documents in a directory.
type Handoffs struct {
	dir       string
	validator *Validator
	clock     clockwork.Clock
	logger    *slog.Logger
}

// NewHandoffs creates a Handoffs store in dir. A nil clock uses the real
// clock and a nil logger discards output.
func NewHandoffs(dir string, v *Validator, clock clockwork.Clock, logger *slog.Logger) *Handoffs {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handoffs{dir: dir, validator: v, clock: clock, logger: logger}
}

// Dir returns the handoff directory.
func (h *Handoffs) Dir() string {
	return h.dir
}

// Create validates payload against contract and writes a handoff document
// named {from}-to-{to}-{timestamp}.yaml. Nothing is written when the
// payload is invalid; the returned *ValidationError carries every violation.
func (h *Handoffs) Create(contract, from, to string, payload any) (string, error) {
	report, err := h.validator.Validate(contract, payload)
	if err != nil {
		return "", err
	}
	if !report.Valid {
		return "", &ValidationError{Contract: contract, Report: report}
	}

	data, err := normalize(payload)
	if err != nil {
		return "", err
	}
	fields, ok := data.(map[string]any)
	if !ok {
		return "", fmt.Errorf("handoff payload for %s must be an object", contract)
	}

	now := h.clock.Now().UTC()
	doc := Document{
		Contract:  contract,
		FromAgent: from,
		ToAgent:   to,
		CreatedAt: now.Format(time.RFC3339),
		Data:      fields,
	}

	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", h.dir, err)
	}
	path, err := h.freePath(fmt.Sprintf("%s-to-%s-%s", from, to, now.Format("20060102-150405")))
	if err != nil {
		return "", err
	}
	if err := pipeline.WriteYAML(path, doc, ""); err != nil {
		return "", fmt.Errorf("write handoff: %w", err)
	}
	h.logger.Info("handoff created", "contract", contract, "from", from, "to", to, "path", path)
	return path, nil
}

// freePath returns a path for base that does not exist yet, adding a
// numeric suffix when handoffs are created within the same second.
func (h *Handoffs) freePath(base string) (string, error) {
	path := filepath.Join(h.dir, base+".yaml")
	for i := 2; ; i++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path, nil
		}
		if i > 99 {
			return "", fmt.Errorf("too many handoffs named %s", base)
		}
		path = filepath.Join(h.dir, fmt.Sprintf("%s-%02d.yaml", base, i))
	}
}

// Read loads a handoff document and re-validates its data.
func (h *Handoffs) Read(path string) (*Document, *Report, error) {
	var doc Document
	if err := pipeline.ReadYAML(path, &doc); err != nil {
		return nil, nil, fmt.Errorf("read handoff: %w", err)
	}
	if doc.Contract == "" {
		return nil, nil, fmt.Errorf("read handoff %s: missing contract name", path)
	}
	report, err := h.validator.Validate(doc.Contract, doc.Data)
	if err != nil {
		return nil, nil, err
	}
	return &doc, report, nil
}

// List returns the handoff files matching the optional from and to agent
// filters, newest first by modification time.
func (h *Handoffs) List(from, to string) ([]string, error) {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", h.dir, err)
	}

	type candidate struct {
		path string
		name string
		mod  time.Time
	}
	var matches []candidate
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".yaml")
		if from != "" && !strings.HasPrefix(name, from+"-to-") {
			continue
		}
		if to != "" && !strings.Contains(name, "-to-"+to+"-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		matches = append(matches, candidate{filepath.Join(h.dir, e.Name()), name, info.ModTime()})
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].mod.Equal(matches[j].mod) {
			return matches[i].mod.After(matches[j].mod)
		}
		return matches[i].name > matches[j].name
	})
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.path
	}
	return out, nil
}

// FindLatest returns the newest matching handoff, or "" when none exists.
func (h *Handoffs) FindLatest(from, to string) (string, error) {
	paths, err := h.List(from, to)
	if err != nil || len(paths) == 0 {
		return "", err
	}
	return paths[0], nil
}
