// Package contract validates stage handoff payloads against named schemas and
// stores the resulting handoff documents.
package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"maps"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"gopkg.in/yaml.v3"
)

// ErrSchemaNotFound is returned when no schema file exists for a contract.
var ErrSchemaNotFound = errors.New("contract schema not found")

// schemaSuffixes are tried in order when resolving a contract name.
var schemaSuffixes = []string{".schema.yaml", ".schema.json", ".yaml", ".json"}

// FieldError is one schema violation.
type FieldError struct {
	Path    string `json:"path" yaml:"path"`
	Message string `json:"message" yaml:"message"`
	Value   any    `json:"value,omitempty" yaml:"value,omitempty"`
}

// Report is the outcome of validating a payload.
type Report struct {
	Valid       bool         `json:"valid" yaml:"valid"`
	Contract    string       `json:"contract" yaml:"contract"`
	Errors      []FieldError `json:"errors" yaml:"errors"`
	ValidatedAt string       `json:"validated_at" yaml:"validated_at"`
}

// Messages returns the error messages of the report.
func (r *Report) Messages() []string {
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		if e.Path != "" {
			out[i] = e.Path + ": " + e.Message
		} else {
			out[i] = e.Message
		}
	}
	return out
}

// ValidationError is returned when a handoff payload fails its contract.
type ValidationError struct {
	Contract string
	Report   *Report
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("handoff validation failed for %s: %s", e.Contract, strings.Join(e.Report.Messages(), "; "))
}

// Validator resolves contract schemas from a directory and validates payloads.
// Resolved schemas are cached by contract name.
type Validator struct {
	dir   string
	clock clockwork.Clock
	cache *lru.Cache[string, *jsonschema.Resolved]
}

// NewValidator creates a Validator for the schemas in dir. A nil clock uses
// the real clock.
func NewValidator(dir string, clock clockwork.Clock) (*Validator, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	cache, err := lru.New[string, *jsonschema.Resolved](64)
	if err != nil {
		return nil, fmt.Errorf("create schema cache: %w", err)
	}
	return &Validator{dir: dir, clock: clock, cache: cache}, nil
}

// Dir returns the schema directory.
func (v *Validator) Dir() string {
	return v.dir
}

// SchemaPath returns the schema file used for name.
func (v *Validator) SchemaPath(name string) (string, error) {
	for _, suffix := range schemaSuffixes {
		path := filepath.Join(v.dir, name+suffix)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s in %s", ErrSchemaNotFound, name, v.dir)
}

// Schema loads and resolves the schema for name.
func (v *Validator) Schema(name string) (*jsonschema.Resolved, error) {
	if rs, ok := v.cache.Get(name); ok {
		return rs, nil
	}

	path, err := v.SchemaPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	if ext := filepath.Ext(path); ext == ".yaml" {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", path, err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("convert schema %s: %w", path, err)
		}
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", path, err)
	}
	rs, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema %s: %w", path, err)
	}
	v.cache.Add(name, rs)
	return rs, nil
}

// Validate checks payload against the named contract. The returned error is
// reserved for setup problems such as a missing schema; schema violations
// are reported in the Report.
func (v *Validator) Validate(name string, payload any) (*Report, error) {
	rs, err := v.Schema(name)
	if err != nil {
		return nil, err
	}
	instance, err := normalize(payload)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Contract:    name,
		Errors:      []FieldError{},
		ValidatedAt: v.clock.Now().UTC().Format(time.RFC3339),
	}
	if err := rs.Validate(instance); err != nil {
		report.Errors = fieldErrors(rs.Schema(), instance, err)
	}
	report.Valid = len(report.Errors) == 0
	return report, nil
}

// normalize converts payload into plain JSON values.
func normalize(payload any) (any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

// fieldErrors walks the schema alongside the instance and reports one entry
// per failing value, visiting required names and properties in sorted order.
// rootErr is the error already returned for the whole instance.
func fieldErrors(schema *jsonschema.Schema, instance any, rootErr error) []FieldError {
	var out []FieldError
	collect(schema, instance, nil, rootErr, &out)
	return out
}

func collect(s *jsonschema.Schema, v any, path []string, err error, out *[]FieldError) {
	before := len(*out)
	switch val := v.(type) {
	case map[string]any:
		missing := make([]string, 0, len(s.Required))
		for _, name := range s.Required {
			if _, ok := val[name]; !ok {
				missing = append(missing, name)
			}
		}
		sort.Strings(missing)
		for _, name := range missing {
			*out = append(*out, FieldError{Path: joinPath(path, name), Message: "required property is missing"})
		}
		for _, name := range slices.Sorted(maps.Keys(s.Properties)) {
			pv, ok := val[name]
			if !ok {
				continue
			}
			if childErr := validateValue(s.Properties[name], pv); childErr != nil {
				collect(s.Properties[name], pv, append(slices.Clone(path), name), childErr, out)
			}
		}
	case []any:
		if s.Items != nil {
			for i, item := range val {
				if childErr := validateValue(s.Items, item); childErr != nil {
					collect(s.Items, item, append(slices.Clone(path), strconv.Itoa(i)), childErr, out)
				}
			}
		}
	}
	if len(*out) == before {
		*out = append(*out, FieldError{Path: joinPath(path), Message: innermost(err), Value: display(v)})
	}
}

// validateValue validates v against a subschema. Subschemas that cannot be
// resolved on their own, such as ones using $ref, count as passing so the
// violation is reported at the enclosing value.
func validateValue(s *jsonschema.Schema, v any) error {
	rs, err := s.Resolve(nil)
	if err != nil {
		return nil
	}
	return rs.Validate(v)
}

// innermost strips the "validating <schema>: " prefixes the library wraps
// around every nested failure.
func innermost(err error) string {
	msg := err.Error()
	for strings.HasPrefix(msg, "validating ") {
		_, rest, ok := strings.Cut(msg, ": ")
		if !ok {
			break
		}
		msg = rest
	}
	return msg
}

func joinPath(path []string, more ...string) string {
	return strings.Join(append(slices.Clone(path), more...), "/")
}

// display returns v for the report, truncating long renderings.
func display(v any) any {
	switch val := v.(type) {
	case map[string]any, []any:
		if s := fmt.Sprint(val); len(s) > 100 {
			return s[:100]
		}
	case string:
		if len(val) > 100 {
			return val[:100]
		}
	}
	return v
}
