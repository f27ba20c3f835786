// Package platform wraps the vfrog annotation and training platform CLI.
package platform

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Output is the stdout of a successful platform call. JSON holds the decoded
// document when stdout was valid JSON, otherwise only Raw is set.
type Output struct {
	Raw  string
	JSON any
}

func parseOutput(stdout string) *Output {
	out := &Output{Raw: strings.TrimSpace(stdout)}
	if out.Raw == "" {
		return out
	}
	var v any
	if err := json.Unmarshal([]byte(out.Raw), &v); err == nil {
		out.JSON = v
	}
	return out
}

// IsJSON reports whether the output was decoded as JSON.
func (o *Output) IsJSON() bool {
	return o.JSON != nil
}

// Object returns the output as a JSON object, or nil.
func (o *Output) Object() map[string]any {
	m, _ := o.JSON.(map[string]any)
	return m
}

// String returns the named string field of a JSON object output.
func (o *Output) String(key string) string {
	s, _ := o.Object()[key].(string)
	return s
}

// Decode unmarshals the raw output into v.
func (o *Output) Decode(v any) error {
	if !o.IsJSON() {
		return fmt.Errorf("platform output is not JSON: %q", truncate(o.Raw, 80))
	}
	return json.Unmarshal([]byte(o.Raw), v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
