package runner

import (
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"
)

// Default timeouts for external commands.
const (
	DefaultTimeout = 5 * time.Minute
	MaxTimeout     = 4 * time.Hour
)

// Policy is a command whitelist with timeout bounds. A nil subcommand list
// allows any arguments.
type Policy struct {
	Allowed        map[string][]string
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
}

// DefaultPolicy allows the tools croak drives: the GPU platform CLI, the
// annotation platform CLI, python tooling, YOLO, and read-only git.
func DefaultPolicy() Policy {
	return Policy{
		Allowed: map[string][]string{
			"modal":      {"run", "token", "volume", "app", "deploy", "--version"},
			"python":     nil,
			"python3":    nil,
			"pip":        {"install", "list", "show", "freeze", "--version"},
			"pip3":       {"install", "list", "show", "freeze", "--version"},
			"uv":         {"pip", "venv", "run", "--version"},
			"nvidia-smi": nil,
			"nvcc":       {"--version"},
			"git":        {"--version", "status", "log", "diff", "rev-parse"},
			"yolo":       nil,
			"vfrog": {
				"login", "config", "organisations", "projects", "dataset_images",
				"objects", "iterations", "export", "inference", "--version",
			},
		},
		DefaultTimeout: DefaultTimeout,
		MaxTimeout:     MaxTimeout,
	}
}

// Check returns a KindNotAllowed *Error when args is not whitelisted. The
// base command is matched by file name so full paths work. A first argument
// that looks like a flag passes the subcommand check.
func (p Policy) Check(args []string) error {
	if len(args) == 0 {
		return &Error{Kind: KindNotAllowed, Err: fmt.Errorf("empty command")}
	}
	base := filepath.Base(args[0])
	subs, ok := p.Allowed[base]
	if !ok {
		return &Error{Kind: KindNotAllowed, Command: base, Err: fmt.Errorf(
			"command not allowed: '%s'. Allowed commands: %s", base, strings.Join(p.commands(), ", "))}
	}
	if subs == nil || len(args) < 2 {
		return nil
	}
	if slices.Contains(subs, args[1]) || strings.HasPrefix(args[1], "-") {
		return nil
	}
	return &Error{Kind: KindNotAllowed, Command: base, Err: fmt.Errorf(
		"subcommand not allowed: '%s %s'. Allowed for %s: %s", base, args[1], base, strings.Join(subs, ", "))}
}

// Clamp resolves a requested timeout: zero or negative means the default,
// anything above the ceiling is capped.
func (p Policy) Clamp(requested time.Duration) time.Duration {
	def, ceiling := p.DefaultTimeout, p.MaxTimeout
	if def <= 0 {
		def = DefaultTimeout
	}
	if ceiling <= 0 {
		ceiling = MaxTimeout
	}
	if requested <= 0 {
		requested = def
	}
	return min(requested, ceiling)
}

func (p Policy) commands() []string {
	out := make([]string, 0, len(p.Allowed))
	for name := range p.Allowed {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
