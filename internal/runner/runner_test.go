package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// mockCmd records calls and returns configured results.
type mockCmd struct {
	calls   []mockCall
	results []mockResult
	callIdx int
	block   bool
}

type mockCall struct {
	Dir  string
	Env  []string
	Name string
	Args []string
}

type mockResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

func (m *mockCmd) Run(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	m.calls = append(m.calls, mockCall{Dir: dir, Env: env, Name: name, Args: args})
	if m.block {
		<-ctx.Done()
		return "", "", -1, nil
	}
	if m.callIdx >= len(m.results) {
		return "", "", 0, nil
	}
	r := m.results[m.callIdx]
	m.callIdx++
	return r.Stdout, r.Stderr, r.ExitCode, r.Err
}

func TestPolicy_Check(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		args []string
		ok   bool
	}{
		{[]string{"modal", "deploy", "x.py"}, true},
		{[]string{"/usr/local/bin/modal", "run", "x.py"}, true},
		{[]string{"modal", "shell"}, false},
		{[]string{"modal", "--help"}, true},
		{[]string{"modal"}, true},
		{[]string{"python", "anything", "goes"}, true},
		{[]string{"yolo", "detect", "train"}, true},
		{[]string{"git", "push"}, false},
		{[]string{"git", "status"}, true},
		{[]string{"vfrog", "iterations", "ssat"}, true},
		{[]string{"vfrog", "rm"}, false},
		{[]string{"rm", "-rf", "/"}, false},
		{nil, false},
	}
	for _, tt := range tests {
		err := p.Check(tt.args)
		if (err == nil) != tt.ok {
			t.Errorf("Check(%v) err = %v, want ok=%v", tt.args, err, tt.ok)
		}
		if err != nil && !IsKind(err, KindNotAllowed) {
			t.Errorf("Check(%v) kind mismatch: %v", tt.args, err)
		}
	}
}

func TestPolicy_CheckMessages(t *testing.T) {
	p := DefaultPolicy()
	err := p.Check([]string{"curl", "x"})
	if err == nil || !strings.Contains(err.Error(), "command not allowed: 'curl'") {
		t.Errorf("unexpected error: %v", err)
	}
	err = p.Check([]string{"git", "push"})
	if err == nil || !strings.Contains(err.Error(), "subcommand not allowed: 'git push'") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPolicy_Clamp(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		in, want time.Duration
	}{
		{0, 5 * time.Minute},
		{-time.Second, 5 * time.Minute},
		{time.Minute, time.Minute},
		{10 * time.Hour, 4 * time.Hour},
	}
	for _, tt := range tests {
		if got := p.Clamp(tt.in); got != tt.want {
			t.Errorf("Clamp(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
	if got := (Policy{}).Clamp(0); got != DefaultTimeout {
		t.Errorf("zero policy Clamp = %s, want %s", got, DefaultTimeout)
	}
}

func TestRunner_Run_HappyPath(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{Stdout: "ok\n"}}}
	r := New(mock, DefaultPolicy(), nil)

	res, err := r.Run(context.Background(), Request{Args: []string{"yolo", "version"}, Dir: "/tmp/x", Env: []string{"A=1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stdout != "ok\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "ok\n")
	}
	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(mock.calls))
	}
	c := mock.calls[0]
	if c.Name != "yolo" || len(c.Args) != 1 || c.Args[0] != "version" || c.Dir != "/tmp/x" || c.Env[0] != "A=1" {
		t.Errorf("unexpected call %+v", c)
	}
}

func TestRunner_Run_NotAllowedNeverRuns(t *testing.T) {
	mock := &mockCmd{}
	r := New(mock, DefaultPolicy(), nil)

	_, err := r.Run(context.Background(), Request{Args: []string{"bash", "-c", "true"}})
	if !IsKind(err, KindNotAllowed) {
		t.Fatalf("expected not allowed, got %v", err)
	}
	if len(mock.calls) != 0 {
		t.Errorf("expected no calls, got %d", len(mock.calls))
	}
}

func TestRunner_Run_NonZeroExit(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{Stdout: "partial", Stderr: "boom", ExitCode: 2}}}
	r := New(mock, DefaultPolicy(), nil)

	res, err := r.Run(context.Background(), Request{Args: []string{"yolo", "train"}})
	var re *Error
	if !errors.As(err, &re) || re.Kind != KindExit {
		t.Fatalf("expected exit error, got %v", err)
	}
	if re.ExitCode != 2 {
		t.Errorf("ExitCode = %d, want 2", re.ExitCode)
	}
	if err.Error() != "command failed with exit code 2: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
	if res == nil || res.Stdout != "partial" {
		t.Errorf("expected result with stdout, got %+v", res)
	}
}

func TestRunner_Run_StartFailure(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{ExitCode: -1, Err: errors.New("no such file")}}}
	r := New(mock, DefaultPolicy(), nil)

	_, err := r.Run(context.Background(), Request{Args: []string{"nvcc", "--version"}})
	if !IsKind(err, KindStart) {
		t.Fatalf("expected start error, got %v", err)
	}
}

func TestRunner_Run_Timeout(t *testing.T) {
	mock := &mockCmd{block: true}
	p := DefaultPolicy()
	r := New(mock, p, nil)

	_, err := r.Run(context.Background(), Request{Args: []string{"python", "train.py"}, Timeout: 20 * time.Millisecond})
	var re *Error
	if !errors.As(err, &re) || re.Kind != KindTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if re.Timeout != 20*time.Millisecond {
		t.Errorf("Timeout = %s, want 20ms", re.Timeout)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected errors.Is DeadlineExceeded")
	}
}

func TestRunner_Available(t *testing.T) {
	r := New(&mockCmd{}, DefaultPolicy(), nil)
	r.lookPath = func(name string) (string, error) {
		if name == "modal" {
			return "/bin/modal", nil
		}
		return "", errors.New("not found")
	}
	if !r.Available("modal") {
		t.Error("expected modal available")
	}
	if r.Available("vfrog") {
		t.Error("expected vfrog unavailable")
	}
}

func TestExecRunner(t *testing.T) {
	e := &ExecRunner{}
	stdout, _, code, err := e.Run(context.Background(), t.TempDir(), []string{"CROAK_X=hi"}, "sh", "-c", "echo $CROAK_X; exit 3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
	if stdout != "hi\n" {
		t.Errorf("stdout = %q, want %q", stdout, "hi\n")
	}

	_, _, code, err = e.Run(context.Background(), "", nil, "definitely-not-a-command-croak")
	if err == nil || code != -1 {
		t.Errorf("expected start failure, got code=%d err=%v", code, err)
	}
}

func TestRedact(t *testing.T) {
	key := "vfrog_" + strings.Repeat("a1", 16)
	got := Redact("login --api-key " + key)
	if strings.Contains(got, key) || !strings.Contains(got, "[REDACTED:VFROG_API_KEY]") {
		t.Errorf("Redact = %q", got)
	}
	if got := Redact("token=abc123"); got != "token=[REDACTED]" {
		t.Errorf("Redact = %q, want %q", got, "token=[REDACTED]")
	}
	if got := Redact("yolo detect train epochs=10"); got != "yolo detect train epochs=10" {
		t.Errorf("Redact changed harmless text: %q", got)
	}
}

func TestRunner_Run_TimeoutKillsChildProcesses(t *testing.T) {
	p := Policy{Allowed: map[string][]string{"sh": nil}, DefaultTimeout: time.Minute, MaxTimeout: time.Minute}
	r := New(nil, p, nil)

	start := time.Now()
	_, err := r.Run(context.Background(), Request{
		Args:    []string{"sh", "-c", "sleep 30 & sleep 30; wait"},
		Timeout: 200 * time.Millisecond,
	})
	elapsed := time.Since(start)

	if !IsKind(err, KindTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed > 3*time.Second {
		t.Errorf("Run returned after %s; background children kept it waiting", elapsed)
	}
}
