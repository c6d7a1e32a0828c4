package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Execution modes.
const (
	ExecutionModeMock  = "mock"
	ExecutionModeShell = "shell"
)

// DefaultExecutionTimeout bounds shell execution.
const DefaultExecutionTimeout = 5 * time.Minute

// ErrExecutionTimeout is returned when a shell command exceeds its timeout.
var ErrExecutionTimeout = errors.New("command execution timed out")

// Executor runs an accepted command and returns its output.
type Executor interface {
	Execute(ctx context.Context, text string) (string, error)
}

// NewExecutor returns the executor for mode.
func NewExecutor(mode string, timeout time.Duration) (Executor, error) {
	switch mode {
	case "", ExecutionModeMock:
		return MockExecutor{}, nil
	case ExecutionModeShell:
		return &ShellExecutor{Timeout: timeout}, nil
	default:
		return nil, validationErr("unknown execution mode %q", mode)
	}
}

// MockExecutor records the command without running it.
type MockExecutor struct{}

// Execute returns the mocked output for text.
func (MockExecutor) Execute(_ context.Context, text string) (string, error) {
	return "[MOCKED] Executed: " + text, nil
}

// ShellExecutor runs commands through the user's shell.
type ShellExecutor struct {
	// Timeout is the maximum execution duration (default 5 minutes).
	Timeout time.Duration
	// Dir is the working directory; empty inherits the process cwd.
	Dir string
}

// Execute runs text with $SHELL -c (falling back to /bin/sh) and returns the
// combined stdout/stderr. A non-zero exit is reported in the output, not as
// an error.
func (s *ShellExecutor) Execute(ctx context.Context, text string) (string, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultExecutionTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", text)
	if s.Dir != "" {
		cmd.Dir = s.Dir
	}
	cmd.Env = os.Environ()

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return out.String(), nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return out.String(), ErrExecutionTimeout
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Sprintf("%s[exit status %d]", out.String(), exitErr.ExitCode()), nil
	}
	return out.String(), fmt.Errorf("running command: %w", err)
}
