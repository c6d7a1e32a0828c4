package testutil

import (
	"context"
	"sync"
)

// RecordingExecutor records every command text it is asked to run and
// returns a configured result. It satisfies core.Executor.
type RecordingExecutor struct {
	mu sync.Mutex

	// Calls contains all command texts that were executed, in order.
	Calls []string

	// Output is returned by Execute when OutputFunc is nil.
	Output string

	// Err is returned by Execute when OutputFunc is nil.
	Err error

	// OutputFunc allows dynamic output based on the command text.
	OutputFunc func(text string) (string, error)
}

// NewRecordingExecutor creates an executor with static behavior.
func NewRecordingExecutor(output string, err error) *RecordingExecutor {
	return &RecordingExecutor{Output: output, Err: err}
}

// Execute records text and returns the configured output.
func (e *RecordingExecutor) Execute(_ context.Context, text string) (string, error) {
	e.mu.Lock()
	e.Calls = append(e.Calls, text)
	fn := e.OutputFunc
	out, err := e.Output, e.Err
	e.mu.Unlock()

	if fn != nil {
		return fn(text)
	}
	return out, err
}

// CallCount returns how many times Execute was called.
func (e *RecordingExecutor) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Calls)
}

// Reset clears recorded calls.
func (e *RecordingExecutor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = nil
}
