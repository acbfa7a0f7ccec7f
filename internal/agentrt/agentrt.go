// Package agentrt defines the contract with the external agent runtime: a
// synchronous, callback-driven API for resumable conversations and
// run-to-completion execution. The bridge treats the runtime as a black box
// that emits a known set of callbacks; this package pins that set down and
// provides an HTTP client implementation.
package agentrt

import (
	"context"
	"time"
)

// RunStatus is the runtime's reported run state.
type RunStatus string

const (
	RunQueued     RunStatus = "queued"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunCancelled  RunStatus = "cancelled"
	RunExpired    RunStatus = "expired"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunExpired:
		return true
	}
	return false
}

// Failure reports whether the status is a failed terminal state.
func (s RunStatus) Failure() bool {
	switch s {
	case RunFailed, RunCancelled, RunExpired:
		return true
	}
	return false
}

// StepStart describes a delegated sub-call the runtime is about to make.
type StepStart struct {
	StepID     string
	Capability string
}

// StepResult describes a finished sub-call. Failed is true when the
// capability's own query result carried a structured error — the run itself
// keeps going.
type StepResult struct {
	StepID     string
	Capability string
	Duration   time.Duration
	Query      string
	Response   string
	Failed     bool
}

// Completion carries the runtime's final assembled answer.
type Completion struct {
	Report     string
	TokenUsage map[string]int
}

// Hooks are the callbacks a caller registers before starting a run. All hooks
// are invoked on the goroutine blocked inside StartRun, in the order the
// runtime reports them. Nil hooks are skipped.
type Hooks struct {
	// OnStatus fires on every run status transition. Detail is the runtime's
	// opaque failure description, populated for failure statuses.
	OnStatus func(status RunStatus, detail string)
	// OnStepStart fires when the runtime begins a delegated sub-call.
	OnStepStart func(step StepStart)
	// OnStepDone fires when that sub-call finishes.
	OnStepDone func(step StepResult)
	// OnDone fires when the runtime reports the final assembled answer.
	OnDone func(done Completion)
}

// Client is the runtime operations the bridge consumes.
//
// StartRun blocks the calling goroutine until the run reaches a terminal
// state. A nil return means the run ran to a terminal state (possibly a
// failed one, reported via OnStatus); a non-nil error means the invocation
// itself faulted before or while streaming callbacks.
type Client interface {
	CreateConversation(ctx context.Context) (string, error)
	PostMessage(ctx context.Context, conversationID, text string) error
	StartRun(ctx context.Context, conversationID string, hooks Hooks) error
}
