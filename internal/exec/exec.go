// Package exec defines the contract with the remote query service: query
// submission, pull-based status checks and best-effort cancellation. The
// remote protocol exposes no callbacks, so execution is modeled as an
// explicit state machine that scripted fakes can drive in tests.
package exec

import (
	"context"
	"time"
)

// State is one node of the execution state machine.
type State string

const (
	StateQueued    State = "QUEUED"
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
)

// Terminal reports whether no further transitions are possible from s.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateQueued, StateRunning, StateSucceeded, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Submission describes one query submission.
type Submission struct {
	SQL            string
	Database       string
	Workgroup      string
	OutputLocation string
	// RequestToken is a client-generated idempotency token; a retried
	// submission with the same token must not start a second execution.
	RequestToken string
}

// Handle is the opaque identifier of a remote execution.
type Handle struct {
	ID string
}

// StatusReport is one observation of the remote execution state.
type StatusReport struct {
	State State
	// StateChangeReason carries the remote failure reason verbatim when
	// State is FAILED or CANCELLED.
	StateChangeReason string
	// ResultLocation is the URI of the persisted result object once the
	// execution has succeeded.
	ResultLocation string
	ScannedBytes   int64
	RowCount       int64
	SubmittedAt    time.Time
	CompletedAt    time.Time
}

// ExecutionSummary is one row of the remote execution history.
type ExecutionSummary struct {
	ID           string
	SQL          string
	State        State
	Workgroup    string
	ScannedBytes int64
	SubmittedAt  time.Time
	CompletedAt  time.Time
}

// Client is the protocol adapter for the remote query service.
type Client interface {
	Submit(ctx context.Context, sub Submission) (Handle, error)
	PollStatus(ctx context.Context, handle Handle) (StatusReport, error)
	Cancel(ctx context.Context, handle Handle) error
}

// Catalog covers the thin listing surface of the remote service used by the
// CLI wrappers. Kept separate from Client so the orchestrator depends only
// on the submission contract.
type Catalog interface {
	ListDatabases(ctx context.Context) ([]string, error)
	ListWorkgroups(ctx context.Context) ([]string, error)
	ListExecutions(ctx context.Context, limit int) ([]ExecutionSummary, error)
}
