package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrShutdownAborted marks a ledger submission force-failed because the pipeline shut down
	// before it could complete.
	ErrShutdownAborted = errors.New("ledger submission aborted by shutdown")

	// ErrObserverDisconnected is reported when an observer is removed from the fan-out.
	ErrObserverDisconnected = errors.New("observer disconnected")

	// ErrBackpressure is returned when the commit queue is full. No sequence id is consumed.
	ErrBackpressure = errors.New("commit queue is full")

	// ErrPipelineClosed is returned for events offered after shutdown began.
	ErrPipelineClosed = errors.New("pipeline is closed")

	ErrRecordNotFound   = errors.New("commit record not found")
	ErrStatusRegression = errors.New("commit status cannot move backwards")
)

// ValidationError reports a raw event rejected at the ingestion boundary.
type ValidationError struct {
	MissingFields []string
	InvalidFields []string
	Reason        string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.MissingFields) > 0 {
		parts = append(parts, "missing fields: "+strings.Join(e.MissingFields, ", "))
	}
	if len(e.InvalidFields) > 0 {
		parts = append(parts, "invalid fields: "+strings.Join(e.InvalidFields, ", "))
	}
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	if len(parts) == 0 {
		return "invalid event"
	}
	return "invalid event: " + strings.Join(parts, "; ")
}

// SubmissionError is a transient failure of the ledger submission layer
// (network or RPC failure, non-consensus rejection). It is retried.
type SubmissionError struct {
	Attempt int
	Err     error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("ledger submission attempt %d failed: %v", e.Attempt, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ConfirmationTimeoutError means the ledger accepted a transaction but its inclusion was not
// observed in time. It is terminal for the event and is not retried automatically.
type ConfirmationTimeoutError struct {
	TxHash  string
	Timeout time.Duration
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("transaction %s not confirmed within %s", e.TxHash, e.Timeout)
}

// ConfigurationError is a missing or invalid startup setting. It is fatal.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration: %v", e.Err)
	}
	return fmt.Sprintf("configuration %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
