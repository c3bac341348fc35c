package orchestrator

import (
	"errors"
	"fmt"
)

// ErrorKind classifies job-level failures.
type ErrorKind string

const (
	KindTabCreation       ErrorKind = "TabCreationError"
	KindLoadTimeout       ErrorKind = "LoadTimeoutError"
	KindInjection         ErrorKind = "InjectionError"
	KindExtractionTimeout ErrorKind = "ExtractionTimeoutError"
	KindBackendDelivery   ErrorKind = "BackendDeliveryError"
	KindSessionNotFound   ErrorKind = "SessionNotFoundError"
)

// ErrInvalidSearch is returned by StartSearch for a missing id or URL list.
var ErrInvalidSearch = errors.New("invalid search parameters")

// JobError is a failure of a single URL of a session. It is always recovered
// locally by advancing the queue.
type JobError struct {
	Kind      ErrorKind
	SessionID string
	URL       string
	Err       error
}

func (e *JobError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.URL)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

func newJobError(kind ErrorKind, sessionID, url string, err error) *JobError {
	return &JobError{Kind: kind, SessionID: sessionID, URL: url, Err: err}
}

// KindOf returns the ErrorKind carried by err, or "" when err is not a JobError.
func KindOf(err error) ErrorKind {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr.Kind
	}
	return ""
}
