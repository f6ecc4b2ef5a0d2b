package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a report, object or artifact does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPreconditionFailed means a conditional update found the row in another state.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrTransitionNotAllowed means the pipeline attempted a status change reserved for other actors.
	ErrTransitionNotAllowed = errors.New("status transition not allowed")
	// ErrArtifactExists means an escalation artifact is already stored for the date.
	ErrArtifactExists = errors.New("escalation artifact already exists")
	// ErrQueueFull is returned when the dispatcher cannot accept more work.
	ErrQueueFull = errors.New("dispatch queue full")
)

// ServiceError wraps a failed call to an external dependency.
type ServiceError struct {
	Service   string
	Transient bool
	Err       error
}

func (e *ServiceError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s failure: %v", e.Service, kind, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Transient marks err as retryable for service.
func Transient(service string, err error) error {
	return &ServiceError{Service: service, Transient: true, Err: err}
}

// Permanent marks err as terminal for service.
func Permanent(service string, err error) error {
	return &ServiceError{Service: service, Transient: false, Err: err}
}

// IsTransient reports whether err is a retryable service failure.
func IsTransient(err error) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Transient
	}
	return false
}

// TaskFailure is a permanent failure of one analysis or aggregation task. The persisted state is left
// unchanged and the task may be re-triggered later.
type TaskFailure struct {
	Task string
	Key  string
	Err  error
}

func (e *TaskFailure) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Task, e.Key, e.Err)
}

func (e *TaskFailure) Unwrap() error { return e.Err }
