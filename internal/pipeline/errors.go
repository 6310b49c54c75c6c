package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass partitions processing failures by how the worker reacts to them.
// Only infrastructure failures are retried; everything else is terminal for
// the attempt that produced it.
type ErrorClass string

const (
	// ClassSecurity covers content that failed validation. The raw object is
	// already deleted by the time this class surfaces.
	ClassSecurity ErrorClass = "security"
	// ClassProbe covers unreadable or corrupt media.
	ClassProbe ErrorClass = "probe"
	// ClassTranscode covers tool failures on readable input.
	ClassTranscode ErrorClass = "transcode"
	// ClassInfrastructure covers transient faults: storage, network, datastore.
	ClassInfrastructure ErrorClass = "infrastructure"
	// ClassDeadline covers jobs that outlived their time budget.
	ClassDeadline ErrorClass = "deadline"
)

// Error tags a failure with its class and the operation that produced it.
type Error struct {
	Class ErrorClass
	Op    string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failure", e.Op, e.Class)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func securityError(op string, err error) error {
	return &Error{Class: ClassSecurity, Op: op, Err: err}
}

func probeError(op string, err error) error {
	return &Error{Class: ClassProbe, Op: op, Err: err}
}

func transcodeError(op string, err error) error {
	return &Error{Class: ClassTranscode, Op: op, Err: err}
}

func infraError(op string, err error) error {
	return &Error{Class: ClassInfrastructure, Op: op, Err: err}
}

func deadlineError(op string, err error) error {
	return &Error{Class: ClassDeadline, Op: op, Err: err}
}

// Classify returns the error's class. Untagged errors default to
// infrastructure so unknown faults stay retryable; context expiry maps to the
// deadline class.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassDeadline
	}
	return ClassInfrastructure
}

// Retryable reports whether another attempt could succeed.
func Retryable(err error) bool {
	return Classify(err) == ClassInfrastructure
}
