package core

import (
	"errors"
	"fmt"
)

// Errors returned by kernel operations. Callers compare with errors.Is; the
// kernel wraps them with context where it helps.
var (
	// ErrNotFound is returned when a thread id is unknown within the caller's group.
	ErrNotFound = errors.New("no such thread")

	// ErrInvalid is returned for non-joinable threads and malformed arguments.
	ErrInvalid = errors.New("invalid argument")

	// ErrDeadlock is returned for self-joins and join wait cycles.
	ErrDeadlock = errors.New("join would deadlock")

	// ErrNoMemory is returned when the heap refuses an allocation.
	ErrNoMemory = errors.New("out of memory")

	// ErrCanceled is returned from a cancellation point after Kernel.Cancel.
	ErrCanceled = errors.New("canceled")

	// ErrTimeout is returned by bounded semaphore waits whose watchdog fired.
	ErrTimeout = errors.New("timed out")

	// ErrKernelStopped is returned by operations issued after Shutdown.
	ErrKernelStopped = errors.New("kernel stopped")
)

// Status is the POSIX-style result code of the lifecycle operations.
type Status int

const (
	StatusOK Status = iota
	StatusInvalid
	StatusNotFound
	StatusDeadlock
	StatusNoMemory
	StatusCanceled
	StatusTimeout
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInvalid:
		return "INVALID"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusDeadlock:
		return "DEADLOCK"
	case StatusNoMemory:
		return "NO_MEMORY"
	case StatusCanceled:
		return "CANCELED"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// StatusOf maps an error returned by the kernel to its status code.
// Unknown errors map to StatusInvalid.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrNotFound):
		return StatusNotFound
	case errors.Is(err, ErrDeadlock):
		return StatusDeadlock
	case errors.Is(err, ErrNoMemory):
		return StatusNoMemory
	case errors.Is(err, ErrCanceled):
		return StatusCanceled
	case errors.Is(err, ErrTimeout):
		return StatusTimeout
	case errors.Is(err, ErrKernelStopped):
		return StatusStopped
	default:
		return StatusInvalid
	}
}

// InvariantError reports corrupted kernel state. It is never returned as a
// value: the kernel panics with it and refuses to recover.
type InvariantError struct {
	Component string
	Detail    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("kernel invariant violated in %s: %s", e.Component, e.Detail)
}

func fatalf(component, format string, args ...any) {
	panic(&InvariantError{Component: component, Detail: fmt.Sprintf(format, args...)})
}
