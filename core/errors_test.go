package core_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Swind/go-rtkernel/core"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want core.Status
	}{
		{name: "nil", err: nil, want: core.StatusOK},
		{name: "not found", err: core.ErrNotFound, want: core.StatusNotFound},
		{name: "wrapped deadlock", err: fmt.Errorf("join 3: %w", core.ErrDeadlock), want: core.StatusDeadlock},
		{name: "invalid", err: core.ErrInvalid, want: core.StatusInvalid},
		{name: "no memory", err: fmt.Errorf("spawn: %w", core.ErrNoMemory), want: core.StatusNoMemory},
		{name: "canceled", err: core.ErrCanceled, want: core.StatusCanceled},
		{name: "timeout", err: core.ErrTimeout, want: core.StatusTimeout},
		{name: "stopped", err: core.ErrKernelStopped, want: core.StatusStopped},
		{name: "foreign", err: errors.New("disk on fire"), want: core.StatusInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := core.StatusOf(tt.err); got != tt.want {
				t.Errorf("StatusOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestInvariantError_Message(t *testing.T) {
	err := &core.InvariantError{Component: "scheduler", Detail: "ready queue is empty"}

	want := "kernel invariant violated in scheduler: ready queue is empty"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
