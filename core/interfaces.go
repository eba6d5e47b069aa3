package core

import (
	"fmt"
	"os"
)

// =============================================================================
// PanicHandler: Interface for handling thread panics
// =============================================================================

// PanicHandler is called when a thread entry function panics. The thread is
// then terminated with a nil exit value.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a thread panics.
	//
	// Parameters:
	// - kernel: The name of the kernel the thread belongs to
	// - pid: The id of the panicking thread
	// - thread: The thread name
	// - panicInfo: The panic value recovered from the entry function
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(kernel string, pid Pid, thread string, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler prints panic information to stderr.
type DefaultPanicHandler struct{}

// HandlePanic prints panic information to stderr.
func (h *DefaultPanicHandler) HandlePanic(kernel string, pid Pid, thread string, panicInfo any, stackTrace []byte) {
	fmt.Fprintf(os.Stderr, "[Kernel %s] thread %s (pid %d) panic: %v\nStack trace:\n%s",
		kernel, thread, pid, panicInfo, stackTrace)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting kernel metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods are called with the kernel lock held; they must be non-blocking and
// must not call back into the kernel.
type Metrics interface {
	// RecordContextSwitch records one change of the running context.
	RecordContextSwitch(kernel string, reason string)

	// RecordWatchdogFired records one watchdog expiration.
	RecordWatchdogFired(kernel string)

	// RecordReadyDepth records the number of ready threads after a switch.
	RecordReadyDepth(kernel string, depth int)

	// RecordAllocationFailure records a heap refusal for an object kind.
	RecordAllocationFailure(kernel string, kind string)

	// RecordThreadPanic records that a thread entry function panicked.
	RecordThreadPanic(kernel string, panicInfo any)
}

// NilMetrics provides a no-op metrics implementation.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordContextSwitch(kernel string, reason string)   {}
func (m *NilMetrics) RecordWatchdogFired(kernel string)                  {}
func (m *NilMetrics) RecordReadyDepth(kernel string, depth int)          {}
func (m *NilMetrics) RecordAllocationFailure(kernel string, kind string) {}
func (m *NilMetrics) RecordThreadPanic(kernel string, panicInfo any)     {}

// =============================================================================
// KernelConfig: Configuration for Kernel
// =============================================================================

const (
	// DefaultMaxThreads bounds the thread contexts, idle excluded.
	DefaultMaxThreads = 64

	// DefaultTimeSlice is the round robin budget in ticks.
	DefaultTimeSlice = 10

	defaultSwitchHistoryCapacity = 256
)

// KernelConfig holds configuration options for Kernel.
// All handlers are optional; if not provided, default implementations will be used.
type KernelConfig struct {
	// Name labels logs and metrics. Defaults to "rtk-" plus the first
	// characters of the instance id.
	Name string

	// MaxThreads is the number of context slots, idle excluded.
	MaxThreads int

	// TimeSlice is the round robin budget given to threads spawned without
	// one. Zero disables time slicing.
	TimeSlice int

	// HistoryCapacity is the size of the context switch ring buffer.
	HistoryCapacity int

	// Heap is charged for kernel objects. Defaults to an unlimited heap.
	Heap Heap

	// Arch starts thread execution vehicles. Defaults to GoroutineArch.
	Arch Arch

	// Logger receives kernel events. Defaults to NoOpLogger.
	Logger Logger

	// Metrics is called to record kernel metrics. Defaults to NilMetrics.
	Metrics Metrics

	// PanicHandler is called when a thread panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler
}

// DefaultKernelConfig returns a config with default handlers.
func DefaultKernelConfig() *KernelConfig {
	return &KernelConfig{
		MaxThreads:      DefaultMaxThreads,
		TimeSlice:       DefaultTimeSlice,
		HistoryCapacity: defaultSwitchHistoryCapacity,
		Heap:            UnlimitedHeap(),
		Arch:            GoroutineArch{},
		Logger:          NewNoOpLogger(),
		Metrics:         &NilMetrics{},
		PanicHandler:    &DefaultPanicHandler{},
	}
}
