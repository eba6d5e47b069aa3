package rtkernel

import "github.com/Swind/go-rtkernel/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the rtkernel package for most use cases.

// Kernel owns the ready list, watchdogs and thread contexts
type Kernel = core.Kernel

// KernelConfig holds kernel tunables and handlers
type KernelConfig = core.KernelConfig

// Thread is the handle a thread entry uses to call into the kernel
type Thread = core.Thread

// ThreadFunc is a thread entry; its return value is the exit value
type ThreadFunc = core.ThreadFunc

// SpawnOptions names a thread and sets its priority and time slice
type SpawnOptions = core.SpawnOptions

// TaskGroup owns the join records of its threads
type TaskGroup = core.TaskGroup

// Semaphore is a counting semaphore with priority ordered waiters
type Semaphore = core.Semaphore

// Watchdog is a one-shot timer armed in ticks
type Watchdog = core.Watchdog

// ISR is passed to watchdog callbacks running in interrupt context
type ISR = core.ISR

// TickDriver feeds wall-clock ticks into a kernel
type TickDriver = core.TickDriver

// TickerOptions configures a TickDriver
type TickerOptions = core.TickerOptions

// Pid identifies a thread context
type Pid = core.Pid

// Priority bounds
const (
	IdlePriority    = core.IdlePriority
	MinPriority     = core.MinPriority
	DefaultPriority = core.DefaultPriority
	MaxPriority     = core.MaxPriority
)

// Errors returned by kernel operations
var (
	ErrNotFound      = core.ErrNotFound
	ErrInvalid       = core.ErrInvalid
	ErrDeadlock      = core.ErrDeadlock
	ErrNoMemory      = core.ErrNoMemory
	ErrCanceled      = core.ErrCanceled
	ErrTimeout       = core.ErrTimeout
	ErrKernelStopped = core.ErrKernelStopped
)

// Constructors
var (
	DefaultKernelConfig  = core.DefaultKernelConfig
	DefaultTickerOptions = core.DefaultTickerOptions
)

// NewKernel creates a kernel with the given config; nil uses defaults.
func NewKernel(cfg *KernelConfig) *Kernel {
	return core.NewKernel(cfg)
}

// NewTickDriver creates a tick driver for k.
func NewTickDriver(k *Kernel, opts TickerOptions) *TickDriver {
	return core.NewTickDriver(k, opts)
}
