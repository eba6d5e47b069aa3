package rtkernel

import (
	"context"
	"errors"
	"sync"

	"github.com/Swind/go-rtkernel/core"
)

// =============================================================================
// Global Kernel Helper (Singleton)
// =============================================================================

var (
	globalKernel *core.Kernel
	globalDriver *core.TickDriver
	globalGroup  *core.TaskGroup
	globalMu     sync.Mutex
)

// InitGlobalKernel creates the global kernel and starts a tick driver for it.
// Later calls are no-ops until ShutdownGlobalKernel.
func InitGlobalKernel(cfg *KernelConfig, opts TickerOptions) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalKernel != nil {
		return nil // Already initialized
	}

	k := core.NewKernel(cfg)
	d := core.NewTickDriver(k, opts)
	if err := d.Start(context.Background()); err != nil {
		k.Shutdown()
		return err
	}
	globalKernel = k
	globalDriver = d
	globalGroup = k.NewGroup("global")
	return nil
}

// GlobalKernel returns the global kernel instance.
// It panics if InitGlobalKernel has not been called.
func GlobalKernel() *Kernel {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalKernel == nil {
		panic("GlobalKernel not initialized. Call InitGlobalKernel() first.")
	}
	return globalKernel
}

// ShutdownGlobalKernel stops the tick driver and terminates every thread of
// the global kernel.
func ShutdownGlobalKernel() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalKernel == nil {
		return
	}
	globalDriver.Stop()
	globalKernel.Shutdown()
	globalKernel = nil
	globalDriver = nil
	globalGroup = nil
}

// Go spawns a thread into the global kernel's default group.
// This is the recommended way to start a thread from outside the kernel.
func Go(opts SpawnOptions, entry ThreadFunc) (Pid, error) {
	k := GlobalKernel()

	globalMu.Lock()
	group := globalGroup
	globalMu.Unlock()

	return k.Spawn(group, opts, entry)
}

// Join waits from outside the kernel for a thread spawned with Go and returns
// its exit value. The wait runs on a helper thread at MaxPriority, canceled
// when ctx ends.
func Join(ctx context.Context, pid Pid) (any, error) {
	type result struct {
		value any
		err   error
	}
	done := make(chan result, 1)
	helper, err := Go(SpawnOptions{Name: "joiner", Priority: core.MaxPriority}, func(t *core.Thread) any {
		r := result{err: core.ErrKernelStopped}
		defer func() { done <- r }()
		if err := t.Detach(t.Pid()); err != nil {
			r.err = err
			return nil
		}
		r.value, r.err = t.Join(pid)
		return nil
	})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		if err := GlobalKernel().Cancel(helper); err != nil {
			// The helper already finished and its result is buffered.
			select {
			case r := <-done:
				return r.value, r.err
			default:
				return nil, ctx.Err()
			}
		}
		// The helper may still take the value before it sees the cancel.
		r := <-done
		if errors.Is(r.err, core.ErrCanceled) {
			return nil, ctx.Err()
		}
		return r.value, r.err
	}
}
