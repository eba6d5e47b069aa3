package core

import (
	"fmt"
	"runtime"
)

// ThreadFunc is the entry function of a thread. Its return value becomes the
// thread's exit value.
type ThreadFunc func(t *Thread) any

// SpawnOptions configures a new thread.
type SpawnOptions struct {
	// Name defaults to "thread-<pid>".
	Name string

	// Priority in [MinPriority, MaxPriority]; zero means DefaultPriority.
	Priority int

	// TimeSlice is the round robin budget in ticks. Zero takes the kernel
	// default, a negative value disables slicing for this thread.
	TimeSlice int
}

// Thread is the handle a thread uses to call into its kernel. It is only
// valid on the thread's own goroutine.
//
// Every call is a kernel entry: a thread that was preempted while executing
// stops there until it is RUNNING again, and a call that makes a higher
// priority thread ready gives up the CPU before returning.
type Thread struct {
	k   *Kernel
	tcb *TCB
}

// syscall runs fn for the thread with the kernel lock held, bracketed by
// preemption points.
func (t *Thread) syscall(fn func() error) error {
	leave := t.k.lock.Enter()
	defer leave()

	t.k.parkLocked(t.tcb)
	err := fn()
	t.k.parkLocked(t.tcb)
	return err
}

// Pid returns the thread id.
func (t *Thread) Pid() Pid { return t.tcb.pid }

// Name returns the thread name.
func (t *Thread) Name() string { return t.tcb.name }

// Kernel returns the kernel the thread runs on.
func (t *Thread) Kernel() *Kernel { return t.k }

// Group returns the thread's task group.
func (t *Thread) Group() *TaskGroup { return t.tcb.group }

// Ticks returns the kernel tick count.
func (t *Thread) Ticks() uint64 {
	var ticks uint64
	_ = t.syscall(func() error {
		ticks = t.k.wdogs.Ticks()
		return nil
	})
	return ticks
}

// Yield moves the thread behind the other ready threads of its priority.
// It returns at once when no other thread shares the priority.
func (t *Thread) Yield() {
	_ = t.syscall(func() error {
		t.k.sched.YieldCurrent()
		return nil
	})
}

// Checkpoint is a preemption point and nothing else.
func (t *Thread) Checkpoint() {
	_ = t.syscall(func() error { return nil })
}

// Sleep blocks for ticks ticks. It fails with ErrNoMemory when no watchdog
// can be allocated and with ErrCanceled when the thread is canceled. A
// non-positive count yields.
func (t *Thread) Sleep(ticks int) error {
	return t.syscall(func() error {
		return t.k.sleepLocked(t.tcb, ticks)
	})
}

// Join waits for pid to terminate and returns its exit value. Only threads
// of the caller's own group can be joined, and only once.
func (t *Thread) Join(pid Pid) (any, error) {
	var value any
	err := t.syscall(func() error {
		var err error
		value, err = t.tcb.group.joinLocked(t.tcb, pid)
		return err
	})
	return value, err
}

// Detach marks pid, possibly the caller itself, as never to be joined.
func (t *Thread) Detach(pid Pid) error {
	return t.syscall(func() error {
		return t.tcb.group.detachLocked(pid)
	})
}

// Exit terminates the calling thread with value. It does not return.
func (t *Thread) Exit(value any) {
	leave := t.k.lock.Enter()
	defer leave()

	t.k.parkLocked(t.tcb)
	t.k.terminateLocked(t.tcb, value)
	t.k.setOnCPULocked(t.tcb, false)
	runtime.Goexit()
}

// Kill terminates pid with value. Killing the caller is Exit.
func (t *Thread) Kill(pid Pid, value any) error {
	if pid == t.tcb.pid {
		t.Exit(value)
	}
	return t.syscall(func() error {
		tcb := t.k.tab.get(pid)
		if tcb == nil || tcb.state == StateTerminated {
			return fmt.Errorf("kill %d: %w", pid, ErrNotFound)
		}
		if tcb.isIdle() {
			return fmt.Errorf("kill idle: %w", ErrInvalid)
		}
		t.k.terminateLocked(tcb, value)
		return nil
	})
}

// Cancel requests cancellation of pid.
func (t *Thread) Cancel(pid Pid) error {
	return t.syscall(func() error {
		return t.k.cancelLocked(pid)
	})
}

// TestCancel is a cancellation point: with a cancellation request pending
// the thread exits with ErrCanceled as its exit value.
func (t *Thread) TestCancel() {
	var canceled bool
	_ = t.syscall(func() error {
		canceled = t.tcb.cancelPending
		return nil
	})
	if canceled {
		t.Exit(ErrCanceled)
	}
}

// CancelPending reports whether cancellation was requested.
func (t *Thread) CancelPending() bool {
	var pending bool
	_ = t.syscall(func() error {
		pending = t.tcb.cancelPending
		return nil
	})
	return pending
}

// SetPriority changes the caller's priority. Dropping below a ready thread
// gives up the CPU.
func (t *Thread) SetPriority(prio int) error {
	return t.syscall(func() error {
		return t.k.setPriorityLocked(t.tcb.pid, prio)
	})
}

// Priority returns the caller's effective priority.
func (t *Thread) Priority() int {
	var prio int
	_ = t.syscall(func() error {
		prio = t.tcb.priority
		return nil
	})
	return prio
}

// Spawn creates a thread in the caller's group.
func (t *Thread) Spawn(opts SpawnOptions, entry ThreadFunc) (Pid, error) {
	pid := NoPid
	err := t.syscall(func() error {
		var err error
		pid, err = t.k.spawnLocked(t.tcb.group, opts, entry)
		return err
	})
	return pid, err
}

// Wait takes sem, blocking while its count is zero. A positive timeout
// bounds the wait and yields ErrTimeout when it expires. The wait is not a
// cancellation point.
func (t *Thread) Wait(sem *Semaphore, timeout int) error {
	return t.wait(sem, timeout, false)
}

// WaitCancelable is Wait as a cancellation point: Kernel.Cancel ends it with
// ErrCanceled.
func (t *Thread) WaitCancelable(sem *Semaphore, timeout int) error {
	return t.wait(sem, timeout, true)
}

func (t *Thread) wait(sem *Semaphore, timeout int, interruptible bool) error {
	if sem == nil || sem.k != t.k {
		return fmt.Errorf("wait: foreign or nil semaphore: %w", ErrInvalid)
	}
	return t.syscall(func() error {
		return sem.waitLocked(t.tcb, timeout, interruptible)
	})
}

// Post posts sem. A woken thread of higher priority runs before Post
// returns.
func (t *Thread) Post(sem *Semaphore) error {
	if sem == nil || sem.k != t.k {
		return fmt.Errorf("post: foreign or nil semaphore: %w", ErrInvalid)
	}
	return t.syscall(func() error {
		sem.postLocked()
		return nil
	})
}

// LockPreemption keeps the caller running until the matching
// UnlockPreemption, even if a higher priority thread becomes ready. Calls
// nest.
func (t *Thread) LockPreemption() {
	_ = t.syscall(func() error {
		t.k.sched.LockPreemption()
		return nil
	})
}

// UnlockPreemption undoes one LockPreemption; the outermost call runs any
// higher priority thread that became ready meanwhile.
func (t *Thread) UnlockPreemption() {
	_ = t.syscall(func() error {
		t.k.sched.UnlockPreemption()
		return nil
	})
}
