package core

import (
	"fmt"
	"slices"
)

// Semaphore is a counting semaphore whose waiters are kernel threads.
// Waiters are served by priority, FIFO within a priority.
type Semaphore struct {
	k       *Kernel
	name    string
	count   int
	waiters []*TCB
	charged bool
	closed  bool
}

// NewSemaphore allocates a semaphore with the given initial count.
func (k *Kernel) NewSemaphore(name string, initial int) (*Semaphore, error) {
	if initial < 0 {
		return nil, fmt.Errorf("semaphore %q: initial count %d: %w", name, initial, ErrInvalid)
	}
	leave := k.lock.Enter()
	defer leave()

	if err := k.heap.Alloc(ObjectSemaphore); err != nil {
		k.allocFailedLocked(ObjectSemaphore, err)
		return nil, fmt.Errorf("semaphore %q: %w", name, err)
	}
	return &Semaphore{k: k, name: name, count: initial, charged: true}, nil
}

// newPrivateSemaphore builds a semaphore embedded in another kernel object;
// its storage is charged to the owner.
func newPrivateSemaphore(k *Kernel, name string) *Semaphore {
	return &Semaphore{k: k, name: name}
}

// Name returns the semaphore name.
func (s *Semaphore) Name() string { return s.name }

// Count returns the current count.
func (s *Semaphore) Count() int {
	leave := s.k.lock.Enter()
	defer leave()
	return s.count
}

// Waiters returns the number of blocked threads.
func (s *Semaphore) Waiters() int {
	leave := s.k.lock.Enter()
	defer leave()
	return len(s.waiters)
}

// Post increments the semaphore or wakes its highest priority waiter. It is
// meant for callers outside kernel threads; threads use Thread.Post and
// watchdog callbacks use ISR.Post.
func (s *Semaphore) Post() {
	leave := s.k.lock.Enter()
	defer leave()
	s.postLocked()
}

// Close releases the semaphore. It fails with ErrInvalid while threads wait
// on it.
func (s *Semaphore) Close() error {
	leave := s.k.lock.Enter()
	defer leave()
	if s.closed {
		return nil
	}
	if len(s.waiters) > 0 {
		return fmt.Errorf("close semaphore %q with %d waiters: %w", s.name, len(s.waiters), ErrInvalid)
	}
	s.closed = true
	if s.charged {
		s.k.heap.Free(ObjectSemaphore)
	}
	return nil
}

func (s *Semaphore) postLocked() {
	if s.closed {
		return
	}
	if len(s.waiters) == 0 {
		s.count++
		return
	}
	tcb := s.waiters[0]
	s.waiters = slices.Delete(s.waiters, 0, 1)
	s.k.wakeLocked(tcb, nil)
}

// waitLocked takes the semaphore on behalf of the running thread tcb,
// blocking while the count is zero. A positive timeout bounds the wait
// with a watchdog created for this wait alone.
func (s *Semaphore) waitLocked(tcb *TCB, timeout int, interruptible bool) error {
	if s.closed {
		return fmt.Errorf("wait on closed semaphore %q: %w", s.name, ErrInvalid)
	}
	if s.count > 0 {
		s.count--
		return nil
	}
	if interruptible && tcb.cancelPending {
		return ErrCanceled
	}
	if timeout > 0 {
		if err := s.k.armTimeoutLocked(tcb, timeout); err != nil {
			return fmt.Errorf("wait on %q: %w", s.name, err)
		}
	}

	s.enqueue(tcb)
	tcb.waitSem = s
	tcb.waitResult = nil
	tcb.interruptible = interruptible
	s.k.blockLocked(tcb)

	err := tcb.waitResult
	s.k.releaseTimeoutLocked(tcb)
	return err
}

func (s *Semaphore) enqueue(tcb *TCB) {
	i := len(s.waiters)
	for j, w := range s.waiters {
		if w.priority < tcb.priority {
			i = j
			break
		}
	}
	s.waiters = slices.Insert(s.waiters, i, tcb)
}

func (s *Semaphore) removeWaiter(tcb *TCB) bool {
	i := slices.Index(s.waiters, tcb)
	if i < 0 {
		return false
	}
	s.waiters = slices.Delete(s.waiters, i, i+1)
	return true
}

// resort repositions a waiter after a priority change.
func (s *Semaphore) resort(tcb *TCB) {
	if s.removeWaiter(tcb) {
		s.enqueue(tcb)
	}
}
