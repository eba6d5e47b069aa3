package core

import "sync"

// KernelLock is the critical section of a kernel. It stands in for the
// interrupt-disable/restore pair: every mutation of the ready queue, the
// delta list and the join lists happens while it is held, and so does every
// read that needs those structures consistent.
//
// The condition variable on the same mutex is the simulated CPU: thread
// goroutines that are not RUNNING wait on it and are woken by a context
// switch.
type KernelLock struct {
	mu   sync.Mutex
	cond *sync.Cond
}

func newKernelLock() *KernelLock {
	l := &KernelLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Enter begins a critical section and returns the function that ends it.
// Always pair them with defer so the section is left on every path,
// including panics and runtime.Goexit:
//
//	leave := k.lock.Enter()
//	defer leave()
func (l *KernelLock) Enter() (leave func()) {
	l.mu.Lock()
	return l.mu.Unlock
}

// Do runs fn inside a critical section.
func (l *KernelLock) Do(fn func()) {
	leave := l.Enter()
	defer leave()
	fn()
}

// wait releases the lock until the next wake. Must be called inside a
// critical section.
func (l *KernelLock) wait() { l.cond.Wait() }

// wake resumes every goroutine blocked in wait.
func (l *KernelLock) wake() { l.cond.Broadcast() }
