package core

// Arch is the architecture port consumed by the kernel: it owns the
// execution vehicle of each context and performs the context switch.
type Arch interface {
	// Launch starts the execution vehicle of a new context. run blocks until
	// the context is first scheduled and returns once it has terminated.
	Launch(tcb *TCB, run func())

	// SwitchContext is called with the kernel lock held each time the running
	// context changes from one context to another.
	SwitchContext(from, to *TCB)
}

// GoroutineArch runs each thread on its own goroutine. A goroutine whose
// context is not RUNNING stays parked on the kernel condition variable, so
// switching is done by the kernel's broadcast and SwitchContext has nothing
// left to do.
type GoroutineArch struct{}

var _ Arch = GoroutineArch{}

func (GoroutineArch) Launch(_ *TCB, run func()) { go run() }

func (GoroutineArch) SwitchContext(_, _ *TCB) {}
