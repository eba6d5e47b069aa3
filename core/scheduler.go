package core

import "fmt"

// SwitchReason tells why the running context changed.
type SwitchReason int

const (
	// SwitchPreempt: a higher priority context became ready.
	SwitchPreempt SwitchReason = iota
	// SwitchYield: the running context gave the CPU to a band peer.
	SwitchYield
	// SwitchTimeSlice: the running context used up its round robin budget.
	SwitchTimeSlice
	// SwitchBlock: the running context started waiting.
	SwitchBlock
	// SwitchExit: the running context terminated.
	SwitchExit
	// SwitchPriority: the running context dropped below a ready context.
	SwitchPriority
)

func (r SwitchReason) String() string {
	switch r {
	case SwitchPreempt:
		return "preempt"
	case SwitchYield:
		return "yield"
	case SwitchTimeSlice:
		return "timeslice"
	case SwitchBlock:
		return "block"
	case SwitchExit:
		return "exit"
	case SwitchPriority:
		return "priority"
	default:
		return fmt.Sprintf("SwitchReason(%d)", int(r))
	}
}

// SwitchFunc is called each time the running context changes. It is the
// hook where the architecture performs the actual context switch.
type SwitchFunc func(from, to *TCB, reason SwitchReason)

// Scheduler is the ready-queue scheduler of one CPU.
//
// The ready queue is sorted by descending priority and is FIFO within a
// priority band. Its head is the RUNNING context; the idle context sits at
// the tail with IdlePriority so the queue is never empty. Contexts made ready
// from interrupt context, or that would preempt a context holding the
// preemption lock, go to the pending list and are merged immediately before
// the next context switch.
//
// The Scheduler is not safe for concurrent use: every method must be called
// with the kernel lock held.
type Scheduler struct {
	tab     *tcbTable
	ready   taskList
	pending taskList
	idle    *TCB

	irqDepth     int
	sliceExpired bool

	onSwitch SwitchFunc
	switches uint64
}

func newScheduler(tab *tcbTable, idle *TCB, onSwitch SwitchFunc) *Scheduler {
	s := &Scheduler{
		tab:      tab,
		ready:    newTaskList(listReady, tab),
		pending:  newTaskList(listPending, tab),
		idle:     idle,
		onSwitch: onSwitch,
	}
	idle.priority = IdlePriority
	idle.basePriority = IdlePriority
	idle.state = StateRunning
	s.ready.pushBack(idle)
	return s
}

// Running returns the context at the head of the ready queue.
func (s *Scheduler) Running() *TCB {
	return s.SelectNext()
}

// SelectNext returns the head of the ready queue: highest priority, then
// FIFO within the band.
func (s *Scheduler) SelectNext() *TCB {
	head := s.ready.front()
	if head == nil {
		fatalf("scheduler", "ready queue is empty")
	}
	return head
}

// Insert makes a context ready to run. In task context a context with a
// strictly higher priority than the running one preempts it immediately.
// Returns true if the running context changed.
func (s *Scheduler) Insert(tcb *TCB) bool {
	if tcb.isIdle() {
		fatalf("scheduler", "idle context re-inserted")
	}
	tcb.sliceLeft = tcb.timeSlice

	running := s.Running()
	if s.irqDepth > 0 || (running.lockCount > 0 && tcb.priority > running.priority) {
		s.pending.pushBack(tcb)
		tcb.state = StatePending
		return false
	}

	s.addReady(tcb)
	return s.dispatch(running, SwitchPreempt)
}

// Remove takes a context off the scheduler lists and records its new state
// (StateWaiting or StateTerminated). Removing the running context switches
// to the next one.
func (s *Scheduler) Remove(tcb *TCB, state TaskState) bool {
	if state != StateWaiting && state != StateTerminated {
		fatalf("scheduler", "remove of context %d into state %v", tcb.pid, state)
	}
	switch tcb.links.owner {
	case listPending:
		s.pending.remove(tcb)
		tcb.state = state
		return false

	case listReady:
		if tcb.isIdle() {
			fatalf("scheduler", "idle context removed from ready queue")
		}
		running := s.Running()
		s.ready.remove(tcb)
		tcb.state = state
		if tcb != running {
			return false
		}
		if s.irqDepth > 0 {
			fatalf("scheduler", "running context %d removed in interrupt context", tcb.pid)
		}
		if s.SelectNext().lockCount == 0 {
			s.mergePending()
		}
		reason := SwitchBlock
		if state == StateTerminated {
			reason = SwitchExit
		}
		return s.dispatch(running, reason)

	default:
		fatalf("scheduler", "remove of context %d which is on no scheduler list (%v)", tcb.pid, tcb.state)
		return false
	}
}

// YieldCurrent moves the running context to the tail of its priority band
// and runs the new head. It is a no-op when no other context shares the
// band. Returns true if the running context changed.
func (s *Scheduler) YieldCurrent() bool {
	return s.rotate(SwitchYield)
}

func (s *Scheduler) rotate(reason SwitchReason) bool {
	running := s.Running()
	if running.isIdle() {
		return false
	}
	running.sliceLeft = running.timeSlice

	next := s.ready.next(running)
	if next == nil {
		fatalf("scheduler", "running context %d has no successor", running.pid)
	}
	if next.priority != running.priority {
		return false
	}

	s.ready.remove(running)
	s.addReady(running)
	return s.dispatch(running, reason)
}

// SetPriority changes the base and effective priority of a context and
// restores the ready queue order. A ready context raised above the running
// one preempts it; a running context lowered below the next ready one gives
// up the CPU, at the outermost UnlockPreemption if it holds the lock. Waiting contexts only record the value; the primitive they
// wait on re-sorts its own queue.
func (s *Scheduler) SetPriority(tcb *TCB, prio int) bool {
	if tcb.isIdle() {
		fatalf("scheduler", "priority change of idle context")
	}
	if s.irqDepth > 0 {
		fatalf("scheduler", "priority change in interrupt context")
	}
	tcb.basePriority = prio

	if tcb.links.owner != listReady {
		tcb.priority = prio
		return false
	}

	running := s.Running()
	if tcb == running {
		tcb.priority = prio
		if tcb.lockCount > 0 {
			return false
		}
		if next := s.ready.next(tcb); next == nil || next.priority <= prio {
			return false
		}
		s.ready.remove(tcb)
		s.addReady(tcb)
		return s.dispatch(running, SwitchPriority)
	}

	s.ready.remove(tcb)
	tcb.priority = prio
	if running.lockCount > 0 && prio > running.priority {
		s.pending.pushBack(tcb)
		tcb.state = StatePending
		return false
	}
	s.addReady(tcb)
	return s.dispatch(running, SwitchPreempt)
}

// LockPreemption disables preemption of the running context. Calls nest.
func (s *Scheduler) LockPreemption() {
	s.Running().lockCount++
}

// UnlockPreemption undoes one LockPreemption. The outermost unlock merges
// the pending list and switches if a higher priority context arrived.
func (s *Scheduler) UnlockPreemption() bool {
	running := s.Running()
	if running.lockCount == 0 {
		fatalf("scheduler", "preemption unlock of context %d without lock", running.pid)
	}
	running.lockCount--
	if running.lockCount > 0 || s.irqDepth > 0 {
		return false
	}
	// A priority lowered under the lock left the head out of order.
	if next := s.ready.next(running); next != nil && next.priority > running.priority {
		s.ready.remove(running)
		s.addReady(running)
	}
	s.mergePending()
	return s.dispatch(running, SwitchPreempt)
}

// EnterInterrupt marks the start of interrupt handling. Calls nest.
func (s *Scheduler) EnterInterrupt() {
	s.irqDepth++
}

// ExitInterrupt ends interrupt handling. The outermost exit merges the
// pending list and performs the deferred context switch, either a
// preemption or a time slice rotation. Returns true if the running context
// changed.
func (s *Scheduler) ExitInterrupt() bool {
	if s.irqDepth == 0 {
		fatalf("scheduler", "interrupt exit without matching enter")
	}
	s.irqDepth--
	if s.irqDepth > 0 {
		return false
	}

	running := s.Running()
	expired := s.sliceExpired
	s.sliceExpired = false

	if running.lockCount == 0 {
		s.mergePending()
	}
	if s.Running() != running {
		if expired {
			running.sliceLeft = running.timeSlice
		}
		return s.dispatch(running, SwitchPreempt)
	}
	if !expired {
		return false
	}
	if running.lockCount > 0 {
		running.sliceLeft = running.timeSlice
		return false
	}
	return s.rotate(SwitchTimeSlice)
}

// Tick charges n ticks to the running context's time slice. When the slice
// runs out the context is rotated behind its band peers; in interrupt
// context the rotation happens at ExitInterrupt.
func (s *Scheduler) Tick(n int) {
	running := s.Running()
	if running.isIdle() || running.timeSlice <= 0 || n <= 0 {
		return
	}
	running.sliceLeft -= n
	if running.sliceLeft > 0 {
		return
	}
	if s.irqDepth > 0 {
		s.sliceExpired = true
		return
	}
	s.rotate(SwitchTimeSlice)
}

// InInterrupt reports whether interrupt handling is in progress.
func (s *Scheduler) InInterrupt() bool { return s.irqDepth > 0 }

// ReadyOrder returns the ready queue, head (running) first, idle last.
func (s *Scheduler) ReadyOrder() []Pid { return s.ready.pids() }

// PendingOrder returns the pending list in arrival order.
func (s *Scheduler) PendingOrder() []Pid { return s.pending.pids() }

// ReadyCount returns the number of ready contexts including the running
// one and excluding idle.
func (s *Scheduler) ReadyCount() int { return s.ready.Len() - 1 }

// PendingCount returns the length of the pending list.
func (s *Scheduler) PendingCount() int { return s.pending.Len() }

// Switches returns the number of context switches performed.
func (s *Scheduler) Switches() uint64 { return s.switches }

// nextSliceDeadline returns the ticks until the running context's slice
// expires, or 0 when no rotation is due (no slice or no band peer).
func (s *Scheduler) nextSliceDeadline() int {
	running := s.Running()
	if running.isIdle() || running.timeSlice <= 0 {
		return 0
	}
	next := s.ready.next(running)
	if next == nil || next.priority != running.priority {
		return 0
	}
	return max(running.sliceLeft, 1)
}

// addReady links tcb behind every ready context of equal or higher priority.
func (s *Scheduler) addReady(tcb *TCB) {
	var anchor *TCB
	for n := s.ready.front(); n != nil; n = s.ready.next(n) {
		if n.priority < tcb.priority {
			anchor = n
			break
		}
	}
	if anchor == nil {
		fatalf("scheduler", "no insertion point for context %d (idle missing)", tcb.pid)
	}
	s.ready.insertBefore(tcb, anchor)
	tcb.state = StateReadyToRun
}

func (s *Scheduler) mergePending() {
	for tcb := s.pending.front(); tcb != nil; tcb = s.pending.front() {
		s.pending.remove(tcb)
		s.addReady(tcb)
	}
}

// dispatch makes the ready queue head RUNNING if it differs from prev.
func (s *Scheduler) dispatch(prev *TCB, reason SwitchReason) bool {
	next := s.SelectNext()
	if next == prev {
		return false
	}
	if prev.links.owner == listReady {
		prev.state = StateReadyToRun
	}
	next.state = StateRunning
	s.switches++
	if s.onSwitch != nil {
		s.onSwitch(prev, next, reason)
	}
	return true
}
