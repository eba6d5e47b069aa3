package core

import "fmt"

// Pid identifies an execution context. Pids are never reused while the
// kernel lives; the slot they hash to is.
type Pid int32

const (
	// NoPid is the null link value.
	NoPid Pid = -1

	// IdlePid is the idle context created with the kernel.
	IdlePid Pid = 0
)

// Priority bounds. The idle context alone runs at IdlePriority.
const (
	IdlePriority    = 0
	MinPriority     = 1
	MaxPriority     = 255
	DefaultPriority = 100
)

// TaskState is the scheduling state of an execution context.
type TaskState int

const (
	StateInvalid TaskState = iota

	// StatePending: ready, parked on the pending list until the next merge.
	StatePending

	// StateReadyToRun: linked into the ready queue behind the running context.
	StateReadyToRun

	// StateRunning: head of the ready queue.
	StateRunning

	// StateWaiting: blocked on a semaphore or watchdog; on no scheduler list.
	StateWaiting

	// StateTerminated: exited; the context is being released.
	StateTerminated
)

func (s TaskState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateReadyToRun:
		return "READY_TO_RUN"
	case StateRunning:
		return "RUNNING"
	case StateWaiting:
		return "WAITING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

// TCB is the control block of one thread. All fields are guarded by the
// kernel lock.
type TCB struct {
	pid   Pid
	name  string
	state TaskState

	basePriority int
	priority     int

	timeSlice int // round robin budget in ticks, 0 = run until blocked
	sliceLeft int
	lockCount int // preemption lock nesting

	links listLinks

	// wd is owned while a bounded wait is in progress.
	wd *Watchdog

	group *TaskGroup

	// Wait bookkeeping.
	waitSem       *Semaphore
	waitResult    error
	interruptible bool
	joinWait      *JoinInfo
	joining       Pid

	cancelPending bool

	entry ThreadFunc
	onCPU bool // goroutine is executing outside the kernel
}

// Pid returns the context id.
func (t *TCB) Pid() Pid { return t.pid }

// Name returns the name given at spawn time.
func (t *TCB) Name() string { return t.name }

// State returns the scheduling state.
func (t *TCB) State() TaskState { return t.state }

// Priority returns the effective priority.
func (t *TCB) Priority() int { return t.priority }

// BasePriority returns the priority assigned by spawn or SetPriority.
func (t *TCB) BasePriority() int { return t.basePriority }

// Group returns the owning task group, nil for the idle context.
func (t *TCB) Group() *TaskGroup { return t.group }

func (t *TCB) isIdle() bool { return t.pid == IdlePid }

func (t *TCB) String() string {
	return fmt.Sprintf("%s(pid=%d prio=%d %s)", t.name, t.pid, t.priority, t.state)
}

// tcbTable is a slot map of contexts. A pid hashes to slot pid%len(slots);
// allocation probes forward from the next pid until a free slot is found.
type tcbTable struct {
	slots   []*TCB
	nextPid Pid
	live    int
}

func newTCBTable(capacity int) *tcbTable {
	if capacity < 2 {
		capacity = 2
	}
	return &tcbTable{slots: make([]*TCB, capacity)}
}

func (t *tcbTable) slot(pid Pid) int {
	return int(pid) % len(t.slots)
}

// alloc reserves a slot and returns a zeroed context with a fresh pid.
func (t *tcbTable) alloc() (*TCB, bool) {
	if t.live >= len(t.slots) {
		return nil, false
	}
	for range len(t.slots) {
		pid := t.nextPid
		t.nextPid++
		if t.nextPid < 0 {
			// Wrapped: restart above the idle pid.
			t.nextPid = IdlePid + 1
		}
		if t.slots[t.slot(pid)] != nil {
			continue
		}
		tcb := &TCB{pid: pid, joining: NoPid}
		tcb.links.reset()
		t.slots[t.slot(pid)] = tcb
		t.live++
		return tcb, true
	}
	return nil, false
}

func (t *tcbTable) get(pid Pid) *TCB {
	if pid < 0 {
		return nil
	}
	tcb := t.slots[t.slot(pid)]
	if tcb == nil || tcb.pid != pid {
		return nil
	}
	return tcb
}

func (t *tcbTable) release(tcb *TCB) {
	if t.get(tcb.pid) != tcb {
		fatalf("tcb", "release of untracked context %d", tcb.pid)
	}
	if tcb.links.owner != listNone {
		fatalf("tcb", "release of linked context %d", tcb.pid)
	}
	t.slots[t.slot(tcb.pid)] = nil
	t.live--
}

func (t *tcbTable) forEach(fn func(*TCB)) {
	for _, tcb := range t.slots {
		if tcb != nil {
			fn(tcb)
		}
	}
}
