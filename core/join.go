package core

import "fmt"

// JoinState is the lifecycle state of a JoinInfo.
type JoinState int

const (
	JoinActive JoinState = iota
	JoinDetachedActive
	JoinTerminatedPendingJoin
	JoinReclaimed
)

func (s JoinState) String() string {
	switch s {
	case JoinActive:
		return "ACTIVE"
	case JoinDetachedActive:
		return "DETACHED_ACTIVE"
	case JoinTerminatedPendingJoin:
		return "TERMINATED_PENDING_JOIN"
	case JoinReclaimed:
		return "RECLAIMED"
	default:
		return fmt.Sprintf("JoinState(%d)", int(s))
	}
}

// JoinInfo is the join/detach record of one thread.
type JoinInfo struct {
	pid        Pid
	detached   bool
	terminated bool
	reclaimed  bool
	exitValue  any

	// exitSem blocks joiners until the thread terminates.
	exitSem *Semaphore
	waiters int
}

func (j *JoinInfo) state() JoinState {
	switch {
	case j.reclaimed:
		return JoinReclaimed
	case j.terminated:
		return JoinTerminatedPendingJoin
	case j.detached:
		return JoinDetachedActive
	default:
		return JoinActive
	}
}

// TaskGroup owns a set of threads and their join list. Join and detach only
// see threads of the caller's own group. The join list is guarded by the
// kernel lock, which serializes every operation on it.
type TaskGroup struct {
	k       *Kernel
	id      int
	name    string
	joins   []*JoinInfo
	members int
}

// NewGroup creates an empty task group.
func (k *Kernel) NewGroup(name string) *TaskGroup {
	leave := k.lock.Enter()
	defer leave()

	k.nextGroup++
	g := &TaskGroup{k: k, id: k.nextGroup, name: name}
	if g.name == "" {
		g.name = fmt.Sprintf("group-%d", g.id)
	}
	k.groups[g.id] = g
	return g
}

// ID returns the group id.
func (g *TaskGroup) ID() int { return g.id }

// Name returns the group name.
func (g *TaskGroup) Name() string { return g.name }

// Members returns the number of live threads in the group.
func (g *TaskGroup) Members() int {
	leave := g.k.lock.Enter()
	defer leave()
	return g.members
}

// JoinCount returns the number of unreclaimed join records.
func (g *TaskGroup) JoinCount() int {
	leave := g.k.lock.Enter()
	defer leave()
	return len(g.joins)
}

// JoinState reports the join record state of pid. The second result is
// false once the record has been reclaimed or was never in this group.
func (g *TaskGroup) JoinState(pid Pid) (JoinState, bool) {
	leave := g.k.lock.Enter()
	defer leave()
	info := g.findLocked(pid)
	if info == nil {
		return JoinReclaimed, false
	}
	return info.state(), true
}

// Detach disclaims interest in pid's exit value from outside any thread.
func (g *TaskGroup) Detach(pid Pid) error {
	leave := g.k.lock.Enter()
	defer leave()
	return g.detachLocked(pid)
}

func (g *TaskGroup) addLocked(info *JoinInfo) {
	if g.findLocked(info.pid) != nil {
		fatalf("join", "second join record for thread %d in group %s", info.pid, g.name)
	}
	g.joins = append(g.joins, info)
}

// findLocked returns the live record for pid. Two live records for one id
// mean the list is corrupt.
func (g *TaskGroup) findLocked(pid Pid) *JoinInfo {
	var found *JoinInfo
	for _, info := range g.joins {
		if info.pid != pid {
			continue
		}
		if found != nil {
			fatalf("join", "duplicate join records for thread %d in group %s", pid, g.name)
		}
		found = info
	}
	return found
}

func (g *TaskGroup) reclaimLocked(info *JoinInfo) {
	if info.reclaimed {
		fatalf("join", "join record for thread %d reclaimed twice", info.pid)
	}
	for i, j := range g.joins {
		if j == info {
			g.joins = append(g.joins[:i], g.joins[i+1:]...)
			info.reclaimed = true
			info.exitValue = nil
			g.k.heap.Free(ObjectJoinInfo)
			return
		}
	}
	fatalf("join", "join record for thread %d missing from group %s", info.pid, g.name)
}

// joinLocked waits for pid to terminate on behalf of the running thread
// caller and returns its exit value. It is a cancellation point.
func (g *TaskGroup) joinLocked(caller *TCB, pid Pid) (any, error) {
	if pid == caller.pid {
		return nil, fmt.Errorf("join %d: %w", pid, ErrDeadlock)
	}
	info := g.findLocked(pid)
	if info == nil {
		return nil, fmt.Errorf("join %d: %w", pid, ErrNotFound)
	}
	if info.detached {
		return nil, fmt.Errorf("join %d: detached: %w", pid, ErrInvalid)
	}
	if g.k.joinCycleLocked(caller, pid) {
		return nil, fmt.Errorf("join %d: wait cycle: %w", pid, ErrDeadlock)
	}
	if caller.cancelPending {
		return nil, ErrCanceled
	}

	if !info.terminated {
		info.waiters++
		caller.joining = pid
		caller.joinWait = info
		err := info.exitSem.waitLocked(caller, 0, true)
		caller.joining = NoPid
		caller.joinWait = nil
		info.waiters--
		if err != nil {
			return nil, err
		}
		if info.reclaimed {
			// Another joiner collected the value first.
			return nil, fmt.Errorf("join %d: %w", pid, ErrNotFound)
		}
	}

	value := info.exitValue
	g.reclaimLocked(info)
	return value, nil
}

func (g *TaskGroup) detachLocked(pid Pid) error {
	info := g.findLocked(pid)
	if info == nil {
		return fmt.Errorf("detach %d: %w", pid, ErrNotFound)
	}
	if info.detached {
		return fmt.Errorf("detach %d: already detached: %w", pid, ErrInvalid)
	}
	if info.terminated {
		g.reclaimLocked(info)
		return nil
	}
	info.detached = true
	return nil
}

// onTerminateLocked records the exit of pid. A detached record is
// reclaimed at once; otherwise it stays for a later join. Blocked joiners
// are woken either way.
func (g *TaskGroup) onTerminateLocked(pid Pid, value any) {
	g.members--
	info := g.findLocked(pid)
	if info == nil {
		return
	}
	if info.terminated {
		fatalf("join", "thread %d terminated twice", pid)
	}
	info.terminated = true
	info.exitValue = value
	if info.detached {
		g.reclaimLocked(info)
	}
	for len(info.exitSem.waiters) > 0 {
		info.exitSem.postLocked()
	}
}
