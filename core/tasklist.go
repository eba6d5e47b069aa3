package core

// listID tags which scheduler list a context is linked into.
type listID uint8

const (
	listNone listID = iota
	listReady
	listPending
)

func (id listID) String() string {
	switch id {
	case listReady:
		return "ready"
	case listPending:
		return "pending"
	default:
		return "none"
	}
}

// listLinks are the intrusive links embedded in every TCB. Links are pids,
// resolved through the owning tcbTable.
type listLinks struct {
	next, prev Pid
	owner      listID
}

func (l *listLinks) reset() {
	l.next, l.prev, l.owner = NoPid, NoPid, listNone
}

// taskList is an intrusive doubly-linked list of contexts. A context is a
// member of at most one taskList at a time.
type taskList struct {
	id         listID
	head, tail Pid
	n          int
	tab        *tcbTable
}

func newTaskList(id listID, tab *tcbTable) taskList {
	return taskList{id: id, head: NoPid, tail: NoPid, tab: tab}
}

func (l *taskList) Len() int { return l.n }

func (l *taskList) front() *TCB { return l.tab.get(l.head) }

func (l *taskList) back() *TCB { return l.tab.get(l.tail) }

func (l *taskList) next(tcb *TCB) *TCB {
	if tcb.links.owner != l.id {
		fatalf("tasklist", "%v list walked from foreign context %d", l.id, tcb.pid)
	}
	return l.tab.get(tcb.links.next)
}

func (l *taskList) link(tcb *TCB) {
	if tcb.links.owner != listNone {
		fatalf("tasklist", "context %d inserted into %v list while on %v list",
			tcb.pid, l.id, tcb.links.owner)
	}
	tcb.links.owner = l.id
	l.n++
}

// insertBefore links tcb in front of next; a nil next appends.
func (l *taskList) insertBefore(tcb, next *TCB) {
	if next == nil {
		l.pushBack(tcb)
		return
	}
	if next.links.owner != l.id {
		fatalf("tasklist", "insert anchor %d is not on the %v list", next.pid, l.id)
	}
	l.link(tcb)

	prev := l.tab.get(next.links.prev)
	tcb.links.next = next.pid
	tcb.links.prev = next.links.prev
	next.links.prev = tcb.pid
	if prev == nil {
		l.head = tcb.pid
	} else {
		prev.links.next = tcb.pid
	}
}

func (l *taskList) pushBack(tcb *TCB) {
	l.link(tcb)

	tcb.links.next = NoPid
	tcb.links.prev = l.tail
	if last := l.back(); last != nil {
		last.links.next = tcb.pid
	} else {
		l.head = tcb.pid
	}
	l.tail = tcb.pid
}

func (l *taskList) remove(tcb *TCB) {
	if tcb.links.owner != l.id {
		fatalf("tasklist", "context %d removed from %v list but owned by %v list",
			tcb.pid, l.id, tcb.links.owner)
	}

	prev := l.tab.get(tcb.links.prev)
	next := l.tab.get(tcb.links.next)
	if (prev == nil) != (l.head == tcb.pid) || (next == nil) != (l.tail == tcb.pid) {
		fatalf("tasklist", "broken links around context %d on %v list", tcb.pid, l.id)
	}

	if prev == nil {
		l.head = tcb.links.next
	} else {
		prev.links.next = tcb.links.next
	}
	if next == nil {
		l.tail = tcb.links.prev
	} else {
		next.links.prev = tcb.links.prev
	}
	tcb.links.reset()
	l.n--
}

// pids returns the list order, head first.
func (l *taskList) pids() []Pid {
	out := make([]Pid, 0, l.n)
	for tcb := l.front(); tcb != nil; tcb = l.next(tcb) {
		out = append(out, tcb.pid)
	}
	return out
}
