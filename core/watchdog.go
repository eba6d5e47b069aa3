package core

// WatchdogFunc is a watchdog expiration callback. It runs synchronously
// inside AdvanceBy, in interrupt context, and must not block.
type WatchdogFunc func(arg any)

// Watchdog is a one-shot relative timer.
type Watchdog struct {
	id      uint64
	next    *Watchdog
	lag     int
	active  bool
	deleted bool

	fn  WatchdogFunc
	arg any

	engine *WatchdogEngine
}

// ID returns the watchdog identity, unique within its engine.
func (wd *Watchdog) ID() uint64 { return wd.id }

// Active reports whether the watchdog is queued. Guarded by the kernel lock.
func (wd *Watchdog) Active() bool { return wd.active }

// WatchdogEngine keeps pending watchdogs in a singly linked delta list
// sorted by absolute expiration. Each node's lag is the number of ticks
// between the previous node's expiration and its own, so the sum of lags
// from the head through a node is that node's remaining delay. Advancing
// time only touches the head.
//
// Not safe for concurrent use; callers hold the kernel lock.
type WatchdogEngine struct {
	head   *Watchdog
	count  int
	nextID uint64
	ticks  uint64
	fired  uint64

	heap Heap

	// onHeadChange is told the new head lag whenever the earliest deadline
	// changes outside AdvanceBy (0 = list empty).
	onHeadChange func(deadline int)
	// onFire is called after each callback returns.
	onFire func(wd *Watchdog)
	advancing bool
}

// NewWatchdogEngine creates an engine charging watchdog storage to heap.
// A nil heap never refuses.
func NewWatchdogEngine(heap Heap) *WatchdogEngine {
	if heap == nil {
		heap = UnlimitedHeap()
	}
	return &WatchdogEngine{heap: heap}
}

// Create allocates an inactive watchdog. It fails with ErrNoMemory when the
// heap is exhausted; the caller abandons the timed operation.
func (e *WatchdogEngine) Create() (*Watchdog, error) {
	if err := e.heap.Alloc(ObjectWatchdog); err != nil {
		return nil, err
	}
	e.nextID++
	return &Watchdog{id: e.nextID, engine: e}, nil
}

// Start queues wd to fire fn(arg) after delay ticks. An active watchdog is
// canceled first. Delays below one tick are rounded up: a watchdog always
// fires from a tick, never from Start.
func (e *WatchdogEngine) Start(wd *Watchdog, delay int, fn WatchdogFunc, arg any) {
	if wd == nil {
		return
	}
	if wd.deleted || wd.engine != e {
		fatalf("watchdog", "start of deleted or foreign watchdog %d", wd.id)
	}
	if wd.active {
		e.Cancel(wd)
	}
	if delay < 1 {
		delay = 1
	}
	wd.fn, wd.arg = fn, arg

	var prev *Watchdog
	curr := e.head
	for curr != nil && delay >= curr.lag {
		delay -= curr.lag
		prev = curr
		curr = curr.next
	}

	wd.lag = delay
	wd.next = curr
	if curr != nil {
		curr.lag -= delay
	}
	if prev == nil {
		e.head = wd
	} else {
		prev.next = wd
	}
	wd.active = true
	e.count++

	if prev == nil {
		e.headChanged()
	}
}

// Cancel dequeues an active watchdog, folding its lag into the successor so
// every remaining expiration is unchanged. Inactive or untracked watchdogs
// are ignored.
func (e *WatchdogEngine) Cancel(wd *Watchdog) {
	if wd == nil || !wd.active || wd.engine != e {
		return
	}

	var prev *Watchdog
	curr := e.head
	for curr != nil && curr != wd {
		prev = curr
		curr = curr.next
	}
	if curr == nil {
		fatalf("watchdog", "active watchdog %d missing from delta list", wd.id)
	}

	if wd.next != nil {
		wd.next.lag += wd.lag
	}
	if prev == nil {
		e.head = wd.next
	} else {
		prev.next = wd.next
	}
	wd.next = nil
	wd.lag = 0
	wd.active = false
	e.count--

	if prev == nil {
		e.headChanged()
	}
}

// Delete cancels wd if needed and releases its storage. Deleting twice is a
// no-op.
func (e *WatchdogEngine) Delete(wd *Watchdog) {
	if wd == nil || wd.deleted || wd.engine != e {
		return
	}
	e.Cancel(wd)
	wd.deleted = true
	wd.fn, wd.arg = nil, nil
	e.heap.Free(ObjectWatchdog)
}

// Remaining returns the ticks left until wd fires, or 0 when it is not
// queued.
func (e *WatchdogEngine) Remaining(wd *Watchdog) int {
	if wd == nil || !wd.active || wd.engine != e {
		return 0
	}
	sum := 0
	for curr := e.head; curr != nil; curr = curr.next {
		sum += curr.lag
		if curr == wd {
			return sum
		}
	}
	return 0
}

// AdvanceBy consumes n ticks from the head of the list. Each node whose lag
// reaches zero is dequeued and its callback invoked before the next head is
// considered. Ticks left over once the list is empty are dropped.
func (e *WatchdogEngine) AdvanceBy(n int) {
	if n <= 0 {
		return
	}
	e.ticks += uint64(n)

	e.advancing = true
	defer func() {
		e.advancing = false
		e.headChanged()
	}()

	for e.head != nil {
		step := min(n, e.head.lag)
		e.head.lag -= step
		n -= step

		for e.head != nil && e.head.lag == 0 {
			wd := e.head
			e.head = wd.next
			wd.next = nil
			wd.active = false
			e.count--
			e.fired++

			fn, arg := wd.fn, wd.arg
			if fn != nil {
				fn(arg)
			}
			if e.onFire != nil {
				e.onFire(wd)
			}
		}
		if n == 0 {
			return
		}
	}
}

// NextDeadline returns the lag of the head, i.e. the ticks until the next
// expiration, or 0 when nothing is queued.
func (e *WatchdogEngine) NextDeadline() int {
	if e.head == nil {
		return 0
	}
	return e.head.lag
}

// Count returns the number of queued watchdogs.
func (e *WatchdogEngine) Count() int { return e.count }

// Ticks returns the total ticks consumed by AdvanceBy.
func (e *WatchdogEngine) Ticks() uint64 { return e.ticks }

// Fired returns the number of callbacks invoked.
func (e *WatchdogEngine) Fired() uint64 { return e.fired }

// lags returns the raw delta list, head first.
func (e *WatchdogEngine) lags() []int {
	out := make([]int, 0, e.count)
	for curr := e.head; curr != nil; curr = curr.next {
		out = append(out, curr.lag)
	}
	return out
}

func (e *WatchdogEngine) headChanged() {
	if e.advancing || e.onHeadChange == nil {
		return
	}
	e.onHeadChange(e.NextDeadline())
}
