package core

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Kernel is one RTOS core: a ready-queue scheduler, a watchdog engine and
// the task groups of its threads, all guarded by a single kernel lock.
// There is no package level state; several kernels can live side by side.
type Kernel struct {
	id   string
	name string
	lock *KernelLock

	tab   *tcbTable
	idle  *TCB
	sched *Scheduler
	wdogs *WatchdogEngine
	heap  Heap
	arch  Arch

	groups    map[int]*TaskGroup
	nextGroup int
	timeSlice int

	history      switchHistory
	logger       Logger
	metrics      Metrics
	panicHandler PanicHandler

	deadlineListener func(deadline int)

	inISR   bool
	onCPU   int // thread goroutines executing outside the kernel
	stopped bool
	spawned uint64
	exited  uint64

	wg sync.WaitGroup
}

// NewKernel creates a kernel and its idle context. A nil config uses
// DefaultKernelConfig.
func NewKernel(cfg *KernelConfig) *Kernel {
	def := DefaultKernelConfig()
	if cfg == nil {
		cfg = def
	}

	k := &Kernel{
		id:           uuid.NewString(),
		name:         cfg.Name,
		lock:         newKernelLock(),
		heap:         cfg.Heap,
		arch:         cfg.Arch,
		groups:       make(map[int]*TaskGroup),
		timeSlice:    cfg.TimeSlice,
		history:      newSwitchHistory(cfg.HistoryCapacity),
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		panicHandler: cfg.PanicHandler,
	}
	if k.name == "" {
		k.name = "rtk-" + k.id[:8]
	}
	if k.heap == nil {
		k.heap = def.Heap
	}
	if k.arch == nil {
		k.arch = def.Arch
	}
	if k.logger == nil {
		k.logger = def.Logger
	}
	if dl, ok := k.logger.(*DefaultLogger); ok && dl.prefix == "" {
		k.logger = dl.With(k.name)
	}
	if k.metrics == nil {
		k.metrics = def.Metrics
	}
	if k.panicHandler == nil {
		k.panicHandler = def.PanicHandler
	}
	if k.timeSlice < 0 {
		k.timeSlice = 0
	}

	maxThreads := cfg.MaxThreads
	if maxThreads <= 0 {
		maxThreads = DefaultMaxThreads
	}
	k.tab = newTCBTable(maxThreads + 1)

	// The idle context owns pid 0 and is not charged to the heap.
	idle, _ := k.tab.alloc()
	idle.name = "idle"
	k.idle = idle
	k.sched = newScheduler(k.tab, idle, k.onSwitch)

	k.wdogs = NewWatchdogEngine(k.heap)
	k.wdogs.onFire = func(*Watchdog) { k.metrics.RecordWatchdogFired(k.name) }
	k.wdogs.onHeadChange = func(int) { k.notifyDeadlineLocked() }

	k.logger.Info("kernel created",
		F("kernel", k.name),
		F("id", k.id),
		F("max_threads", maxThreads),
		F("time_slice", k.timeSlice))
	return k
}

// ID returns the unique instance id.
func (k *Kernel) ID() string { return k.id }

// Name returns the kernel name.
func (k *Kernel) Name() string { return k.name }

// Lock returns the kernel critical section.
func (k *Kernel) Lock() *KernelLock { return k.lock }

// Spawn creates a thread in group and makes it ready to run. The new thread
// preempts the caller's running thread if it has a strictly higher priority.
func (k *Kernel) Spawn(group *TaskGroup, opts SpawnOptions, entry ThreadFunc) (Pid, error) {
	leave := k.lock.Enter()
	defer leave()
	return k.spawnLocked(group, opts, entry)
}

func (k *Kernel) spawnLocked(group *TaskGroup, opts SpawnOptions, entry ThreadFunc) (Pid, error) {
	if k.stopped {
		return NoPid, ErrKernelStopped
	}
	if group == nil || group.k != k {
		return NoPid, fmt.Errorf("spawn %q: foreign or nil group: %w", opts.Name, ErrInvalid)
	}
	if entry == nil {
		return NoPid, fmt.Errorf("spawn %q: nil entry: %w", opts.Name, ErrInvalid)
	}
	prio := opts.Priority
	if prio == 0 {
		prio = DefaultPriority
	}
	if prio < MinPriority || prio > MaxPriority {
		return NoPid, fmt.Errorf("spawn %q: priority %d: %w", opts.Name, prio, ErrInvalid)
	}
	slice := opts.TimeSlice
	switch {
	case slice == 0:
		slice = k.timeSlice
	case slice < 0:
		slice = 0
	}

	if err := k.heap.Alloc(ObjectContext); err != nil {
		k.allocFailedLocked(ObjectContext, err)
		return NoPid, fmt.Errorf("spawn %q: %w", opts.Name, err)
	}
	tcb, ok := k.tab.alloc()
	if !ok {
		k.heap.Free(ObjectContext)
		err := fmt.Errorf("context table full: %w", ErrNoMemory)
		k.allocFailedLocked(ObjectContext, err)
		return NoPid, fmt.Errorf("spawn %q: %w", opts.Name, err)
	}
	if err := k.heap.Alloc(ObjectJoinInfo); err != nil {
		k.tab.release(tcb)
		k.heap.Free(ObjectContext)
		k.allocFailedLocked(ObjectJoinInfo, err)
		return NoPid, fmt.Errorf("spawn %q: %w", opts.Name, err)
	}

	tcb.name = opts.Name
	if tcb.name == "" {
		tcb.name = fmt.Sprintf("thread-%d", tcb.pid)
	}
	tcb.priority = prio
	tcb.basePriority = prio
	tcb.timeSlice = slice
	tcb.group = group
	tcb.entry = entry

	group.addLocked(&JoinInfo{
		pid:     tcb.pid,
		exitSem: newPrivateSemaphore(k, "join:"+tcb.name),
	})
	group.members++
	k.spawned++

	k.wg.Add(1)
	k.arch.Launch(tcb, func() { k.threadMain(tcb) })
	k.sched.Insert(tcb)

	k.logger.Debug("thread spawned",
		F("kernel", k.name),
		F("pid", tcb.pid),
		F("name", tcb.name),
		F("group", group.name),
		F("priority", prio))
	return tcb.pid, nil
}

func (k *Kernel) threadMain(tcb *TCB) {
	defer k.wg.Done()

	k.lock.Do(func() { k.parkLocked(tcb) })
	value := k.runEntry(&Thread{k: k, tcb: tcb})

	leave := k.lock.Enter()
	defer leave()
	k.parkLocked(tcb)
	k.terminateLocked(tcb, value)
	k.setOnCPULocked(tcb, false)
}

// runEntry calls the entry function. A panic is reported and ends the thread
// with a nil exit value; kernel invariant violations are not recovered.
func (k *Kernel) runEntry(t *Thread) (value any) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if ie, ok := r.(*InvariantError); ok {
			panic(ie)
		}
		k.panicHandler.HandlePanic(k.name, t.tcb.pid, t.tcb.name, r, debug.Stack())
		k.lock.Do(func() { k.metrics.RecordThreadPanic(k.name, r) })
		value = nil
	}()
	return t.tcb.entry(t)
}

// parkLocked blocks the calling goroutine until tcb is RUNNING. The goroutine
// of a terminated context exits here.
func (k *Kernel) parkLocked(tcb *TCB) {
	k.setOnCPULocked(tcb, false)
	for {
		switch tcb.state {
		case StateRunning:
			k.setOnCPULocked(tcb, true)
			return
		case StateTerminated:
			runtime.Goexit()
		}
		k.lock.wait()
	}
}

func (k *Kernel) setOnCPULocked(tcb *TCB, on bool) {
	if tcb.onCPU == on {
		return
	}
	tcb.onCPU = on
	if on {
		k.onCPU++
		return
	}
	k.onCPU--
	k.lock.wake()
}

// blockLocked takes the running context tcb off the ready queue and parks
// its goroutine until something makes it RUNNING again.
func (k *Kernel) blockLocked(tcb *TCB) {
	k.sched.Remove(tcb, StateWaiting)
	k.parkLocked(tcb)
}

// wakeLocked ends the wait of tcb with result and makes it ready.
func (k *Kernel) wakeLocked(tcb *TCB, result error) {
	if tcb.state != StateWaiting {
		return
	}
	tcb.waitSem = nil
	tcb.waitResult = result
	tcb.interruptible = false
	if tcb.wd != nil {
		k.wdogs.Cancel(tcb.wd)
	}
	k.sched.Insert(tcb)
}

func (k *Kernel) armTimeoutLocked(tcb *TCB, ticks int) error {
	wd, err := k.wdogs.Create()
	if err != nil {
		k.allocFailedLocked(ObjectWatchdog, err)
		return err
	}
	tcb.wd = wd
	k.wdogs.Start(wd, ticks, k.waitTimeout, tcb)
	return nil
}

func (k *Kernel) releaseTimeoutLocked(tcb *TCB) {
	if tcb.wd == nil {
		return
	}
	k.wdogs.Delete(tcb.wd)
	tcb.wd = nil
}

// waitTimeout is the watchdog callback of bounded waits and sleeps.
func (k *Kernel) waitTimeout(arg any) {
	tcb := arg.(*TCB)
	if tcb.state != StateWaiting {
		return
	}
	if sem := tcb.waitSem; sem != nil {
		sem.removeWaiter(tcb)
		k.wakeLocked(tcb, ErrTimeout)
		return
	}
	k.wakeLocked(tcb, nil)
}

func (k *Kernel) sleepLocked(tcb *TCB, ticks int) error {
	if ticks <= 0 {
		k.sched.YieldCurrent()
		return nil
	}
	if tcb.cancelPending {
		return ErrCanceled
	}
	if err := k.armTimeoutLocked(tcb, ticks); err != nil {
		return fmt.Errorf("sleep %d: %w", ticks, err)
	}
	tcb.waitResult = nil
	tcb.interruptible = true
	k.blockLocked(tcb)

	err := tcb.waitResult
	k.releaseTimeoutLocked(tcb)
	return err
}

func (k *Kernel) allocFailedLocked(kind ObjectKind, err error) {
	k.metrics.RecordAllocationFailure(k.name, kind.String())
	k.logger.Warn("kernel allocation failed",
		F("kernel", k.name),
		F("kind", kind.String()),
		F("error", err))
}

// joinCycleLocked reports whether caller waiting on target would close a
// cycle of joins.
func (k *Kernel) joinCycleLocked(caller *TCB, target Pid) bool {
	next := target
	for range len(k.tab.slots) {
		tcb := k.tab.get(next)
		if tcb == nil || tcb.joining == NoPid {
			return false
		}
		if tcb.joining == caller.pid {
			return true
		}
		next = tcb.joining
	}
	return true
}

// Cancel requests cancellation of pid. A thread blocked at a cancellation
// point wakes with ErrCanceled; otherwise the request stays pending until
// the thread reaches one.
func (k *Kernel) Cancel(pid Pid) error {
	leave := k.lock.Enter()
	defer leave()
	return k.cancelLocked(pid)
}

func (k *Kernel) cancelLocked(pid Pid) error {
	tcb := k.tab.get(pid)
	if tcb == nil || tcb.state == StateTerminated {
		return fmt.Errorf("cancel %d: %w", pid, ErrNotFound)
	}
	if tcb.isIdle() {
		return fmt.Errorf("cancel idle: %w", ErrInvalid)
	}
	tcb.cancelPending = true
	if tcb.state == StateWaiting && tcb.interruptible {
		if tcb.waitSem != nil {
			tcb.waitSem.removeWaiter(tcb)
		}
		k.wakeLocked(tcb, ErrCanceled)
	}
	k.logger.Debug("thread cancel requested",
		F("kernel", k.name),
		F("pid", pid),
		F("state", tcb.state))
	return nil
}

// Terminate destroys pid in whatever state it is in and records value as its
// exit value. The goroutine of a thread that is executing stops at its next
// kernel entry.
func (k *Kernel) Terminate(pid Pid, value any) error {
	leave := k.lock.Enter()
	defer leave()

	tcb := k.tab.get(pid)
	if tcb == nil || tcb.state == StateTerminated {
		return fmt.Errorf("terminate %d: %w", pid, ErrNotFound)
	}
	if tcb.isIdle() {
		return fmt.Errorf("terminate idle: %w", ErrInvalid)
	}
	k.terminateLocked(tcb, value)
	return nil
}

func (k *Kernel) terminateLocked(tcb *TCB, value any) {
	switch tcb.state {
	case StateTerminated:
		fatalf("kernel", "context %d terminated twice", tcb.pid)
	case StateWaiting:
		if tcb.waitSem != nil {
			tcb.waitSem.removeWaiter(tcb)
			tcb.waitSem = nil
		}
		tcb.state = StateTerminated
	default:
		k.sched.Remove(tcb, StateTerminated)
	}

	// The owned watchdog goes before the context it points at.
	k.releaseTimeoutLocked(tcb)

	if info := tcb.joinWait; info != nil {
		info.waiters--
		tcb.joinWait = nil
		tcb.joining = NoPid
	}
	tcb.group.onTerminateLocked(tcb.pid, value)

	k.tab.release(tcb)
	k.heap.Free(ObjectContext)
	k.exited++
	k.lock.wake()

	k.logger.Debug("thread terminated",
		F("kernel", k.name),
		F("pid", tcb.pid),
		F("name", tcb.name))
}

// SetPriority changes the priority of pid.
func (k *Kernel) SetPriority(pid Pid, prio int) error {
	leave := k.lock.Enter()
	defer leave()
	return k.setPriorityLocked(pid, prio)
}

func (k *Kernel) setPriorityLocked(pid Pid, prio int) error {
	if prio < MinPriority || prio > MaxPriority {
		return fmt.Errorf("set priority %d: %w", prio, ErrInvalid)
	}
	tcb := k.tab.get(pid)
	if tcb == nil || tcb.state == StateTerminated {
		return fmt.Errorf("set priority of %d: %w", pid, ErrNotFound)
	}
	if tcb.isIdle() {
		return fmt.Errorf("set priority of idle: %w", ErrInvalid)
	}
	k.sched.SetPriority(tcb, prio)
	if tcb.waitSem != nil {
		tcb.waitSem.resort(tcb)
	}
	return nil
}

// Tick is the timer interrupt: it advances the watchdog engine by one tick,
// charges the running time slice and performs any switch the interrupt made
// due on its way out.
func (k *Kernel) Tick() {
	k.AdvanceTicks(1)
}

// AdvanceTicks processes n elapsed ticks in a single interrupt. Tickless
// drivers use it to catch up after sleeping until NextDeadline.
func (k *Kernel) AdvanceTicks(n int) {
	if n <= 0 {
		return
	}
	leave := k.lock.Enter()
	defer leave()

	k.inISR = true
	k.sched.EnterInterrupt()
	k.wdogs.AdvanceBy(n)
	k.sched.Tick(n)
	k.sched.ExitInterrupt()
	k.inISR = false
	k.notifyDeadlineLocked()
}

// Ticks returns the ticks processed so far.
func (k *Kernel) Ticks() uint64 {
	leave := k.lock.Enter()
	defer leave()
	return k.wdogs.Ticks()
}

// NextDeadline returns the ticks until something is due: the earliest
// watchdog or the end of a time slice shared with a band peer. Zero means
// nothing is due and a tickless driver may sleep indefinitely.
func (k *Kernel) NextDeadline() int {
	leave := k.lock.Enter()
	defer leave()
	return k.nextDeadlineLocked()
}

func (k *Kernel) nextDeadlineLocked() int {
	wd := k.wdogs.NextDeadline()
	slice := k.sched.nextSliceDeadline()
	switch {
	case wd == 0:
		return slice
	case slice == 0:
		return wd
	default:
		return min(wd, slice)
	}
}

// SetDeadlineListener registers fn to be told the new NextDeadline whenever
// it may have changed. fn runs with the kernel lock held and must not block
// or call back into the kernel.
func (k *Kernel) SetDeadlineListener(fn func(deadline int)) {
	leave := k.lock.Enter()
	defer leave()
	k.deadlineListener = fn
}

func (k *Kernel) notifyDeadlineLocked() {
	if k.deadlineListener == nil || k.inISR {
		return
	}
	k.deadlineListener(k.nextDeadlineLocked())
}

func (k *Kernel) onSwitch(from, to *TCB, reason SwitchReason) {
	k.arch.SwitchContext(from, to)
	k.history.Add(SwitchRecord{
		Seq:       k.sched.Switches(),
		Tick:      k.wdogs.Ticks(),
		From:      from.pid,
		FromName:  from.name,
		To:        to.pid,
		ToName:    to.name,
		Reason:    reason,
		Interrupt: k.inISR,
	})
	k.metrics.RecordContextSwitch(k.name, reason.String())
	k.metrics.RecordReadyDepth(k.name, k.sched.ReadyCount())
	k.lock.wake()
	k.notifyDeadlineLocked()
}

// =============================================================================
// Watchdogs
// =============================================================================

// ISRFunc is a watchdog callback. It runs in interrupt context with the
// kernel lock held and must not block.
type ISRFunc func(isr ISR)

// ISR is the interface available to watchdog callbacks. Kernel methods take
// the kernel lock and must not be called from a callback.
type ISR struct {
	k *Kernel
}

// Ticks returns the tick count including the ticks being processed.
func (isr ISR) Ticks() uint64 { return isr.k.wdogs.Ticks() }

// Post posts sem from interrupt context. A woken thread waits on the pending
// list until the interrupt returns.
func (isr ISR) Post(sem *Semaphore) {
	if sem == nil || sem.k != isr.k {
		return
	}
	sem.postLocked()
}

// Restart queues wd again, typically the watchdog whose callback is running.
func (isr ISR) Restart(wd *Watchdog, delay int, fn ISRFunc) error {
	return isr.k.startWatchdogLocked(wd, delay, fn)
}

// Cancel dequeues wd.
func (isr ISR) Cancel(wd *Watchdog) {
	isr.k.wdogs.Cancel(wd)
}

// CreateWatchdog allocates an inactive watchdog.
func (k *Kernel) CreateWatchdog() (*Watchdog, error) {
	leave := k.lock.Enter()
	defer leave()

	wd, err := k.wdogs.Create()
	if err != nil {
		k.allocFailedLocked(ObjectWatchdog, err)
		return nil, fmt.Errorf("create watchdog: %w", err)
	}
	return wd, nil
}

// StartWatchdog queues wd to call fn after delay ticks, restarting it if it
// is already queued.
func (k *Kernel) StartWatchdog(wd *Watchdog, delay int, fn ISRFunc) error {
	leave := k.lock.Enter()
	defer leave()
	if k.stopped {
		return ErrKernelStopped
	}
	return k.startWatchdogLocked(wd, delay, fn)
}

func (k *Kernel) startWatchdogLocked(wd *Watchdog, delay int, fn ISRFunc) error {
	if wd == nil || wd.deleted || wd.engine != k.wdogs {
		return fmt.Errorf("start watchdog: %w", ErrInvalid)
	}
	if fn == nil {
		return fmt.Errorf("start watchdog %d: nil callback: %w", wd.id, ErrInvalid)
	}
	k.wdogs.Start(wd, delay, k.runISR, fn)
	return nil
}

func (k *Kernel) runISR(arg any) {
	arg.(ISRFunc)(ISR{k: k})
}

// CancelWatchdog dequeues wd. Inactive watchdogs are ignored.
func (k *Kernel) CancelWatchdog(wd *Watchdog) {
	leave := k.lock.Enter()
	defer leave()
	k.wdogs.Cancel(wd)
}

// DeleteWatchdog cancels wd and releases its storage.
func (k *Kernel) DeleteWatchdog(wd *Watchdog) {
	leave := k.lock.Enter()
	defer leave()
	k.wdogs.Delete(wd)
}

// WatchdogRemaining returns the ticks until wd fires, 0 if it is not queued.
func (k *Kernel) WatchdogRemaining(wd *Watchdog) int {
	leave := k.lock.Enter()
	defer leave()
	return k.wdogs.Remaining(wd)
}

// =============================================================================
// Observability
// =============================================================================

// Running returns the pid of the RUNNING context.
func (k *Kernel) Running() Pid {
	leave := k.lock.Enter()
	defer leave()
	return k.sched.Running().pid
}

// ReadyOrder returns the ready queue, running context first, idle last.
func (k *Kernel) ReadyOrder() []Pid {
	leave := k.lock.Enter()
	defer leave()
	return k.sched.ReadyOrder()
}

// Thread returns a snapshot of pid.
func (k *Kernel) Thread(pid Pid) (ThreadInfo, bool) {
	leave := k.lock.Enter()
	defer leave()
	tcb := k.tab.get(pid)
	if tcb == nil {
		return ThreadInfo{}, false
	}
	return threadInfo(tcb), true
}

// Threads returns a snapshot of every live context ordered by pid.
func (k *Kernel) Threads() []ThreadInfo {
	leave := k.lock.Enter()
	defer leave()

	var out []ThreadInfo
	k.tab.forEach(func(tcb *TCB) {
		out = append(out, threadInfo(tcb))
	})
	slices.SortFunc(out, func(a, b ThreadInfo) int { return int(a.Pid - b.Pid) })
	return out
}

func threadInfo(tcb *TCB) ThreadInfo {
	info := ThreadInfo{
		Pid:              tcb.pid,
		Name:             tcb.name,
		State:            tcb.state,
		Priority:         tcb.priority,
		BasePriority:     tcb.basePriority,
		TimeSlice:        tcb.timeSlice,
		SliceLeft:        tcb.sliceLeft,
		PreemptionLocked: tcb.lockCount,
		CancelPending:    tcb.cancelPending,
		WatchdogArmed:    tcb.wd != nil && tcb.wd.active,
		Joining:          tcb.joining,
	}
	if tcb.group != nil {
		info.Group = tcb.group.name
	}
	return info
}

// Stats returns a snapshot of kernel counters.
func (k *Kernel) Stats() KernelStats {
	leave := k.lock.Enter()
	defer leave()

	running := k.sched.Running()
	return KernelStats{
		ID:             k.id,
		Name:           k.name,
		Ticks:          k.wdogs.Ticks(),
		Running:        running.pid,
		RunningName:    running.name,
		Threads:        k.tab.live - 1,
		Ready:          k.sched.ReadyCount(),
		Pending:        k.sched.PendingCount(),
		Watchdogs:      k.wdogs.Count(),
		WatchdogsFired: k.wdogs.Fired(),
		Switches:       k.sched.Switches(),
		Spawned:        k.spawned,
		Exited:         k.exited,
		Groups:         len(k.groups),
		NextDeadline:   k.nextDeadlineLocked(),
		Stopped:        k.stopped,
	}
}

// RecentSwitches returns up to limit context switch records, oldest first.
func (k *Kernel) RecentSwitches(limit int) []SwitchRecord {
	return k.history.Recent(limit)
}

// LastSwitch returns the most recent context switch.
func (k *Kernel) LastSwitch() (SwitchRecord, bool) {
	return k.history.Last()
}

// WaitIdle blocks until the idle context is running and no thread goroutine
// is executing, i.e. every thread is blocked or gone and nothing changes
// until the next tick or outside call.
func (k *Kernel) WaitIdle(ctx context.Context) error {
	leave := k.lock.Enter()
	defer leave()

	stop := context.AfterFunc(ctx, func() { k.lock.Do(k.lock.wake) })
	defer stop()

	for k.sched.Running() != k.idle || k.onCPU > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		k.lock.wait()
	}
	return nil
}

// Shutdown terminates every thread and waits for their goroutines to exit.
// It must not be called from a kernel thread. Threads busy outside the
// kernel are stopped when they next enter it or return.
func (k *Kernel) Shutdown() {
	k.lock.Do(func() {
		if k.stopped {
			return
		}
		k.stopped = true

		var victims []*TCB
		k.tab.forEach(func(tcb *TCB) {
			if !tcb.isIdle() && tcb.state != StateTerminated {
				victims = append(victims, tcb)
			}
		})
		for _, tcb := range victims {
			k.terminateLocked(tcb, nil)
		}
		k.logger.Info("kernel shutdown",
			F("kernel", k.name),
			F("terminated", len(victims)))
	})
	k.wg.Wait()
}
