package core

// SwitchRecord captures one change of the running context.
type SwitchRecord struct {
	Seq       uint64
	Tick      uint64
	From      Pid
	FromName  string
	To        Pid
	ToName    string
	Reason    SwitchReason
	Interrupt bool // switch happened on the way out of a tick interrupt
}

// ThreadInfo is a snapshot of one context.
type ThreadInfo struct {
	Pid              Pid
	Name             string
	Group            string
	State            TaskState
	Priority         int
	BasePriority     int
	TimeSlice        int
	SliceLeft        int
	PreemptionLocked int
	CancelPending    bool
	WatchdogArmed    bool
	Joining          Pid
}

// KernelStats represents runtime observability state for a kernel.
type KernelStats struct {
	ID             string
	Name           string
	Ticks          uint64
	Running        Pid
	RunningName    string
	Threads        int
	Ready          int
	Pending        int
	Watchdogs      int
	WatchdogsFired uint64
	Switches       uint64
	Spawned        uint64
	Exited         uint64
	Groups         int
	NextDeadline   int
	Stopped        bool
}
