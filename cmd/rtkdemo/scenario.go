package main

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/Swind/go-rtkernel/core"
)

// scenarioFunc runs as the top priority thread of a fresh group and reports
// what it observed to out.
type scenarioFunc func(th *core.Thread, out io.Writer) error

var scenarios = map[string]scenarioFunc{
	"roundrobin": roundRobinScenario,
	"timedwake":  timedWakeScenario,
	"join":       joinScenario,
}

func scenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// busyUntil spins through preemption points until the kernel reaches tick.
func busyUntil(th *core.Thread, tick uint64) any {
	spins := 0
	for th.Ticks() < tick {
		th.Checkpoint()
		spins++
	}
	return spins
}

func joinAll(th *core.Thread, pids []core.Pid) ([]any, error) {
	values := make([]any, 0, len(pids))
	for _, pid := range pids {
		v, err := th.Join(pid)
		if err != nil {
			return nil, fmt.Errorf("join %d: %w", pid, err)
		}
		values = append(values, v)
	}
	return values, nil
}

// roundRobinScenario runs three equal priority busy threads that share the
// CPU through their time slices.
func roundRobinScenario(th *core.Thread, out io.Writer) error {
	end := th.Ticks() + 30
	var pids []core.Pid
	for _, name := range []string{"rr-a", "rr-b", "rr-c"} {
		pid, err := th.Spawn(core.SpawnOptions{Name: name, Priority: 10}, func(w *core.Thread) any {
			return busyUntil(w, end)
		})
		if err != nil {
			return err
		}
		pids = append(pids, pid)
	}
	if _, err := joinAll(th, pids); err != nil {
		return err
	}

	var order []string
	for _, rec := range th.Kernel().RecentSwitches(0) {
		if rec.Reason == core.SwitchTimeSlice {
			order = append(order, rec.ToName)
		}
	}
	fmt.Fprintf(out, "roundrobin: %d time slice rotations: %s\n", len(order), strings.Join(order, " "))
	return nil
}

// timedWakeScenario has a sleeping high priority thread preempt two busy
// lower priority ones when its watchdog expires.
func timedWakeScenario(th *core.Thread, out io.Writer) error {
	start := th.Ticks()
	var pids []core.Pid
	for _, name := range []string{"T1", "T2"} {
		pid, err := th.Spawn(core.SpawnOptions{Name: name, Priority: 10}, func(w *core.Thread) any {
			return busyUntil(w, start+20)
		})
		if err != nil {
			return err
		}
		pids = append(pids, pid)
	}
	t3, err := th.Spawn(core.SpawnOptions{Name: "T3", Priority: 20}, func(w *core.Thread) any {
		if err := w.Sleep(10); err != nil {
			return err
		}
		return w.Ticks() - start
	})
	if err != nil {
		return err
	}

	woke, err := th.Join(t3)
	if err != nil {
		return err
	}
	if _, err := joinAll(th, pids); err != nil {
		return err
	}

	preempted := "none"
	for _, rec := range th.Kernel().RecentSwitches(0) {
		if rec.ToName == "T3" && rec.Reason == core.SwitchPreempt && rec.Interrupt {
			preempted = rec.FromName
			break
		}
	}
	fmt.Fprintf(out, "timedwake: T3 woke after %v ticks and preempted %s\n", woke, preempted)
	return nil
}

// joinScenario exercises the join, detach and cancel paths.
func joinScenario(th *core.Thread, out io.Writer) error {
	answer, err := th.Spawn(core.SpawnOptions{Name: "answer", Priority: 10}, func(w *core.Thread) any {
		return 42
	})
	if err != nil {
		return err
	}
	loner, err := th.Spawn(core.SpawnOptions{Name: "loner", Priority: 10}, func(w *core.Thread) any {
		_ = w.Detach(w.Pid())
		return "never collected"
	})
	if err != nil {
		return err
	}
	sleeper, err := th.Spawn(core.SpawnOptions{Name: "sleeper", Priority: 10}, func(w *core.Thread) any {
		return w.Sleep(1 << 20)
	})
	if err != nil {
		return err
	}

	v, err := th.Join(answer)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "join: answer returned %v\n", v)

	if err := th.Cancel(sleeper); err != nil {
		return err
	}
	v, err = th.Join(sleeper)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "join: sleeper returned %v\n", v)

	_, err = th.Join(loner)
	switch {
	case errors.Is(err, core.ErrInvalid), errors.Is(err, core.ErrNotFound):
		fmt.Fprintf(out, "join: loner is detached (%s)\n", core.StatusOf(err))
	default:
		return fmt.Errorf("join detached thread: unexpected result %v", err)
	}

	_, err = th.Join(th.Pid())
	fmt.Fprintf(out, "join: self join is %s\n", core.StatusOf(err))
	return nil
}
