package prometheus

import (
	"context"
	"testing"
	"time"

	"github.com/Swind/go-rtkernel/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type kernelStub struct {
	stats core.KernelStats
}

func (s kernelStub) Stats() core.KernelStats { return s.stats }

type groupStub struct {
	members int
	joins   int
}

func (s groupStub) Members() int   { return s.members }
func (s groupStub) JoinCount() int { return s.joins }

func TestSnapshotPoller_CollectsKernelAndGroupStats(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	poller.AddKernel("kernel-a", kernelStub{stats: core.KernelStats{
		Ticks:        42,
		Threads:      3,
		Ready:        2,
		Pending:      1,
		Watchdogs:    4,
		NextDeadline: 9,
		Stopped:      true,
	}})
	poller.AddGroup("group-a", groupStub{members: 2, joins: 5})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	assertEventually(t, 2*time.Second, func() bool {
		ticks := testutil.ToFloat64(poller.kernelTicks.WithLabelValues("kernel-a"))
		joins := testutil.ToFloat64(poller.groupJoins.WithLabelValues("group-a"))
		return ticks == 42 && joins == 5
	})

	if got := testutil.ToFloat64(poller.kernelStopped.WithLabelValues("kernel-a")); got != 1 {
		t.Fatalf("kernel stopped gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.kernelNextDeadline.WithLabelValues("kernel-a")); got != 9 {
		t.Fatalf("next deadline gauge = %v, want 9", got)
	}
	if got := testutil.ToFloat64(poller.groupMembers.WithLabelValues("group-a")); got != 2 {
		t.Fatalf("group members gauge = %v, want 2", got)
	}
}

func TestSnapshotPoller_LiveKernel(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, time.Hour)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	k := core.NewKernel(nil)
	defer k.Shutdown()
	g := k.NewGroup("sleepers")
	for range 2 {
		_, err := k.Spawn(g, core.SpawnOptions{Priority: 10}, func(th *core.Thread) any {
			return th.Sleep(100)
		})
		if err != nil {
			t.Fatalf("Spawn failed: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := k.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle failed: %v", err)
	}

	poller.AddKernel("", k)
	poller.AddGroup(g.Name(), g)
	poller.CollectOnce()

	if got := testutil.ToFloat64(poller.kernelWatchdogs.WithLabelValues("kernel")); got != 2 {
		t.Fatalf("watchdogs gauge = %v, want 2", got)
	}
	if got := testutil.ToFloat64(poller.kernelThreads.WithLabelValues("kernel")); got != 2 {
		t.Fatalf("threads gauge = %v, want 2", got)
	}
	if got := testutil.ToFloat64(poller.kernelNextDeadline.WithLabelValues("kernel")); got != 100 {
		t.Fatalf("next deadline gauge = %v, want 100", got)
	}
	if got := testutil.ToFloat64(poller.groupMembers.WithLabelValues("sleepers")); got != 2 {
		t.Fatalf("group members gauge = %v, want 2", got)
	}
}

func TestSnapshotPoller_StartStop_Idempotent(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller.Start(ctx)
	poller.Start(ctx)
	poller.Stop()
	poller.Stop()
}

func assertEventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
