package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-rtkernel/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// KernelSnapshotProvider provides current kernel stats snapshots.
type KernelSnapshotProvider interface {
	Stats() core.KernelStats
}

// GroupSnapshotProvider provides task group occupancy.
type GroupSnapshotProvider interface {
	Members() int
	JoinCount() int
}

// SnapshotPoller periodically exports kernel and group snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	kernelsMu sync.RWMutex
	kernels   map[string]KernelSnapshotProvider

	groupsMu sync.RWMutex
	groups   map[string]GroupSnapshotProvider

	kernelTicks        *prom.GaugeVec
	kernelThreads      *prom.GaugeVec
	kernelReady        *prom.GaugeVec
	kernelPending      *prom.GaugeVec
	kernelWatchdogs    *prom.GaugeVec
	kernelNextDeadline *prom.GaugeVec
	kernelStopped      *prom.GaugeVec

	groupMembers *prom.GaugeVec
	groupJoins   *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	kernelTicks := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "rtkernel",
		Name:      "kernel_ticks",
		Help:      "Ticks delivered to the kernel.",
	}, []string{"kernel"})
	kernelThreads := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "rtkernel",
		Name:      "kernel_threads",
		Help:      "Live thread contexts excluding idle.",
	}, []string{"kernel"})
	kernelReady := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "rtkernel",
		Name:      "kernel_ready",
		Help:      "Contexts on the ready list excluding idle.",
	}, []string{"kernel"})
	kernelPending := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "rtkernel",
		Name:      "kernel_pending",
		Help:      "Contexts held on the pending list.",
	}, []string{"kernel"})
	kernelWatchdogs := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "rtkernel",
		Name:      "kernel_watchdogs",
		Help:      "Armed watchdogs.",
	}, []string{"kernel"})
	kernelNextDeadline := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "rtkernel",
		Name:      "kernel_next_deadline_ticks",
		Help:      "Ticks until the next timed event (0=none).",
	}, []string{"kernel"})
	kernelStopped := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "rtkernel",
		Name:      "kernel_stopped",
		Help:      "Kernel stopped state (1=stopped, 0=running).",
	}, []string{"kernel"})

	groupMembers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "rtkernel",
		Name:      "group_members",
		Help:      "Live threads per task group.",
	}, []string{"group"})
	groupJoins := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "rtkernel",
		Name:      "group_join_records",
		Help:      "Unreclaimed join records per task group.",
	}, []string{"group"})

	var err error
	if kernelTicks, err = registerCollector(reg, kernelTicks); err != nil {
		return nil, err
	}
	if kernelThreads, err = registerCollector(reg, kernelThreads); err != nil {
		return nil, err
	}
	if kernelReady, err = registerCollector(reg, kernelReady); err != nil {
		return nil, err
	}
	if kernelPending, err = registerCollector(reg, kernelPending); err != nil {
		return nil, err
	}
	if kernelWatchdogs, err = registerCollector(reg, kernelWatchdogs); err != nil {
		return nil, err
	}
	if kernelNextDeadline, err = registerCollector(reg, kernelNextDeadline); err != nil {
		return nil, err
	}
	if kernelStopped, err = registerCollector(reg, kernelStopped); err != nil {
		return nil, err
	}
	if groupMembers, err = registerCollector(reg, groupMembers); err != nil {
		return nil, err
	}
	if groupJoins, err = registerCollector(reg, groupJoins); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:           interval,
		kernels:            make(map[string]KernelSnapshotProvider),
		groups:             make(map[string]GroupSnapshotProvider),
		kernelTicks:        kernelTicks,
		kernelThreads:      kernelThreads,
		kernelReady:        kernelReady,
		kernelPending:      kernelPending,
		kernelWatchdogs:    kernelWatchdogs,
		kernelNextDeadline: kernelNextDeadline,
		kernelStopped:      kernelStopped,
		groupMembers:       groupMembers,
		groupJoins:         groupJoins,
	}, nil
}

// AddKernel adds or replaces a kernel snapshot provider by name.
func (p *SnapshotPoller) AddKernel(name string, provider KernelSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "kernel")
	p.kernelsMu.Lock()
	p.kernels[name] = provider
	p.kernelsMu.Unlock()
}

// AddGroup adds or replaces a task group provider by name.
func (p *SnapshotPoller) AddGroup(name string, provider GroupSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "group")
	p.groupsMu.Lock()
	p.groups[name] = provider
	p.groupsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

// CollectOnce takes one snapshot of every provider.
func (p *SnapshotPoller) CollectOnce() {
	if p == nil {
		return
	}
	p.collectOnce()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.kernelsMu.RLock()
	for name, provider := range p.kernels {
		stats := provider.Stats()
		p.kernelTicks.WithLabelValues(name).Set(float64(stats.Ticks))
		p.kernelThreads.WithLabelValues(name).Set(float64(stats.Threads))
		p.kernelReady.WithLabelValues(name).Set(float64(stats.Ready))
		p.kernelPending.WithLabelValues(name).Set(float64(stats.Pending))
		p.kernelWatchdogs.WithLabelValues(name).Set(float64(stats.Watchdogs))
		p.kernelNextDeadline.WithLabelValues(name).Set(float64(stats.NextDeadline))
		if stats.Stopped {
			p.kernelStopped.WithLabelValues(name).Set(1)
		} else {
			p.kernelStopped.WithLabelValues(name).Set(0)
		}
	}
	p.kernelsMu.RUnlock()

	p.groupsMu.RLock()
	for name, provider := range p.groups {
		p.groupMembers.WithLabelValues(name).Set(float64(provider.Members()))
		p.groupJoins.WithLabelValues(name).Set(float64(provider.JoinCount()))
	}
	p.groupsMu.RUnlock()
}
