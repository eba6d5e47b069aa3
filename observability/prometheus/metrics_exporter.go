package prometheus

import (
	"errors"
	"fmt"

	"github.com/Swind/go-rtkernel/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	// ConstLabels are attached to every collector the exporter registers.
	ConstLabels prom.Labels
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	contextSwitchTotal     *prom.CounterVec
	watchdogFiredTotal     *prom.CounterVec
	readyDepth             *prom.GaugeVec
	allocationFailureTotal *prom.CounterVec
	threadPanicTotal       *prom.CounterVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "rtkernel"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	switchVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace:   namespace,
		Name:        "context_switch_total",
		Help:        "Total number of context switches by reason.",
		ConstLabels: opts.ConstLabels,
	}, []string{"kernel", "reason"})
	firedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace:   namespace,
		Name:        "watchdog_fired_total",
		Help:        "Total number of expired watchdogs.",
		ConstLabels: opts.ConstLabels,
	}, []string{"kernel"})
	depthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace:   namespace,
		Name:        "ready_depth",
		Help:        "Ready contexts excluding idle, sampled at each switch.",
		ConstLabels: opts.ConstLabels,
	}, []string{"kernel"})
	allocVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace:   namespace,
		Name:        "allocation_failure_total",
		Help:        "Total number of failed kernel object allocations.",
		ConstLabels: opts.ConstLabels,
	}, []string{"kernel", "kind"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace:   namespace,
		Name:        "thread_panic_total",
		Help:        "Total number of thread entry panics.",
		ConstLabels: opts.ConstLabels,
	}, []string{"kernel"})

	var err error
	if switchVec, err = registerCollector(reg, switchVec); err != nil {
		return nil, err
	}
	if firedVec, err = registerCollector(reg, firedVec); err != nil {
		return nil, err
	}
	if depthVec, err = registerCollector(reg, depthVec); err != nil {
		return nil, err
	}
	if allocVec, err = registerCollector(reg, allocVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		contextSwitchTotal:     switchVec,
		watchdogFiredTotal:     firedVec,
		readyDepth:             depthVec,
		allocationFailureTotal: allocVec,
		threadPanicTotal:       panicVec,
	}, nil
}

// RecordContextSwitch counts a context switch.
func (m *MetricsExporter) RecordContextSwitch(kernel string, reason string) {
	if m == nil {
		return
	}
	m.contextSwitchTotal.WithLabelValues(normalizeLabel(kernel, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordWatchdogFired counts an expired watchdog.
func (m *MetricsExporter) RecordWatchdogFired(kernel string) {
	if m == nil {
		return
	}
	m.watchdogFiredTotal.WithLabelValues(normalizeLabel(kernel, "unknown")).Inc()
}

// RecordReadyDepth records the ready queue depth.
func (m *MetricsExporter) RecordReadyDepth(kernel string, depth int) {
	if m == nil {
		return
	}
	m.readyDepth.WithLabelValues(normalizeLabel(kernel, "unknown")).Set(float64(depth))
}

// RecordAllocationFailure counts a failed object allocation.
func (m *MetricsExporter) RecordAllocationFailure(kernel string, kind string) {
	if m == nil {
		return
	}
	m.allocationFailureTotal.WithLabelValues(normalizeLabel(kernel, "unknown"), normalizeLabel(kind, "unknown")).Inc()
}

// RecordThreadPanic counts a thread whose entry panicked.
func (m *MetricsExporter) RecordThreadPanic(kernel string, panicInfo any) {
	if m == nil {
		return
	}
	m.threadPanicTotal.WithLabelValues(normalizeLabel(kernel, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
