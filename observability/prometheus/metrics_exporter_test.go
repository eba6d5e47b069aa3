package prometheus

import (
	"context"
	"testing"
	"time"

	"github.com/Swind/go-rtkernel/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsExporter_RecordMethods(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("rtkernel", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	exporter.RecordContextSwitch("kernel-a", "yield")
	exporter.RecordContextSwitch("kernel-a", "yield")
	exporter.RecordWatchdogFired("kernel-a")
	exporter.RecordReadyDepth("kernel-a", 7)
	exporter.RecordAllocationFailure("kernel-a", "watchdog")
	exporter.RecordThreadPanic("kernel-a", "panic")

	if got := testutil.ToFloat64(exporter.contextSwitchTotal.WithLabelValues("kernel-a", "yield")); got != 2 {
		t.Fatalf("switch total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(exporter.watchdogFiredTotal.WithLabelValues("kernel-a")); got != 1 {
		t.Fatalf("fired total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.readyDepth.WithLabelValues("kernel-a")); got != 7 {
		t.Fatalf("ready depth = %v, want 7", got)
	}
	if got := testutil.ToFloat64(exporter.allocationFailureTotal.WithLabelValues("kernel-a", "watchdog")); got != 1 {
		t.Fatalf("allocation failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.threadPanicTotal.WithLabelValues("kernel-a")); got != 1 {
		t.Fatalf("panic total = %v, want 1", got)
	}
}

func TestMetricsExporter_EmptyLabels(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	exporter.RecordContextSwitch("", "")

	if got := testutil.ToFloat64(exporter.contextSwitchTotal.WithLabelValues("unknown", "unknown")); got != 1 {
		t.Fatalf("switch total = %v, want 1", got)
	}
}

func TestMetricsExporter_NilReceiver(t *testing.T) {
	var exporter *MetricsExporter

	exporter.RecordContextSwitch("k", "yield")
	exporter.RecordWatchdogFired("k")
	exporter.RecordReadyDepth("k", 1)
	exporter.RecordAllocationFailure("k", "context")
	exporter.RecordThreadPanic("k", nil)
}

func TestMetricsExporter_AlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewMetricsExporter("rtkernel", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("first NewMetricsExporter failed: %v", err)
	}
	second, err := NewMetricsExporter("rtkernel", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("second NewMetricsExporter failed: %v", err)
	}

	first.RecordThreadPanic("kernel-a", nil)
	second.RecordThreadPanic("kernel-a", nil)

	got := testutil.ToFloat64(first.threadPanicTotal.WithLabelValues("kernel-a"))
	if got != 2 {
		t.Fatalf("shared panic counter = %v, want 2", got)
	}
}

// TestMetricsExporter_KernelIntegration wires the exporter into a kernel and
// checks the switches a round robin produces.
func TestMetricsExporter_KernelIntegration(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("rtkernel", reg, ExporterOptions{ConstLabels: prom.Labels{"board": "sim"}})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	cfg := core.DefaultKernelConfig()
	cfg.Name = "integration"
	cfg.Metrics = exporter
	k := core.NewKernel(cfg)
	defer k.Shutdown()
	g := k.NewGroup("app")

	yielder := func(th *core.Thread) any {
		for range 3 {
			th.Yield()
		}
		return nil
	}
	// A higher priority parent readies both yielders before either runs.
	_, err = k.Spawn(g, core.SpawnOptions{Name: "parent", Priority: 20}, func(th *core.Thread) any {
		for _, name := range []string{"a", "b"} {
			if _, err := th.Spawn(core.SpawnOptions{Name: name, Priority: 10, TimeSlice: -1}, yielder); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := k.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle failed: %v", err)
	}

	yields := testutil.ToFloat64(exporter.contextSwitchTotal.WithLabelValues("integration", "yield"))
	if yields < 5 {
		t.Fatalf("yield switches = %v, want at least 5", yields)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	family := findFamily(families, "rtkernel_context_switch_total")
	if family == nil {
		t.Fatal("rtkernel_context_switch_total not gathered")
	}
	if !hasLabel(family.GetMetric()[0], "board", "sim") {
		t.Fatal("const label board=sim missing")
	}
}

func findFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	return nil
}

func hasLabel(metric *dto.Metric, name, value string) bool {
	for _, pair := range metric.GetLabel() {
		if pair.GetName() == name && pair.GetValue() == value {
			return true
		}
	}
	return false
}
