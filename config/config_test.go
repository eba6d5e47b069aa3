package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Swind/go-rtkernel/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, core.DefaultMaxThreads, cfg.Kernel.MaxThreads)
	assert.Equal(t, core.DefaultTimeSlice, cfg.Kernel.TimeSlice)
	assert.Equal(t, "10ms", cfg.Ticker.Period)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_MissingFileValidatesEnvOverrides(t *testing.T) {
	t.Setenv("RTK_TICK_PERIOD", "soon")

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, core.ErrInvalid)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rtk.yaml")
	data := []byte(`
kernel:
  name: board-7
  time_slice: 4
  heap_limits:
    watchdog: 2
ticker:
  tickless: true
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "board-7", cfg.Kernel.Name)
	assert.Equal(t, 4, cfg.Kernel.TimeSlice)
	assert.Equal(t, core.DefaultMaxThreads, cfg.Kernel.MaxThreads)
	assert.True(t, cfg.Ticker.Tickless)
	assert.Equal(t, "10ms", cfg.Ticker.Period)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":      "kernel: [",
		"bad period":    "ticker:\n  period: soon\n",
		"zero period":   "ticker:\n  period: 0s\n",
		"unknown kind":  "kernel:\n  heap_limits:\n    mutex: 1\n",
		"negative heap": "kernel:\n  heap_limits:\n    context: -1\n",
		"bad poll":      "metrics:\n  poll_interval: often\n",
		"negative max":  "kernel:\n  max_threads: -3\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "rtk.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0644))

			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rtk.yaml")
	cfg := DefaultConfig()
	cfg.Kernel.Name = "roundtrip"
	cfg.Kernel.HeapLimits = map[string]int{"context": 8, "join_info": 8}
	cfg.Metrics.Enabled = true

	require.NoError(t, cfg.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, cfg, loaded)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("RTK_TICK_PERIOD replaces period", func(t *testing.T) {
		t.Setenv("RTK_TICK_PERIOD", "2ms")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		opts, err := cfg.TickerOptions()
		require.NoError(t, err)
		assert.Equal(t, 2*time.Millisecond, opts.Period)
	})

	t.Run("RTK_TICKLESS parses booleans", func(t *testing.T) {
		t.Setenv("RTK_TICKLESS", "true")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.True(t, cfg.Ticker.Tickless)
	})

	t.Run("RTK_TICKLESS ignores garbage", func(t *testing.T) {
		t.Setenv("RTK_TICKLESS", "maybe")

		cfg := &Config{Ticker: TickerConfig{Tickless: true}}
		cfg.applyEnvOverrides()

		assert.True(t, cfg.Ticker.Tickless)
	})

	t.Run("RTK_LOG_LEVEL replaces level", func(t *testing.T) {
		t.Setenv("RTK_LOG_LEVEL", "debug")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "debug", cfg.Logging.Level)
	})
}

func TestToKernelConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Kernel.Name = "board"
	cfg.Kernel.MaxThreads = 4
	cfg.Kernel.TimeSlice = 0
	cfg.Kernel.HeapLimits = map[string]int{"watchdog": 1}

	kc, err := cfg.ToKernelConfig()
	require.NoError(t, err)

	assert.Equal(t, "board", kc.Name)
	assert.Equal(t, 4, kc.MaxThreads)
	assert.Zero(t, kc.TimeSlice)
	assert.NotNil(t, kc.Logger)

	heap, ok := kc.Heap.(*core.AccountingHeap)
	require.True(t, ok)
	require.NoError(t, heap.Alloc(core.ObjectWatchdog))
	require.ErrorIs(t, heap.Alloc(core.ObjectWatchdog), core.ErrNoMemory)
	require.NoError(t, heap.Alloc(core.ObjectContext))
}

func TestToKernelConfig_UnknownKind(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Kernel.HeapLimits = map[string]int{"mailbox": 1}

	_, err := cfg.ToKernelConfig()
	require.ErrorIs(t, err, core.ErrInvalid)
}
