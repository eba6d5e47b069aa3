// Package config loads kernel and demo settings from YAML files with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Swind/go-rtkernel/core"
	"gopkg.in/yaml.v3"
)

// Config holds all settings of a kernel deployment.
type Config struct {
	Kernel  KernelConfig  `yaml:"kernel"`
	Ticker  TickerConfig  `yaml:"ticker"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// KernelConfig mirrors the tunables of core.KernelConfig.
type KernelConfig struct {
	Name            string `yaml:"name,omitempty"`
	MaxThreads      int    `yaml:"max_threads"`
	TimeSlice       int    `yaml:"time_slice"`
	HistoryCapacity int    `yaml:"history_capacity"`

	// HeapLimits caps live objects per kind ("context", "watchdog",
	// "join_info", "semaphore"). Missing kinds are unlimited.
	HeapLimits map[string]int `yaml:"heap_limits,omitempty"`
}

// TickerConfig configures the wall-clock tick driver.
type TickerConfig struct {
	Period   string `yaml:"period"`
	Tickless bool   `yaml:"tickless"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Address      string `yaml:"address"`
	Namespace    string `yaml:"namespace"`
	PollInterval string `yaml:"poll_interval"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Kernel: KernelConfig{
			MaxThreads:      core.DefaultMaxThreads,
			TimeSlice:       core.DefaultTimeSlice,
			HistoryCapacity: 256,
		},
		Ticker: TickerConfig{
			Period:   core.DefaultTickerOptions().Period.String(),
			Tickless: false,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled:      false,
			Address:      ":9090",
			Namespace:    "rtkernel",
			PollInterval: "1s",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if period := os.Getenv("RTK_TICK_PERIOD"); period != "" {
		c.Ticker.Period = period
	}
	if tickless := os.Getenv("RTK_TICKLESS"); tickless != "" {
		if v, err := strconv.ParseBool(tickless); err == nil {
			c.Ticker.Tickless = v
		}
	}
	if level := os.Getenv("RTK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Kernel.MaxThreads < 0 {
		return fmt.Errorf("kernel.max_threads %d: %w", c.Kernel.MaxThreads, core.ErrInvalid)
	}
	if c.Kernel.HistoryCapacity < 0 {
		return fmt.Errorf("kernel.history_capacity %d: %w", c.Kernel.HistoryCapacity, core.ErrInvalid)
	}
	if _, err := c.heapLimits(); err != nil {
		return err
	}
	if _, err := c.TickerOptions(); err != nil {
		return err
	}
	if _, err := c.GetPollInterval(); err != nil {
		return err
	}
	return nil
}

// TickerOptions converts the ticker section into driver options.
func (c *Config) TickerOptions() (core.TickerOptions, error) {
	opts := core.DefaultTickerOptions()
	opts.Tickless = c.Ticker.Tickless
	if c.Ticker.Period == "" {
		return opts, nil
	}
	period, err := time.ParseDuration(c.Ticker.Period)
	if err != nil || period <= 0 {
		return opts, fmt.Errorf("ticker.period %q: %w", c.Ticker.Period, core.ErrInvalid)
	}
	opts.Period = period
	return opts, nil
}

// GetPollInterval returns the snapshot poll interval as a duration.
func (c *Config) GetPollInterval() (time.Duration, error) {
	if c.Metrics.PollInterval == "" {
		return time.Second, nil
	}
	d, err := time.ParseDuration(c.Metrics.PollInterval)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("metrics.poll_interval %q: %w", c.Metrics.PollInterval, core.ErrInvalid)
	}
	return d, nil
}

// ToKernelConfig builds a core.KernelConfig. Handlers keep their defaults;
// callers install a logger and metrics afterwards.
func (c *Config) ToKernelConfig() (*core.KernelConfig, error) {
	limits, err := c.heapLimits()
	if err != nil {
		return nil, err
	}

	kc := core.DefaultKernelConfig()
	kc.Name = c.Kernel.Name
	if c.Kernel.MaxThreads > 0 {
		kc.MaxThreads = c.Kernel.MaxThreads
	}
	kc.TimeSlice = c.Kernel.TimeSlice
	if c.Kernel.HistoryCapacity > 0 {
		kc.HistoryCapacity = c.Kernel.HistoryCapacity
	}
	kc.Heap = core.NewAccountingHeap(limits)
	return kc, nil
}

var objectKinds = map[string]core.ObjectKind{
	core.ObjectContext.String():   core.ObjectContext,
	core.ObjectWatchdog.String():  core.ObjectWatchdog,
	core.ObjectJoinInfo.String():  core.ObjectJoinInfo,
	core.ObjectSemaphore.String(): core.ObjectSemaphore,
}

func (c *Config) heapLimits() (map[core.ObjectKind]int, error) {
	limits := make(map[core.ObjectKind]int, len(c.Kernel.HeapLimits))
	for name, limit := range c.Kernel.HeapLimits {
		kind, ok := objectKinds[name]
		if !ok {
			return nil, fmt.Errorf("kernel.heap_limits: unknown kind %q: %w", name, core.ErrInvalid)
		}
		if limit < 0 {
			return nil, fmt.Errorf("kernel.heap_limits.%s %d: %w", name, limit, core.ErrInvalid)
		}
		limits[kind] = limit
	}
	return limits, nil
}
