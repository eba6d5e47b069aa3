package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// TickerOptions configures a TickDriver.
type TickerOptions struct {
	// Period is the wall-clock length of one tick.
	Period time.Duration

	// Tickless sleeps until the kernel's next deadline instead of ticking
	// every period, then delivers the elapsed ticks in one interrupt. Time
	// during which nothing is due is not counted.
	Tickless bool
}

// DefaultTickerOptions returns a periodic 10ms tick.
func DefaultTickerOptions() TickerOptions {
	return TickerOptions{Period: 10 * time.Millisecond}
}

const tickerIdleWait = 1000 * time.Hour

// TickDriver is the tick source of a kernel, driven by wall-clock time.
type TickDriver struct {
	k    *Kernel
	opts TickerOptions

	wakeup chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	delivered  atomic.Uint64
	interrupts atomic.Uint64
}

// NewTickDriver creates a driver for k. A non-positive period takes the
// default.
func NewTickDriver(k *Kernel, opts TickerOptions) *TickDriver {
	if opts.Period <= 0 {
		opts.Period = DefaultTickerOptions().Period
	}
	return &TickDriver{
		k:      k,
		opts:   opts,
		wakeup: make(chan struct{}, 1),
	}
}

// Options returns the driver configuration.
func (d *TickDriver) Options() TickerOptions { return d.opts }

// Start runs the driver on its own goroutine until ctx is done or Stop is
// called.
func (d *TickDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("tick driver already running: %w", ErrInvalid)
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true

	go func(done chan struct{}) {
		defer close(done)
		_ = d.Run(ctx)
	}(d.done)
	return nil
}

// Stop ends a driver started with Start and waits for its goroutine.
func (d *TickDriver) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel, done := d.cancel, d.done
	d.running = false
	d.mu.Unlock()

	cancel()
	<-done
}

// Run drives the kernel on the calling goroutine until ctx is done.
func (d *TickDriver) Run(ctx context.Context) error {
	d.k.logger.Info("tick driver started",
		F("kernel", d.k.name),
		F("period", d.opts.Period),
		F("tickless", d.opts.Tickless))
	defer d.k.logger.Info("tick driver stopped",
		F("kernel", d.k.name),
		F("ticks", d.delivered.Load()))

	if d.opts.Tickless {
		d.k.SetDeadlineListener(d.poke)
		defer d.k.SetDeadlineListener(nil)
		d.runTickless(ctx)
		return nil
	}
	d.runPeriodic(ctx)
	return nil
}

// Delivered returns the number of ticks given to the kernel.
func (d *TickDriver) Delivered() uint64 { return d.delivered.Load() }

// Interrupts returns the number of tick interrupts raised. In periodic mode
// it equals Delivered.
func (d *TickDriver) Interrupts() uint64 { return d.interrupts.Load() }

func (d *TickDriver) runPeriodic(ctx context.Context) {
	ticker := time.NewTicker(d.opts.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.deliver(1)
		}
	}
}

func (d *TickDriver) runTickless(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	last := time.Now()
	for {
		wait := tickerIdleWait
		deadline := d.k.NextDeadline()
		if deadline > 0 {
			wait = max(time.Duration(deadline)*d.opts.Period-time.Since(last), 0)
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-d.wakeup:
			// Deadline moved; account for the time slept so far and
			// reprogram.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		if deadline == 0 {
			// Nothing was due: time spent idle is not counted.
			last = time.Now()
			continue
		}
		// Whole periods only; the remainder carries into the next wait.
		if n := int(time.Since(last) / d.opts.Period); n > 0 {
			last = last.Add(time.Duration(n) * d.opts.Period)
			d.deliver(n)
		}
	}
}

func (d *TickDriver) deliver(n int) {
	d.k.AdvanceTicks(n)
	d.delivered.Add(uint64(n))
	d.interrupts.Add(1)
}

// poke is the kernel deadline listener. It runs under the kernel lock.
func (d *TickDriver) poke(int) {
	select {
	case d.wakeup <- struct{}{}:
	default:
	}
}
