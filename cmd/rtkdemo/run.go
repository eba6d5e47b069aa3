package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/Swind/go-rtkernel/config"
	"github.com/Swind/go-rtkernel/core"
	rtkprom "github.com/Swind/go-rtkernel/observability/prometheus"
	"github.com/Swind/go-rtkernel/observability/zaplog"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Run scenarios on a kernel driven by wall-clock ticks",

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
			},
			&cli.StringSliceFlag{
				Name:    "scenario",
				Aliases: []string{"s"},
				Value:   cli.NewStringSlice(scenarioNames()...),
				Usage:   "Scenario to run: " + strings.Join(scenarioNames(), ", "),
			},
			&cli.IntFlag{
				Name:  "max-ticks",
				Value: 1000,
				Usage: "Fail a scenario that has not finished after this many ticks",
			},
			&cli.BoolFlag{
				Name:  "tickless",
				Usage: "Program one-shot deadlines instead of a periodic tick",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on `ADDR` (enables metrics)",
			},
			&cli.IntFlag{
				Name:  "trace",
				Usage: "Print the last `N` context switches",
			},
		},

		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg := config.DefaultConfig()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
		}
	}
	if c.IsSet("tickless") {
		cfg.Ticker.Tickless = c.Bool("tickless")
	}
	if addr := c.String("metrics-addr"); addr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = addr
	}

	var selected []scenarioFunc
	names := c.StringSlice("scenario")
	for _, name := range names {
		fn, ok := scenarios[name]
		if !ok {
			return cli.Exit(fmt.Sprintf("unknown scenario %q (valid: %s)", name, strings.Join(scenarioNames(), ", ")), 1)
		}
		selected = append(selected, fn)
	}

	logger, err := zaplog.NewFromConfig(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	d, err := newDemo(cfg, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	defer d.kernel.Shutdown()

	err = d.run(ctx, func(ctx context.Context) error {
		for i, fn := range selected {
			if err := runScenario(ctx, d.kernel, names[i], fn, c.App.Writer, c.Int("max-ticks")); err != nil {
				return err
			}
		}
		return nil
	})
	if n := c.Int("trace"); n > 0 {
		printTrace(c.App.Writer, d.kernel.RecentSwitches(n))
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	return nil
}

// demo bundles a kernel with its tick driver and optional metrics endpoint.
type demo struct {
	cfg    *config.Config
	logger *zaplog.Logger
	kernel *core.Kernel
	driver *core.TickDriver

	registry *prom.Registry
	poller   *rtkprom.SnapshotPoller
}

func newDemo(cfg *config.Config, logger *zaplog.Logger) (*demo, error) {
	kc, err := cfg.ToKernelConfig()
	if err != nil {
		return nil, err
	}
	kc.Logger = logger.Named("kernel")

	d := &demo{cfg: cfg, logger: logger}
	if cfg.Metrics.Enabled {
		d.registry = prom.NewRegistry()
		exporter, err := rtkprom.NewMetricsExporter(cfg.Metrics.Namespace, d.registry, rtkprom.ExporterOptions{})
		if err != nil {
			return nil, err
		}
		interval, err := cfg.GetPollInterval()
		if err != nil {
			return nil, err
		}
		if d.poller, err = rtkprom.NewSnapshotPoller(d.registry, interval); err != nil {
			return nil, err
		}
		kc.Metrics = exporter
	}

	opts, err := cfg.TickerOptions()
	if err != nil {
		return nil, err
	}
	d.kernel = core.NewKernel(kc)
	d.driver = core.NewTickDriver(d.kernel, opts)
	if d.poller != nil {
		d.poller.AddKernel(d.kernel.Name(), d.kernel)
	}
	return d, nil
}

// run drives the kernel and serves metrics until work returns or ctx ends.
func (d *demo) run(ctx context.Context, work func(ctx context.Context) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, egCtx := errgroup.WithContext(runCtx)

	eg.Go(func() error {
		return d.driver.Run(egCtx)
	})

	if d.registry != nil {
		d.poller.Start(egCtx)
		defer d.poller.Stop()

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: d.cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		eg.Go(func() error {
			d.logger.Zap().Info("serving metrics", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			<-egCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	eg.Go(func() error {
		defer cancel()
		return work(egCtx)
	})

	return eg.Wait()
}

// runScenario runs fn on a fresh group and waits for it, failing once
// maxTicks ticks pass without it finishing.
func runScenario(ctx context.Context, k *core.Kernel, name string, fn scenarioFunc, out io.Writer, maxTicks int) error {
	group := k.NewGroup(name)

	expired := make(chan struct{})
	wd, err := k.CreateWatchdog()
	if err != nil {
		return err
	}
	defer k.DeleteWatchdog(wd)
	if err := k.StartWatchdog(wd, maxTicks, func(core.ISR) { close(expired) }); err != nil {
		return err
	}

	done := make(chan error, 1)
	_, err = k.Spawn(group, core.SpawnOptions{Name: name, Priority: core.DefaultPriority}, func(th *core.Thread) any {
		err := fn(th, out)
		done <- err
		return err
	})
	if err != nil {
		return fmt.Errorf("scenario %s: %w", name, err)
	}

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("scenario %s: %w", name, err)
		}
		return nil
	case <-expired:
		return fmt.Errorf("scenario %s: not finished after %d ticks: %w", name, maxTicks, core.ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func printTrace(out io.Writer, records []core.SwitchRecord) {
	fmt.Fprintln(out, "seq   tick  from            to              reason")
	for _, rec := range records {
		mark := ""
		if rec.Interrupt {
			mark = " (irq)"
		}
		fmt.Fprintf(out, "%-5d %-5d %-15s %-15s %s%s\n",
			rec.Seq, rec.Tick,
			fmt.Sprintf("%s[%d]", rec.FromName, rec.From),
			fmt.Sprintf("%s[%d]", rec.ToName, rec.To),
			rec.Reason, mark)
	}
}
