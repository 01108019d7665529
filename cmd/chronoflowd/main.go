// Command chronoflowd is the CLI front-end for the scheduler core: it loads
// configuration, wires the scheduler, reconciler, event log, and optional
// observers, and runs until asked to shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"chronoflow/internal/config"
	"chronoflow/internal/eventlog"
	"chronoflow/internal/execution"
	"chronoflow/internal/observability/metrics"
	"chronoflow/internal/observer"
	"chronoflow/internal/persistence/sqlite"
	"chronoflow/internal/reconciler"
	"chronoflow/internal/retry"
	"chronoflow/internal/runtime/supervisor"
	"chronoflow/internal/scheduler"
	logx "chronoflow/pkg/logx"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		jobsDir     string
		logLevel    string
		configPath  string
		metricsAddr string
	)
	flag.StringVar(&jobsDir, "jobs-dir", "", "directory of *.json job definitions (overrides config/env)")
	flag.StringVar(&logLevel, "log-level", "", "DEBUG|INFO|WARNING|ERROR (overrides config/env)")
	flag.StringVar(&configPath, "config", "", "path to a JSON or YAML config file")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9090 (overrides config/env)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal: load config:", err)
		return 1
	}
	if jobsDir != "" {
		cfg.JobsDir = jobsDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
		cfg.Metrics.Enabled = true
	}

	if err := os.MkdirAll(cfg.JobsDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "fatal: jobs directory unavailable:", err)
		return 1
	}
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "fatal: log directory unavailable:", err)
		return 1
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer logSvc.Close()

	events, err := eventlog.Open(filepath.Join(cfg.LogDir, "scheduler.log"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal: open event log:", err)
		return 1
	}
	defer events.Close()

	obs, closeObservers := buildObservers(cfg, log)
	defer closeObservers()

	registry := execution.NewRegistry()
	logWriter := execution.NewLogWriter(cfg.LogDir)
	retryCtl := retry.NewController(cfg.MaxRetries, cfg.RetryDelay)

	core := scheduler.New(scheduler.Config{
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		JobTimeout:        cfg.JobTimeout,
		MaxRetries:        cfg.MaxRetries,
		RetryDelayBase:    cfg.RetryDelay,
		CheckInterval:     cfg.SchedulerCheckInterval,
		ShutdownGrace:     30 * time.Second,
	}, registry, logWriter, retryCtl, events, obs, log)

	recon := reconciler.New(cfg.JobsDir, cfg.WatcherPollInterval, core, events, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sup := supervisor.NewSupervisor(ctx, supervisor.WithLogger(log))
	sup.GoRestart0("reconciler", recon.Run,
		supervisor.WithRestartBackoff(250*time.Millisecond, 10*time.Second),
		supervisor.WithPublishFirstError(true),
	)

	core.Start(ctx)
	log.Info("chronoflow started", logx.String("jobs_dir", cfg.JobsDir))

	if cfg.Metrics.Enabled {
		m, ok := obs.(*metrics.Observer)
		if multi, isMulti := obs.(observer.Multi); isMulti && len(multi) > 0 {
			m, ok = multi[0].(*metrics.Observer)
		}
		if ok {
			sup.Go0("metrics", func(mctx context.Context) {
				if err := m.Serve(mctx, cfg.Metrics.Addr); err != nil {
					log.Error("metrics server exited", logx.Err(err))
				}
			})
		}
	}

	<-ctx.Done()
	log.Info("shutdown signal received")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 35*time.Second)
	defer stopCancel()
	_ = core.Stop(stopCtx)
	_ = sup.Stop(stopCtx)

	return 0
}

// buildObservers wires whichever peripheral observers the config enables
// (metrics, persistence) behind the single Observer contract the core
// calls. Enabling more than one fans out via observer.Multi.
func buildObservers(cfg config.Config, log logx.Logger) (observer.Observer, func()) {
	var obs []observer.Observer
	closers := []func(){}

	if cfg.Metrics.Enabled {
		m := metrics.NewObserver()
		obs = append(obs, m)
		// m itself is retained by the caller (run) to start its HTTP
		// server; nothing to close here beyond process exit.
		_ = m
	}

	switch cfg.Storage.Driver {
	case "sqlite", "sqlite3":
		store, err := sqlite.Open(cfg.Storage.Path, cfg.Storage.BusyTimeout, log)
		if err != nil {
			log.Warn("sqlite persistence disabled", logx.Err(err))
		} else {
			obs = append(obs, store)
			closers = append(closers, func() { _ = store.Close() })
		}
	case "", "none":
	default:
		log.Warn("unknown storage driver, persistence disabled", logx.String("driver", cfg.Storage.Driver))
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if len(obs) == 0 {
		return observer.Nop{}, closeAll
	}

	// Re-fetch the metrics observer for the caller (run) to type-assert
	// against when starting its HTTP server.
	for _, o := range obs {
		if m, ok := o.(*metrics.Observer); ok {
			return observer.Multi(append([]observer.Observer{m}, without(obs, m)...)), closeAll
		}
	}
	return observer.Multi(obs), closeAll
}

func without(obs []observer.Observer, skip observer.Observer) []observer.Observer {
	out := make([]observer.Observer, 0, len(obs))
	for _, o := range obs {
		if o != skip {
			out = append(out, o)
		}
	}
	return out
}
