package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/sextant-io/sextant/internal/config"
	"github.com/sextant-io/sextant/internal/events"
	"github.com/sextant-io/sextant/internal/gateway"
	"github.com/sextant-io/sextant/internal/heartbeat"
	"github.com/sextant-io/sextant/internal/journal"
	"github.com/sextant-io/sextant/internal/metrics"
	"github.com/sextant-io/sextant/internal/registry"
	"github.com/sextant-io/sextant/internal/scheduler"
	"github.com/sextant-io/sextant/internal/storage"
	"github.com/sextant-io/sextant/internal/strategy"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the sextant daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runServe,
	}
}

func runServe(_ context.Context, cmd *cli.Command) error {
	// Setup logging; the level is hot-reloadable, --debug pins it
	logLevel := new(slog.LevelVar)
	if cmd.Bool("debug") {
		logLevel.Set(slog.LevelDebug)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Load config
	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", configPath, "error", err)
		cfg = config.Default()
	}

	applyLogLevel := func(c *config.Config) {
		if cmd.Bool("debug") {
			return
		}
		var l slog.Level
		if err := l.UnmarshalText([]byte(c.Events.LogLevel)); err == nil {
			logLevel.Set(l)
		}
	}
	applyLogLevel(cfg)

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = cmd.Int("port")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Hot reload: poll the config and .env files. Only the log level applies
	// without a restart; everything else needs one.
	reloader := config.NewReloader(configPath, config.DotenvPath(), cfg)
	reloader.OnReload(applyLogLevel)
	go reloader.Watch(ctx, 30*time.Second)

	// Event bus
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	// Goal journal
	var jrnl *journal.Journal
	if !cfg.Journal.Disabled {
		jrnl, err = journal.Open(cfg.Journal.Path, slog.Default())
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer jrnl.Close()
		jrnl.Attach(bus)
	}

	// Per-executor event traces
	trace := storage.NewTraceLog(filepath.Join(cfg.Storage.Dir, "trace"), bus)
	defer trace.Close()

	// Executor registry, one instance per configured entry
	reg := registry.New(registry.Config{
		Default: cfg.Executors.Default,
		Bus:     bus,
	})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := reg.Close(closeCtx); err != nil {
			slog.Warn("registry close", "error", err)
		}
	}()

	for name, inst := range cfg.Executors.Instances {
		s, err := strategy.Create(name, inst.Strategy, slog.Default())
		if err != nil {
			return fmt.Errorf("build strategy for %q: %w", name, err)
		}
		spec := registry.Spec{
			Name:         name,
			Strategy:     inst.Strategy.Driver,
			PreemptGrace: inst.PreemptGrace.Duration(),
		}
		if _, err := reg.Register(spec, s); err != nil {
			return fmt.Errorf("register executor %q: %w", name, err)
		}
	}
	slog.Info("executors registered", "count", len(cfg.Executors.Instances), "default", cfg.Executors.Default)

	// Scheduler: config-declared cron entries plus persisted API entries
	var declared []scheduler.DeclaredSchedule
	for _, sc := range cfg.Schedules {
		if sc.Disabled {
			continue
		}
		declared = append(declared, scheduler.DeclaredSchedule{
			Name:     sc.Name,
			Cron:     sc.Cron,
			Executor: sc.Executor,
			Action:   sc.Action,
			Vertex:   sc.Vertex,
			Edge:     sc.Edge,
		})
	}
	sched := scheduler.New(scheduler.Config{
		Submitter: reg,
		Bus:       bus,
		Store:     scheduler.NewScheduleStore(filepath.Join(cfg.Storage.Dir, "schedules")),
		Declared:  declared,
	})
	sched.Start()
	defer sched.Stop()

	// Prometheus metrics, fed from bus events
	var gatherer prometheus.Gatherer
	if !cfg.Metrics.Disabled {
		obs := metrics.NewObserver(metrics.Default(), bus)
		defer obs.Close()
		gatherer = prometheus.DefaultGatherer
	}

	// Heartbeat file consumed by `sextant status`
	hb := heartbeat.NewWriter(filepath.Join(config.SextantPath(), "heartbeat.json"), func() map[string]string {
		states := make(map[string]string)
		for _, st := range reg.Statuses() {
			states[st.Name] = string(st.State)
		}
		return states
	})
	hb.Start()
	defer hb.Stop()

	// Gateway server
	server := gateway.NewServer(gateway.Config{
		Host:      cfg.Gateway.Host,
		Port:      cfg.Gateway.Port,
		Bus:       bus,
		Registry:  reg,
		Journal:   jrnl,
		Scheduler: sched,
		Trace:     trace,
		Metrics:   gatherer,
	})

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// Wait for signal or error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
