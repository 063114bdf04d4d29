// Command framecast is the playback server for timed text animations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/framecast/internal/app"
	"github.com/MrWong99/framecast/internal/config"
	"github.com/MrWong99/framecast/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watchInterval := flag.Duration("watch-interval", 5*time.Second, "how often the config file is polled for changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if _, err := os.Stat(*configPath); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "framecast: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		return 1
	}

	// onChange only fires from Run or Reload, both started once application
	// is set.
	var application *app.App
	watcher, err := config.NewWatcher(*configPath, func(_, next *config.Config, d config.ConfigDiff) {
		if application != nil {
			application.Reconfigure(next, d)
		}
	}, config.WithInterval(*watchInterval))
	if err != nil {
		fmt.Fprintf(os.Stderr, "framecast: %v\n", err)
		return 1
	}
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))

	slog.Info("framecast starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:      cfg.Telemetry.ServiceName,
		ServiceVersion:   version,
		ProcessMetrics:   cfg.Telemetry.ProcessMetrics,
		TraceSampleRatio: cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err = app.New(ctx, cfg, app.WithLogLevel(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	go func() { _ = watcher.Run(ctx) }()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				// An unchanged config file still re-reads the animation sources.
				if !watcher.Reload() {
					application.ReloadCatalog()
				}
			}
		}
	}()

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Framecast: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("Tick rate", fmt.Sprintf("%d/s", cfg.Playback.TickRate))
	printRow("Sources", fmt.Sprintf("%d files, %d dirs", len(cfg.Catalog.Files), len(cfg.Catalog.Dirs)))
	printRow("Viewer path", cfg.Viewer.Path)
	printRow("Colour", cfg.Markup.ColorProfile)
	printRow("Discord", enabled(cfg.Discord.Token != ""))
	printRow("MQTT", orDisabled(cfg.MQTT.Broker))
	printRow("History", enabled(cfg.History.PostgresDSN != ""))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

func enabled(on bool) string {
	if on {
		return "enabled"
	}
	return "(disabled)"
}

func orDisabled(s string) string {
	if s == "" {
		return "(disabled)"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
