// Command talespin is the main entry point for the Talespin story server.
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

	"go.opentelemetry.io/otel"

	"github.com/MrWong99/talespin/internal/app"
	"github.com/MrWong99/talespin/internal/config"
	"github.com/MrWong99/talespin/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	var application *app.App
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		if application != nil {
			application.ApplyConfig(old, new)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "talespin: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "talespin: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(app.ParseLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("talespin starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Session store ─────────────────────────────────────────────────────────
	backend, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open session store", "backend", cfg.StoreBackendOrDefault(), "err", err)
		return 1
	}

	if err := wireRecall(cfg, reg, backend, providers, metrics); err != nil {
		slog.Error("failed to set up recall", "err", err)
		_ = backend.close()
		return 1
	}

	printStartupSummary(cfg)

	application, err = app.New(cfg, providers,
		app.WithSessionStore(backend.store),
		app.WithMetrics(metrics),
		app.WithWatcher(watcher),
		app.WithLogLevel(&level),
		app.WithCloser(backend.close),
		app.WithCloser(func() error { return shutdownTelemetry(context.Background()) }),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = backend.close()
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	// Run shuts down on its own once ctx is cancelled.
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Talespin - startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	if cfg.NarratorBackendOrDefault() == config.NarratorHTTP {
		printRow("Narrator", "http")
	} else {
		printRow("Narrator", providerLabel(cfg.Providers.LLM))
	}
	printRow("LLM fallbacks", fmt.Sprint(len(cfg.Providers.LLMFallbacks)))
	printRow("Images", providerLabel(cfg.Providers.Image))
	printRow("Embeddings", providerLabel(cfg.Providers.Embeddings))
	printRow("Store", string(cfg.StoreBackendOrDefault()))
	if cfg.Recall.Enabled {
		printRow("Recall", "enabled")
	} else {
		printRow("Recall", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case e.Model != "":
		return e.Name + " / " + e.Model
	}
	return e.Name
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", kind, value)
}
