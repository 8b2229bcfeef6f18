// Command voxintent is the main entry point for the voxintent intent
// resolution server.
//
// Usage:
//
//	voxintent -config voxintent.yaml                 # serve HTTP
//	voxintent -config voxintent.yaml -resolve "..."  # resolve once and exit
//
// In -resolve mode the JSON result is written to stdout and the exit status is
// 0 on a match, 2 when nothing matched and 1 on error.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voxintent/internal/app"
	"github.com/MrWong99/voxintent/internal/config"
	"github.com/MrWong99/voxintent/internal/observe"
	"github.com/MrWong99/voxintent/internal/server"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

// Exit codes.
const (
	exitOK      = 0
	exitError   = 1
	exitNoMatch = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "voxintent.yaml", "path to the YAML configuration file")
	resolveText := flag.String("resolve", "", "resolve this utterance, print the JSON result and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxintent: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxintent: %v\n", err)
		}
		return exitError
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *resolveText != "" {
		return resolveOnce(ctx, cfg, *resolveText)
	}

	slog.Info("voxintent starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return exitError
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	application, err := app.New(ctx, cfg,
		app.WithLevelVar(levelVar),
		app.WithMetricsHandler(promhttp.Handler()),
		app.WithWatch(*configPath, 0),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return exitError
	}

	printStartupSummary(application)
	slog.Info("server ready; press Ctrl+C to shut down")

	code := exitOK
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = exitError
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return exitError
	}
	slog.Info("goodbye")
	return code
}

// resolveOnce loads the tables, resolves text and prints the result.
func resolveOnce(ctx context.Context, cfg *config.Config, text string) int {
	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return exitError
	}
	defer application.Shutdown(context.Background())

	res, err := application.Pipeline().Resolve(ctx, text)
	if err != nil {
		slog.Error("resolve failed", "err", err)
		return exitError
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(server.NewResponse(res)); err != nil {
		slog.Error("write result", "err", err)
		return exitError
	}
	if !res.Matched() {
		return exitNoMatch
	}
	return exitOK
}

// printStartupSummary prints a human-readable overview of the loaded tables.
func printStartupSummary(a *app.App) {
	cfg := a.Config()
	p := a.Pipeline()

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voxintent: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Table files     : %-19d ║\n", len(cfg.Tables.Files))
	if cfg.Tables.PostgresDSN != "" {
		fmt.Printf("║  Postgres        : %-19s ║\n", "connected")
	} else {
		fmt.Printf("║  Postgres        : %-19s ║\n", "(disabled)")
	}
	fmt.Printf("║  Corrections     : %-19d ║\n", p.Table().Len())
	fmt.Printf("║  Phrases         : %-19d ║\n", p.Corpus().Len())
	fmt.Printf("║  Threshold       : %-19.2f ║\n", p.Threshold())
	rate := "(unlimited)"
	if cfg.Server.RequestsPerMinute > 0 {
		rate = fmt.Sprintf("%d/min", cfg.Server.RequestsPerMinute)
	}
	fmt.Printf("║  Rate limit      : %-19s ║\n", rate)
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}
