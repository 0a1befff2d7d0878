package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/karlsen/thermwatch/internal/config"
	"github.com/karlsen/thermwatch/internal/daemon"
	"github.com/karlsen/thermwatch/internal/sensor"
	"github.com/karlsen/thermwatch/internal/state"
	"github.com/karlsen/thermwatch/internal/version"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"thermwatch.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Run struct {
	} `cmd:"" help:"Run the temperature monitor daemon"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Check struct {
	} `cmd:"" help:"Read the temperature once and print it"`

	Status struct {
	} `cmd:"" help:"Print the persisted worker state"`

	Version struct {
	} `cmd:"" help:"Print version information"`
}

func main() {
	ctx := kong.Parse(&CLI)

	level := new(slog.LevelVar)
	if CLI.Verbose {
		level.Set(slog.LevelDebug)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	switch ctx.Command() {
	case "run":
		if err := runDaemon(level); err != nil {
			slog.Error("Daemon failed", "error", err)
			os.Exit(1)
		}
	case "init":
		if err := config.Init(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Init failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Configuration written", "path", CLI.Config)
	case "check":
		if err := runCheck(); err != nil {
			slog.Error("Check failed", "error", err)
			os.Exit(1)
		}
	case "status":
		if err := runStatus(); err != nil {
			slog.Error("Status failed", "error", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("thermwatch %s (commit %s, built %s)\n",
			version.Version, version.GitCommit, version.BuildTime)
	}
}

func runDaemon(level *slog.LevelVar) error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if !CLI.Verbose {
		level.Set(cfg.SlogLevel())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(cfg, daemon.Options{
		ConfigPath: CLI.Config,
		LogLevel:   level,
	})
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	slog.Info("Daemon started, waiting for shutdown signal...")
	<-ctx.Done()
	slog.Info("Shutdown signal received, stopping daemon...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := d.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	slog.Info("Daemon stopped successfully")
	return nil
}

func runCheck() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Sensor.Timeout.Std()+5*time.Second)
	defer cancel()

	probe := sensor.NewProbe(cfg.Sensor.Command, cfg.Sensor.FallbackPath, cfg.Sensor.Timeout.Std())
	temp, err := probe.Read(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%.1f°C\n", temp)
	return nil
}

func runStatus() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	snap, err := state.NewStore(cfg.State.Path).Load()
	if err != nil {
		return fmt.Errorf("failed to read state snapshot: %w", err)
	}

	fmt.Printf("worker running: %v\nthrottled:      %v\n", snap.Running, snap.Throttled)
	return nil
}
