// Package main implements the plcbridge entry point. plcbridge connects a
// PLC runtime's variable documents to a message broker: the input bridge
// applies updates from a topic to the InputMap file, the output bridge
// publishes changes of the OutputMap file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360/semstreams-plc/component"
	"github.com/c360/semstreams-plc/config"
	"github.com/c360/semstreams-plc/metric"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "plcbridge"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, logger, shouldExit, err := initializeCLI(args)
	if shouldExit || err != nil {
		return err
	}

	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config", cfg.String())
		return nil
	}

	instanceID := uuid.New().String()
	logger = logger.With("instance_id", instanceID)
	slog.SetDefault(logger)
	logger.Info("Configuration loaded", "config", cfg.String())

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	registry := metric.NewMetricsRegistry()
	metrics := registry.CoreMetrics()

	if err := prepareDocuments(cfg); err != nil {
		return err
	}

	tr, nc, err := connectTransport(signalCtx, cfg, logger, metrics, instanceID)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
		defer cancel()
		if err := tr.Close(closeCtx); err != nil {
			logger.Warn("Transport close failed", "error", err)
		}
	}()

	deps := component.Dependencies{
		Transport:       tr,
		MetricsRegistry: registry,
		Logger:          logger,
		InstanceID:      instanceID,
	}
	comps, err := buildBridges(signalCtx, cfg, deps, nc)
	if err != nil {
		return err
	}

	group := component.NewGroup(logger)
	for _, c := range comps {
		group.Add(c)
	}

	// A failing metrics server takes the bridges down with it and the
	// other way round.
	g, gctx := errgroup.WithContext(signalCtx)
	if cfg.Metrics.Enabled {
		monitor := newMonitor(tr, cfg.Transport.Type, comps, metrics)
		server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry,
			metric.WithHealthHandler(monitor.Handler(appName)))
		g.Go(func() error {
			logger.Info("Metrics server listening", "address", server.Address())
			return server.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			return server.Stop()
		})
	}
	g.Go(func() error {
		return runWithSignalHandling(gctx, group, cliCfg.ShutdownTimeout, logger)
	})
	return g.Wait()
}

// initializeCLI parses flags and sets up logging
func initializeCLI(args []string) (*CLIConfig, *slog.Logger, bool, error) {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cliCfg, err := parseFlags(fs, args)
	if err != nil {
		if err == flag.ErrHelp {
			return nil, nil, true, nil
		}
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp(fs)
		return nil, nil, true, nil
	}

	logger := setupLogger(os.Stdout, cliCfg.LogLevel, cliCfg.LogFormat, cliCfg.Mode)
	slog.SetDefault(logger)

	logger.Info("Starting plcbridge",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// initializeConfiguration loads the configuration, narrows it to the run
// mode and validates the result
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	applyMode(cfg, cliCfg.Mode)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runWithSignalHandling starts the bridges and stops them when ctx is done
func runWithSignalHandling(ctx context.Context, group *component.Group, shutdownTimeout time.Duration, logger *slog.Logger) error {
	if err := group.Initialize(); err != nil {
		return fmt.Errorf("initialize bridges: %w", err)
	}
	if err := group.Start(ctx, shutdownTimeout); err != nil {
		return fmt.Errorf("start bridges: %w", err)
	}
	logger.Info("plcbridge started", "bridges", len(group.Components()))

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	if err := group.Stop(shutdownTimeout); err != nil {
		logger.Error("Error stopping bridges", "error", err)
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("plcbridge shutdown complete")
	return nil
}
