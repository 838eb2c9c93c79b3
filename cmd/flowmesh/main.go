// Package main implements the flowmesh runtime binary. It hosts one
// app: the addon store, the graphs declared in the property file, and
// the remote listener peers use to reach local extensions.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/flowmesh"
	"github.com/c360/flowmesh/app"
	"github.com/c360/flowmesh/graph"
	"github.com/c360/flowmesh/health"
	"github.com/c360/flowmesh/manifest"
	"github.com/c360/flowmesh/metric"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "flowmesh"
)

const healthRefreshInterval = 10 * time.Second

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	flowmesh.Strict = cliCfg.Debug

	if cliCfg.Validate {
		if err := validateProperty(cliCfg.PropertyPath); err != nil {
			return err
		}
		slog.Info("Property file is valid", "path", cliCfg.PropertyPath)
		return nil
	}

	metricsRegistry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor(health.WithMonitorMetrics(metricsRegistry.CoreMetrics()))

	runtimeApp := app.New(
		app.WithURI(cliCfg.URI),
		app.WithPropertyFile(cliCfg.PropertyPath),
		app.WithLogger(logger),
		app.WithMetrics(metricsRegistry),
		app.WithSchemaValidation(cliCfg.ValidateSchemas),
	)

	if cliCfg.MetricsPort > 0 {
		startMetricsServer(cliCfg.MetricsPort, metricsRegistry, monitor)
	}

	return runWithSignalHandling(runtimeApp, monitor, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg)
	slog.SetDefault(logger)

	slog.Info("Starting flowmesh",
		"version", Version,
		"build_time", BuildTime,
		"property_path", cliCfg.PropertyPath,
		"uri", cliCfg.URI)

	return cliCfg, logger, false, nil
}

// validateProperty checks the property file and every predefined graph
// in it without starting anything.
func validateProperty(path string) error {
	if path == "" {
		return fmt.Errorf("--validate requires --property")
	}
	props, err := manifest.LoadProperties(path)
	if err != nil {
		return fmt.Errorf("load property file: %w", err)
	}

	entries, _ := props["predefined_graphs"].([]any)
	for _, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("predefined_graphs entries must be objects")
		}
		name := manifest.GetString(entry, "name", "")
		body, ok := entry["graph"].(map[string]any)
		if !ok {
			return fmt.Errorf("predefined graph %q has no graph body", name)
		}
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("re-encode graph %q: %w", name, err)
		}
		def, err := graph.Parse(data)
		if err != nil {
			return fmt.Errorf("parse graph %q: %w", name, err)
		}
		if result := def.Validate(); !result.Valid() {
			return fmt.Errorf("graph %q: %w", name, result.Err())
		}
		slog.Info("Graph validated", "name", name, "nodes", len(def.Nodes))
	}
	return nil
}

// startMetricsServer serves /metrics and the aggregated /health status
// on its own goroutine.
func startMetricsServer(port int, registry *metric.MetricsRegistry, monitor *health.Monitor) {
	server := metric.NewServer(port, "/metrics", registry,
		metric.WithHealthHandler(monitor.Handler(appName)))
	go func() {
		slog.Info("Metrics server starting", "address", server.Address())
		if err := server.Start(); err != nil {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
}

// runWithSignalHandling starts the app and blocks until a shutdown
// signal arrives.
func runWithSignalHandling(runtimeApp *app.App, monitor *health.Monitor, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := runtimeApp.Start(signalCtx); err != nil {
		monitor.SetFromError("app", err)
		return fmt.Errorf("start app: %w", err)
	}
	monitor.SetHealthy("app", "running")
	refreshHealth(runtimeApp, monitor)
	slog.Info("Flowmesh started", "uri", runtimeApp.URI(), "graphs", len(runtimeApp.GraphIDs()))

	ticker := time.NewTicker(healthRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			refreshHealth(runtimeApp, monitor)
		case <-signalCtx.Done():
			slog.Info("Received shutdown signal")
			if err := runtimeApp.Stop(shutdownTimeout); err != nil {
				monitor.SetFromError("app", err)
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}
			slog.Info("Flowmesh shutdown complete")
			return nil
		}
	}
}

// refreshHealth mirrors the app's graph set into the health monitor.
func refreshHealth(runtimeApp *app.App, monitor *health.Monitor) {
	seen := make(map[string]bool)
	for _, id := range runtimeApp.GraphIDs() {
		name := "graph:" + id
		seen[name] = true
		if eng := runtimeApp.Engine(id); eng != nil && eng.Running() {
			monitor.SetHealthy(name, "")
		} else {
			monitor.SetUnhealthy(name, "engine not running")
		}
	}
	for name := range monitor.All() {
		if name != "app" && !seen[name] {
			monitor.Remove(name)
		}
	}
}
