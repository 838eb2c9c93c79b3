package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	PropertyPath    string
	URI             string
	LogLevel        string
	LogFormat       string
	Debug           bool
	MetricsPort     int
	ValidateSchemas bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.PropertyPath, "property",
		getEnv("FLOWMESH_PROPERTY", ""),
		"Path to app property file, JSON or YAML (env: FLOWMESH_PROPERTY)")

	flag.StringVar(&cfg.URI, "uri",
		getEnv("FLOWMESH_URI", ""),
		"Listen URI for remote graphs, e.g. tcp://0.0.0.0:8001/ (env: FLOWMESH_URI)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("FLOWMESH_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: FLOWMESH_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("FLOWMESH_LOG_FORMAT", "json"),
		"Log format: json, text (env: FLOWMESH_LOG_FORMAT)")

	flag.BoolVar(&cfg.Debug, "debug",
		getEnvBool("FLOWMESH_DEBUG", false),
		"Debug mode: debug logging, strict lifecycle checks (env: FLOWMESH_DEBUG)")

	flag.IntVar(&cfg.MetricsPort, "metrics-port",
		getEnvInt("FLOWMESH_METRICS_PORT", 9090),
		"Metrics/health port, 0 to disable (env: FLOWMESH_METRICS_PORT)")

	flag.BoolVar(&cfg.ValidateSchemas, "validate-schemas",
		getEnvBool("FLOWMESH_VALIDATE_SCHEMAS", false),
		"Validate message properties against addon manifests at runtime (env: FLOWMESH_VALIDATE_SCHEMAS)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("FLOWMESH_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: FLOWMESH_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate the property file and its graphs, then exit")

	flag.Usage = printDetailedHelp

	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.PropertyPath != "" {
		if _, err := os.Stat(cfg.PropertyPath); err != nil {
			return fmt.Errorf("property file not found: %s", cfg.PropertyPath)
		}
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - extension graph runtime

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run the graphs declared in a property file
  %s --property=/etc/flowmesh/property.json

  # Accept remote graph nodes over TCP
  %s --uri=tcp://0.0.0.0:8001/ --property=property.yaml

  # Run with environment variables
  export FLOWMESH_PROPERTY=/etc/flowmesh/property.json
  export FLOWMESH_LOG_LEVEL=debug
  %s

  # Validate the property file and its graphs only
  %s --property=property.json --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
