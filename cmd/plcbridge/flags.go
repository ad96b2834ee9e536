package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Run modes
const (
	modeInput  = "input"
	modeOutput = "output"
	modeAll    = "all"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	Mode            string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}

	// Define flags with environment variable fallback
	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("PLCBRIDGE_CONFIG", ""),
		"Path to configuration file, JSON or YAML; defaults apply when empty (env: PLCBRIDGE_CONFIG)")

	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("PLCBRIDGE_CONFIG", ""),
		"Path to configuration file (env: PLCBRIDGE_CONFIG)")

	fs.StringVar(&cfg.Mode, "mode",
		getEnv("PLCBRIDGE_MODE", modeAll),
		"Bridges to run: input, output, all (env: PLCBRIDGE_MODE)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("PLCBRIDGE_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: PLCBRIDGE_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("PLCBRIDGE_LOG_FORMAT", "json"),
		"Log format: json, text (env: PLCBRIDGE_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("PLCBRIDGE_DEBUG", false),
		"Enable debug logging (env: PLCBRIDGE_DEBUG)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("PLCBRIDGE_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: PLCBRIDGE_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		printDetailedHelp(fs)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if !contains([]string{modeInput, modeOutput, modeAll}, cfg.Mode) {
		return fmt.Errorf("invalid mode: %s", cfg.Mode)
	}

	if !contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if !contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(os.Stderr, `%s - PLC variable store to pub/sub bridge

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run both bridges with defaults (NATS on localhost, /tmp/input.json, /tmp/output.json)
  %s

  # Run only the output bridge with a config file
  %s --config=/etc/plcbridge/config.yaml --mode=output

  # Single-bridge processes connect as <mqtt.client_id>-<mode>; the output
  # process serves metrics on 9091 while metrics.port is left at 9090.

  # Run with environment variables
  export PLCBRIDGE_TRANSPORT=mqtt
  export PLCBRIDGE_MQTT_BROKER=tcp://broker:1883
  %s --log-format=text

  # Validate configuration only
  %s --config=config.json --validate

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
