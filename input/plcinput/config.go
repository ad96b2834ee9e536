package plcinput

import (
	"fmt"
	"time"

	"github.com/c360/semstreams-plc/errors"
)

// Config holds configuration for the input bridge
type Config struct {
	Name        string        `json:"name"`
	Topic       string        `json:"topic"`
	InputPath   string        `json:"input_path"`
	QueueSize   int           `json:"queue_size"`
	StopTimeout time.Duration `json:"stop_timeout"`
}

// DefaultConfig returns the defaults used when no configuration file is given
func DefaultConfig() Config {
	return Config{
		Name:        "plc-input",
		Topic:       "plc.input",
		InputPath:   "/tmp/input.json",
		QueueSize:   64,
		StopTimeout: 5 * time.Second,
	}
}

// Validate checks the configuration for missing or out-of-range values
func (c Config) Validate() error {
	if c.Topic == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: empty topic", errors.ErrInvalidConfig),
			"plc-input", "Validate", "topic validation")
	}
	if c.InputPath == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: empty input path", errors.ErrInvalidConfig),
			"plc-input", "Validate", "path validation")
	}
	if c.QueueSize < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: queue size %d", errors.ErrInvalidConfig, c.QueueSize),
			"plc-input", "Validate", "queue size validation")
	}
	return nil
}
