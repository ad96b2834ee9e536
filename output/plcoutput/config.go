package plcoutput

import (
	"fmt"
	"time"

	"github.com/c360/semstreams-plc/errors"
	"github.com/c360/semstreams-plc/varmap"
)

// Publish modes
const (
	// PublishFull sends the whole exported map on every change
	PublishFull = "full"
	// PublishDiff sends only the entries that changed since the last publish
	PublishDiff = "diff"
)

// Config holds configuration for the output bridge
type Config struct {
	Name         string        `json:"name"`
	Topic        string        `json:"topic"`
	OutputPath   string        `json:"output_path"`
	PollInterval time.Duration `json:"poll_interval"`
	OutputKeys   []string      `json:"output_keys,omitempty"`
	PublishMode  string        `json:"publish_mode"`
	MirrorBucket string        `json:"mirror_bucket,omitempty"`
	MirrorKey    string        `json:"mirror_key,omitempty"`
	StopTimeout  time.Duration `json:"stop_timeout"`
}

// DefaultConfig returns the defaults used when no configuration file is given
func DefaultConfig() Config {
	return Config{
		Name:         "plc-output",
		Topic:        "plc.output",
		OutputPath:   "/tmp/output.json",
		PollInterval: 500 * time.Millisecond,
		PublishMode:  PublishFull,
		StopTimeout:  5 * time.Second,
	}
}

// Validate checks the configuration and returns the parsed export list
func (c Config) Validate() ([]varmap.Key, error) {
	if c.Topic == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: empty topic", errors.ErrInvalidConfig),
			"plc-output", "Validate", "topic validation")
	}
	if c.OutputPath == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: empty output path", errors.ErrInvalidConfig),
			"plc-output", "Validate", "path validation")
	}
	if c.PollInterval <= 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: poll interval %s", errors.ErrInvalidConfig, c.PollInterval),
			"plc-output", "Validate", "poll interval validation")
	}
	if c.PublishMode != PublishFull && c.PublishMode != PublishDiff {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: publish mode %q", errors.ErrInvalidConfig, c.PublishMode),
			"plc-output", "Validate", "publish mode validation")
	}
	keys, err := varmap.ParseKeys(c.OutputKeys)
	if err != nil {
		return nil, errors.WrapInvalid(err, "plc-output", "Validate", "output key validation")
	}
	return keys, nil
}
