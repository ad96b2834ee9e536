package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/c360/semstreams-plc/errors"
	"github.com/c360/semstreams-plc/transport"
	"github.com/c360/semstreams-plc/varmap"
)

// Publish modes for the output bridge
const (
	PublishModeFull = "full"
	PublishModeDiff = "diff"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "PLCBRIDGE"

// DefaultMetricsPort is the metrics port of a process running both
// bridges or the input bridge alone. A lone output bridge uses the next one.
const DefaultMetricsPort = 9090

// MinPollInterval bounds how often the output bridge reads the OutputMap
const MinPollInterval = 10 * time.Millisecond

// Config is the complete bridge configuration
type Config struct {
	Version   string          `json:"version,omitempty"`
	Transport TransportConfig `json:"transport"`
	MQTT      MQTTConfig      `json:"mqtt"`
	Input     InputConfig     `json:"input"`
	Output    OutputConfig    `json:"output"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// TransportConfig selects the broker client and holds NATS settings
type TransportConfig struct {
	Type          string        `json:"type"`
	URLs          []string      `json:"urls,omitempty"`
	ClientName    string        `json:"client_name,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	TLS           TLSConfig     `json:"tls,omitempty"`
}

// TLSConfig for secure broker connections
type TLSConfig struct {
	Enabled            bool   `json:"enabled"`
	CertFile           string `json:"cert_file,omitempty"`
	KeyFile            string `json:"key_file,omitempty"`
	CAFile             string `json:"ca_file,omitempty"`
	MinVersion         string `json:"min_version,omitempty"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty"`
}

// MQTTConfig holds broker settings used when transport.type is mqtt
type MQTTConfig struct {
	Broker               string        `json:"broker"`
	ClientID             string        `json:"client_id,omitempty"`
	Username             string        `json:"username,omitempty"`
	Password             string        `json:"password,omitempty"`
	QoS                  int           `json:"qos"`
	Retain               bool          `json:"retain,omitempty"`
	KeepAlive            time.Duration `json:"keepalive,omitempty"`
	ConnectTimeout       time.Duration `json:"connect_timeout,omitempty"`
	MaxReconnectInterval time.Duration `json:"max_reconnect_interval,omitempty"`
	TLS                  TLSConfig     `json:"tls,omitempty"`
}

// InputConfig configures the input bridge
type InputConfig struct {
	Enabled     bool          `json:"enabled"`
	Topic       string        `json:"topic"`
	Path        string        `json:"path"`
	QueueSize   int           `json:"queue_size"`
	StopTimeout time.Duration `json:"stop_timeout,omitempty"`
}

// OutputConfig configures the output bridge
type OutputConfig struct {
	Enabled      bool          `json:"enabled"`
	Topic        string        `json:"topic"`
	Path         string        `json:"path"`
	PollInterval time.Duration `json:"poll_interval"`
	OutputKeys   []string      `json:"output_keys,omitempty"`
	PublishMode  string        `json:"publish_mode"`
	MirrorBucket string        `json:"mirror_bucket,omitempty"`
	MirrorKey    string        `json:"mirror_key,omitempty"`
	StopTimeout  time.Duration `json:"stop_timeout,omitempty"`
}

// MetricsConfig configures the Prometheus and health endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			Type:          string(transport.KindNATS),
			URLs:          []string{"nats://localhost:4222"},
			ClientName:    "plcbridge",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Timeout:       5 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker:               "tcp://localhost:1883",
			ClientID:             "plcbridge",
			QoS:                  0,
			KeepAlive:            60 * time.Second,
			ConnectTimeout:       5 * time.Second,
			MaxReconnectInterval: 30 * time.Second,
		},
		Input: InputConfig{
			Enabled:     true,
			Topic:       "plc.input",
			Path:        "/tmp/input.json",
			QueueSize:   64,
			StopTimeout: 5 * time.Second,
		},
		Output: OutputConfig{
			Enabled:      true,
			Topic:        "plc.output",
			Path:         "/tmp/output.json",
			PollInterval: 500 * time.Millisecond,
			PublishMode:  PublishModeFull,
			MirrorKey:    "state",
			StopTimeout:  5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    DefaultMetricsPort,
			Path:    "/metrics",
		},
	}
}

// durationFields lists dotted paths holding durations. Files must write
// them as Go duration strings ("500ms"); a bare number would be read as
// nanoseconds and is rejected.
var durationFields = []string{
	"transport.reconnect_wait",
	"transport.timeout",
	"mqtt.keepalive",
	"mqtt.connect_timeout",
	"mqtt.max_reconnect_interval",
	"input.stop_timeout",
	"output.poll_interval",
	"output.stop_timeout",
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	getenv     func(string) string
}

// NewLoader creates a loader reading PLCBRIDGE_* environment variables
func NewLoader() *Loader {
	return &Loader{
		envPrefix: EnvPrefix,
		getenv:    os.Getenv,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier
// ones field by field.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load applies defaults, every file layer, then environment overrides, and
// validates the result when validation is enabled.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "Loader", "Load", "load "+path)
		}
		merged, err := mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "merge "+path)
		}
		cfg = merged
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "apply environment")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads a JSON or YAML file, chosen by extension, into a map
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
		}
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// parseDurations converts duration strings to nanoseconds for json
// unmarshaling into time.Duration fields.
func parseDurations(raw map[string]any) error {
	for _, field := range durationFields {
		section, key, _ := strings.Cut(field, ".")
		m, ok := raw[section].(map[string]any)
		if !ok {
			continue
		}
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: %s: must be a duration string such as \"500ms\", got %v",
				errors.ErrInvalidConfig, field, v)
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", errors.ErrInvalidConfig, field, err)
		}
		m[key] = d.Nanoseconds()
	}
	return nil
}

// mergeFromMap overrides only the fields present in override
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies PLCBRIDGE_* environment overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	env := func(name string) (string, error) {
		key := l.envPrefix + "_" + name
		val := l.getenv(key)
		if err := validateEnvVar(key, val); err != nil {
			return "", err
		}
		return val, nil
	}

	strs := []struct {
		name   string
		target *string
	}{
		{"TRANSPORT", &cfg.Transport.Type},
		{"MQTT_BROKER", &cfg.MQTT.Broker},
		{"MQTT_CLIENT_ID", &cfg.MQTT.ClientID},
		{"NATS_USERNAME", &cfg.Transport.Username},
		{"NATS_PASSWORD", &cfg.Transport.Password},
		{"NATS_TOKEN", &cfg.Transport.Token},
		{"INPUT_TOPIC", &cfg.Input.Topic},
		{"INPUT_PATH", &cfg.Input.Path},
		{"OUTPUT_TOPIC", &cfg.Output.Topic},
		{"OUTPUT_PATH", &cfg.Output.Path},
		{"PUBLISH_MODE", &cfg.Output.PublishMode},
		{"MIRROR_BUCKET", &cfg.Output.MirrorBucket},
	}
	for _, s := range strs {
		val, err := env(s.name)
		if err != nil {
			return err
		}
		if val != "" {
			*s.target = val
		}
	}

	if val, err := env("NATS_URLS"); err != nil {
		return err
	} else if val != "" {
		cfg.Transport.URLs = splitList(val)
	}

	if val, err := env("OUTPUT_KEYS"); err != nil {
		return err
	} else if val != "" {
		cfg.Output.OutputKeys = splitList(val)
	}

	if val, err := env("POLL_INTERVAL"); err != nil {
		return err
	} else if val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%w: %s_POLL_INTERVAL: %v", errors.ErrInvalidConfig, l.envPrefix, err)
		}
		cfg.Output.PollInterval = d
	}

	if val, err := env("METRICS_PORT"); err != nil {
		return err
	} else if val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%w: %s_METRICS_PORT: %v", errors.ErrInvalidConfig, l.envPrefix, err)
		}
		cfg.Metrics.Port = port
	}

	return nil
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration and normalizes output keys
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(
			fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
			"Config", "Validate", "validate configuration")
	}

	switch transport.Kind(c.Transport.Type) {
	case transport.KindNATS:
		if len(c.Transport.URLs) == 0 {
			return invalid("transport.urls is required for nats")
		}
		if c.Transport.TLS.Enabled {
			if err := validateTLSFiles(c.Transport.TLS); err != nil {
				return invalid("transport.tls: %v", err)
			}
		}
	case transport.KindMQTT:
		if c.MQTT.Broker == "" {
			return invalid("mqtt.broker is required for mqtt")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 1 {
			return invalid("mqtt.qos must be 0 or 1, got %d", c.MQTT.QoS)
		}
		if c.MQTT.TLS.Enabled {
			if err := validateTLSFiles(c.MQTT.TLS); err != nil {
				return invalid("mqtt.tls: %v", err)
			}
		}
	default:
		return invalid("transport.type %q must be nats or mqtt", c.Transport.Type)
	}

	if !c.Input.Enabled && !c.Output.Enabled {
		return invalid("at least one of input or output must be enabled")
	}

	if c.Input.Enabled {
		if !isValidTopic(c.Input.Topic) {
			return invalid("input.topic %q is not a valid topic", c.Input.Topic)
		}
		if c.Input.Path == "" {
			return invalid("input.path is required")
		}
		if c.Input.QueueSize <= 0 {
			return invalid("input.queue_size must be positive")
		}
	}

	if c.Output.Enabled {
		if !isValidTopic(c.Output.Topic) {
			return invalid("output.topic %q is not a valid topic", c.Output.Topic)
		}
		if c.Output.Path == "" {
			return invalid("output.path is required")
		}
		if c.Output.PollInterval < MinPollInterval {
			return invalid("output.poll_interval %v is below the minimum of %v",
				c.Output.PollInterval, MinPollInterval)
		}
		switch c.Output.PublishMode {
		case PublishModeFull, PublishModeDiff:
		default:
			return invalid("output.publish_mode %q must be full or diff", c.Output.PublishMode)
		}
		keys, err := varmap.ParseKeys(c.Output.OutputKeys)
		if err != nil {
			return invalid("output.output_keys: %v", err)
		}
		c.Output.OutputKeys = make([]string, len(keys))
		for i, k := range keys {
			c.Output.OutputKeys[i] = k.String()
		}
		if c.Output.MirrorBucket != "" && c.Transport.Type != string(transport.KindNATS) {
			return invalid("output.mirror_bucket requires the nats transport")
		}
	}

	if c.Input.Enabled && c.Output.Enabled &&
		filepath.Clean(c.Input.Path) == filepath.Clean(c.Output.Path) {
		return invalid("input.path and output.path must differ")
	}

	// Equal topics would feed published outputs straight back as inputs.
	if c.Input.Enabled && c.Output.Enabled &&
		transport.MQTTTopic(c.Input.Topic) == transport.MQTTTopic(c.Output.Topic) {
		return invalid("input.topic and output.topic must differ")
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return invalid("metrics.port %d out of range", c.Metrics.Port)
	}
	return nil
}

func validateTLSFiles(tls TLSConfig) error {
	for _, f := range []string{tls.CertFile, tls.KeyFile, tls.CAFile} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			return err
		}
	}
	if (tls.CertFile == "") != (tls.KeyFile == "") {
		return fmt.Errorf("cert_file and key_file must be set together")
	}
	return nil
}

// isValidTopic accepts dotted NATS subjects and slash-separated MQTT topics
// without wildcards.
func isValidTopic(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' && r != '/' {
			return false
		}
	}
	return !strings.HasPrefix(s, ".") && !strings.HasSuffix(s, ".")
}

// String returns a JSON representation with credentials masked
func (c *Config) String() string {
	redacted := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	redacted.Transport.Password = mask(c.Transport.Password)
	redacted.Transport.Token = mask(c.Transport.Token)
	redacted.MQTT.Password = mask(c.MQTT.Password)
	data, _ := json.MarshalIndent(&redacted, "", "  ")
	return string(data)
}
