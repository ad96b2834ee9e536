package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/c360/semstreams-plc/component"
	"github.com/c360/semstreams-plc/config"
	"github.com/c360/semstreams-plc/errors"
	"github.com/c360/semstreams-plc/health"
	"github.com/c360/semstreams-plc/input/plcinput"
	"github.com/c360/semstreams-plc/metric"
	"github.com/c360/semstreams-plc/mqttclient"
	"github.com/c360/semstreams-plc/natsclient"
	"github.com/c360/semstreams-plc/output/plcoutput"
	"github.com/c360/semstreams-plc/pkg/retry"
	"github.com/c360/semstreams-plc/pkg/tlsutil"
	"github.com/c360/semstreams-plc/transport"
	"github.com/c360/semstreams-plc/varstore"
)

// applyMode narrows the enabled bridges to the requested mode. A single
// bridge process gets its own MQTT client ID, stable across restarts, and
// the output process moves off the default metrics port so the input and
// output processes can run side by side.
func applyMode(cfg *config.Config, mode string) {
	switch mode {
	case modeInput:
		cfg.Output.Enabled = false
	case modeOutput:
		cfg.Input.Enabled = false
		if cfg.Metrics.Port == config.DefaultMetricsPort {
			cfg.Metrics.Port = config.DefaultMetricsPort + 1
		}
	default:
		return
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = appName
	}
	cfg.MQTT.ClientID += "-" + mode
}

func inputConfig(cfg *config.Config) plcinput.Config {
	return plcinput.Config{
		Name:        "plc-input",
		Topic:       cfg.Input.Topic,
		InputPath:   cfg.Input.Path,
		QueueSize:   cfg.Input.QueueSize,
		StopTimeout: cfg.Input.StopTimeout,
	}
}

func outputConfig(cfg *config.Config) plcoutput.Config {
	return plcoutput.Config{
		Name:         "plc-output",
		Topic:        cfg.Output.Topic,
		OutputPath:   cfg.Output.Path,
		PollInterval: cfg.Output.PollInterval,
		OutputKeys:   cfg.Output.OutputKeys,
		PublishMode:  cfg.Output.PublishMode,
		MirrorBucket: cfg.Output.MirrorBucket,
		MirrorKey:    cfg.Output.MirrorKey,
		StopTimeout:  cfg.Output.StopTimeout,
	}
}

// clientName makes the NATS connection name unique per process so two
// bridge processes can be told apart on the server.
func clientName(base, instanceID string) string {
	if base == "" {
		base = appName
	}
	if len(instanceID) > 8 {
		instanceID = instanceID[:8]
	}
	return base + "-" + instanceID
}

// loadTLS builds the client TLS configuration, nil when TLS is disabled
func loadTLS(c config.TLSConfig) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	return tlsutil.LoadClientTLSConfig(tlsutil.ClientConfig{
		CertFile:           c.CertFile,
		KeyFile:            c.KeyFile,
		CAFile:             c.CAFile,
		MinVersion:         c.MinVersion,
		InsecureSkipVerify: c.InsecureSkipVerify,
	})
}

func natsOptions(cfg *config.Config, logger *slog.Logger, metrics *metric.Metrics, instanceID string) ([]natsclient.ClientOption, error) {
	t := cfg.Transport
	opts := []natsclient.ClientOption{
		natsclient.WithSlogLogger(logger.With("transport", "nats")),
		natsclient.WithName(clientName(t.ClientName, instanceID)),
		natsclient.WithMetrics(metrics),
	}
	opts = append(opts, natsEvents{logger: logger, metrics: metrics}.options()...)
	if t.MaxReconnects != 0 {
		opts = append(opts, natsclient.WithMaxReconnects(t.MaxReconnects))
	}
	if t.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(t.ReconnectWait))
	}
	if t.Timeout > 0 {
		opts = append(opts, natsclient.WithTimeout(t.Timeout))
	}
	if t.Username != "" {
		opts = append(opts, natsclient.WithCredentials(t.Username, t.Password))
	}
	if t.Token != "" {
		opts = append(opts, natsclient.WithToken(t.Token))
	}
	tlsCfg, err := loadTLS(t.TLS)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts = append(opts, natsclient.WithTLS(tlsCfg))
	}
	return opts, nil
}

// natsEvents logs connection loss and recovery and keeps the transport
// health gauge current between monitor checks.
type natsEvents struct {
	logger  *slog.Logger
	metrics *metric.Metrics
}

func (e natsEvents) options() []natsclient.ClientOption {
	return []natsclient.ClientOption{
		natsclient.WithDisconnectCallback(e.disconnected),
		natsclient.WithReconnectCallback(e.reconnected),
		natsclient.WithHealthChangeCallback(e.healthChanged),
	}
}

func (e natsEvents) disconnected(err error) {
	cause := errors.ErrTransportDisconnected
	if err != nil {
		cause = fmt.Errorf("%w: %v", errors.ErrTransportDisconnected, err)
	}
	wrapped := errors.WrapTransient(cause, "plcbridge", "nats", "connection lost")
	e.logger.Warn("Broker connection lost", "transport", "nats",
		"error", wrapped, "kind", errors.Kind(wrapped))
}

func (e natsEvents) reconnected() {
	e.logger.Info("Broker connection restored", "transport", "nats")
}

func (e natsEvents) healthChanged(healthy bool) {
	if e.metrics != nil {
		e.metrics.RecordHealthStatus("transport", healthy)
	}
}

func mqttConfig(cfg *config.Config) (mqttclient.Config, error) {
	m := cfg.MQTT
	out := mqttclient.Config{
		Broker:               m.Broker,
		ClientID:             m.ClientID,
		Username:             m.Username,
		Password:             m.Password,
		QoS:                  byte(m.QoS),
		Retain:               m.Retain,
		KeepAlive:            m.KeepAlive,
		ConnectTimeout:       m.ConnectTimeout,
		MaxReconnectInterval: m.MaxReconnectInterval,
	}
	tlsCfg, err := loadTLS(m.TLS)
	if err != nil {
		return out, err
	}
	out.TLS = tlsCfg
	return out, nil
}

// prepareDocuments checks that the enabled bridges can write next to their
// documents. It runs before the broker connect so a bad path fails startup
// at once instead of after the broker becomes reachable.
func prepareDocuments(cfg *config.Config) error {
	var paths []string
	if cfg.Input.Enabled {
		paths = append(paths, cfg.Input.Path)
	}
	if cfg.Output.Enabled {
		paths = append(paths, cfg.Output.Path)
	}
	for _, path := range paths {
		if err := varstore.NewFileStore(path).Prepare(false); err != nil {
			return fmt.Errorf("prepare %s: %w", path, err)
		}
		tmp, err := os.CreateTemp(filepath.Dir(path), ".plcbridge-*")
		if err != nil {
			return fmt.Errorf("directory of %s not writable: %w", path, err)
		}
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}
	return nil
}

// connectTransport creates the configured transport and connects it,
// retrying while the broker comes up. The NATS client is also returned so
// the output mirror can open its KV bucket; it is nil for MQTT.
func connectTransport(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	metrics *metric.Metrics,
	instanceID string,
) (transport.Transport, *natsclient.Client, error) {
	var (
		tr transport.Transport
		nc *natsclient.Client
	)

	switch transport.Kind(cfg.Transport.Type) {
	case transport.KindNATS:
		opts, err := natsOptions(cfg, logger, metrics, instanceID)
		if err != nil {
			return nil, nil, fmt.Errorf("nats tls: %w", err)
		}
		client, err := natsclient.NewClient(strings.Join(cfg.Transport.URLs, ","), opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("create NATS client: %w", err)
		}
		tr, nc = client, client
	case transport.KindMQTT:
		mcfg, err := mqttConfig(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("mqtt tls: %w", err)
		}
		client, err := mqttclient.NewClient(mcfg,
			mqttclient.WithLogger(logger.With("transport", "mqtt")),
			mqttclient.WithMetrics(metrics))
		if err != nil {
			return nil, nil, fmt.Errorf("create MQTT client: %w", err)
		}
		tr = client
	default:
		return nil, nil, fmt.Errorf("unknown transport type %q", cfg.Transport.Type)
	}

	logger.Info("Connecting to broker", "transport", cfg.Transport.Type)
	err := retry.DoNotify(ctx, retry.Persistent(), func() error {
		return tr.Connect(ctx)
	}, func(attempt int, err error, next time.Duration) {
		logger.Warn("Broker not reachable, retrying", "attempt", attempt, "error", err, "backoff", next)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", cfg.Transport.Type, err)
	}

	if nc != nil {
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := nc.WaitForConnection(connCtx); err != nil {
			_ = nc.Close(context.Background())
			return nil, nil, fmt.Errorf("NATS connection timeout: %w", err)
		}
	}
	return tr, nc, nil
}

// buildBridges creates the enabled bridges. The KV mirror is opened here
// because it needs the live NATS connection.
func buildBridges(
	ctx context.Context,
	cfg *config.Config,
	deps component.Dependencies,
	nc *natsclient.Client,
) ([]component.LifecycleComponent, error) {
	var comps []component.LifecycleComponent

	if cfg.Input.Enabled {
		in, err := plcinput.New(inputConfig(cfg), deps)
		if err != nil {
			return nil, fmt.Errorf("create input bridge: %w", err)
		}
		comps = append(comps, in)
	}

	if cfg.Output.Enabled {
		var opts []plcoutput.Option
		if cfg.Output.MirrorBucket != "" {
			if nc == nil {
				return nil, fmt.Errorf("mirror_bucket %q requires the nats transport", cfg.Output.MirrorBucket)
			}
			kv, err := nc.OpenKVStore(ctx, cfg.Output.MirrorBucket)
			if err != nil {
				return nil, fmt.Errorf("open mirror bucket %s: %w", cfg.Output.MirrorBucket, err)
			}
			mirror := varstore.NewKVMirror(kv, cfg.Output.MirrorKey)
			if deps.Logger != nil {
				deps.Logger.Info("Mirroring output state", "bucket", kv.Bucket(), "key", mirror.Key())
			}
			opts = append(opts, plcoutput.WithMirror(mirror))
		}
		out, err := plcoutput.New(outputConfig(cfg), deps, opts...)
		if err != nil {
			return nil, fmt.Errorf("create output bridge: %w", err)
		}
		comps = append(comps, out)
	}

	discoverable := make([]component.Discoverable, len(comps))
	for i, c := range comps {
		discoverable[i] = c
	}
	if conflicts := component.ExclusiveConflicts(discoverable...); len(conflicts) > 0 {
		return nil, fmt.Errorf("more than one writer for %s", strings.Join(conflicts, ", "))
	}
	return comps, nil
}

// newMonitor reports the transport and every bridge, and keeps the health
// gauge current on each check.
func newMonitor(tr transport.Transport, kind string, comps []component.LifecycleComponent, metrics *metric.Metrics) *health.Monitor {
	monitor := health.NewMonitor()
	monitor.Register("transport", func() health.Status {
		return transportStatus(tr, kind)
	})
	for _, c := range comps {
		c := c
		name := c.Meta().Name
		monitor.RegisterComponent(name, func() health.Status {
			return health.FromComponentHealth(name, c.Health())
		})
	}
	if metrics != nil {
		monitor.OnCheck(metrics.RecordHealthStatus)
	}
	return monitor
}

// transportStatus reports the connection. A NATS client adds its state,
// failure count and round-trip time.
func transportStatus(tr transport.Transport, kind string) health.Status {
	s := health.FromConnection(kind, tr.IsHealthy())
	nc, ok := tr.(*natsclient.Client)
	if !ok {
		return s
	}
	st := nc.GetStatus()
	s.Message = fmt.Sprintf("%s (state=%s failures=%d rtt=%s)",
		s.Message, st.Status, st.FailureCount, st.RTT)
	if !st.LastFailureTime.IsZero() {
		s.Message += " last failure " + st.LastFailureTime.Format(time.RFC3339)
	}
	return s
}
