package mqttclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/c360/semstreams-plc/errors"
	"github.com/c360/semstreams-plc/metric"
	"github.com/c360/semstreams-plc/transport"
)

const transportName = "mqtt"

// ErrNotConnected is returned by Publish and Subscribe while the broker
// connection is down.
var ErrNotConnected = stderrors.New("not connected to MQTT broker")

// Config holds broker connection settings
type Config struct {
	Broker               string        `json:"broker"`
	ClientID             string        `json:"client_id,omitempty"`
	Username             string        `json:"username,omitempty"`
	Password             string        `json:"password,omitempty"`
	QoS                  byte          `json:"qos"`
	Retain               bool          `json:"retain,omitempty"`
	KeepAlive            time.Duration `json:"keepalive,omitempty"`
	ConnectTimeout       time.Duration `json:"connect_timeout,omitempty"`
	MaxReconnectInterval time.Duration `json:"max_reconnect_interval,omitempty"`

	// TLS is used for ssl:// and tls:// brokers when set.
	TLS *tls.Config `json:"-"`
}

// DefaultConfig returns the settings the PLC runtime's broker expects
func DefaultConfig() Config {
	return Config{
		Broker:               "tcp://localhost:1883",
		ClientID:             "plcbridge",
		QoS:                  0,
		KeepAlive:            60 * time.Second,
		ConnectTimeout:       5 * time.Second,
		MaxReconnectInterval: 30 * time.Second,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Broker == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "mqttclient", "Validate", "broker is required")
	}
	if c.QoS > 1 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: qos %d not supported, use 0 or 1", errors.ErrInvalidConfig, c.QoS),
			"mqttclient", "Validate", "check qos")
	}
	return nil
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger.With("transport", transportName)
		}
	}
}

// WithMetrics reports connection state and reconnects
func WithMetrics(metrics *metric.Metrics) Option {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// withFactory replaces the paho client constructor; used by tests.
func withFactory(factory func(*mqtt.ClientOptions) mqtt.Client) Option {
	return func(c *Client) {
		c.factory = factory
	}
}

type route struct {
	ctx     context.Context
	handler transport.Handler
}

// Client is an MQTT transport built on paho. It reconnects automatically
// with exponential backoff and re-subscribes every registered topic on each
// (re)connect. It implements transport.Transport.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics
	factory func(*mqtt.ClientOptions) mqtt.Client

	mu     sync.RWMutex
	client mqtt.Client
	routes map[string]route

	connected  atomic.Bool
	everOnline atomic.Bool
	reconnects atomic.Int64
}

// NewClient validates cfg and creates a disconnected client
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	defaults := DefaultConfig()
	if cfg.ClientID == "" {
		cfg.ClientID = defaults.ClientID
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaults.KeepAlive
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.MaxReconnectInterval <= 0 {
		cfg.MaxReconnectInterval = defaults.MaxReconnectInterval
	}
	c := &Client{
		cfg:     cfg,
		logger:  slog.Default().With("transport", transportName),
		factory: mqtt.NewClient,
		routes:  make(map[string]route),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.Broker).
		SetClientID(c.cfg.ClientID).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetOrderMatters(true).
		SetKeepAlive(c.cfg.KeepAlive).
		SetConnectTimeout(c.cfg.ConnectTimeout).
		SetMaxReconnectInterval(c.cfg.MaxReconnectInterval).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			c.logger.Info("Reconnecting to MQTT broker", "broker", c.cfg.Broker)
		})

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	if c.cfg.TLS != nil {
		opts.SetTLSConfig(c.cfg.TLS)
	}
	return opts
}

// Connect dials the broker and waits for the CONNACK or ctx
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.client == nil {
		c.client = c.factory(c.clientOptions())
	}
	client := c.client
	c.mu.Unlock()

	if client.IsConnected() {
		return nil
	}

	if err := waitToken(ctx, client.Connect()); err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrTransportDisconnected, err),
			"Client", "Connect", "connect to "+c.cfg.Broker)
	}
	// paho runs the OnConnect handler on its own goroutine.
	c.setConnected(true)
	return nil
}

// onConnect runs on every successful (re)connect
func (c *Client) onConnect(client mqtt.Client) {
	c.setConnected(true)
	if c.everOnline.Swap(true) {
		c.reconnects.Add(1)
		if c.metrics != nil {
			c.metrics.RecordTransportReconnect(transportName)
		}
	}
	c.logger.Info("Connected to MQTT broker", "broker", c.cfg.Broker)

	c.mu.RLock()
	routes := make(map[string]route, len(c.routes))
	for topic, r := range c.routes {
		routes[topic] = r
	}
	c.mu.RUnlock()

	for topic, r := range routes {
		token := client.Subscribe(topic, c.cfg.QoS, c.dispatch(r))
		// Handlers run on paho's goroutine; do not block it on the SUBACK.
		go func(topic string, token mqtt.Token) {
			if token.WaitTimeout(c.cfg.ConnectTimeout) && token.Error() != nil {
				c.logger.Error("Resubscribe failed", "topic", topic, "error", token.Error())
			}
		}(topic, token)
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.setConnected(false)
	c.logger.Warn("Lost connection to MQTT broker", "broker", c.cfg.Broker, "error", err)
}

func (c *Client) setConnected(up bool) {
	c.connected.Store(up)
	if c.metrics != nil {
		c.metrics.RecordTransportStatus(transportName, up)
	}
}

func (c *Client) dispatch(r route) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		r.handler(r.ctx, msg.Payload())
	}
}

// IsHealthy reports whether the broker connection is up
func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	return client != nil && c.connected.Load() && client.IsConnectionOpen()
}

// Reconnects returns how many times the connection was re-established
func (c *Client) Reconnects() int64 {
	return c.reconnects.Load()
}

func (c *Client) current() (mqtt.Client, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil || !client.IsConnectionOpen() {
		return nil, fmt.Errorf("%w: %w", errors.ErrTransportDisconnected, ErrNotConnected)
	}
	return client, nil
}

// Publish sends data to topic. Dotted topics are mapped to MQTT's slash
// form. While disconnected the error wraps errors.ErrTransportDisconnected.
func (c *Client) Publish(ctx context.Context, topic string, data []byte) error {
	client, err := c.current()
	if err != nil {
		return err
	}
	mqttTopic := transport.MQTTTopic(topic)
	if err := waitToken(ctx, client.Publish(mqttTopic, c.cfg.QoS, c.cfg.Retain, data)); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish "+mqttTopic)
	}
	return nil
}

type subscription struct {
	client *Client
	topic  string
	once   sync.Once
	err    error
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.err = s.client.unsubscribe(s.topic)
	})
	return s.err
}

// Subscribe registers handler for topic. The subscription is replayed after
// every reconnect.
func (c *Client) Subscribe(ctx context.Context, topic string, handler transport.Handler) (transport.Subscription, error) {
	client, err := c.current()
	if err != nil {
		return nil, err
	}

	mqttTopic := transport.MQTTTopic(topic)
	r := route{ctx: ctx, handler: handler}

	c.mu.Lock()
	c.routes[mqttTopic] = r
	c.mu.Unlock()

	if err := waitToken(ctx, client.Subscribe(mqttTopic, c.cfg.QoS, c.dispatch(r))); err != nil {
		c.mu.Lock()
		delete(c.routes, mqttTopic)
		c.mu.Unlock()
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrSubscriptionFailed, err), "Client", "Subscribe", "subscribe "+mqttTopic)
	}
	return &subscription{client: c, topic: mqttTopic}, nil
}

func (c *Client) unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.routes, topic)
	client := c.client
	c.mu.Unlock()

	if client == nil || !client.IsConnectionOpen() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()
	if err := waitToken(ctx, client.Unsubscribe(topic)); err != nil {
		return errors.Wrap(err, "Client", "Unsubscribe", "unsubscribe "+topic)
	}
	return nil
}

// Close disconnects, giving in-flight work up to 250ms to complete. Close is
// idempotent.
func (c *Client) Close(_ context.Context) error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.routes = make(map[string]route)
	c.mu.Unlock()

	if client != nil && client.IsConnectionOpen() {
		client.Disconnect(250)
	}
	c.setConnected(false)
	return nil
}

// waitToken waits for a paho token to complete or ctx to end
func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
