package plcinput

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/semstreams-plc/component"
	"github.com/c360/semstreams-plc/errors"
	"github.com/c360/semstreams-plc/metric"
	"github.com/c360/semstreams-plc/pkg/worker"
	"github.com/c360/semstreams-plc/transport"
	"github.com/c360/semstreams-plc/varmap"
	"github.com/c360/semstreams-plc/varstore"
)

const bridgeLabel = "input"

// A misbehaving publisher can flood the topic; drop warnings beyond this
// rate are counted but not logged.
const (
	dropWarnRate  = rate.Limit(1)
	dropWarnBurst = 10
)

// Stats is a point-in-time view of the bridge counters
type Stats struct {
	Received      int64 `json:"received"`
	Applied       int64 `json:"applied"`
	Unchanged     int64 `json:"unchanged"`
	Dropped       int64 `json:"dropped"`
	Malformed     int64 `json:"malformed"`
	Writes        int64 `json:"writes"`
	WriteFailures int64 `json:"write_failures"`
	Keys          int   `json:"keys"`
}

// Option configures a Bridge
type Option func(*Bridge)

// WithStore replaces the file-backed store. The store must be the only
// writer of its document.
func WithStore(store varstore.Store) Option {
	return func(b *Bridge) {
		b.store = store
	}
}

// Bridge applies inbound partial updates to the InputMap document
type Bridge struct {
	cfg       Config
	transport transport.Transport
	store     varstore.Store
	logger    *slog.Logger
	warnLimit *rate.Limiter
	metrics   *metric.Metrics
	registry  *metric.MetricsRegistry

	// Lifecycle management
	mu              sync.Mutex
	initialized     bool
	running         atomic.Bool
	startTime       time.Time
	pool            atomic.Pointer[worker.Pool[[]byte]]
	sub             transport.Subscription
	cancel          context.CancelFunc
	poolInstruments bool

	// applyMu serializes document updates; current is what the store holds
	applyMu   sync.Mutex
	stateMu   sync.RWMutex
	current   varmap.Map
	persisted bool

	received      atomic.Int64
	applied       atomic.Int64
	unchanged     atomic.Int64
	dropped       atomic.Int64
	malformed     atomic.Int64
	writes        atomic.Int64
	writeFailures atomic.Int64
	errorCount    atomic.Int64
	lastError     atomic.Value // stores string
	lastActivity  atomic.Value // stores time.Time
}

var _ component.LifecycleComponent = (*Bridge)(nil)

// New creates an input bridge. Nothing is read or subscribed until
// Initialize and Start.
func New(cfg Config, deps component.Dependencies, opts ...Option) (*Bridge, error) {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Transport == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: transport is required", errors.ErrMissingConfig),
			"plc-input", "New", "dependency validation")
	}

	b := &Bridge{
		cfg:       cfg,
		transport: deps.Transport,
		logger:    deps.GetLoggerWithComponent(cfg.Name),
		warnLimit: rate.NewLimiter(dropWarnRate, dropWarnBurst),
		metrics:   deps.CoreMetrics(),
		registry:  deps.MetricsRegistry,
		current:   make(varmap.Map),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.store == nil {
		b.store = varstore.NewFileStore(cfg.InputPath)
	}
	b.lastActivity.Store(time.Time{})
	b.lastError.Store("")
	return b, nil
}

// Meta returns the component metadata
func (b *Bridge) Meta() component.Metadata {
	return component.Metadata{
		Name:        b.cfg.Name,
		Type:        "input",
		Description: fmt.Sprintf("Applies updates from %s to %s", b.cfg.Topic, b.cfg.InputPath),
		Version:     "1.0.0",
	}
}

// InputPorts returns the topic the bridge subscribes to
func (b *Bridge) InputPorts() []component.Port {
	return []component.Port{{
		Name:      "updates",
		Direction: component.DirectionInput,
		Kind:      component.PortTopic,
		Address:   b.cfg.Topic,
	}}
}

// OutputPorts returns the InputMap document, which this bridge owns
func (b *Bridge) OutputPorts() []component.Port {
	return []component.Port{{
		Name:      "input_map",
		Direction: component.DirectionOutput,
		Kind:      component.PortFile,
		Address:   b.cfg.InputPath,
		Exclusive: true,
	}}
}

// Health returns the current health status
func (b *Bridge) Health() component.HealthStatus {
	running := b.running.Load()
	lastError, _ := b.lastError.Load().(string)

	var uptime time.Duration
	if running {
		b.mu.Lock()
		uptime = time.Since(b.startTime)
		b.mu.Unlock()
	}

	return component.HealthStatus{
		Healthy:    running && b.transport.IsHealthy(),
		LastCheck:  time.Now(),
		ErrorCount: int(b.errorCount.Load()),
		LastError:  lastError,
		Uptime:     uptime,
	}
}

// DataFlow returns the current data flow metrics
func (b *Bridge) DataFlow() component.FlowMetrics {
	received := b.received.Load()
	lastActivity, _ := b.lastActivity.Load().(time.Time)

	b.mu.Lock()
	started := b.startTime
	b.mu.Unlock()

	var messagesPerSecond, errorRate float64
	if !started.IsZero() {
		if uptime := time.Since(started).Seconds(); uptime > 0 {
			messagesPerSecond = float64(received) / uptime
		}
	}
	if received > 0 {
		errorRate = float64(b.dropped.Load()+b.writeFailures.Load()) / float64(received)
	}

	return component.FlowMetrics{
		MessagesPerSecond: messagesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize prepares the document directory and loads the current InputMap.
// A missing document starts empty; an unreadable one is logged and replaced
// by the first accepted update.
func (b *Bridge) Initialize() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if fs, ok := b.store.(*varstore.FileStore); ok {
		if err := fs.Prepare(false); err != nil {
			return errors.WrapFatal(err, "plc-input", "Initialize", "prepare input document")
		}
	}

	loaded, err := b.store.Read(context.Background())

	b.stateMu.Lock()
	switch {
	case err == nil:
		b.current = loaded
		b.persisted = true
		b.logger.Info("Loaded input document", "path", b.cfg.InputPath, "keys", len(loaded))
	case stderrors.Is(err, errors.ErrDocumentMissing):
		b.current = make(varmap.Map)
		b.persisted = false
		b.logger.Debug("No input document yet, starting empty", "path", b.cfg.InputPath)
	default:
		b.current = make(varmap.Map)
		b.persisted = false
		b.logger.Warn("Input document unreadable, starting empty",
			"path", b.cfg.InputPath, "error", err, "kind", errors.Kind(err))
	}
	b.stateMu.Unlock()

	b.initialized = true
	return nil
}

// Start starts the update worker and subscribes to the input topic
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return errors.WrapFatal(errors.ErrNotStarted, "plc-input", "Start", "component not initialized")
	}
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "plc-input", "Start", "context check")
	}
	if b.running.Load() {
		return nil
	}

	// The worker outlives the start context so Stop can drain the queue.
	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	var opts []worker.Option[[]byte]
	if b.registry != nil && !b.poolInstruments {
		opts = append(opts, worker.WithMetricsRegistry[[]byte](b.registry, "plcbridge_input_queue"))
		b.poolInstruments = true
	}
	pool := worker.NewPool(1, b.cfg.QueueSize, b.apply, opts...)
	if err := pool.Start(workCtx); err != nil {
		cancel()
		return errors.WrapFatal(err, "plc-input", "Start", "start update worker")
	}
	b.pool.Store(pool)

	sub, err := b.transport.Subscribe(ctx, b.cfg.Topic, b.handleMessage)
	if err != nil {
		b.pool.Store(nil)
		_ = pool.Stop(b.cfg.StopTimeout)
		cancel()
		return errors.WrapTransient(err, "plc-input", "Start", "subscribe to "+b.cfg.Topic)
	}

	b.sub = sub
	b.cancel = cancel
	b.startTime = time.Now()
	b.running.Store(true)
	if b.metrics != nil {
		b.metrics.RecordServiceStatus(b.cfg.Name, 1)
	}

	b.logger.Info("Input bridge started", "topic", b.cfg.Topic, "path", b.cfg.InputPath,
		"queue_size", b.cfg.QueueSize)
	return nil
}

// Stop unsubscribes, then waits up to timeout for queued updates to be
// written. Safe to call when not started and more than once.
func (b *Bridge) Stop(timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running.Load() {
		return nil
	}

	var errs []error
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			errs = append(errs, errors.WrapTransient(err, "plc-input", "Stop", "unsubscribe"))
		}
		b.sub = nil
	}

	if pool := b.pool.Swap(nil); pool != nil {
		if err := pool.Stop(timeout); err != nil {
			errs = append(errs, errors.WrapTransient(err, "plc-input", "Stop", "drain update queue"))
		}
	}
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}

	b.running.Store(false)
	if b.metrics != nil {
		b.metrics.RecordServiceStatus(b.cfg.Name, 0)
	}
	b.logger.Info("Input bridge stopped", "received", b.received.Load(), "writes", b.writes.Load())
	return stderrors.Join(errs...)
}

// handleMessage runs on the transport's delivery goroutine and must not block.
func (b *Bridge) handleMessage(_ context.Context, data []byte) {
	b.received.Add(1)
	b.lastActivity.Store(time.Now())
	if b.metrics != nil {
		b.metrics.RecordMessageReceived(bridgeLabel)
	}

	pool := b.pool.Load()
	if pool == nil {
		b.drop("stopped")
		return
	}

	payload := append([]byte(nil), data...)
	if err := pool.Submit(payload); err != nil {
		reason := "stopped"
		if stderrors.Is(err, worker.ErrQueueFull) {
			reason = "queue_full"
		}
		b.drop(reason)
		if b.warnLimit.Allow() {
			b.logger.Warn("Dropping input update", "reason", reason, "topic", b.cfg.Topic, "bytes", len(data))
		}
	}
}

func (b *Bridge) drop(reason string) {
	b.dropped.Add(1)
	if b.metrics != nil {
		b.metrics.RecordMessageDropped(bridgeLabel, reason)
	}
}

// apply merges one update into the document. The in-memory map only
// advances after the store accepted the write.
func (b *Bridge) apply(ctx context.Context, payload []byte) error {
	update, offenders, err := varmap.DecodeLenient(payload)
	if err != nil {
		b.malformed.Add(1)
		b.drop("malformed")
		b.recordError(err)
		if b.warnLimit.Allow() {
			b.logger.Warn("Dropping malformed input update", "error", err, "bytes", len(payload))
		}
		return err
	}
	if len(offenders) > 0 {
		b.logger.Warn("Input update has non-conforming keys", "keys", offenders,
			"error", errors.ErrInvalidKey)
	}

	b.applyMu.Lock()
	defer b.applyMu.Unlock()

	b.stateMu.RLock()
	base, persisted := b.current, b.persisted
	b.stateMu.RUnlock()

	merged := varmap.Merge(base, update)
	if persisted && varmap.Equal(merged, base) {
		b.unchanged.Add(1)
		if b.metrics != nil {
			b.metrics.RecordMessageApplied(bridgeLabel, false)
		}
		return nil
	}

	start := time.Now()
	err = b.store.Write(ctx, merged)
	if b.metrics != nil {
		b.metrics.RecordWrite(bridgeLabel, time.Since(start), err)
	}
	if err != nil {
		b.writeFailures.Add(1)
		b.recordError(err)
		b.logger.Error("Failed to write input document", "path", b.cfg.InputPath, "error", err,
			"kind", errors.Kind(err))
		return err
	}

	b.stateMu.Lock()
	b.current = merged
	b.persisted = true
	b.stateMu.Unlock()

	b.writes.Add(1)
	b.applied.Add(1)
	if b.metrics != nil {
		b.metrics.RecordMessageApplied(bridgeLabel, true)
	}
	b.logger.Debug("Applied input update", "keys", len(update), "total", len(merged))
	return nil
}

func (b *Bridge) recordError(err error) {
	b.errorCount.Add(1)
	b.lastError.Store(err.Error())
}

// Current returns a copy of the InputMap as last written
func (b *Bridge) Current() varmap.Map {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return varmap.Clone(b.current)
}

// Stats returns the bridge counters
func (b *Bridge) Stats() Stats {
	b.stateMu.RLock()
	keys := len(b.current)
	b.stateMu.RUnlock()

	return Stats{
		Received:      b.received.Load(),
		Applied:       b.applied.Load(),
		Unchanged:     b.unchanged.Load(),
		Dropped:       b.dropped.Load(),
		Malformed:     b.malformed.Load(),
		Writes:        b.writes.Load(),
		WriteFailures: b.writeFailures.Load(),
		Keys:          keys,
	}
}
