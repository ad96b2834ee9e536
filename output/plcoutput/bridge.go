package plcoutput

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/semstreams-plc/component"
	"github.com/c360/semstreams-plc/errors"
	"github.com/c360/semstreams-plc/metric"
	"github.com/c360/semstreams-plc/pkg/retry"
	"github.com/c360/semstreams-plc/transport"
	"github.com/c360/semstreams-plc/varmap"
	"github.com/c360/semstreams-plc/varstore"
)

const bridgeLabel = "output"

// State is the position of the poll loop
type State int32

// Poll loop states
const (
	StateIdle State = iota
	StatePolling
	StatePublishing
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StatePublishing:
		return "publishing"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time view of the bridge counters
type Stats struct {
	Polls           int64 `json:"polls"`
	Publishes       int64 `json:"publishes"`
	PublishFailures int64 `json:"publish_failures"`
	ReadErrors      int64 `json:"read_errors"`
	MirrorFailures  int64 `json:"mirror_failures"`
}

// Option configures a Bridge
type Option func(*Bridge)

// WithStore replaces the file-backed reader of the OutputMap
func WithStore(store varstore.Reader) Option {
	return func(b *Bridge) {
		b.store = store
	}
}

// WithMirror copies every published map to w. Mirror failures are logged
// and never hold back a publish.
func WithMirror(w varstore.Writer) Option {
	return func(b *Bridge) {
		b.mirror = w
	}
}

// WithRetry sets the publish retry policy used inside one tick
func WithRetry(cfg retry.Config) Option {
	return func(b *Bridge) {
		b.retry = cfg
	}
}

// Bridge polls the OutputMap document and publishes it whenever it changes
type Bridge struct {
	cfg       Config
	keys      []varmap.Key
	transport transport.Transport
	store     varstore.Reader
	mirror    varstore.Writer
	retry     retry.Config
	logger    *slog.Logger
	metrics   *metric.Metrics

	// Lifecycle management
	mu          sync.Mutex
	initialized bool
	running     atomic.Bool
	startTime   time.Time
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	// pollMu serializes ticks; snapshot is the last map published
	pollMu   sync.Mutex
	snapMu   sync.RWMutex
	snapshot varmap.Snapshot
	state    atomic.Int32

	polls           atomic.Int64
	publishes       atomic.Int64
	publishFailures atomic.Int64
	readErrors      atomic.Int64
	mirrorFailures  atomic.Int64
	errorCount      atomic.Int64
	lastError       atomic.Value // stores string
	lastActivity    atomic.Value // stores time.Time
}

var _ component.LifecycleComponent = (*Bridge)(nil)

// New creates an output bridge. Nothing is read or published until
// Initialize and Start.
func New(cfg Config, deps component.Dependencies, opts ...Option) (*Bridge, error) {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PublishMode == "" {
		cfg.PublishMode = def.PublishMode
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	keys, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	if deps.Transport == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: transport is required", errors.ErrMissingConfig),
			"plc-output", "New", "dependency validation")
	}

	b := &Bridge{
		cfg:       cfg,
		keys:      keys,
		transport: deps.Transport,
		retry:     retry.Quick(),
		logger:    deps.GetLoggerWithComponent(cfg.Name),
		metrics:   deps.CoreMetrics(),
		snapshot:  varmap.EmptySnapshot(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.store == nil {
		b.store = varstore.NewFileStore(cfg.OutputPath)
	}
	b.lastActivity.Store(time.Time{})
	b.lastError.Store("")
	return b, nil
}

// Meta returns the component metadata
func (b *Bridge) Meta() component.Metadata {
	return component.Metadata{
		Name:        b.cfg.Name,
		Type:        "output",
		Description: fmt.Sprintf("Publishes changes of %s to %s every %s", b.cfg.OutputPath, b.cfg.Topic, b.cfg.PollInterval),
		Version:     "1.0.0",
	}
}

// InputPorts returns the OutputMap document the bridge polls
func (b *Bridge) InputPorts() []component.Port {
	return []component.Port{{
		Name:      "output_map",
		Direction: component.DirectionInput,
		Kind:      component.PortFile,
		Address:   b.cfg.OutputPath,
	}}
}

// OutputPorts returns the publish topic and, when configured, the mirror key
func (b *Bridge) OutputPorts() []component.Port {
	ports := []component.Port{{
		Name:      "changes",
		Direction: component.DirectionOutput,
		Kind:      component.PortTopic,
		Address:   b.cfg.Topic,
	}}
	if b.cfg.MirrorBucket != "" {
		key := b.cfg.MirrorKey
		if key == "" {
			key = varstore.DefaultMirrorKey
		}
		ports = append(ports, component.Port{
			Name:      "mirror",
			Direction: component.DirectionOutput,
			Kind:      component.PortKV,
			Address:   b.cfg.MirrorBucket + "/" + key,
			Exclusive: true,
		})
	}
	return ports
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
	publishes := b.publishes.Load()
	failures := b.publishFailures.Load()
	lastActivity, _ := b.lastActivity.Load().(time.Time)

	b.mu.Lock()
	started := b.startTime
	b.mu.Unlock()

	var messagesPerSecond, errorRate float64
	if !started.IsZero() {
		if uptime := time.Since(started).Seconds(); uptime > 0 {
			messagesPerSecond = float64(publishes) / uptime
		}
	}
	if attempts := publishes + failures; attempts > 0 {
		errorRate = float64(failures) / float64(attempts)
	}

	return component.FlowMetrics{
		MessagesPerSecond: messagesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize prepares the document directory. The document itself is
// created by the PLC runtime.
func (b *Bridge) Initialize() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if fs, ok := b.store.(*varstore.FileStore); ok {
		if err := fs.Prepare(false); err != nil {
			return errors.WrapFatal(err, "plc-output", "Initialize", "prepare output directory")
		}
	}
	b.initialized = true
	return nil
}

// Start launches the poll loop
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return errors.WrapFatal(errors.ErrNotStarted, "plc-output", "Start", "component not initialized")
	}
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "plc-output", "Start", "context check")
	}
	if b.running.Load() {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.startTime = time.Now()
	b.running.Store(true)

	b.wg.Add(1)
	go b.run(loopCtx)

	if b.metrics != nil {
		b.metrics.RecordServiceStatus(b.cfg.Name, 1)
	}
	b.logger.Info("Output bridge started", "topic", b.cfg.Topic, "path", b.cfg.OutputPath,
		"interval", b.cfg.PollInterval, "mode", b.cfg.PublishMode, "keys", len(b.keys))
	return nil
}

// Stop cancels the poll loop and waits up to timeout for the current tick.
// Safe to call when not started and more than once.
func (b *Bridge) Stop(timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running.Load() {
		return nil
	}
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = errors.WrapTransient(fmt.Errorf("poll loop still running after %s", timeout),
			"plc-output", "Stop", "wait for poll loop")
	}

	b.running.Store(false)
	if b.metrics != nil {
		b.metrics.RecordServiceStatus(b.cfg.Name, 0)
	}
	b.logger.Info("Output bridge stopped", "polls", b.polls.Load(), "publishes", b.publishes.Load())
	return err
}

func (b *Bridge) run(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = b.Poll(ctx)
		}
	}
}

// Poll runs one tick: read, compare with the last published snapshot and
// publish on change. A missing document is not an error. Read and publish
// failures are returned after being logged; the snapshot is left as it was
// so the next tick tries again.
func (b *Bridge) Poll(ctx context.Context) error {
	b.pollMu.Lock()
	defer b.pollMu.Unlock()

	b.state.Store(int32(StatePolling))
	defer b.state.Store(int32(StateIdle))
	b.polls.Add(1)

	vars, err := b.store.Read(ctx)
	if err != nil {
		if stderrors.Is(err, errors.ErrDocumentMissing) {
			b.logger.Debug("Output document not available yet", "path", b.cfg.OutputPath)
			b.recordPoll("missing")
			return nil
		}
		b.readErrors.Add(1)
		b.recordError(err)
		if b.metrics != nil {
			b.metrics.RecordReadError(bridgeLabel, errors.Kind(err))
		}
		b.recordPoll("read_error")
		b.logger.Warn("Skipping unreadable output document", "path", b.cfg.OutputPath, "error", err)
		return err
	}

	next := varmap.NewSnapshot(varmap.Filter(vars, b.keys))

	b.snapMu.RLock()
	prev := b.snapshot
	b.snapMu.RUnlock()

	if next.Equal(prev) {
		b.recordPoll("unchanged")
		return nil
	}

	payload := next.Bytes()
	if b.cfg.PublishMode == PublishDiff {
		diff := varmap.Diff(prev.Map(), next.Map())
		if len(diff) == 0 {
			// Only removals; nothing to send but the new baseline.
			b.replaceSnapshot(next)
			b.recordPoll("unchanged")
			return nil
		}
		payload = varmap.Encode(diff)
	}

	b.state.Store(int32(StatePublishing))
	err = retry.DoNotify(ctx, b.retry, func() error {
		return b.transport.Publish(ctx, b.cfg.Topic, payload)
	}, func(attempt int, err error, next time.Duration) {
		b.logger.Debug("Retrying output publish", "attempt", attempt, "error", err, "backoff", next)
	})
	if b.metrics != nil {
		b.metrics.RecordPublish(bridgeLabel, b.cfg.Topic, err)
	}
	if err != nil {
		b.publishFailures.Add(1)
		b.recordError(err)
		b.recordPoll("publish_error")
		b.logger.Error("Failed to publish output state", "topic", b.cfg.Topic, "error", err,
			"kind", errors.Kind(err))
		return errors.WrapTransient(err, "plc-output", "Poll", "publish "+b.cfg.Topic)
	}

	b.replaceSnapshot(next)
	b.publishes.Add(1)
	b.lastActivity.Store(time.Now())
	b.recordPoll("published")
	b.logger.Debug("Published output state", "topic", b.cfg.Topic, "keys", next.Len(),
		"bytes", len(payload), "digest", next.Digest())

	if b.mirror != nil {
		if err := b.mirror.Write(ctx, next.Map()); err != nil {
			b.mirrorFailures.Add(1)
			b.logger.Warn("Failed to mirror output state", "error", err)
		}
	}
	return nil
}

func (b *Bridge) replaceSnapshot(s varmap.Snapshot) {
	b.snapMu.Lock()
	b.snapshot = s
	b.snapMu.Unlock()
}

func (b *Bridge) recordPoll(outcome string) {
	if b.metrics != nil {
		b.metrics.RecordPoll(bridgeLabel, outcome)
	}
}

func (b *Bridge) recordError(err error) {
	b.errorCount.Add(1)
	b.lastError.Store(err.Error())
}

// State reports where the poll loop is
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Snapshot returns the last published state
func (b *Bridge) Snapshot() varmap.Snapshot {
	b.snapMu.RLock()
	defer b.snapMu.RUnlock()
	return b.snapshot
}

// Publishes is the number of successful publishes
func (b *Bridge) Publishes() int64 {
	return b.publishes.Load()
}

// Stats returns the bridge counters
func (b *Bridge) Stats() Stats {
	return Stats{
		Polls:           b.polls.Load(),
		Publishes:       b.publishes.Load(),
		PublishFailures: b.publishFailures.Load(),
		ReadErrors:      b.readErrors.Load(),
		MirrorFailures:  b.mirrorFailures.Load(),
	}
}
