package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every bridge metric.
const Namespace = "plcbridge"

// Metrics contains the metrics shared by both bridges. Labels carry the
// bridge name ("input" or "output") so one process can run both.
type Metrics struct {
	ServiceStatus     *prometheus.GaugeVec
	MessagesReceived  *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	MessagesApplied   *prometheus.CounterVec
	DocumentWrites    *prometheus.CounterVec
	WriteDuration     *prometheus.HistogramVec
	Polls             *prometheus.CounterVec
	ReadErrors        *prometheus.CounterVec
	Publishes         *prometheus.CounterVec
	HealthCheckStatus *prometheus.GaugeVec

	TransportConnected      *prometheus.GaugeVec
	TransportReconnects     *prometheus.CounterVec
	TransportCircuitBreaker *prometheus.GaugeVec
}

// NewMetrics creates the bridge metrics. They are not registered.
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "service",
				Name:      "status",
				Help:      "Component status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"component"},
		),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Inbound messages received from the transport",
			},
			[]string{"bridge"},
		),

		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "messages",
				Name:      "dropped_total",
				Help:      "Inbound messages dropped, by reason",
			},
			[]string{"bridge", "reason"},
		),

		MessagesApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "messages",
				Name:      "applied_total",
				Help:      "Inbound messages merged into the document (changed=false for duplicates)",
			},
			[]string{"bridge", "changed"},
		),

		DocumentWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "document",
				Name:      "writes_total",
				Help:      "Atomic document writes by status",
			},
			[]string{"bridge", "status"},
		),

		WriteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "document",
				Name:      "write_duration_seconds",
				Help:      "Time spent writing a document atomically",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"bridge"},
		),

		Polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "poll",
				Name:      "ticks_total",
				Help:      "Poll ticks by outcome (unchanged, changed, missing, error)",
			},
			[]string{"bridge", "outcome"},
		),

		ReadErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "document",
				Name:      "read_errors_total",
				Help:      "Document reads that failed, by error kind",
			},
			[]string{"bridge", "kind"},
		),

		Publishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "messages",
				Name:      "published_total",
				Help:      "Outbound publishes by topic and status",
			},
			[]string{"bridge", "topic", "status"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		TransportConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "transport",
				Name:      "connected",
				Help:      "Transport connection status (0=disconnected, 1=connected)",
			},
			[]string{"transport"},
		),

		TransportReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "transport",
				Name:      "reconnects_total",
				Help:      "Transport reconnections",
			},
			[]string{"transport"},
		),

		TransportCircuitBreaker: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "transport",
				Name:      "circuit_breaker",
				Help:      "Transport circuit breaker status (0=closed, 1=open, 2=half-open)",
			},
			[]string{"transport"},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ServiceStatus,
		c.MessagesReceived,
		c.MessagesDropped,
		c.MessagesApplied,
		c.DocumentWrites,
		c.WriteDuration,
		c.Polls,
		c.ReadErrors,
		c.Publishes,
		c.HealthCheckStatus,
		c.TransportConnected,
		c.TransportReconnects,
		c.TransportCircuitBreaker,
	}
}

// RecordServiceStatus updates component status metric
func (c *Metrics) RecordServiceStatus(component string, status int) {
	c.ServiceStatus.WithLabelValues(component).Set(float64(status))
}

// RecordMessageReceived increments received message counter
func (c *Metrics) RecordMessageReceived(bridge string) {
	c.MessagesReceived.WithLabelValues(bridge).Inc()
}

// RecordMessageDropped increments dropped message counter
func (c *Metrics) RecordMessageDropped(bridge, reason string) {
	c.MessagesDropped.WithLabelValues(bridge, reason).Inc()
}

// RecordMessageApplied increments applied message counter
func (c *Metrics) RecordMessageApplied(bridge string, changed bool) {
	c.MessagesApplied.WithLabelValues(bridge, boolLabel(changed)).Inc()
}

// RecordWrite records the outcome and duration of a document write
func (c *Metrics) RecordWrite(bridge string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.DocumentWrites.WithLabelValues(bridge, status).Inc()
	c.WriteDuration.WithLabelValues(bridge).Observe(duration.Seconds())
}

// RecordPoll increments the poll tick counter
func (c *Metrics) RecordPoll(bridge, outcome string) {
	c.Polls.WithLabelValues(bridge, outcome).Inc()
}

// RecordReadError increments the read error counter
func (c *Metrics) RecordReadError(bridge, kind string) {
	c.ReadErrors.WithLabelValues(bridge, kind).Inc()
}

// RecordPublish increments the publish counter
func (c *Metrics) RecordPublish(bridge, topic string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.Publishes.WithLabelValues(bridge, topic, status).Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	c.HealthCheckStatus.WithLabelValues(component).Set(boolValue(healthy))
}

// RecordTransportStatus updates transport connection status
func (c *Metrics) RecordTransportStatus(transport string, connected bool) {
	c.TransportConnected.WithLabelValues(transport).Set(boolValue(connected))
}

// RecordTransportReconnect increments reconnection counter
func (c *Metrics) RecordTransportReconnect(transport string) {
	c.TransportReconnects.WithLabelValues(transport).Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(transport string, state int) {
	c.TransportCircuitBreaker.WithLabelValues(transport).Set(float64(state))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
