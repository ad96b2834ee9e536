package metric

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatheredNames(t *testing.T, registry *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	assert.NotNil(t, registry.PrometheusRegistry())
	assert.Same(t, registry.Metrics, registry.CoreMetrics())
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "A test counter",
	})
	require.NoError(t, registry.RegisterCounter("test-service", "test_counter", counter))
	counter.Inc()

	assert.True(t, gatheredNames(t, registry)["test_counter"])
}

func TestMetricsRegistry_RegisterGaugeAndHistogram(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "g"})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_histogram", Help: "h"})

	require.NoError(t, registry.RegisterGauge("svc", "test_gauge", gauge))
	require.NoError(t, registry.RegisterHistogram("svc", "test_histogram", histogram))
	gauge.Set(3)
	histogram.Observe(0.2)

	names := gatheredNames(t, registry)
	assert.True(t, names["test_gauge"])
	assert.True(t, names["test_histogram"])
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	counter1 := prometheus.NewCounter(prometheus.CounterOpts{Name: "duplicate_counter", Help: "c"})
	counter2 := prometheus.NewCounter(prometheus.CounterOpts{Name: "duplicate_counter", Help: "c"})

	require.NoError(t, registry.RegisterCounter("service1", "duplicate_counter", counter1))

	err := registry.RegisterCounter("service1", "duplicate_counter", counter2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	// Same name under another service still collides inside Prometheus.
	err = registry.RegisterCounter("service2", "duplicate_counter", counter2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prometheus conflict")
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "unreg_total", Help: "u"}, []string{"a"})
	require.NoError(t, registry.RegisterCounterVec("svc", "unreg_total", vec))
	vec.WithLabelValues("x").Inc()

	assert.True(t, registry.Unregister("svc", "unreg_total"))
	assert.False(t, registry.Unregister("svc", "unreg_total"))
	assert.False(t, gatheredNames(t, registry)["unreg_total"])

	require.NoError(t, registry.RegisterCounterVec("svc", "unreg_total", vec))
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("concurrent_%d_total", i)
			c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: "c"})
			errs <- registry.RegisterCounter("svc", name, c)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestMetricsRegistrar_Interface(t *testing.T) {
	var _ MetricsRegistrar = NewMetricsRegistry()
}

func TestCoreMetrics_RecordMethods(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordServiceStatus("plc-input", 2)
	m.RecordMessageReceived("input")
	m.RecordMessageReceived("input")
	m.RecordMessageDropped("input", "schema_violation")
	m.RecordMessageApplied("input", true)
	m.RecordMessageApplied("input", false)
	m.RecordWrite("input", time.Millisecond, nil)
	m.RecordWrite("input", time.Millisecond, errors.New("disk"))
	m.RecordPoll("output", "unchanged")
	m.RecordReadError("output", "malformed_document")
	m.RecordPublish("output", "plc.output", nil)
	m.RecordHealthStatus("plc-output", true)
	m.RecordTransportStatus("nats", true)
	m.RecordTransportReconnect("nats")
	m.RecordCircuitBreakerState("nats", 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ServiceStatus.WithLabelValues("plc-input")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("input")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesDropped.WithLabelValues("input", "schema_violation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesApplied.WithLabelValues("input", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentWrites.WithLabelValues("input", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Polls.WithLabelValues("output", "unchanged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReadErrors.WithLabelValues("output", "malformed_document")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Publishes.WithLabelValues("output", "plc.output", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HealthCheckStatus.WithLabelValues("plc-output")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransportConnected.WithLabelValues("nats")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransportReconnects.WithLabelValues("nats")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransportCircuitBreaker.WithLabelValues("nats")))

	names := gatheredNames(t, registry)
	assert.True(t, names["plcbridge_messages_received_total"])
	assert.True(t, names["plcbridge_document_write_duration_seconds"])
}

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordMessageReceived("input")

	server := NewServer(0, "", registry)
	assert.Equal(t, "http://localhost:9090/metrics", server.Address())

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestServer_CustomHealthHandler(t *testing.T) {
	unhealthy := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	server := NewServer(9191, "/m", NewMetricsRegistry(), WithHealthHandler(unhealthy))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/m", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}

func TestServer_StopWithoutStart(t *testing.T) {
	server := NewServer(0, "", NewMetricsRegistry())
	assert.NoError(t, server.Stop())
}
