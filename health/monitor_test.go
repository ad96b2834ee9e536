package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semstreams-plc/component"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StatusHealthy},
		{"degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StatusDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Aggregate("plcbridge", tt.subs).Status)
		})
	}
}

func TestAggregate_SortsSubStatuses(t *testing.T) {
	s := Aggregate("plcbridge", []Status{NewHealthy("z", ""), NewHealthy("a", "")})
	require.Len(t, s.SubStatuses, 2)
	assert.Equal(t, "a", s.SubStatuses[0].Component)
}

func TestFromComponentHealth(t *testing.T) {
	s := FromComponentHealth("plc-input", component.HealthStatus{Healthy: true, Uptime: time.Minute})
	assert.True(t, s.IsHealthy())
	assert.Equal(t, time.Minute, s.Metrics.Uptime)

	s = FromComponentHealth("plc-input", component.HealthStatus{
		Healthy:    true,
		ErrorCount: 2,
		LastError:  "write /tmp/input.json: permission denied",
	})
	assert.True(t, s.IsDegraded())
	assert.True(t, s.Healthy)
	assert.NotContains(t, s.Message, "/tmp/input.json")
	assert.Contains(t, s.Message, "[PATH]")

	s = FromComponentHealth("plc-output", component.HealthStatus{Healthy: false})
	assert.True(t, s.IsUnhealthy())
}

func TestSanitizeErrorMessage(t *testing.T) {
	assert.Equal(t, "", sanitizeErrorMessage(""))
	assert.Equal(t, "dial [URL] failed", sanitizeErrorMessage("dial nats://10.0.0.5:4222 failed"))
	assert.Equal(t, "connect [URL]", sanitizeErrorMessage("connect tcp://broker:1883"))
	assert.Equal(t, "host [IP] down", sanitizeErrorMessage("host 192.168.1.10 down"))
	assert.Equal(t, "auth [REDACTED]", sanitizeErrorMessage("auth password=hunter2"))
}

func TestFromConnection(t *testing.T) {
	assert.True(t, FromConnection("nats", true).IsHealthy())
	assert.True(t, FromConnection("nats", false).IsUnhealthy())
}

func TestMonitor_Check(t *testing.T) {
	m := NewMonitor()
	connected := true
	m.Register("transport", func() Status { return FromConnection("ignored", connected) })
	m.Register("plc-output", func() Status { return NewHealthy("", "ok") })

	var checked []string
	m.OnCheck(func(name string, _ bool) { checked = append(checked, name) })

	s := m.Check("plcbridge")
	assert.True(t, s.IsHealthy())
	assert.Equal(t, "plc-output", s.SubStatuses[0].Component)
	assert.Equal(t, "transport", s.SubStatuses[1].Component)
	assert.ElementsMatch(t, []string{"transport", "plc-output"}, checked)

	connected = false
	assert.True(t, m.Check("plcbridge").IsUnhealthy())

	m.Remove("transport")
	assert.Equal(t, 1, m.Count())
}

func TestMonitor_Handler(t *testing.T) {
	m := NewMonitor()
	healthy := true
	m.Register("plc-input", func() Status { return FromConnection("", healthy) })

	rec := httptest.NewRecorder()
	m.Handler("plcbridge").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "plcbridge", body.Component)
	assert.Len(t, body.SubStatuses, 1)

	healthy = false
	rec = httptest.NewRecorder()
	m.Handler("plcbridge").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
