package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semstreams-plc/component"
	"github.com/c360/semstreams-plc/config"
	"github.com/c360/semstreams-plc/health"
	"github.com/c360/semstreams-plc/input/plcinput"
	"github.com/c360/semstreams-plc/metric"
	"github.com/c360/semstreams-plc/natsclient"
	"github.com/c360/semstreams-plc/output/plcoutput"
	"github.com/c360/semstreams-plc/testutil"
)

func TestParseFlags(t *testing.T) {
	t.Setenv("PLCBRIDGE_MODE", "output")

	cfg, err := parseFlags(flag.NewFlagSet("test", flag.ContinueOnError),
		[]string{"--log-format=text", "--debug", "--shutdown-timeout=3s"})
	require.NoError(t, err)

	assert.Equal(t, "output", cfg.Mode, "env fallback")
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel, "debug overrides level")
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.ConfigPath)
	assert.NoError(t, validateFlags(cfg))
}

func TestValidateFlags(t *testing.T) {
	base := func() *CLIConfig {
		return &CLIConfig{Mode: modeAll, LogLevel: "info", LogFormat: "json", ShutdownTimeout: time.Second}
	}

	tests := []struct {
		name    string
		mutate  func(*CLIConfig)
		wantErr string
	}{
		{"valid", func(*CLIConfig) {}, ""},
		{"bad mode", func(c *CLIConfig) { c.Mode = "both" }, "invalid mode"},
		{"bad level", func(c *CLIConfig) { c.LogLevel = "trace" }, "invalid log level"},
		{"bad format", func(c *CLIConfig) { c.LogFormat = "xml" }, "invalid log format"},
		{"missing config", func(c *CLIConfig) { c.ConfigPath = "/nonexistent/plcbridge.yaml" }, "config file not found"},
		{"zero timeout", func(c *CLIConfig) { c.ShutdownTimeout = 0 }, "invalid shutdown timeout"},
		{"version skips checks", func(c *CLIConfig) { c.Mode = "bogus"; c.ShowVersion = true }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := validateFlags(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "info", "json", modeInput)
	logger.Debug("hidden")
	logger.Info("visible", "key", "value")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "visible", entry["msg"])
	assert.Equal(t, appName, entry["service"])
	assert.Equal(t, modeInput, entry["mode"])
	assert.Equal(t, "value", entry["key"])
}

func TestApplyMode(t *testing.T) {
	cfg := config.Default()
	applyMode(cfg, modeInput)
	assert.True(t, cfg.Input.Enabled)
	assert.False(t, cfg.Output.Enabled)

	cfg = config.Default()
	applyMode(cfg, modeOutput)
	assert.False(t, cfg.Input.Enabled)
	assert.True(t, cfg.Output.Enabled)

	cfg = config.Default()
	applyMode(cfg, modeAll)
	assert.True(t, cfg.Input.Enabled)
	assert.True(t, cfg.Output.Enabled)
	assert.Equal(t, "plcbridge", cfg.MQTT.ClientID)
	assert.Equal(t, config.DefaultMetricsPort, cfg.Metrics.Port)
}

func TestApplyMode_SplitProcessesDoNotCollide(t *testing.T) {
	in := config.Default()
	in.Transport.Type = "mqtt"
	applyMode(in, modeInput)
	require.NoError(t, in.Validate())

	out := config.Default()
	out.Transport.Type = "mqtt"
	applyMode(out, modeOutput)
	require.NoError(t, out.Validate())

	inMQTT, err := mqttConfig(in)
	require.NoError(t, err)
	outMQTT, err := mqttConfig(out)
	require.NoError(t, err)
	assert.Equal(t, "plcbridge-input", inMQTT.ClientID)
	assert.Equal(t, "plcbridge-output", outMQTT.ClientID)
	assert.NotEqual(t, in.Metrics.Port, out.Metrics.Port)

	// A restarted process reconnects under the same identity.
	again := config.Default()
	applyMode(again, modeInput)
	assert.Equal(t, in.MQTT.ClientID, again.MQTT.ClientID)

	// An explicit port is kept.
	custom := config.Default()
	custom.Metrics.Port = 9300
	applyMode(custom, modeOutput)
	assert.Equal(t, 9300, custom.Metrics.Port)
}

func TestBridgeConfigMapping(t *testing.T) {
	cfg := config.Default()
	cfg.Input.Topic = "line1.in"
	cfg.Output.OutputKeys = []string{"%QX0.0"}
	cfg.Output.PublishMode = "diff"

	in := inputConfig(cfg)
	assert.Equal(t, "line1.in", in.Topic)
	assert.Equal(t, cfg.Input.Path, in.InputPath)
	assert.Equal(t, cfg.Input.QueueSize, in.QueueSize)
	assert.NoError(t, in.Validate())

	out := outputConfig(cfg)
	assert.Equal(t, cfg.Output.PollInterval, out.PollInterval)
	assert.Equal(t, plcoutput.PublishDiff, out.PublishMode)
	assert.Equal(t, []string{"%QX0.0"}, out.OutputKeys)
	_, err := out.Validate()
	assert.NoError(t, err)
}

func TestClientName(t *testing.T) {
	assert.Equal(t, "plcbridge-0123abcd", clientName("", "0123abcd-ef45-6789"))
	assert.Equal(t, "line1-abc", clientName("line1", "abc"))
}

func TestNATSOptions(t *testing.T) {
	cfg := config.Default()
	base, err := natsOptions(cfg, testLogger(), nil, "0123abcd")
	require.NoError(t, err)

	cfg.Transport.Token = "s3cret"
	cfg.Transport.TLS = config.TLSConfig{Enabled: true}
	opts, err := natsOptions(cfg, testLogger(), nil, "0123abcd")
	require.NoError(t, err)
	assert.Len(t, opts, len(base)+2, "token and TLS")

	cfg.Transport.TLS.CAFile = filepath.Join(t.TempDir(), "missing-ca.pem")
	_, err = natsOptions(cfg, testLogger(), nil, "0123abcd")
	assert.Error(t, err)
}

func TestNATSEvents(t *testing.T) {
	var buf bytes.Buffer
	registry := metric.NewMetricsRegistry()
	metrics := registry.CoreMetrics()
	events := natsEvents{logger: slog.New(slog.NewJSONHandler(&buf, nil)), metrics: metrics}
	assert.Len(t, events.options(), 3)

	events.disconnected(io.EOF)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Broker connection lost", entry["msg"])
	assert.Equal(t, "transport_disconnected", entry["kind"])
	assert.Contains(t, entry["error"], "EOF")

	buf.Reset()
	events.disconnected(nil)
	assert.Contains(t, buf.String(), "transport_disconnected")

	buf.Reset()
	events.reconnected()
	assert.Contains(t, buf.String(), "Broker connection restored")

	events.healthChanged(false)
	assert.Equal(t, 0.0, promtestutil.ToFloat64(metrics.HealthCheckStatus.WithLabelValues("transport")))
	events.healthChanged(true)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(metrics.HealthCheckStatus.WithLabelValues("transport")))

	// Without metrics the gauge update is skipped.
	natsEvents{logger: testLogger()}.healthChanged(true)
}

func TestTransportStatus(t *testing.T) {
	bus := testutil.NewFakeTransport()
	s := transportStatus(bus, "mqtt")
	assert.True(t, s.IsHealthy())
	assert.Equal(t, "Connected", s.Message)

	nc, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)
	s = transportStatus(nc, "nats")
	assert.True(t, s.IsUnhealthy())
	assert.Contains(t, s.Message, "state=disconnected")
	assert.Contains(t, s.Message, "failures=0")
	assert.NotContains(t, s.Message, "last failure")
}

func TestMQTTConfigMapping(t *testing.T) {
	cfg := config.Default()
	cfg.MQTT.Broker = "tcp://broker:1883"
	cfg.MQTT.QoS = 1
	cfg.MQTT.Retain = true

	m, err := mqttConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "tcp://broker:1883", m.Broker)
	assert.Equal(t, byte(1), m.QoS)
	assert.True(t, m.Retain)
	assert.Nil(t, m.TLS)
	assert.NoError(t, m.Validate())

	cfg.MQTT.Broker = "ssl://broker:8883"
	cfg.MQTT.TLS = config.TLSConfig{Enabled: true, MinVersion: "1.3"}
	m, err = mqttConfig(cfg)
	require.NoError(t, err)
	require.NotNil(t, m.TLS)
	assert.Equal(t, uint16(tls.VersionTLS13), m.TLS.MinVersion)

	cfg.MQTT.TLS.CertFile = filepath.Join(t.TempDir(), "client.pem")
	_, err = mqttConfig(cfg)
	assert.Error(t, err, "cert without key")
}

func TestPrepareDocuments(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Input.Path = filepath.Join(dir, "in", "input.json")
	cfg.Output.Path = filepath.Join(dir, "out", "output.json")
	require.NoError(t, prepareDocuments(cfg))
	assert.DirExists(t, filepath.Join(dir, "in"))
	assert.DirExists(t, filepath.Join(dir, "out"))

	entries, err := os.ReadDir(filepath.Join(dir, "in"))
	require.NoError(t, err)
	assert.Empty(t, entries, "no documents or leftovers are created")

	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	cfg.Output.Path = filepath.Join(blocker, "output.json")
	err = prepareDocuments(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), cfg.Output.Path)

	// A disabled side is not checked.
	applyMode(cfg, modeInput)
	assert.NoError(t, prepareDocuments(cfg))
}

func TestBuildBridges(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Input.Path = filepath.Join(dir, "input.json")
	cfg.Output.Path = filepath.Join(dir, "output.json")

	deps := component.Dependencies{Transport: testutil.NewFakeTransport()}
	comps, err := buildBridges(context.Background(), cfg, deps, nil)
	require.NoError(t, err)
	require.Len(t, comps, 2)
	assert.IsType(t, &plcinput.Bridge{}, comps[0])
	assert.IsType(t, &plcoutput.Bridge{}, comps[1])

	applyMode(cfg, modeOutput)
	comps, err = buildBridges(context.Background(), cfg, deps, nil)
	require.NoError(t, err)
	require.Len(t, comps, 1)
	assert.Equal(t, "plc-output", comps[0].Meta().Name)
}

func TestBuildBridges_MirrorNeedsNATS(t *testing.T) {
	cfg := config.Default()
	cfg.Output.MirrorBucket = "plc_state"

	_, err := buildBridges(context.Background(), cfg,
		component.Dependencies{Transport: testutil.NewFakeTransport()}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires the nats transport")
}

func TestRunWithSignalHandling(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Input.Path = filepath.Join(dir, "input.json")
	cfg.Output.Path = filepath.Join(dir, "output.json")
	cfg.Output.PollInterval = 10 * time.Millisecond

	bus := testutil.NewFakeTransport()
	registry := metric.NewMetricsRegistry()
	comps, err := buildBridges(context.Background(), cfg,
		component.Dependencies{Transport: bus, MetricsRegistry: registry}, nil)
	require.NoError(t, err)

	group := component.NewGroup(nil)
	for _, c := range comps {
		group.Add(c)
	}

	monitor := newMonitor(bus, "nats", comps, registry.CoreMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runWithSignalHandling(ctx, group, time.Second, testLogger())
	}()

	require.Eventually(t, func() bool {
		return bus.Subscribers("plc.input") == 1 && monitor.Check(appName).IsHealthy()
	}, 2*time.Second, 10*time.Millisecond)

	bus.SetConnected(false)
	assert.False(t, monitor.Check(appName).IsHealthy())
	status := monitor.Check(appName)
	assert.Equal(t, health.StatusUnhealthy, status.Status)
	bus.SetConnected(true)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("bridges did not shut down")
	}
	assert.Equal(t, 0, bus.Subscribers("plc.input"))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
