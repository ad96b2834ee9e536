package natsclient

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/c360/semstreams-plc/errors"
	"github.com/c360/semstreams-plc/metric"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	client, err := NewClient("nats://invalid:4222")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		client.recordFailure()
	}
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(5), client.Failures())
}

func TestCircuitBreaker_CustomThreshold(t *testing.T) {
	client, err := NewClient("nats://invalid:4222", WithCircuitBreakerThreshold(2))
	require.NoError(t, err)

	client.recordFailure()
	assert.NotEqual(t, StatusCircuitOpen, client.Status())
	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	require.Equal(t, StatusCircuitOpen, client.Status())

	client.resetCircuit()
	assert.Equal(t, int32(0), client.Failures())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestCircuitBreaker_ExponentialBackoff(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 2*time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 4*time.Second, client.Backoff())

	for i := 0; i < 100; i++ {
		client.recordFailure()
	}
	assert.Equal(t, time.Minute, client.Backoff())
}

func TestCircuitBreaker_ConnectFailsFast(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}

	err = client.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, pkgerrors.IsTransient(err))
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	client.setStatus(StatusCircuitOpen)
	client.testCircuit()
	assert.Equal(t, StatusDisconnected, client.Status())

	// No-op unless the circuit is open
	client.setStatus(StatusConnected)
	client.testCircuit()
	assert.Equal(t, StatusConnected, client.Status())
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status ConnectionStatus
		want   string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusReconnecting, "reconnecting"},
		{StatusCircuitOpen, "circuit_open"},
		{ConnectionStatus(99), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestConcurrentSafety(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(1000))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				client.recordFailure()
				_ = client.Status()
				_ = client.GetStatus()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(500), client.Failures())
}

func TestPublishSubscribe_Disconnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	err = client.Publish(ctx, "plc.output", []byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrTransportDisconnected)
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.Subscribe(ctx, "plc.input", func(context.Context, []byte) {})
	assert.ErrorIs(t, err, pkgerrors.ErrTransportDisconnected)

	_, err = client.JetStream()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestWaitForConnection_Timeout(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = client.WaitForConnection(ctx)
	assert.ErrorIs(t, err, pkgerrors.ErrConnectionTimeout)
}

func TestClose_Idempotent(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithCredentials("plc", "secret"), WithToken("tok"))
	require.NoError(t, err)

	require.NoError(t, client.Close(context.Background()))
	require.NoError(t, client.Close(context.Background()))
	assert.Empty(t, client.username)
	assert.Empty(t, client.password)
	assert.Empty(t, client.token)

	err = client.Connect(context.Background())
	assert.True(t, pkgerrors.IsFatal(err), "connect after close must be fatal, got %v", err)
}

func TestConnectionOptions(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithMaxReconnects(3),
		WithReconnectWait(time.Second),
		WithCredentials("user", "pass"),
		WithTLS(&tls.Config{MinVersion: tls.VersionTLS12}),
		WithName("plc-bridge"),
	)
	require.NoError(t, err)

	assert.Equal(t, 3, client.maxReconnects)
	assert.Equal(t, "plc-bridge", client.clientName)
	// 10 base options plus credentials, TLS and name.
	assert.Len(t, client.ConnectionOptions(), 13)
}

func TestMetrics_StatusAndCircuit(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	metrics := registry.CoreMetrics()

	client, err := NewClient("nats://localhost:4222",
		WithMetrics(metrics),
		WithSlogLogger(slog.Default()),
	)
	require.NoError(t, err)

	client.setStatus(StatusConnected)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TransportConnected.WithLabelValues("nats")))

	client.setStatus(StatusReconnecting)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.TransportConnected.WithLabelValues("nats")))

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TransportCircuitBreaker.WithLabelValues("nats")))

	client.handleReconnect(nil)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.TransportCircuitBreaker.WithLabelValues("nats")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TransportReconnects.WithLabelValues("nats")))
}

func TestCallbacks(t *testing.T) {
	disconnected := make(chan error, 1)
	reconnected := make(chan struct{}, 1)
	health := make(chan bool, 4)

	client, err := NewClient("nats://localhost:4222",
		WithDisconnectCallback(func(err error) { disconnected <- err }),
		WithReconnectCallback(func() { reconnected <- struct{}{} }),
		WithHealthChangeCallback(func(h bool) { health <- h }),
	)
	require.NoError(t, err)

	boom := errors.New("link down")
	client.handleDisconnect(nil, boom)
	assert.Equal(t, StatusReconnecting, client.Status())

	select {
	case err := <-disconnected:
		assert.Equal(t, boom, err)
	case <-time.After(time.Second):
		t.Fatal("disconnect callback not called")
	}
	select {
	case h := <-health:
		assert.False(t, h)
	case <-time.After(time.Second):
		t.Fatal("health callback not called")
	}

	client.handleReconnect(nil)
	assert.Equal(t, StatusConnected, client.Status())
	select {
	case <-reconnected:
	case <-time.After(time.Second):
		t.Fatal("reconnect callback not called")
	}
}

func TestIsAlreadyExistsError(t *testing.T) {
	assert.False(t, isAlreadyExistsError(nil))
	assert.True(t, isAlreadyExistsError(errors.New("stream name already in use")))
	assert.False(t, isAlreadyExistsError(errors.New("timeout")))
}

func TestKVStore_NoBucket(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	kv := client.NewKVStore(nil)
	ctx := context.Background()

	_, err = kv.Put(ctx, "state", []byte("{}"))
	assert.ErrorIs(t, err, ErrKVBucketNotSet)
	assert.Empty(t, kv.Bucket())
}
