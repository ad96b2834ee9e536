//go:build integration

package main

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semstreams-plc/component"
	"github.com/c360/semstreams-plc/config"
	"github.com/c360/semstreams-plc/metric"
	"github.com/c360/semstreams-plc/natsclient"
	"github.com/c360/semstreams-plc/testutil"
)

func TestIntegration_EndToEndOverNATS(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithKVBuckets("plc_state"))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	registry := metric.NewMetricsRegistry()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Transport.URLs = []string{tc.URL}
	cfg.Input.Path = filepath.Join(dir, "input.json")
	cfg.Output.Path = filepath.Join(dir, "output.json")
	cfg.Output.PollInterval = 20 * time.Millisecond
	cfg.Output.MirrorBucket = "plc_state"
	require.NoError(t, cfg.Validate())

	tr, nc, err := connectTransport(ctx, cfg, testLogger(), registry.CoreMetrics(), "integration-test")
	require.NoError(t, err)
	defer tr.Close(context.Background())

	// A separate client plays the control system on the other side of the broker.
	peer, err := tc.NewPeer(ctx)
	require.NoError(t, err)
	defer peer.Close(context.Background())

	var (
		mu       sync.Mutex
		received []string
	)
	_, err = peer.Subscribe(ctx, "plc.output", func(_ context.Context, data []byte) {
		mu.Lock()
		received = append(received, string(data))
		mu.Unlock()
	})
	require.NoError(t, err)
	snapshot := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), received...)
	}

	comps, err := buildBridges(ctx, cfg, component.Dependencies{
		Transport:       tr,
		MetricsRegistry: registry,
		Logger:          testLogger(),
	}, nc)
	require.NoError(t, err)

	group := component.NewGroup(testLogger())
	for _, c := range comps {
		group.Add(c)
	}
	require.NoError(t, group.Initialize())
	require.NoError(t, group.Start(ctx, 5*time.Second))
	defer func() { assert.NoError(t, group.Stop(5*time.Second)) }()

	plc := testutil.NewScanCycle(cfg.Input.Path, cfg.Output.Path, nil, nil)
	require.NoError(t, plc.Init())
	go func() { _ = plc.Run(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		got := snapshot()
		return len(got) == 1 && got[0] == `{"%QX0.0":false}`
	}, 10*time.Second, 20*time.Millisecond)

	require.NoError(t, peer.Publish(ctx, "plc.input", []byte(`{"%IX0.0":true}`)))

	require.Eventually(t, func() bool {
		got := snapshot()
		return len(got) == 2 && got[1] == `{"%QX0.0":true}`
	}, 10*time.Second, 20*time.Millisecond)

	js, err := nc.JetStream()
	require.NoError(t, err)
	kv, err := js.KeyValue(ctx, "plc_state")
	require.NoError(t, err)
	entry, err := kv.Get(ctx, "state")
	require.NoError(t, err)
	assert.Equal(t, `{"%QX0.0":true}`, string(entry.Value()))

	time.Sleep(200 * time.Millisecond)
	assert.Len(t, snapshot(), 2, "unchanged output is not republished")
}
