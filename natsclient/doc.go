// Package natsclient provides the NATS transport for the PLC bridges: a
// client with circuit breaker protection, automatic reconnection and a small
// JetStream KV store used to mirror published output state.
//
// # Core Features
//
// Circuit Breaker: after a threshold of consecutive connect failures
// (default 5) the circuit opens and Connect fails fast with ErrCircuitOpen.
// The backoff doubles every round up to the configured maximum, after which
// the circuit half-opens and the next Connect is allowed through.
//
// Connection Lifecycle: Disconnected → Connecting → Connected →
// Reconnecting → Connected. Subscriptions survive reconnects; the server
// side keeps them and nats.go replays them.
//
// Transport Contract: Client implements transport.Transport. Publish while
// disconnected returns an error wrapping errors.ErrTransportDisconnected so
// the output bridge can keep its last published snapshot and retry on the
// next poll.
//
// # Basic Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithSlogLogger(logger),
//	    natsclient.WithMetrics(registry.CoreMetrics()),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	sub, err := client.Subscribe(ctx, "plc.input", func(ctx context.Context, data []byte) {
//	    // data is a JSON object of variable updates
//	})
//
//	err = client.Publish(ctx, "plc.output", payload)
//
// # KV Mirror
//
//	kv, err := client.OpenKVStore(ctx, "plc_output")
//	rev, err := kv.Put(ctx, "state", canonical)
//
// KVStore.Put satisfies varstore.Bucket, so a KV store can be handed
// straight to varstore.NewKVMirror.
//
// # Testing
//
// NewTestClient starts a nats server with testcontainers and returns a
// connected client; it is used by the integration tests, which are behind
// the integration build tag.
package natsclient
