// Package testutil provides in-process stand-ins for the bridge's
// collaborators so bridge tests need neither a broker nor a PLC runtime.
//
// FakeTransport - in-memory transport.Transport:
//   - Thread-safe for concurrent use
//   - Records every published payload for verification
//   - Delivers synchronously to subscribers
//   - Injectable disconnects and publish failures
//
// MemoryBucket - in-memory key/value bucket with revisions that satisfies
// varstore.Bucket, for exercising the output mirror.
//
// ScanCycle - PLC runtime simulator. Each scan reads the input document,
// runs a Logic over PLC memory and writes the exported outputs atomically.
// Init pre-creates the output document as "{}".
//
// Example:
//
//	bus := testutil.NewFakeTransport()
//	plc := testutil.NewScanCycle(inPath, outPath, nil, nil) // %IX0.0 -> %QX0.0
//	require.NoError(t, plc.Init())
//	go plc.Run(ctx, 20*time.Millisecond)
//
//	_ = bus.Publish(ctx, "plc.input", []byte(`{"%IX0.0":true}`))
//	last := testutil.WaitForMessageCount(t, bus, "plc.output", 1, 2*time.Second)
package testutil
