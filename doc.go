// Package semstreams bridges a PLC runtime's variable documents to a
// message broker.
//
// The PLC runtime exchanges state with the outside world through two JSON
// documents on the local filesystem. Each document is a flat object mapping
// located-variable names such as "%IX0.0" or "%QW3" to scalar values:
//
//   - InputMap is written by the input bridge and read by the runtime at the
//     start of every scan.
//   - OutputMap is written by the runtime at the end of every scan and polled
//     by the output bridge.
//
// # Architecture
//
//	           broker (NATS or MQTT)
//	   plc.input │            ▲ plc.output
//	             ▼            │
//	┌──────────────────┐  ┌───────────────────┐
//	│   input bridge   │  │   output bridge   │  edge-triggered publish,
//	│ merge + persist  │  │ poll every 500ms  │  optional KV mirror
//	└──────────────────┘  └───────────────────┘
//	             │            ▲
//	    atomic   ▼            │ read
//	     /tmp/input.json   /tmp/output.json
//	             │            ▲
//	             ▼            │
//	           PLC runtime scan cycle
//
// # Packages
//
//   - varmap: the canonical codec, key rules and map operations
//   - varstore: atomic file writer, in-memory store and the KV mirror
//   - input/plcinput: the input bridge component
//   - output/plcoutput: the output bridge component
//   - transport, natsclient, mqttclient: the broker contract and its clients
//   - component, config, errors, health, metric: shared infrastructure
//   - pkg/retry, pkg/worker, pkg/tlsutil: generic helpers
//   - testutil: in-process transport and a simulated scan cycle
//
// The cmd/plcbridge binary wires these together.
//
// # Guarantees
//
// A reader of either document never observes a partially written file.
// Applying the same update twice leaves the InputMap as applying it once.
// The output bridge publishes only when the canonical encoding of the
// OutputMap differs from the last successfully published one, so a runtime
// that rewrites identical outputs every scan produces no traffic.
package semstreams
