// Package plcoutput implements the output bridge: it polls the OutputMap
// document written by the PLC runtime and publishes it whenever its content
// changes.
//
// Each tick reads the document, keeps only the exported keys and compares the
// canonical encoding with the last published snapshot. Nothing is sent while
// the content is unchanged, however often the runtime rewrites the file. The
// snapshot only advances after a successful publish, so a failed publish is
// retried on the next tick.
//
// The first snapshot is the empty map: an empty document never publishes,
// and the first non-empty one always does.
//
// In PublishDiff mode only changed and added entries are sent. A change that
// only removes keys moves the baseline without a message.
//
// When a mirror is configured the published map is also written to a NATS
// KV bucket so a late subscriber can fetch the current state:
//
//	kv, _ := client.OpenKVStore(ctx, "plc_state")
//	bridge, err := plcoutput.New(cfg, deps,
//		plcoutput.WithMirror(varstore.NewKVMirror(kv, cfg.MirrorKey)))
package plcoutput
