// Package plcinput implements the input bridge: it subscribes to the input
// topic and folds every partial update into the InputMap document that the
// PLC runtime reads on each scan.
//
// Updates are handed from the transport callback to a single-worker queue so
// a slow disk never stalls transport I/O. The worker decodes leniently
// (keys missing the "%" prefix are repaired and logged), merges into the
// in-memory map, and replaces the document atomically. An update that changes
// nothing does not touch the file. A failed write leaves both the file and
// the in-memory map untouched.
//
// Usage:
//
//	bridge, err := plcinput.New(plcinput.DefaultConfig(), component.Dependencies{
//		Transport: client,
//		Logger:    logger,
//	})
//	if err != nil {
//		return err
//	}
//	if err := bridge.Initialize(); err != nil {
//		return err
//	}
//	if err := bridge.Start(ctx); err != nil {
//		return err
//	}
//	defer bridge.Stop(5 * time.Second)
package plcinput
