// Package varstore holds the variable documents the bridges exchange with the
// scan-cycle process.
//
// FileStore is the production store: a single JSON file that one process
// writes and another reads at its own cadence. Every write goes through
// WriteAtomic, which stages the new document in a temporary file in the same
// directory, syncs it and renames it over the target, so a reader polling the
// file never observes a truncated or half-written document.
//
// A missing or empty file reads as errors.ErrDocumentMissing, which callers
// treat as "nothing written yet" rather than a failure.
//
// MemoryStore is an in-process fake with the same decoding rules, and
// KVMirror copies documents into a JetStream KV bucket.
package varstore
