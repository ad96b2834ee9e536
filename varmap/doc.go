// Package varmap implements the document format shared by the PLC bridges.
//
// A document is a flat JSON object mapping variable addresses to scalar
// values:
//
//	{"%IX0.0":true,"%IX0.1":false,"%QW0":1200}
//
// # Canonical form
//
// Encode always writes keys in ascending byte order with no whitespace, and
// values exactly as they were read. Encoding is a pure function of the map, so
// two processes that hold equal maps write identical bytes, and change
// detection can compare bytes (or Snapshot digests) instead of structures.
//
// # Strict and lenient decoding
//
// Decode is used for files the bridges own and rejects anything that is not
// canonical in shape. DecodeLenient is used for broker messages: it repairs
// keys missing the % prefix and reports them so the caller can warn, but any
// structural problem (not an object, a nested value, bad JSON) is a schema
// violation and the whole message is dropped.
//
// # Map operations
//
// Merge, Diff and Filter never modify their arguments. Merge is idempotent:
// applying the same update twice leaves the same map as applying it once.
package varmap
