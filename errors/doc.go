// Package errors provides standardized error handling for the PLC state bridges.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retry on the next
// iteration), Invalid (bad input, drop it) and Fatal (unrecoverable, stop before
// the work loops start). The bridges never terminate on Transient or Invalid
// errors; they log, count and move on.
//
// # Bridge Taxonomy
//
//   - ErrSchemaViolation: inbound payload is not a JSON object of scalars (Invalid)
//   - ErrInvalidKey: key without the "%" address prefix (Invalid, warn-and-accept inbound)
//   - ErrMalformedDocument: stored document not decodable (Invalid, skip this poll)
//   - ErrDocumentMissing: stored document absent or empty (Transient, "no change yet")
//   - ErrWriteFailure: atomic write did not commit (Transient)
//   - ErrTransportDisconnected: broker connection not usable (Transient)
//
// Kind maps an error onto a short label suitable for Prometheus labels.
//
// # Error Wrapping Pattern
//
// All wrapping follows "component.method: action failed: %w":
//
//	errors.WrapTransient(err, "FileStore", "Write", "atomic write")
//	errors.WrapInvalid(err, "Config", "Validate", "poll interval")
//	errors.WrapFatal(err, "FileStore", "Prepare", "create directory")
//
// Wrapped errors keep working with errors.Is and errors.As, so
// errors.Is(err, errors.ErrWriteFailure) holds through any number of wraps.
package errors
