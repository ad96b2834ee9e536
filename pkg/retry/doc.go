// Package retry provides exponential backoff retry logic for transient failures.
//
// # Overview
//
// The bridges use it in two places: connecting to the broker at startup
// (Persistent) and re-attempting a publish inside a single poll tick (Quick).
// Anything that still fails is left to the next tick.
//
// # Configuration Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay
//   - Quick(): 3 attempts, 25ms-100ms delay
//   - Persistent(): 30 attempts, 200ms-10s delay
//
// # Usage
//
//	err := retry.DoNotify(ctx, retry.Persistent(), func() error {
//	    return client.Connect(ctx)
//	}, func(attempt int, err error, next time.Duration) {
//	    logger.Warn("connect failed", "attempt", attempt, "error", err, "retry_in", next)
//	})
//
// Wrap an error with NonRetryable to stop immediately.
package retry
