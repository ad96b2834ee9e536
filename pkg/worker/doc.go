// Package worker provides a bounded work queue drained by a fixed number of
// goroutines.
//
// The input bridge runs it with a single worker: transport callbacks Submit
// raw payloads without blocking, and one goroutine applies them in arrival
// order, so at most one document write is ever in flight.
//
//	pool := worker.NewPool(1, 64, bridge.apply,
//	    worker.WithMetricsRegistry[[]byte](registry, "plcbridge_input_queue"))
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(5 * time.Second)
//
//	if err := pool.Submit(payload); errors.Is(err, worker.ErrQueueFull) {
//	    // dropped; the next message carries fresh state
//	}
//
// Submit never blocks. Stop closes the queue and waits for the items already
// queued to be processed; cancelling the Start context abandons them instead.
// A panicking processor is recovered and counted as a failure.
//
// With more than one worker, items are processed concurrently and arrival
// order is not preserved.
package worker
