// Package component defines the lifecycle and discovery contract shared by
// the PLC bridges.
//
// Every bridge implements LifecycleComponent:
//
//	Initialize() error                 // validate config, prepare stores; no goroutines
//	Start(ctx context.Context) error   // subscribe or start polling
//	Stop(timeout time.Duration) error  // finish in-flight work, release resources
//
// Components never store the context passed to Start. The Group that owns
// them derives a child context per component and cancels it after Stop.
//
// Dependencies carries the shared transport, metrics registry and logger.
// Ports describe the topics, files and KV buckets a component touches;
// ExclusiveConflicts rejects configurations where two components would both
// write the same file.
//
// StandardLifecycleTests is a reusable test suite for LifecycleComponent
// implementations.
package component
