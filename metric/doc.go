// Package metric provides the Prometheus registry and HTTP endpoint for the
// PLC bridges.
//
// NewMetricsRegistry registers the bridge metrics (Metrics) together with the
// Go runtime and process collectors. Components that need extra collectors,
// such as the worker queue, register them through MetricsRegistrar so that
// duplicate names are reported as errors instead of panics.
//
// # Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry,
//	    metric.WithHealthHandler(monitor.Handler("plcbridge")))
//
//	go func() {
//	    if err := server.Start(); err != nil {
//	        logger.Error("metrics server failed", "error", err)
//	    }
//	}()
//
//	registry.CoreMetrics().RecordPublish("output", "plc.output", nil)
//
// All bridge metrics live under the "plcbridge" namespace and carry a
// "bridge" label ("input" or "output") where it applies.
package metric
