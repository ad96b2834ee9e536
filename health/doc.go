// Package health aggregates component health for the bridge process.
//
// Components register a Source with a Monitor. Check evaluates every source
// and combines them with Aggregate: any unhealthy component makes the
// process unhealthy, any degraded one makes it degraded. Handler exposes the
// result as JSON for the metrics server's /health endpoint, answering 503
// only when the process is unhealthy.
//
// Error text copied from components is sanitized: broker URLs, file paths,
// IP addresses and credentials are replaced with placeholders.
package health
