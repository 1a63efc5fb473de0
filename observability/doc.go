// Package observability provides an OpenTelemetry-based metrics
// extension for Antares. The MetricsExtension implements lifecycle
// hooks to record system-wide counters for fires, admission skips,
// instance creation and outcomes, shard completions, and trigger fires.
//
// For per-fire tracing and duration metrics, see the middleware
// package: middleware.Tracing() and middleware.Metrics().
package observability
