// Package observability provides a metrics extension for the dispatch
// service. MetricsExtension implements the lifecycle hooks and keeps
// system-wide counters for runs, offers, claim retries and alerts.
//
// For per-task tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
