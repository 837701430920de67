// Package middleware provides composable middleware for background task
// execution.
//
// A [Middleware] wraps the call that carries out a [task.Task]. Middleware
// are composed with [Chain] and applied right-to-left: the first
// middleware in the slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs task kind, job and outcome at each execution
//   - [Recover] converts panics into errors
//   - [Timeout] bounds each execution with a deadline
//   - [Tracing] wraps execution in an OpenTelemetry span
//   - [Metrics] records per-kind duration and outcome counters
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
