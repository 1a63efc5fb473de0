// Package middleware provides composable middleware for fire execution.
//
// A [Middleware] is a function that wraps the execution of one fire.
// Middleware are composed into a chain using [Chain] and applied around
// each fire the coordinator processes. They are applied right-to-left:
// the first middleware in the slice is the outermost wrapper.
//
//	// logging → recover → fire
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] — logs job key, duration, and outcome of each fire
//   - [Recover] — catches panics and converts them to errors
//   - [Timeout] — cancels the fire context after the job's configured timeout
//   - [Tracing] — wraps the fire in an OpenTelemetry span
//   - [Metrics] — records per-fire duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., rate limiting).
package middleware
