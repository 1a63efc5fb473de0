package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/fannyfinal/antares/job"
)

// Recover returns middleware that recovers from panics inside a fire.
// Panics are converted to errors and logged with a stack trace, so a
// panicking fire is contained the same way a failing one is.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("fire panicked",
					slog.String("job", j.Key()),
					slog.String("job_id", j.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic firing %s: %v", j.Key(), r)
			}
		}()
		return next(ctx)
	}
}
