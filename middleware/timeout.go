package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/fannyfinal/antares/job"
)

// Timeout returns middleware that bounds a whole fire with a deadline.
// The job's configured timeout wins; when it is zero the fallback
// applies. A zero fallback disables the deadline entirely.
func Timeout(logger *slog.Logger, fallback time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		d := j.Config.Timeout
		if d <= 0 {
			d = fallback
		}
		if d > 0 {
			logger.Debug("fire deadline set",
				slog.String("job_id", j.ID.String()),
				slog.Duration("timeout", d),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
