package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/fannyfinal/antares/job"
)

// Logging returns middleware that logs the start and outcome of each fire.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Info("fire started",
			slog.String("job", j.Key()),
			slog.String("job_id", j.ID.String()),
			slog.Int("shard_count", j.Config.ShardCount),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("fire failed",
				slog.String("job", j.Key()),
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("fire completed",
				slog.String("job", j.Key()),
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
