package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fannyfinal/antares/job"
)

// meterName is the instrumentation scope name for antares metrics.
const meterName = "github.com/fannyfinal/antares"

// Metrics returns middleware that records per-fire execution metrics
// using the global OTel MeterProvider. If no MeterProvider is
// configured, noop instruments are used and this middleware becomes a
// pass-through.
//
// Instruments:
//   - antares.fire.duration (Float64Histogram): fire wall time in
//     seconds, with attributes: app, class, status ("ok" or "error")
//   - antares.fire.count (Int64Counter): total fires,
//     with attributes: app, class, status ("ok" or "error")
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Create instruments once at middleware construction time.
	// OTel instruments are safe for concurrent use. On error, the API
	// returns noop instruments so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"antares.fire.duration",
		metric.WithDescription("Wall time of one fire in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	fires, fErr := meter.Int64Counter(
		"antares.fire.count",
		metric.WithDescription("Total number of fires processed"),
		metric.WithUnit("{fire}"),
	)
	_ = fErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("app", j.AppName),
			attribute.String("class", j.Class),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		fires.Add(ctx, 1, attrs)

		return err
	}
}
