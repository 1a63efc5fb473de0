package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fannyfinal/antares/ext"
	"github.com/fannyfinal/antares/id"
	"github.com/fannyfinal/antares/instance"
	"github.com/fannyfinal/antares/job"
)

// meterName is the instrumentation scope name for antares observability.
const meterName = "github.com/fannyfinal/antares/observability"

// Compile-time interface checks.
var (
	_ ext.Extension        = (*MetricsExtension)(nil)
	_ ext.JobFired         = (*MetricsExtension)(nil)
	_ ext.FireSkipped      = (*MetricsExtension)(nil)
	_ ext.InstanceCreated  = (*MetricsExtension)(nil)
	_ ext.InstanceFinished = (*MetricsExtension)(nil)
	_ ext.InstanceFailed   = (*MetricsExtension)(nil)
	_ ext.ShardFinished    = (*MetricsExtension)(nil)
	_ ext.TriggerFired     = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via OTel
// counters. Register it as an extension to automatically track fire
// rates, admission skips, instance outcomes, shard completions, and
// trigger fires.
type MetricsExtension struct {
	fires            metric.Int64Counter
	skips            metric.Int64Counter
	instancesCreated metric.Int64Counter
	instancesDone    metric.Int64Counter
	instancesFailed  metric.Int64Counter
	shardsDone       metric.Int64Counter
	triggersFired    metric.Int64Counter
	instanceDuration metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter, for testing or when multiple providers are in use.
// Instrument creation errors fall back to noop instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	m.fires, _ = meter.Int64Counter("antares.job.fired",
		metric.WithDescription("Fires admitted into execution"),
		metric.WithUnit("{fire}"))
	m.skips, _ = meter.Int64Counter("antares.fire.skipped",
		metric.WithDescription("Fires rejected by admission control"),
		metric.WithUnit("{fire}"))
	m.instancesCreated, _ = meter.Int64Counter("antares.instance.created",
		metric.WithDescription("Instances persisted with their shards"),
		metric.WithUnit("{instance}"))
	m.instancesDone, _ = meter.Int64Counter("antares.instance.finished",
		metric.WithDescription("Instances reaching a terminal status through the barrier"),
		metric.WithUnit("{instance}"))
	m.instancesFailed, _ = meter.Int64Counter("antares.instance.failed",
		metric.WithDescription("Instances failed by containment"),
		metric.WithUnit("{instance}"))
	m.shardsDone, _ = meter.Int64Counter("antares.shard.finished",
		metric.WithDescription("Shards reaching a terminal status"),
		metric.WithUnit("{shard}"))
	m.triggersFired, _ = meter.Int64Counter("antares.trigger.fired",
		metric.WithDescription("Trigger entries fired by the scheduler"),
		metric.WithUnit("{fire}"))
	m.instanceDuration, _ = meter.Float64Histogram("antares.instance.duration",
		metric.WithDescription("Instance wall time from fire to terminal status in seconds"),
		metric.WithUnit("s"))
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnJobFired implements ext.JobFired.
func (m *MetricsExtension) OnJobFired(ctx context.Context, j *job.Job) error {
	m.fires.Add(ctx, 1, metric.WithAttributes(
		attribute.String("app", j.AppName),
		attribute.String("class", j.Class),
	))
	return nil
}

// OnFireSkipped implements ext.FireSkipped.
func (m *MetricsExtension) OnFireSkipped(ctx context.Context, j *job.Job, reason string) error {
	m.skips.Add(ctx, 1, metric.WithAttributes(
		attribute.String("app", j.AppName),
		attribute.String("class", j.Class),
		attribute.String("reason", reason),
	))
	return nil
}

// OnInstanceCreated implements ext.InstanceCreated.
func (m *MetricsExtension) OnInstanceCreated(ctx context.Context, j *job.Job, _ *instance.Instance) error {
	m.instancesCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("app", j.AppName),
		attribute.String("class", j.Class),
	))
	return nil
}

// OnInstanceFinished implements ext.InstanceFinished.
func (m *MetricsExtension) OnInstanceFinished(ctx context.Context, j *job.Job, inst *instance.Instance, elapsed time.Duration) error {
	attrs := metric.WithAttributes(
		attribute.String("app", j.AppName),
		attribute.String("class", j.Class),
		attribute.String("status", string(inst.Status)),
	)
	m.instancesDone.Add(ctx, 1, attrs)
	m.instanceDuration.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}

// OnInstanceFailed implements ext.InstanceFailed.
func (m *MetricsExtension) OnInstanceFailed(ctx context.Context, j *job.Job, _ *instance.Instance, _ error) error {
	m.instancesFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("app", j.AppName),
		attribute.String("class", j.Class),
	))
	return nil
}

// OnShardFinished implements ext.ShardFinished.
func (m *MetricsExtension) OnShardFinished(ctx context.Context, sh *instance.Shard) error {
	m.shardsDone.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(sh.Status)),
	))
	return nil
}

// OnTriggerFired implements ext.TriggerFired.
func (m *MetricsExtension) OnTriggerFired(ctx context.Context, _ id.TriggerID, _ id.JobID) error {
	m.triggersFired.Add(ctx, 1)
	return nil
}
