package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fannyfinal/antares/ext"
	"github.com/fannyfinal/antares/id"
	"github.com/fannyfinal/antares/instance"
	"github.com/fannyfinal/antares/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension        = (*Extension)(nil)
	_ ext.JobFired         = (*Extension)(nil)
	_ ext.FireSkipped      = (*Extension)(nil)
	_ ext.InstanceCreated  = (*Extension)(nil)
	_ ext.InstanceFinished = (*Extension)(nil)
	_ ext.InstanceFailed   = (*Extension)(nil)
	_ ext.ShardFinished    = (*Extension)(nil)
	_ ext.TriggerFired     = (*Extension)(nil)
)

// Recorder is the interface audit backends must implement. It is
// defined locally so this package does not import any particular audit
// store — callers inject an adapter at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *Event) error
}

// Event is the structured audit record emitted for one lifecycle hook.
type Event struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *Event) error

func (f RecorderFunc) Record(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges scheduling lifecycle events to an audit trail
// backend. Each lifecycle hook emits one structured audit event through
// the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided
// Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit" }

// OnJobFired implements ext.JobFired.
func (e *Extension) OnJobFired(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobFired, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"job", j.Key(),
	)
}

// OnFireSkipped implements ext.FireSkipped.
func (e *Extension) OnFireSkipped(ctx context.Context, j *job.Job, reason string) error {
	return e.record(ctx, ActionFireSkipped, SeverityWarning, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"job", j.Key(),
		"skip_reason", reason,
	)
}

// OnInstanceCreated implements ext.InstanceCreated.
func (e *Extension) OnInstanceCreated(ctx context.Context, j *job.Job, inst *instance.Instance) error {
	return e.record(ctx, ActionInstanceCreated, SeverityInfo, OutcomeSuccess,
		ResourceInstance, inst.ID.String(), CategoryInstance, nil,
		"job", j.Key(),
		"server", inst.Server,
		"shard_count", j.Config.ShardCount,
	)
}

// OnInstanceFinished implements ext.InstanceFinished. The outcome
// follows the instance's terminal status.
func (e *Extension) OnInstanceFinished(ctx context.Context, j *job.Job, inst *instance.Instance, elapsed time.Duration) error {
	severity, outcome := SeverityInfo, OutcomeSuccess
	if inst.Status != instance.StatusSuccess {
		severity, outcome = SeverityWarning, OutcomeFailure
	}
	return e.record(ctx, ActionInstanceFinished, severity, outcome,
		ResourceInstance, inst.ID.String(), CategoryInstance, nil,
		"job", j.Key(),
		"status", string(inst.Status),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnInstanceFailed implements ext.InstanceFailed.
func (e *Extension) OnInstanceFailed(ctx context.Context, j *job.Job, inst *instance.Instance, fireErr error) error {
	instanceID := ""
	if inst != nil {
		instanceID = inst.ID.String()
	}
	return e.record(ctx, ActionInstanceFailed, SeverityCritical, OutcomeFailure,
		ResourceInstance, instanceID, CategoryInstance, fireErr,
		"job", j.Key(),
	)
}

// OnShardFinished implements ext.ShardFinished.
func (e *Extension) OnShardFinished(ctx context.Context, sh *instance.Shard) error {
	severity, outcome := SeverityInfo, OutcomeSuccess
	if sh.Status == instance.ShardFailed {
		severity, outcome = SeverityWarning, OutcomeFailure
	}
	var shardErr error
	if sh.Error != "" {
		shardErr = fmt.Errorf("%s", sh.Error)
	}
	return e.record(ctx, ActionShardFinished, severity, outcome,
		ResourceShard, sh.ID.String(), CategoryShard, shardErr,
		"instance_id", sh.InstanceID.String(),
		"item", sh.Item,
		"status", string(sh.Status),
		"worker_id", sh.WorkerID.String(),
	)
}

// OnTriggerFired implements ext.TriggerFired.
func (e *Extension) OnTriggerFired(ctx context.Context, triggerID id.TriggerID, jobID id.JobID) error {
	return e.record(ctx, ActionTriggerFired, SeverityInfo, OutcomeSuccess,
		ResourceTrigger, triggerID.String(), CategoryTrigger, nil,
		"job_id", jobID.String(),
	)
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
// Recorder failures are logged, never propagated: a broken audit
// backend must not disturb the fire path.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &Event{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit: failed to record event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
