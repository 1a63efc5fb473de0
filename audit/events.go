package audit

// Audit event actions. Each constant corresponds to one ext lifecycle
// hook and becomes the Action field of the audit event.
const (
	ActionJobFired         = "job.fired"
	ActionFireSkipped      = "job.fire_skipped"
	ActionInstanceCreated  = "instance.created"
	ActionInstanceFinished = "instance.finished"
	ActionInstanceFailed   = "instance.failed"
	ActionShardFinished    = "shard.finished"
	ActionTriggerFired     = "trigger.fired"
)

// Audit event categories group related actions.
const (
	CategoryJob      = "antares.job"
	CategoryInstance = "antares.instance"
	CategoryShard    = "antares.shard"
	CategoryTrigger  = "antares.trigger"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob      = "job"
	ResourceInstance = "instance"
	ResourceShard    = "shard"
	ResourceTrigger  = "trigger_entry"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobFired,
		ActionFireSkipped,
		ActionInstanceCreated,
		ActionInstanceFinished,
		ActionInstanceFailed,
		ActionShardFinished,
		ActionTriggerFired,
	}
}
