package redis

// Redis key naming conventions for antares data.
// All keys are prefixed with "antares:" to avoid collisions.

const keyPrefix = "antares:"

// ── Job keys ──

// jobKey returns the key for a job entity: antares:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// jobKeysKey is the Hash mapping "app/class" identities to job IDs for
// duplicate detection and lookup by identity.
const jobKeysKey = keyPrefix + "job_keys"

// ── Instance keys ──

// instanceKey returns the key for an instance entity: antares:inst:{id}
func instanceKey(id string) string { return keyPrefix + "inst:" + id }

// runningInstanceKey maps a job ID to its live instance ID.
func runningInstanceKey(jobID string) string { return keyPrefix + "running:" + jobID }

// shardKey returns the key for a shard entity: antares:shard:{id}
func shardKey(id string) string { return keyPrefix + "shard:" + id }

// instanceShardsKey is the Set tracking an instance's shard IDs.
func instanceShardsKey(instanceID string) string {
	return keyPrefix + "inst_shards:" + instanceID
}

// pendingShardsKey is the Sorted Set of pullable shard IDs for an
// application, scored by shard item for in-order claiming.
func pendingShardsKey(appName string) string {
	return keyPrefix + "pending:" + appName
}

// ── Event keys ──

// eventKey returns the key for an event entity: antares:event:{id}
func eventKey(id string) string { return keyPrefix + "event:" + id }

// eventStreamKey returns the Stream key for an event name: antares:events:{name}
func eventStreamKey(name string) string { return keyPrefix + "events:" + name }

// ── Cluster keys ──

// workerKey returns the key for a worker entity: antares:worker:{id}
func workerKey(id string) string { return keyPrefix + "worker:" + id }

// appWorkersKey is the Set tracking the worker IDs of an application.
func appWorkersKey(appName string) string { return keyPrefix + "app_workers:" + appName }

// workerIDsKey is the Set tracking all worker IDs for enumeration.
const workerIDsKey = keyPrefix + "worker_ids"

// leaderKey stores the current scheduler lease holder.
const leaderKey = keyPrefix + "leader"

// ── Trigger keys ──

// triggerKey returns the key for a trigger entity: antares:trigger:{id}
func triggerKey(id string) string { return keyPrefix + "trigger:" + id }

// triggerIDsKey is the Set tracking all trigger IDs for enumeration.
const triggerIDsKey = keyPrefix + "trigger_ids"

// triggerKeysKey is the Hash mapping "jobID|schedule" pairs to trigger
// IDs for duplicate detection.
const triggerKeysKey = keyPrefix + "trigger_keys"

// triggerLockKey is the per-entry fire lock: antares:trigger_lock:{id}
func triggerLockKey(id string) string { return keyPrefix + "trigger_lock:" + id }
