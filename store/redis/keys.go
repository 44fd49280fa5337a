package redis

// Redis key naming conventions for foreman data.
// All keys are prefixed with "foreman:" to avoid collisions.

const keyPrefix = "foreman:"

// ── Instance keys ──

// instanceKey returns the Hash key for an instance: foreman:instance:{id}
func instanceKey(id string) string { return keyPrefix + "instance:" + id }

// instanceIDsKey is the Set tracking all instance IDs for enumeration.
const instanceIDsKey = keyPrefix + "instance_ids"

// activeKey guards the at-most-one-running-instance invariant:
// foreman:active:{pipeline}:{workUnit} -> instance ID.
func activeKey(pipeline, workUnit string) string {
	return keyPrefix + "active:" + pipeline + ":" + workUnit
}

// ── Lock keys ──

// lockKey returns the key for a role lock: foreman:lock:{workUnit}/{role}
func lockKey(key string) string { return keyPrefix + "lock:" + key }

// lockKeysKey is the Set tracking all held lock keys for enumeration.
const lockKeysKey = keyPrefix + "lock_keys"

// ── Delivery audit keys ──

// deliveryKey returns the key for a delivery record: foreman:delivery:{deliveryID}
func deliveryKey(id string) string { return keyPrefix + "delivery:" + id }

// deliveryIDsKey is the Set tracking all delivery IDs for enumeration.
const deliveryIDsKey = keyPrefix + "delivery_ids"

// ── Archive keys ──

// archiveKey returns the key for an archive record: foreman:archive:{id}
func archiveKey(id string) string { return keyPrefix + "archive:" + id }

// archiveIDsKey is the Set tracking all archive record IDs.
const archiveIDsKey = keyPrefix + "archive_ids"

// ── Cluster keys ──

// workerKey returns the key for a worker entity: foreman:worker:{id}
func workerKey(id string) string { return keyPrefix + "worker:" + id }

// workerIDsKey is the Set tracking all worker IDs for enumeration.
const workerIDsKey = keyPrefix + "worker_ids"

// leaderKey stores the current leader worker ID with a TTL.
const leaderKey = keyPrefix + "leader"
