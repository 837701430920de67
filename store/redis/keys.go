package redis

// All keys are prefixed with "dispatch:" to avoid collisions.

const keyPrefix = "dispatch:"

// ── Job keys ──

// jobKey returns the key for a job blob: dispatch:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobsByTimeKey is the Sorted Set of job IDs scored by creation time.
const jobsByTimeKey = keyPrefix + "jobs"

// ── Provider keys ──

// providerKey returns the key for a provider blob: dispatch:provider:{id}
func providerKey(id string) string { return keyPrefix + "provider:" + id }

// providerIDsKey is the Sorted Set of provider IDs, all scored 0 so that
// ZRANGE returns them in lexical order.
const providerIDsKey = keyPrefix + "provider_ids"

// ── Run keys ──

// runKey returns the key for a job's run blob: dispatch:run:{jobID}
func runKey(jobID string) string { return keyPrefix + "run:" + jobID }

// candidatesKey returns the key for a job's queue: dispatch:candidates:{jobID}
func candidatesKey(jobID string) string { return keyPrefix + "candidates:" + jobID }

// runsByTimeKey is the Sorted Set of job IDs with runs, scored by run
// creation time.
const runsByTimeKey = keyPrefix + "runs"

// ── Offer keys ──

// offerKey returns the key for an offer blob: dispatch:offer:{id}
func offerKey(id string) string { return keyPrefix + "offer:" + id }

// jobOffersKey returns the List of a job's offer IDs in issue order.
func jobOffersKey(jobID string) string { return keyPrefix + "job_offers:" + jobID }

// pendingKey holds the ID of the job's pending offer, if any.
func pendingKey(jobID string) string { return keyPrefix + "pending:" + jobID }

// pendingByExpiryKey is the Sorted Set of pending offer IDs scored by
// expiry in Unix milliseconds.
const pendingByExpiryKey = keyPrefix + "pending_by_expiry"

// providerPendingKey returns the Sorted Set of a provider's pending offer
// IDs scored by expiry.
func providerPendingKey(providerID string) string {
	return keyPrefix + "provider_pending:" + providerID
}

// dispatchKeys are the keys every atomic operation on a job WATCHes.
func dispatchKeys(jobID string) []string {
	return []string{jobKey(jobID), runKey(jobID), pendingKey(jobID)}
}
