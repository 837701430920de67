// Package cron fires recurring background tasks on cron schedules.
//
// The dispatch service registers one entry, the expiry sweep, from
// Config.SweepSchedule. Schedules accept the standard five fields and
// descriptors such as "@every 1s" or "@hourly".
//
// Entries live in process memory. Every node runs its own scheduler:
// the tasks it fires are idempotent against the store, so concurrent
// sweeps on several nodes are safe and no leader election is needed.
//
// Entries can be disabled and re-enabled at runtime, which the admin API
// exposes under /v1/crons.
package cron
