// Package queue enforces admission limits on background tasks.
//
// Limits apply per task kind and, optionally, per owner within a kind.
// Dispatch tasks are owned by the posting customer, so one customer
// posting in bulk cannot starve everyone else's dispatch.
//
//	m := queue.NewManager(
//	    queue.Config{Kind: task.KindDispatch, MaxConcurrency: 20},
//	    queue.Config{Kind: task.KindSweep, MaxConcurrency: 1},
//	)
//	m.SetOwnerConfig(queue.OwnerConfig{Kind: task.KindDispatch, Owner: "cust_01h...", RateLimit: 2})
//
// [Manager] uses a token-bucket limiter (golang.org/x/time/rate) and an
// active-count gate. Kinds without a [Config] have no limit beyond the
// pool's concurrency.
package queue
