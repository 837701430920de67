// Package engine assembles a running dispatch service from a Dispatcher:
// the ranker and coordinator, the worker pool with its middleware chain,
// per-offer deadline timers, the cron-driven expiry sweep, the realtime
// broker and the lifecycle extensions.
//
// The root dispatch package holds configuration and shared types and is
// imported by every subsystem, so the wiring lives here, above them all.
//
// # Building an Engine
//
//	d, err := dispatch.New(
//	    dispatch.WithStore(pgStore),
//	    dispatch.WithConcurrency(20),
//	)
//
//	eng, err := engine.Build(d,
//	    engine.WithStreamBroker(),
//	    engine.WithExtension(audithook.New(recorder)),
//	    engine.WithQueueConfig(queue.Config{Kind: task.KindDispatch, RateLimit: 50}),
//	)
//
// # Posting work
//
//	j, err := eng.PostJob(ctx, job.New(customerID, "plumbing", loc, time.Now()))
//
// PostJob returns once the job is stored; the run proceeds on a worker.
// Dispatch runs synchronously and is safe to repeat.
package engine
