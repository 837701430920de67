// Package dispatch assigns posted jobs to service providers through a
// sequence of exclusive, time-boxed offers.
//
// For each job a ranked candidate queue is computed once and persisted.
// Candidates are then offered the job one at a time. An offer is a lease:
// it belongs to one provider and expires at a fixed deadline. Exactly one
// provider can accept a job, even when several accept concurrently. A
// decline or an expiry cascades to the next candidate, and an exhausted
// queue leaves the job unassigned.
//
// # Quick Start
//
//	d, err := dispatch.New(
//	    dispatch.WithStore(memory.New()),
//	    dispatch.WithOfferTTL(5*time.Minute),
//	)
//	eng, err := engine.Build(d)
//	res, err := eng.Coordinator().Dispatch(ctx, jobID)
//
// # Architecture
//
// Each subsystem (job, provider, run, offer) defines its own store
// interface and a single backend implements all of them. Every mutation
// that can race (claiming the next candidate, resolving an offer,
// cancelling) is one atomic operation of the store, so no caller ever
// performs read-modify-write on shared state.
//
// All entity IDs are TypeIDs.
package dispatch
