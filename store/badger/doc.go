// Package badger implements store.Store on an embedded BadgerDB.
//
// Entities are MessagePack values under short key prefixes:
//
//	job/<job id>          job
//	prov/<provider id>    provider
//	run/<job id>          dispatch run
//	queue/<job id>        candidate queue
//	offer/<offer id>      offer
//	joboffers/<job id>    offer IDs in issue order
//	pending/<job id>      ID of the job's pending offer
//
// Each atomic store operation is one serializable badger transaction.
// Badger rejects the commit of a transaction whose reads were overwritten
// concurrently with badger.ErrConflict; the store reruns it from the top.
//
// Open with an empty path keeps everything in memory, which suits tests
// and single-node development:
//
//	s, err := badger.Open("", badger.WithLogger(logger))
package badger
