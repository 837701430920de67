// Package relayhook bridges dispatch lifecycle events to Relay for webhook
// delivery. When registered as an extension it emits typed webhook events
// (dispatch.offer.issued, dispatch.run.assigned, ...) so providers and
// customers without a realtime connection still learn about offers and
// awards.
//
// Usage:
//
//	r, _ := relay.New(relay.WithStore(store))
//	relayhook.RegisterAll(ctx, r)
//
//	hook := relayhook.New(r)
//	engine.WithExtension(hook)
//
// To restrict which events are emitted:
//
//	hook := relayhook.New(r,
//	    relayhook.WithEvents(
//	        relayhook.EventOfferIssued,
//	        relayhook.EventRunAssigned,
//	    ),
//	)
package relayhook
