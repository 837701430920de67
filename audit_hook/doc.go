// Package audithook is a dispatch extension that writes lifecycle events
// to an append-only audit trail.
//
// Every run and offer transition becomes a structured [AuditEvent] sent
// through the [Recorder] interface. Normal transitions are recorded at
// info severity, unassignable runs at warning and store alerts at
// critical. Offer resolutions carry the provider, rank and response
// latency so disputes about who was offered what, and when, can be
// settled from the trail alone.
//
// # Usage
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return trail.Append(ctx, evt)
//	}))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionOfferAccepted,
//	        audithook.ActionDispatchAlert,
//	    ),
//	)
package audithook
