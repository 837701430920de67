// Package ext defines the extension system.
//
// # Implementing an Extension
//
//	type Pager struct{}
//
//	func (Pager) Name() string { return "pager" }
//
//	func (Pager) OnDispatchAlert(ctx context.Context, jobID id.JobID, err error) error {
//	    return page.Oncall("dispatch abandoned " + jobID.String() + ": " + err.Error())
//	}
//
// # Hooks
//
//   - [RunStarted], [RunAssigned], [RunUnassignable], [RunCancelled]
//   - [OfferIssued], [OfferResolved]
//   - [ClaimRetrying], [DispatchAlert]
//   - [WorkAdvanced]
//   - [Shutdown]
//
// The [Registry] fans each event out to every registered extension that
// implements the hook. A failing hook is logged and otherwise ignored.
package ext
