package audithook

// Audit event actions. Each constant becomes the Action field of the
// audit event. Offer resolutions are split by response so the trail reads
// as accept, decline or expiry without inspecting metadata.
const (
	ActionRunStarted      = "run.started"
	ActionRunAssigned     = "run.assigned"
	ActionRunUnassignable = "run.unassignable"
	ActionRunCancelled    = "run.cancelled"
	ActionOfferIssued     = "offer.issued"
	ActionOfferAccepted   = "offer.accepted"
	ActionOfferDeclined   = "offer.declined"
	ActionOfferExpired    = "offer.expired"
	ActionDispatchAlert   = "dispatch.alert"
	ActionWorkAdvanced    = "work.advanced"
)

// Audit event categories group related actions.
const (
	CategoryRun   = "dispatch.run"
	CategoryOffer = "dispatch.offer"
	CategoryJob   = "dispatch.job"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob   = "job"
	ResourceOffer = "offer"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionRunStarted,
		ActionRunAssigned,
		ActionRunUnassignable,
		ActionRunCancelled,
		ActionOfferIssued,
		ActionOfferAccepted,
		ActionOfferDeclined,
		ActionOfferExpired,
		ActionDispatchAlert,
		ActionWorkAdvanced,
	}
}
