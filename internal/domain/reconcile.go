package domain

// ReconcileAction is what reconciling one outcome did to the offer ledger.
type ReconcileAction string

// Reconcile actions.
const (
	ActionCreated           ReconcileAction = "created"
	ActionUpdated           ReconcileAction = "updated"
	ActionMarkedUnavailable ReconcileAction = "markedUnavailable"
	// ActionSkipped is a failure for a pair that has no offer yet.
	ActionSkipped ReconcileAction = "skipped"
)
