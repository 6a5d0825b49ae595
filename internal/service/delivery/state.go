package delivery

import (
	"github.com/storely/messaging-api/internal/model"
)

// stateRank orders the success lifecycle. Refinements only move forward:
// pending -> sent -> delivered -> opened -> clicked.
var stateRank = map[model.DeliveryStatus]int{
	model.DeliveryStatusPending:   0,
	model.DeliveryStatusSent:      1,
	model.DeliveryStatusDelivered: 2,
	model.DeliveryStatusOpened:    3,
	model.DeliveryStatusClicked:   4,
}

var successStates = []model.DeliveryStatus{
	model.DeliveryStatusPending,
	model.DeliveryStatusSent,
	model.DeliveryStatusDelivered,
	model.DeliveryStatusOpened,
	model.DeliveryStatusClicked,
}

// allowedPredecessors lists the stored states an incoming state may replace.
//
// A failure state replaces any success state, and replaces itself so that
// re-delivered failure notifications stay idempotent; it never replaces the
// other failure state (the first recorded failure wins). A success state
// replaces success states of equal or lower rank only, which both blocks
// regressions (delivered after opened) and keeps re-application of the same
// event a rewrite of identical values. Nothing replaces a failure state with
// a success state.
func allowedPredecessors(incoming model.DeliveryStatus) []model.DeliveryStatus {
	if incoming.IsFailure() {
		allowed := make([]model.DeliveryStatus, 0, len(successStates)+1)
		allowed = append(allowed, successStates...)
		allowed = append(allowed, incoming)
		return allowed
	}

	rank, ok := stateRank[incoming]
	if !ok {
		return nil
	}

	allowed := make([]model.DeliveryStatus, 0, rank+1)
	for _, s := range successStates {
		if stateRank[s] <= rank {
			allowed = append(allowed, s)
		}
	}
	return allowed
}

// Supersedes reports whether incoming may overwrite current. It is the same
// policy allowedPredecessors feeds into the store's conditional write,
// exposed for in-memory evaluation.
func Supersedes(incoming, current model.DeliveryStatus) bool {
	for _, s := range allowedPredecessors(incoming) {
		if s == current {
			return true
		}
	}
	return false
}
