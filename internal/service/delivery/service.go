package delivery

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/storely/messaging-api/internal/model"
	"github.com/storely/messaging-api/internal/repository"
	apperrors "github.com/storely/messaging-api/pkg/errors"
	"github.com/storely/messaging-api/pkg/logger"
)

type Outcome string

const (
	// OutcomeApplied means the record state was advanced (or refreshed by an
	// idempotent re-delivery of the same state).
	OutcomeApplied Outcome = "applied"
	// OutcomeNoOp means a record matched but the event does not supersede
	// its current state.
	OutcomeNoOp Outcome = "noop"
	// OutcomeNoMatch means no record matched the natural key.
	OutcomeNoMatch Outcome = "no_match"
)

// Result describes what a reconciliation did, for logging, metrics and
// outbox propagation.
type Result struct {
	Outcome        Outcome
	RecordID       uuid.UUID
	PreviousStatus model.DeliveryStatus
	NewStatus      model.DeliveryStatus
	Ambiguous      bool
	Candidates     int
}

// Service applies provider notifications to dispatch records: it locates
// candidates by natural key and performs the order-sensitive, idempotent
// status update.
type Service struct {
	store  repository.DeliveryStore
	logger *logger.Logger
	clock  clockwork.Clock
}

func NewService(store repository.DeliveryStore, logger *logger.Logger, clock clockwork.Clock) *Service {
	return &Service{
		store:  store,
		logger: logger,
		clock:  clock,
	}
}

// Reconcile runs the update policy for one normalized event. Business
// mismatches (no match, ambiguity, stale events) come back as outcomes, not
// errors; only store failures return an error.
func (s *Service) Reconcile(ctx context.Context, evt *model.NormalizedEvent) (*Result, error) {
	log := s.logger.WithContext(ctx)

	candidates, err := s.findCandidates(ctx, evt)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		log.Info("no dispatch record matches notification",
			"channel", evt.Channel,
			"event", evt.Event,
			"recipient", evt.RecipientAddress,
			"provider_message_id", evt.ProviderMessageID,
		)
		return &Result{Outcome: OutcomeNoMatch}, nil
	}

	target := candidates[0]
	result := &Result{
		RecordID:       target.ID,
		PreviousStatus: target.Status,
		Candidates:     len(candidates),
	}

	if len(candidates) > 1 {
		result.Ambiguous = true
		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ID.String()
		}
		log.Warn("ambiguous natural key, updating most recently created record",
			"channel", evt.Channel,
			"recipient", evt.RecipientAddress,
			"provider_message_id", evt.ProviderMessageID,
			"candidates", strings.Join(ids, ","),
			"selected", target.ID.String(),
		)
	}

	update := buildStatusUpdate(evt)
	applied, err := s.store.ApplyStatusUpdate(ctx, target.ID, update)
	if err != nil {
		detail := fmt.Sprintf("%s %q for %s", evt.Channel, evt.Event, evt.RecipientAddress)
		return nil, apperrors.NewReconcileFailed(detail, err)
	}

	if !applied {
		result.Outcome = OutcomeNoOp
		log.Debug("notification does not advance record state",
			"record_id", target.ID.String(),
			"status", string(target.Status),
			"event", evt.Event,
		)
		return result, nil
	}

	result.Outcome = OutcomeApplied
	result.NewStatus = update.Status
	log.Info("dispatch record reconciled",
		"record_id", target.ID.String(),
		"channel", evt.Channel,
		"event", evt.Event,
		"previous_status", string(result.PreviousStatus),
		"status", string(update.Status),
	)
	return result, nil
}

// findCandidates is the record locator. Equality match on the three-part
// natural key, newest record first; an empty result is a normal outcome. A
// store failure is the only error, surfaced as StoreUnavailable and never
// retried here.
func (s *Service) findCandidates(ctx context.Context, evt *model.NormalizedEvent) ([]*model.DispatchRecord, error) {
	candidates, err := s.store.FindByProviderKey(ctx, evt.Channel, evt.RecipientAddress, evt.ProviderMessageID)
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(err)
	}
	return candidates, nil
}

// buildStatusUpdate maps the normalized event onto one conditional write.
// Failure states stamp failed_at and the provider reason; delivered stamps
// delivered_at; every applied write replaces last_event_payload.
func buildStatusUpdate(evt *model.NormalizedEvent) *model.StatusUpdate {
	update := &model.StatusUpdate{
		Status:           evt.State,
		LastEventPayload: evt.Payload,
		AllowedFrom:      allowedPredecessors(evt.State),
	}

	switch {
	case evt.State.IsFailure():
		failedAt := evt.OccurredAt
		update.FailedAt = &failedAt
		reason := evt.Reason
		if reason == "" {
			reason = evt.Event
		}
		update.ErrorMessage = &reason
	case evt.State == model.DeliveryStatusDelivered:
		deliveredAt := evt.OccurredAt
		update.DeliveredAt = &deliveredAt
	}

	return update
}
