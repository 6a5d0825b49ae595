package handler

import (
	"context"
	"encoding/json"

	"github.com/storely/messaging-api/internal/model"
	"github.com/storely/messaging-api/internal/repository"
	"github.com/storely/messaging-api/pkg/logger"
)

// BaseHandler carries the pieces every handler needs: the outbox for
// emitting integration events and a logger.
type BaseHandler struct {
	OutboxRepo repository.OutboxRepository
	Logger     *logger.Logger
}

func NewBaseHandler(outboxRepo repository.OutboxRepository, logger *logger.Logger) *BaseHandler {
	return &BaseHandler{
		OutboxRepo: outboxRepo,
		Logger:     logger,
	}
}

// RecordOutboxEvent queues an integration event for the outbox processor.
// Outbox failures are logged and swallowed: the triggering request already
// succeeded and must not fail because the side channel is down.
func (h *BaseHandler) RecordOutboxEvent(ctx context.Context, eventType string, payload interface{}) {
	if h.OutboxRepo == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		h.Logger.WithContext(ctx).Error(err, "failed to marshal outbox payload", "event_type", eventType)
		return
	}

	event := &model.OutboxEvent{
		EventType: eventType,
		Payload:   data,
	}
	if err := h.OutboxRepo.Create(ctx, event); err != nil {
		h.Logger.WithContext(ctx).Error(err, "failed to create outbox event", "event_type", eventType)
	}
}
