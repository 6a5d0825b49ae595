package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusRetry     OutboxStatus = "retry"
	OutboxStatusProcessed OutboxStatus = "processed"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// Outbox event types published to the broker.
const (
	EventTypeMessageCreated        = "message.created"
	EventTypeDeliveryStatusChanged = "delivery.status_changed"
)

type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       OutboxStatus    `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	RetryAt      *time.Time      `db:"retry_at" json:"retry_at,omitempty"`
}

// DeliveryStatusChangedPayload is the body of delivery.status_changed
// outbox events.
type DeliveryStatusChangedPayload struct {
	RecordID       uuid.UUID      `json:"record_id"`
	Channel        Channel        `json:"channel"`
	PreviousStatus DeliveryStatus `json:"previous_status"`
	Status         DeliveryStatus `json:"status"`
	Event          string         `json:"event"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Reason         string         `json:"reason,omitempty"`
}

// MessageCreatedPayload is the body of message.created outbox events.
type MessageCreatedPayload struct {
	RecordID  uuid.UUID `json:"record_id"`
	Channel   Channel   `json:"channel"`
	Recipient string    `json:"recipient"`
	CreatedAt time.Time `json:"created_at"`
}
