package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Channel identifies the transport a message was dispatched over.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// DeliveryStatus is the canonical, channel-independent lifecycle stage of a
// dispatched message.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusOpened    DeliveryStatus = "opened"
	DeliveryStatusClicked   DeliveryStatus = "clicked"
	DeliveryStatusBounced   DeliveryStatus = "bounced"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// IsFailure reports whether s is one of the terminal failure states.
func (s DeliveryStatus) IsFailure() bool {
	return s == DeliveryStatusBounced || s == DeliveryStatusFailed
}

func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusSent, DeliveryStatusDelivered,
		DeliveryStatusOpened, DeliveryStatusClicked, DeliveryStatusBounced,
		DeliveryStatusFailed:
		return true
	}
	return false
}

// DispatchRecord is one outbound message attempt. It is created by the send
// path and mutated only by the reconciler as provider notifications arrive;
// it is never deleted.
type DispatchRecord struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	Channel           Channel         `db:"channel" json:"channel"`
	RecipientAddress  string          `db:"recipient_address" json:"recipient_address"`
	ProviderMessageID *string         `db:"provider_message_id" json:"provider_message_id,omitempty"`
	Subject           string          `db:"subject" json:"subject,omitempty"`
	Body              string          `db:"body" json:"body,omitempty"`
	Status            DeliveryStatus  `db:"status" json:"status"`
	DeliveredAt       *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	FailedAt          *time.Time      `db:"failed_at" json:"failed_at,omitempty"`
	ErrorMessage      *string         `db:"error_message" json:"error_message,omitempty"`
	LastEventPayload  json.RawMessage `db:"last_event_payload" json:"last_event_payload,omitempty"`
	Metadata          json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// StatusUpdate is one conditional write against a dispatch record. AllowedFrom
// lists the stored states the write may replace; the store applies the update
// only when the current row status is still one of them, so the ordering
// policy holds even when two notifications race.
type StatusUpdate struct {
	Status           DeliveryStatus
	DeliveredAt      *time.Time
	FailedAt         *time.Time
	ErrorMessage     *string
	LastEventPayload json.RawMessage
	AllowedFrom      []DeliveryStatus
}

// SendMessageRequest is the operator-facing request to dispatch a message.
// The channel-dependent rules (recipient format, subject required for email)
// are enforced at bind time and again in the service.
type SendMessageRequest struct {
	Channel  Channel         `json:"channel" binding:"required,oneof=email sms"`
	To       string          `json:"to" binding:"required"`
	Subject  string          `json:"subject"`
	Body     string          `json:"body" binding:"required"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// MessageFilter narrows operator list queries.
type MessageFilter struct {
	Channel Channel        `form:"channel"`
	Status  DeliveryStatus `form:"status"`
}
