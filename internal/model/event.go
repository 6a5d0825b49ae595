package model

import (
	"encoding/json"
	"time"
)

// EmailEvent is a provider notification for an email dispatch. Field names
// follow the provider's webhook payload.
type EmailEvent struct {
	Event      string `json:"event"`
	Email      string `json:"email"`
	ID         int64  `json:"id,omitempty"`
	Date       string `json:"date"`
	MessageID  string `json:"message_id"`
	TemplateID int64  `json:"template_id,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Link       string `json:"link,omitempty"`
}

// SMSEvent is a provider notification for an SMS dispatch.
type SMSEvent struct {
	Event     string `json:"event"`
	Mobile    string `json:"mobile"`
	Date      string `json:"date"`
	MessageID string `json:"message_id"`
	Reason    string `json:"reason,omitempty"`
	Reply     string `json:"reply,omitempty"`
}

// NormalizedEvent is the channel-agnostic form of a provider notification
// after vocabulary translation. It is transient: built per inbound call,
// consumed by the reconciler, never persisted on its own.
type NormalizedEvent struct {
	Channel           Channel
	RecipientAddress  string
	ProviderMessageID string
	Event             string
	State             DeliveryStatus
	OccurredAt        time.Time
	Reason            string
	Payload           json.RawMessage
}
