package delivery

import (
	"encoding/json"
	"time"

	"github.com/storely/messaging-api/internal/model"
)

// Provider event vocabulary to canonical state, per channel. The tables are
// fixed; extend conservatively when the provider adds event names.
var emailEventStates = map[string]model.DeliveryStatus{
	"delivered":     model.DeliveryStatusDelivered,
	"soft_bounce":   model.DeliveryStatusFailed,
	"hard_bounce":   model.DeliveryStatusBounced,
	"spam":          model.DeliveryStatusFailed,
	"blocked":       model.DeliveryStatusFailed,
	"invalid_email": model.DeliveryStatusFailed,
	"deferred":      model.DeliveryStatusPending,
	"click":         model.DeliveryStatusClicked,
	"opened":        model.DeliveryStatusOpened,
	"unique_opened": model.DeliveryStatusOpened,
}

var smsEventStates = map[string]model.DeliveryStatus{
	"sent":        model.DeliveryStatusSent,
	"delivered":   model.DeliveryStatusDelivered,
	"failed":      model.DeliveryStatusFailed,
	"soft_bounce": model.DeliveryStatusFailed,
	"hard_bounce": model.DeliveryStatusFailed,
}

// Normalize translates a provider event name into a canonical delivery state.
// Unknown names map to pending instead of failing, so future provider
// vocabulary degrades to a neutral state rather than breaking processing.
func Normalize(channel model.Channel, event string) model.DeliveryStatus {
	var state model.DeliveryStatus
	var ok bool

	switch channel {
	case model.ChannelEmail:
		state, ok = emailEventStates[event]
	case model.ChannelSMS:
		state, ok = smsEventStates[event]
	}

	if !ok {
		return model.DeliveryStatusPending
	}
	return state
}

// EventLabel returns the provider event name when it is part of the known
// vocabulary and "unknown" otherwise, keeping metric label cardinality
// bounded on an unauthenticated endpoint.
func EventLabel(channel model.Channel, event string) string {
	var ok bool
	switch channel {
	case model.ChannelEmail:
		_, ok = emailEventStates[event]
	case model.ChannelSMS:
		_, ok = smsEventStates[event]
	}
	if !ok {
		return "unknown"
	}
	return event
}

// Date layouts the provider has been observed to send.
var eventDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NormalizeEmail builds the channel-agnostic event for an email notification.
func (s *Service) NormalizeEmail(ev *model.EmailEvent, raw json.RawMessage) *model.NormalizedEvent {
	return &model.NormalizedEvent{
		Channel:           model.ChannelEmail,
		RecipientAddress:  ev.Email,
		ProviderMessageID: ev.MessageID,
		Event:             ev.Event,
		State:             Normalize(model.ChannelEmail, ev.Event),
		OccurredAt:        s.parseEventDate(ev.Date),
		Reason:            ev.Reason,
		Payload:           raw,
	}
}

// NormalizeSMS builds the channel-agnostic event for an SMS notification.
func (s *Service) NormalizeSMS(ev *model.SMSEvent, raw json.RawMessage) *model.NormalizedEvent {
	return &model.NormalizedEvent{
		Channel:           model.ChannelSMS,
		RecipientAddress:  ev.Mobile,
		ProviderMessageID: ev.MessageID,
		Event:             ev.Event,
		State:             Normalize(model.ChannelSMS, ev.Event),
		OccurredAt:        s.parseEventDate(ev.Date),
		Reason:            ev.Reason,
		Payload:           raw,
	}
}

// parseEventDate falls back to the current clock time when the provider sent
// no usable timestamp.
func (s *Service) parseEventDate(value string) time.Time {
	for _, layout := range eventDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return s.clock.Now().UTC()
}
