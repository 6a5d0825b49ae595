package delivery

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storely/messaging-api/internal/model"
	"github.com/storely/messaging-api/pkg/logger"
)

func newTestService(store *fakeStore, clock clockwork.Clock) *Service {
	log := logger.NewLogger(&logger.Config{
		Level:      logger.ErrorLevel,
		TimeFormat: time.RFC3339,
		Output:     io.Discard,
	})
	return NewService(store, log, clock)
}

func TestNormalizeEmailVocabulary(t *testing.T) {
	cases := map[string]model.DeliveryStatus{
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

	for event, want := range cases {
		assert.Equal(t, want, Normalize(model.ChannelEmail, event), "event %q", event)
	}
}

func TestNormalizeSMSVocabulary(t *testing.T) {
	cases := map[string]model.DeliveryStatus{
		"sent":        model.DeliveryStatusSent,
		"delivered":   model.DeliveryStatusDelivered,
		"failed":      model.DeliveryStatusFailed,
		"soft_bounce": model.DeliveryStatusFailed,
		"hard_bounce": model.DeliveryStatusFailed,
	}

	for event, want := range cases {
		assert.Equal(t, want, Normalize(model.ChannelSMS, event), "event %q", event)
	}
}

func TestNormalizeUnknownEventName(t *testing.T) {
	assert.Equal(t, model.DeliveryStatusPending, Normalize(model.ChannelEmail, "proxy_open"))
	assert.Equal(t, model.DeliveryStatusPending, Normalize(model.ChannelSMS, "queued"))
	assert.Equal(t, model.DeliveryStatusPending, Normalize(model.ChannelEmail, ""))
}

func TestEventLabelClampsUnknownNames(t *testing.T) {
	assert.Equal(t, "hard_bounce", EventLabel(model.ChannelEmail, "hard_bounce"))
	assert.Equal(t, "unique_opened", EventLabel(model.ChannelEmail, "unique_opened"))
	assert.Equal(t, "sent", EventLabel(model.ChannelSMS, "sent"))

	// Arbitrary caller input never becomes a label value.
	assert.Equal(t, "unknown", EventLabel(model.ChannelEmail, "proxy_open"))
	assert.Equal(t, "unknown", EventLabel(model.ChannelSMS, "queued"))
	assert.Equal(t, "unknown", EventLabel(model.ChannelEmail, ""))
	assert.Equal(t, "unknown", EventLabel(model.Channel("push"), "delivered"))
}

func TestNormalizeEmailBuildsEvent(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(&fakeStore{}, clock)

	raw := json.RawMessage(`{"event":"hard_bounce","email":"a@b.com","message_id":"m1","reason":"mailbox full","date":"2024-01-01T00:00:00Z"}`)
	var ev model.EmailEvent
	require.NoError(t, json.Unmarshal(raw, &ev))

	evt := svc.NormalizeEmail(&ev, raw)

	assert.Equal(t, model.ChannelEmail, evt.Channel)
	assert.Equal(t, "a@b.com", evt.RecipientAddress)
	assert.Equal(t, "m1", evt.ProviderMessageID)
	assert.Equal(t, model.DeliveryStatusBounced, evt.State)
	assert.Equal(t, "mailbox full", evt.Reason)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), evt.OccurredAt)
	assert.JSONEq(t, string(raw), string(evt.Payload))
}

func TestParseEventDateLayouts(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(&fakeStore{}, clockwork.NewFakeClockAt(now))

	cases := []struct {
		value string
		want  time.Time
	}{
		{"2024-01-01T00:00:00Z", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-03-05 14:45:28", time.Date(2024, 3, 5, 14, 45, 28, 0, time.UTC)},
		{"2024-03-05", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"", now},
		{"not a date", now},
	}

	for _, tc := range cases {
		got := svc.parseEventDate(tc.value)
		assert.True(t, tc.want.Equal(got), "value %q: want %v, got %v", tc.value, tc.want, got)
	}
}

func TestNormalizeSMSBuildsEvent(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(&fakeStore{}, clock)

	raw := json.RawMessage(`{"event":"sent","mobile":"+33612345678","message_id":"s42","date":"2024-02-02 10:00:00"}`)
	var ev model.SMSEvent
	require.NoError(t, json.Unmarshal(raw, &ev))

	evt := svc.NormalizeSMS(&ev, raw)

	assert.Equal(t, model.ChannelSMS, evt.Channel)
	assert.Equal(t, "+33612345678", evt.RecipientAddress)
	assert.Equal(t, "s42", evt.ProviderMessageID)
	assert.Equal(t, model.DeliveryStatusSent, evt.State)
	assert.Equal(t, time.Date(2024, 2, 2, 10, 0, 0, 0, time.UTC), evt.OccurredAt)
}
