package webhook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storely/messaging-api/internal/handler"
	"github.com/storely/messaging-api/internal/handler/webhook"
	"github.com/storely/messaging-api/internal/model"
	"github.com/storely/messaging-api/internal/service/delivery"
	"github.com/storely/messaging-api/pkg/logger"
	"github.com/storely/messaging-api/pkg/metrics"
)

var testMetrics = metrics.NewMetrics("test", "webhook")

type fakeStore struct {
	records   []*model.DispatchRecord
	updates   int
	failFind  error
	failApply error
}

func (f *fakeStore) FindByProviderKey(_ context.Context, channel model.Channel, recipient, providerMessageID string) ([]*model.DispatchRecord, error) {
	if f.failFind != nil {
		return nil, f.failFind
	}
	var out []*model.DispatchRecord
	for _, r := range f.records {
		if r.Channel == channel && r.RecipientAddress == recipient &&
			r.ProviderMessageID != nil && *r.ProviderMessageID == providerMessageID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	return out, nil
}

func (f *fakeStore) ApplyStatusUpdate(_ context.Context, id uuid.UUID, update *model.StatusUpdate) (bool, error) {
	if f.failApply != nil {
		return false, f.failApply
	}
	for _, r := range f.records {
		if r.ID != id {
			continue
		}
		allowed := false
		for _, s := range update.AllowedFrom {
			if r.Status == s {
				allowed = true
				break
			}
		}
		if !allowed {
			return false, nil
		}
		r.Status = update.Status
		if update.DeliveredAt != nil {
			r.DeliveredAt = update.DeliveredAt
		}
		if update.FailedAt != nil {
			r.FailedAt = update.FailedAt
		}
		if update.ErrorMessage != nil {
			r.ErrorMessage = update.ErrorMessage
		}
		r.LastEventPayload = update.LastEventPayload
		f.updates++
		return true, nil
	}
	return false, nil
}

type fakeOutbox struct {
	events []*model.OutboxEvent
}

func (f *fakeOutbox) Create(_ context.Context, event *model.OutboxEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeOutbox) BeginTx(context.Context) (*sqlx.Tx, error) { return nil, nil }

func (f *fakeOutbox) GetPendingEventsTx(context.Context, *sqlx.Tx, int) ([]*model.OutboxEvent, error) {
	return nil, nil
}

func (f *fakeOutbox) UpdateStatusTx(context.Context, *sqlx.Tx, uuid.UUID, model.OutboxStatus, *string, *time.Time) error {
	return nil
}

func (f *fakeOutbox) MoveToDeadLetterTx(context.Context, *sqlx.Tx, *model.OutboxEvent) error {
	return nil
}

func (f *fakeOutbox) CountPending(context.Context) (int, error) { return len(f.events), nil }

func (f *fakeOutbox) DeleteProcessedBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func newTestRouter(store *fakeStore, outbox *fakeOutbox) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := delivery.NewService(store, log, clock)
	h := webhook.NewHandler(handler.NewBaseHandler(outbox, log), svc, testMetrics)

	r := gin.New()
	h.RegisterRoutes(r.Group("/api/v1"))
	return r
}

func postEvent(t *testing.T, r *gin.Engine, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body []byte
	switch p := payload.(type) {
	case string:
		body = []byte(p)
	default:
		var err error
		body, err = json.Marshal(p)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func strPtr(s string) *string { return &s }

func sentRecord(channel model.Channel, recipient, providerMessageID string) *model.DispatchRecord {
	return &model.DispatchRecord{
		ID:                uuid.New(),
		Channel:           channel,
		RecipientAddress:  recipient,
		ProviderMessageID: strPtr(providerMessageID),
		Status:            model.DeliveryStatusSent,
		CreatedAt:         time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestHandleEmailDeliveredEvent(t *testing.T) {
	rec := sentRecord(model.ChannelEmail, "user@example.com", "<m1@smtp.example.com>")
	store := &fakeStore{records: []*model.DispatchRecord{rec}}
	outbox := &fakeOutbox{}
	r := newTestRouter(store, outbox)

	w := postEvent(t, r, map[string]interface{}{
		"event":      "delivered",
		"email":      "user@example.com",
		"message_id": "<m1@smtp.example.com>",
		"date":       "2024-01-01 10:00:00",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
	assert.Equal(t, model.DeliveryStatusDelivered, rec.Status)
	require.NotNil(t, rec.DeliveredAt)
	assert.True(t, rec.DeliveredAt.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)))

	require.Len(t, outbox.events, 1)
	assert.Equal(t, model.EventTypeDeliveryStatusChanged, outbox.events[0].EventType)

	var payload model.DeliveryStatusChangedPayload
	require.NoError(t, json.Unmarshal(outbox.events[0].Payload, &payload))
	assert.Equal(t, rec.ID, payload.RecordID)
	assert.Equal(t, model.ChannelEmail, payload.Channel)
	assert.Equal(t, model.DeliveryStatusSent, payload.PreviousStatus)
	assert.Equal(t, model.DeliveryStatusDelivered, payload.Status)
	assert.Equal(t, "delivered", payload.Event)
}

func TestHandleEmailHardBounce(t *testing.T) {
	rec := sentRecord(model.ChannelEmail, "user@example.com", "<m1@smtp.example.com>")
	store := &fakeStore{records: []*model.DispatchRecord{rec}}
	outbox := &fakeOutbox{}
	r := newTestRouter(store, outbox)

	w := postEvent(t, r, map[string]interface{}{
		"event":      "hard_bounce",
		"email":      "user@example.com",
		"id":         42,
		"date":       "2024-01-01 10:00:00",
		"message_id": "<m1@smtp.example.com>",
		"reason":     "mailbox full",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
	assert.Equal(t, model.DeliveryStatusBounced, rec.Status)
	require.NotNil(t, rec.FailedAt)
	assert.True(t, rec.FailedAt.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)))
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "mailbox full", *rec.ErrorMessage)
	assert.Nil(t, rec.DeliveredAt)
	assert.JSONEq(t, `{"event":"hard_bounce","email":"user@example.com","id":42,"date":"2024-01-01 10:00:00","message_id":"<m1@smtp.example.com>","reason":"mailbox full"}`, string(rec.LastEventPayload))
}

func TestHandleSMSEvent(t *testing.T) {
	rec := sentRecord(model.ChannelSMS, "+15550001111", "sms-1")
	store := &fakeStore{records: []*model.DispatchRecord{rec}}
	outbox := &fakeOutbox{}
	r := newTestRouter(store, outbox)

	w := postEvent(t, r, map[string]interface{}{
		"event":      "delivered",
		"mobile":     "+15550001111",
		"message_id": "sms-1",
		"date":       "2024-01-01T10:00:00Z",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.DeliveryStatusDelivered, rec.Status)
	require.Len(t, outbox.events, 1)

	var payload model.DeliveryStatusChangedPayload
	require.NoError(t, json.Unmarshal(outbox.events[0].Payload, &payload))
	assert.Equal(t, model.ChannelSMS, payload.Channel)
}

func TestHandleUnknownEventDoesNotRegress(t *testing.T) {
	rec := sentRecord(model.ChannelEmail, "user@example.com", "<m1@smtp.example.com>")
	store := &fakeStore{records: []*model.DispatchRecord{rec}}
	outbox := &fakeOutbox{}
	r := newTestRouter(store, outbox)

	w := postEvent(t, r, map[string]interface{}{
		"event":      "proxy_open",
		"email":      "user@example.com",
		"message_id": "<m1@smtp.example.com>",
		"date":       "2024-01-01 10:00:00",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
	assert.Equal(t, model.DeliveryStatusSent, rec.Status)
	assert.Zero(t, store.updates)
	assert.Empty(t, outbox.events)
}

func TestHandleNoMatchIsAcknowledged(t *testing.T) {
	store := &fakeStore{}
	outbox := &fakeOutbox{}
	r := newTestRouter(store, outbox)

	w := postEvent(t, r, map[string]interface{}{
		"event":      "delivered",
		"email":      "nobody@example.com",
		"message_id": "<missing@smtp.example.com>",
		"date":       "2024-01-01 10:00:00",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
	assert.Empty(t, outbox.events)
}

func TestHandleUnclassifiablePayload(t *testing.T) {
	store := &fakeStore{}
	outbox := &fakeOutbox{}
	r := newTestRouter(store, outbox)

	w := postEvent(t, r, map[string]interface{}{"kind": "ping", "attempt": 3})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
	assert.Empty(t, outbox.events)
}

func TestHandleUndecodableEmailEvent(t *testing.T) {
	rec := sentRecord(model.ChannelEmail, "user@example.com", "<m1@smtp.example.com>")
	store := &fakeStore{records: []*model.DispatchRecord{rec}}
	outbox := &fakeOutbox{}
	r := newTestRouter(store, outbox)

	w := postEvent(t, r, `{"email":"user@example.com","event":{"nested":true}}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
	assert.Equal(t, model.DeliveryStatusSent, rec.Status)
	assert.Empty(t, outbox.events)
}

func TestHandleMistypedShapeFieldIsAcknowledged(t *testing.T) {
	rec := sentRecord(model.ChannelEmail, "user@example.com", "<m1@smtp.example.com>")
	store := &fakeStore{records: []*model.DispatchRecord{rec}}
	outbox := &fakeOutbox{}
	r := newTestRouter(store, outbox)

	// Well-formed JSON that does not fit the expected shape must be
	// acknowledged like any other unclassifiable payload, not rejected.
	cases := []struct {
		name string
		body string
	}{
		{"numeric mobile", `{"event":"delivered","mobile":33612345678,"message_id":"sms-1","date":"2024-01-01T10:00:00Z"}`},
		{"numeric email", `{"event":"delivered","email":12345,"message_id":"<m1@smtp.example.com>","date":"2024-01-01 10:00:00"}`},
		{"array top level", `[{"event":"delivered","email":"user@example.com"}]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postEvent(t, r, tc.body)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, `{"success":true}`, w.Body.String())
		})
	}

	assert.Equal(t, model.DeliveryStatusSent, rec.Status)
	assert.Zero(t, store.updates)
	assert.Empty(t, outbox.events)
}

func TestHandleMistypedFieldStillClassifiesSMS(t *testing.T) {
	rec := sentRecord(model.ChannelSMS, "+15550001111", "sms-1")
	store := &fakeStore{records: []*model.DispatchRecord{rec}}
	outbox := &fakeOutbox{}
	r := newTestRouter(store, outbox)

	// The mistyped email field is dropped; the valid mobile field still
	// selects the SMS vocabulary and the event reconciles normally.
	w := postEvent(t, r, `{"event":"delivered","email":12345,"mobile":"+15550001111","message_id":"sms-1","date":"2024-01-01T10:00:00Z"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
	assert.Equal(t, model.DeliveryStatusDelivered, rec.Status)
	require.Len(t, outbox.events, 1)
}

func TestHandleMalformedBody(t *testing.T) {
	store := &fakeStore{}
	r := newTestRouter(store, &fakeOutbox{})

	w := postEvent(t, r, `{not json`)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestHandleStoreUnavailable(t *testing.T) {
	store := &fakeStore{failFind: errors.New("connection refused")}
	r := newTestRouter(store, &fakeOutbox{})

	w := postEvent(t, r, map[string]interface{}{
		"event":      "delivered",
		"email":      "user@example.com",
		"message_id": "<m1@smtp.example.com>",
		"date":       "2024-01-01 10:00:00",
	})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestHandleStaleEventIsNoOp(t *testing.T) {
	rec := sentRecord(model.ChannelEmail, "user@example.com", "<m1@smtp.example.com>")
	store := &fakeStore{records: []*model.DispatchRecord{rec}}
	outbox := &fakeOutbox{}
	r := newTestRouter(store, outbox)

	delivered := map[string]interface{}{
		"event":      "delivered",
		"email":      "user@example.com",
		"message_id": "<m1@smtp.example.com>",
		"date":       "2024-01-01 10:00:00",
	}
	opened := map[string]interface{}{
		"event":      "opened",
		"email":      "user@example.com",
		"message_id": "<m1@smtp.example.com>",
		"date":       "2024-01-01 10:05:00",
	}

	postEvent(t, r, delivered)
	postEvent(t, r, opened)
	require.Equal(t, model.DeliveryStatusOpened, rec.Status)
	require.Len(t, outbox.events, 2)

	// Late re-delivery of the earlier event must not regress the record and
	// must not emit another outbox event.
	w := postEvent(t, r, delivered)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.DeliveryStatusOpened, rec.Status)
	assert.Len(t, outbox.events, 2)
}
