package message_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storely/messaging-api/internal/handler"
	messagehandler "github.com/storely/messaging-api/internal/handler/message"
	"github.com/storely/messaging-api/internal/model"
	apperrors "github.com/storely/messaging-api/pkg/errors"
	"github.com/storely/messaging-api/pkg/logger"
	"github.com/storely/messaging-api/pkg/metrics"
)

var testMetrics = metrics.NewMetrics("test", "messages")

type fakeService struct {
	sendRec  *model.DispatchRecord
	sendErr  error
	getRec   *model.DispatchRecord
	getErr   error
	listRecs []*model.DispatchRecord
	listErr  error

	lastSendReq *model.SendMessageRequest
	lastFilter  *model.MessageFilter
}

func (f *fakeService) Send(_ context.Context, req *model.SendMessageRequest) (*model.DispatchRecord, error) {
	f.lastSendReq = req
	return f.sendRec, f.sendErr
}

func (f *fakeService) Get(_ context.Context, id uuid.UUID) (*model.DispatchRecord, error) {
	return f.getRec, f.getErr
}

func (f *fakeService) List(_ context.Context, filter *model.MessageFilter, page *model.Pagination) ([]*model.DispatchRecord, int, error) {
	f.lastFilter = filter
	page.Normalize()
	return f.listRecs, len(f.listRecs), f.listErr
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

func newTestRouter(svc *fakeService, outbox *fakeOutbox) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	h := messagehandler.NewHandler(handler.NewBaseHandler(outbox, log), svc, testMetrics)

	r := gin.New()
	h.RegisterRoutes(r.Group("/api/v1"))
	return r
}

func doRequest(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func strPtr(s string) *string { return &s }

func sampleRecord() *model.DispatchRecord {
	return &model.DispatchRecord{
		ID:                uuid.New(),
		Channel:           model.ChannelEmail,
		RecipientAddress:  "user@example.com",
		ProviderMessageID: strPtr("<m1@mail.example.com>"),
		Subject:           "Order update",
		Body:              "Your order shipped.",
		Status:            model.DeliveryStatusSent,
		CreatedAt:         time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestSendMessage(t *testing.T) {
	rec := sampleRecord()
	svc := &fakeService{sendRec: rec}
	outbox := &fakeOutbox{}
	r := newTestRouter(svc, outbox)

	w := doRequest(r, http.MethodPost, "/api/v1/messages", map[string]interface{}{
		"channel": "email",
		"to":      "user@example.com",
		"subject": "Order update",
		"body":    "Your order shipped.",
	})

	assert.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Success bool                 `json:"success"`
		Data    model.DispatchRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, rec.ID, resp.Data.ID)
	assert.Equal(t, model.DeliveryStatusSent, resp.Data.Status)

	require.NotNil(t, svc.lastSendReq)
	assert.Equal(t, model.ChannelEmail, svc.lastSendReq.Channel)
	assert.Equal(t, "user@example.com", svc.lastSendReq.To)

	require.Len(t, outbox.events, 1)
	assert.Equal(t, model.EventTypeMessageCreated, outbox.events[0].EventType)

	var payload model.MessageCreatedPayload
	require.NoError(t, json.Unmarshal(outbox.events[0].Payload, &payload))
	assert.Equal(t, rec.ID, payload.RecordID)
	assert.Equal(t, "user@example.com", payload.Recipient)
}

func TestSendMessageMissingBody(t *testing.T) {
	svc := &fakeService{}
	outbox := &fakeOutbox{}
	r := newTestRouter(svc, outbox)

	w := doRequest(r, http.MethodPost, "/api/v1/messages", map[string]interface{}{
		"channel": "email",
		"to":      "user@example.com",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, svc.lastSendReq)
	assert.Empty(t, outbox.events)
}

func TestSendMessageInvalidRecipient(t *testing.T) {
	svc := &fakeService{sendErr: apperrors.NewBadRequest("invalid email recipient", nil)}
	outbox := &fakeOutbox{}
	r := newTestRouter(svc, outbox)

	w := doRequest(r, http.MethodPost, "/api/v1/messages", map[string]interface{}{
		"channel": "email",
		"to":      "not-an-address",
		"subject": "Hi",
		"body":    "Hello",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, outbox.events)

	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "invalid email recipient", resp.Error)
}

func TestGetMessage(t *testing.T) {
	rec := sampleRecord()
	svc := &fakeService{getRec: rec}
	r := newTestRouter(svc, &fakeOutbox{})

	w := doRequest(r, http.MethodGet, "/api/v1/messages/"+rec.ID.String(), nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool                 `json:"success"`
		Data    model.DispatchRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, rec.ID, resp.Data.ID)
}

func TestGetMessageInvalidID(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc, &fakeOutbox{})

	w := doRequest(r, http.MethodGet, "/api/v1/messages/not-a-uuid", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMessageNotFound(t *testing.T) {
	svc := &fakeService{getErr: apperrors.NewNotFound("message not found", nil)}
	r := newTestRouter(svc, &fakeOutbox{})

	w := doRequest(r, http.MethodGet, "/api/v1/messages/"+uuid.NewString(), nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListMessages(t *testing.T) {
	svc := &fakeService{listRecs: []*model.DispatchRecord{sampleRecord(), sampleRecord()}}
	r := newTestRouter(svc, &fakeOutbox{})

	w := doRequest(r, http.MethodGet, "/api/v1/messages?channel=email&page=1&page_size=10", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Data       []model.DispatchRecord `json:"data"`
			Pagination struct {
				Page     int `json:"page"`
				PageSize int `json:"page_size"`
				Total    int `json:"total"`
			} `json:"pagination"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Len(t, resp.Data.Data, 2)
	assert.Equal(t, 1, resp.Data.Pagination.Page)
	assert.Equal(t, 10, resp.Data.Pagination.PageSize)
	assert.Equal(t, 2, resp.Data.Pagination.Total)

	require.NotNil(t, svc.lastFilter)
	assert.Equal(t, model.ChannelEmail, svc.lastFilter.Channel)
}
