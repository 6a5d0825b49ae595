package webhook

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/storely/messaging-api/internal/handler"
	"github.com/storely/messaging-api/internal/model"
	"github.com/storely/messaging-api/internal/service/delivery"
	apperrors "github.com/storely/messaging-api/pkg/errors"
	"github.com/storely/messaging-api/pkg/httputil"
	"github.com/storely/messaging-api/pkg/metrics"
)

// Handler receives provider webhook notifications, classifies them by
// channel and hands the normalized event to the delivery service.
type Handler struct {
	*handler.BaseHandler
	delivery *delivery.Service
	metrics  *metrics.Metrics
}

func NewHandler(base *handler.BaseHandler, deliverySvc *delivery.Service, m *metrics.Metrics) *Handler {
	return &Handler{
		BaseHandler: base,
		delivery:    deliverySvc,
		metrics:     m,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/events", h.HandleProviderEvent)
	}
}

// HandleProviderEvent is the single inbound endpoint for both email and SMS
// providers. Payloads are classified by shape: an "email" field selects the
// email vocabulary, a "mobile" field the SMS one. Unclassifiable payloads
// and events matching no record are acknowledged with 200 so providers do
// not retry them; only infrastructure failures surface as errors.
func (h *Handler) HandleProviderEvent(c *gin.Context) {
	ctx := c.Request.Context()
	log := h.Logger.WithContext(ctx)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest("failed to read request body", err))
		return
	}

	var probe struct {
		Email  string `json:"email"`
		Mobile string `json:"mobile"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		// A mistyped field is still well-formed JSON: whatever did
		// decode is kept and classification falls through below.
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			httputil.RespondWithError(c, apperrors.NewBadRequest("invalid request body", err))
			return
		}
		log.Warn("mistyped webhook payload field", "error", err.Error())
	}

	var evt *model.NormalizedEvent
	switch {
	case probe.Email != "":
		var ev model.EmailEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			log.Warn("failed to decode email event", "error", err.Error())
			httputil.RespondWithSuccess(c, nil)
			return
		}
		h.metrics.WebhookEventsReceived.WithLabelValues(string(model.ChannelEmail), delivery.EventLabel(model.ChannelEmail, ev.Event)).Inc()
		evt = h.delivery.NormalizeEmail(&ev, body)

	case probe.Mobile != "":
		var ev model.SMSEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			log.Warn("failed to decode SMS event", "error", err.Error())
			httputil.RespondWithSuccess(c, nil)
			return
		}
		h.metrics.WebhookEventsReceived.WithLabelValues(string(model.ChannelSMS), delivery.EventLabel(model.ChannelSMS, ev.Event)).Inc()
		evt = h.delivery.NormalizeSMS(&ev, body)

	default:
		log.Warn("unclassifiable webhook payload", "body_size", len(body))
		httputil.RespondWithSuccess(c, nil)
		return
	}

	result, err := h.delivery.Reconcile(ctx, evt)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	h.metrics.ReconcileOutcomes.WithLabelValues(string(result.Outcome)).Inc()
	if result.Ambiguous {
		h.metrics.AmbiguousMatches.Inc()
	}

	if result.Outcome == delivery.OutcomeApplied {
		h.RecordOutboxEvent(ctx, model.EventTypeDeliveryStatusChanged, &model.DeliveryStatusChangedPayload{
			RecordID:       result.RecordID,
			Channel:        evt.Channel,
			PreviousStatus: result.PreviousStatus,
			Status:         result.NewStatus,
			Event:          evt.Event,
			OccurredAt:     evt.OccurredAt,
			Reason:         evt.Reason,
		})
	}

	httputil.RespondWithSuccess(c, nil)
}
