package message

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/storely/messaging-api/internal/handler"
	"github.com/storely/messaging-api/internal/model"
	"github.com/storely/messaging-api/internal/service/message"
	"github.com/storely/messaging-api/pkg/httputil"
	"github.com/storely/messaging-api/pkg/metrics"
)

// Handler exposes the operator API: dispatch a message and inspect
// dispatch records.
type Handler struct {
	*handler.BaseHandler
	service message.MessageService
	metrics *metrics.Metrics
}

func NewHandler(base *handler.BaseHandler, service message.MessageService, m *metrics.Metrics) *Handler {
	return &Handler{
		BaseHandler: base,
		service:     service,
		metrics:     m,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	messages := r.Group("/messages")
	{
		messages.POST("", h.SendMessage)
		messages.GET("", h.ListMessages)
		messages.GET("/:id", h.GetMessage)
	}
}

func (h *Handler) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()

	var req model.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	rec, err := h.service.Send(ctx, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	h.metrics.MessagesSent.WithLabelValues(string(rec.Channel), string(rec.Status)).Inc()
	h.RecordOutboxEvent(ctx, model.EventTypeMessageCreated, &model.MessageCreatedPayload{
		RecordID:  rec.ID,
		Channel:   rec.Channel,
		Recipient: rec.RecipientAddress,
		CreatedAt: rec.CreatedAt,
	})

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(rec))
}

func (h *Handler) GetMessage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid message ID"))
		return
	}

	rec, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, rec)
}

func (h *Handler) ListMessages(c *gin.Context) {
	var filter model.MessageFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	var page model.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	recs, total, err := h.service.List(c.Request.Context(), &filter, &page)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithPagination(c, recs, page.Page, page.PageSize, total)
}
