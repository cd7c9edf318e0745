package event

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rapls/lms-chat-system-sub004/internal/logger"
	apperrors "github.com/rapls/lms-chat-system-sub004/pkg/errors"
)

// Handler exposes the producer hooks to the messaging side of the CMS,
// which calls them synchronously after its own storage commit. The
// routes are service-to-service and share the admin token; they are
// never reachable by browsers.
type Handler struct {
	producer     *Producer
	serviceToken string
	logger       logger.Logger
}

func NewHandler(producer *Producer, serviceToken string, log logger.Logger) *Handler {
	return &Handler{
		producer:     producer,
		serviceToken: serviceToken,
		logger:       log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api/v1/chat/events", h.requireService)
	{
		group.POST("/message-created", h.MessageCreated)
		group.POST("/message-deleted", h.MessageDeleted)
		group.POST("/date-separator-deleted", h.DateSeparatorDeleted)
		group.POST("/reaction-updated", h.ReactionUpdated)
		group.POST("/thread-message-created", h.ThreadMessageCreated)
		group.POST("/thread-message-deleted", h.ThreadMessageDeleted)
		group.POST("/thread-reaction-updated", h.ThreadReactionUpdated)
		group.POST("/thread-summary-updated", h.ThreadSummaryUpdated)
	}
}

func (h *Handler) requireService(c *gin.Context) {
	if h.serviceToken == "" || c.GetHeader("Authorization") != "Bearer "+h.serviceToken {
		c.AbortWithStatusJSON(http.StatusForbidden, apperrors.ToErrorResponse(apperrors.ErrForbidden))
		return
	}
	c.Next()
}

type appendedResponse struct {
	EventID int64 `json:"event_id"`
}

func (h *Handler) respond(c *gin.Context, id int64, err error) {
	if err != nil {
		// The mutation already committed on the caller's side; report
		// the failure but nothing here should make the caller roll back.
		c.JSON(apperrors.ToHTTPStatus(apperrors.ErrInternal), apperrors.ToErrorResponse(err))
		return
	}
	c.JSON(http.StatusCreated, appendedResponse{EventID: id})
}

type messageCreatedRequest struct {
	MessageID int64                 `json:"message_id" binding:"required"`
	ChannelID int64                 `json:"channel_id" binding:"required"`
	UserID    int64                 `json:"user_id" binding:"required"`
	Payload   MessageCreatedPayload `json:"payload"`
}

func (h *Handler) MessageCreated(c *gin.Context) {
	var req messageCreatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(apperrors.ErrValidation.WithCause(err)))
		return
	}
	id, err := h.producer.OnMessageCreated(c.Request.Context(), req.MessageID, req.ChannelID, req.UserID, req.Payload)
	h.respond(c, id, err)
}

type messageDeletedRequest struct {
	MessageID int64 `json:"message_id" binding:"required"`
	ChannelID int64 `json:"channel_id" binding:"required"`
}

func (h *Handler) MessageDeleted(c *gin.Context) {
	var req messageDeletedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(apperrors.ErrValidation.WithCause(err)))
		return
	}
	id, err := h.producer.OnMessageDeleted(c.Request.Context(), req.MessageID, req.ChannelID)
	h.respond(c, id, err)
}

type dateSeparatorDeletedRequest struct {
	ChannelID int64  `json:"channel_id" binding:"required"`
	Date      string `json:"date" binding:"required"`
}

func (h *Handler) DateSeparatorDeleted(c *gin.Context) {
	var req dateSeparatorDeletedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(apperrors.ErrValidation.WithCause(err)))
		return
	}
	id, err := h.producer.OnDateSeparatorDeleted(c.Request.Context(), req.ChannelID, req.Date)
	h.respond(c, id, err)
}

type reactionUpdatedRequest struct {
	MessageID int64              `json:"message_id" binding:"required"`
	ChannelID int64              `json:"channel_id" binding:"required"`
	Reactions map[string][]int64 `json:"reactions"`
	UserID    int64              `json:"user_id"`
}

func (h *Handler) ReactionUpdated(c *gin.Context) {
	var req reactionUpdatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(apperrors.ErrValidation.WithCause(err)))
		return
	}
	id, err := h.producer.OnReactionUpdated(c.Request.Context(), req.MessageID, req.ChannelID, req.Reactions, req.UserID)
	h.respond(c, id, err)
}

type threadMessageCreatedRequest struct {
	MessageID int64                `json:"message_id" binding:"required"`
	ThreadID  int64                `json:"thread_id" binding:"required"`
	ChannelID int64                `json:"channel_id" binding:"required"`
	UserID    int64                `json:"user_id" binding:"required"`
	Payload   ThreadCreatedPayload `json:"payload"`
}

func (h *Handler) ThreadMessageCreated(c *gin.Context) {
	var req threadMessageCreatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(apperrors.ErrValidation.WithCause(err)))
		return
	}
	id, err := h.producer.OnThreadMessageCreated(c.Request.Context(), req.MessageID, req.ThreadID, req.ChannelID, req.UserID, req.Payload)
	h.respond(c, id, err)
}

type threadMessageDeletedRequest struct {
	MessageID int64 `json:"message_id" binding:"required"`
	ThreadID  int64 `json:"thread_id" binding:"required"`
	ChannelID int64 `json:"channel_id" binding:"required"`
}

func (h *Handler) ThreadMessageDeleted(c *gin.Context) {
	var req threadMessageDeletedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(apperrors.ErrValidation.WithCause(err)))
		return
	}
	id, err := h.producer.OnThreadMessageDeleted(c.Request.Context(), req.MessageID, req.ThreadID, req.ChannelID)
	h.respond(c, id, err)
}

type threadReactionUpdatedRequest struct {
	MessageID int64              `json:"message_id" binding:"required"`
	ChannelID int64              `json:"channel_id" binding:"required"`
	ThreadID  int64              `json:"thread_id" binding:"required"`
	Reactions map[string][]int64 `json:"reactions"`
}

func (h *Handler) ThreadReactionUpdated(c *gin.Context) {
	var req threadReactionUpdatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(apperrors.ErrValidation.WithCause(err)))
		return
	}
	id, err := h.producer.OnThreadReactionUpdated(c.Request.Context(), req.MessageID, req.ChannelID, req.ThreadID, req.Reactions)
	h.respond(c, id, err)
}

type threadSummaryUpdatedRequest struct {
	ThreadID  int64                       `json:"thread_id" binding:"required"`
	ChannelID int64                       `json:"channel_id" binding:"required"`
	Payload   ThreadSummaryUpdatedPayload `json:"payload"`
}

func (h *Handler) ThreadSummaryUpdated(c *gin.Context) {
	var req threadSummaryUpdatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(apperrors.ErrValidation.WithCause(err)))
		return
	}
	id, err := h.producer.OnThreadSummaryUpdated(c.Request.Context(), req.ThreadID, req.ChannelID, req.Payload)
	h.respond(c, id, err)
}
