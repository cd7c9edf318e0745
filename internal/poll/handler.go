package poll

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rapls/lms-chat-system-sub004/internal/auth"
	"github.com/rapls/lms-chat-system-sub004/internal/event"
	"github.com/rapls/lms-chat-system-sub004/internal/logger"
	apperrors "github.com/rapls/lms-chat-system-sub004/pkg/errors"
	"github.com/rapls/lms-chat-system-sub004/pkg/logging"
)

// RolloutGate decides whether a user is routed to the engine at all
// and which event capabilities are switched on.
type RolloutGate interface {
	ShouldRoute(userID int64) bool
	FlagEnabled(name string) bool
}

type Handler struct {
	coordinator *Coordinator
	verifier    *auth.Verifier
	gate        RolloutGate
	logger      logger.Logger
}

func NewHandler(coordinator *Coordinator, verifier *auth.Verifier, gate RolloutGate, log logger.Logger) *Handler {
	return &Handler{
		coordinator: coordinator,
		verifier:    verifier,
		gate:        gate,
		logger:      log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1/chat")
	{
		v1.GET("/poll", h.Poll)
		v1.POST("/poll", h.Poll)
	}
}

// Poll godoc
// @Summary      Long-poll for chat events
// @Description  Blocks until events newer than last_event_id appear in the channel, or the timeout elapses
// @Tags         poll
// @Produce      json
// @Param        channel_id     query  int     true   "Channel scope"
// @Param        thread_id      query  int     false  "Thread scope, 0 = channel-wide"
// @Param        last_event_id  query  int     false  "Cursor: only events with a higher id are returned"
// @Param        timeout        query  int     false  "Seconds to wait, clamped server-side"
// @Param        event_types    query  string  false  "Comma list of event types or 'all'"
// @Param        exclude_self   query  bool    false  "Omit events caused by the caller"
// @Success      200  {object}  Response
// @Router       /chat/poll [get]
func (h *Handler) Poll(c *gin.Context) {
	userID, err := h.authenticate(c)
	if err != nil {
		h.reject(c, err)
		return
	}

	ctx := logging.WithUserID(c.Request.Context(), userID)
	if requestID, ok := c.Get("request_id"); ok {
		if rid, ok := requestID.(string); ok {
			ctx = logging.WithRequestID(ctx, rid)
		}
	}

	if !h.gate.ShouldRoute(userID) {
		h.reject(c, apperrors.ErrRolloutDisabled)
		return
	}

	req, err := h.parseRequest(c, userID)
	if err != nil {
		h.reject(c, err)
		return
	}
	ctx = logging.WithChannelID(ctx, req.ChannelID)

	req.Types = h.applyFlags(req.Types)
	if len(req.Types) == 0 {
		// Every requested type sits behind a disabled flag. An empty
		// type list would be re-read downstream as "everything", so
		// answer like an idle poll instead of widening the filter.
		c.JSON(http.StatusOK, &Response{
			Events:      []event.Event{},
			Timestamp:   time.Now().UTC(),
			Timeout:     true,
			LastEventID: req.Cursor.LastEventID,
		})
		return
	}

	resp, pollErr := h.coordinator.Poll(ctx, req)
	if pollErr != nil {
		h.reject(c, pollErr)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) authenticate(c *gin.Context) (int64, error) {
	nonce := c.GetHeader("X-Chat-Nonce")
	if nonce == "" {
		nonce = c.Request.FormValue("nonce")
	}
	if nonce == "" {
		return 0, apperrors.ErrNotAuthenticated
	}

	userID, err := h.verifier.Verify(nonce)
	if err != nil {
		return 0, apperrors.ErrInvalidNonce.WithCause(err)
	}
	return userID, nil
}

func (h *Handler) parseRequest(c *gin.Context, userID int64) (Request, error) {
	channelID, err := parseInt64(c.Request.FormValue("channel_id"))
	if err != nil || channelID <= 0 {
		return Request{}, apperrors.ErrInvalidChannel
	}

	threadID, _ := parseInt64(c.Request.FormValue("thread_id"))
	lastEventID, _ := parseInt64(c.Request.FormValue("last_event_id"))

	var lastTimestamp time.Time
	if ts, err := parseInt64(c.Request.FormValue("last_timestamp")); err == nil && ts > 0 {
		lastTimestamp = time.Unix(ts, 0)
	}

	types, err := event.ParseTypes(c.Request.FormValue("event_types"))
	if err != nil {
		return Request{}, apperrors.ErrValidation.WithCause(err)
	}

	var timeout time.Duration
	if secs, err := parseInt64(c.Request.FormValue("timeout")); err == nil && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	return Request{
		UserID:    userID,
		ChannelID: channelID,
		ThreadID:  threadID,
		Cursor: event.Cursor{
			LastEventID:   lastEventID,
			LastTimestamp: lastTimestamp,
		},
		Timeout:     timeout,
		Types:       types,
		ExcludeSelf: c.Request.FormValue("exclude_self") == "1",
	}, nil
}

// applyFlags drops event types whose capability flag is switched off.
func (h *Handler) applyFlags(types []event.Type) []event.Type {
	threadsOn := h.gate.FlagEnabled("thread_events")
	reactionsOn := h.gate.FlagEnabled("reaction_events")

	filtered := types[:0]
	for _, t := range types {
		switch t {
		case event.TypeThreadCreate, event.TypeThreadDelete, event.TypeThreadSummaryUpdate:
			if !threadsOn {
				continue
			}
		case event.TypeReactionUpdate, event.TypeThreadReactionUpdate:
			if !reactionsOn {
				continue
			}
		}
		filtered = append(filtered, t)
	}
	return filtered
}

func (h *Handler) reject(c *gin.Context, err error) {
	if !apperrors.IsTerminal(err) {
		h.logger.WarnwCtx(c.Request.Context(), "Poll rejected", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(apperrors.ToHTTPStatus(err), apperrors.ToPollResponse(err))
}

func parseInt64(raw string) (int64, error) {
	if raw == "" {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(raw, 10, 64)
}
