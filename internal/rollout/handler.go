package rollout

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rapls/lms-chat-system-sub004/internal/constants"
	"github.com/rapls/lms-chat-system-sub004/internal/logger"
	apperrors "github.com/rapls/lms-chat-system-sub004/pkg/errors"
)

// Handler exposes the administrative control surface. Every route
// requires the admin bearer token; polling clients never touch these.
type Handler struct {
	service    *Service
	adminToken string
	logger     logger.Logger
}

func NewHandler(service *Service, adminToken string, log logger.Logger) *Handler {
	return &Handler{
		service:    service,
		adminToken: adminToken,
		logger:     log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine, middlewares ...gin.HandlerFunc) {
	group := router.Group("/api/v1/chat/rollout", append(middlewares, h.requireAdmin)...)
	{
		group.GET("/status", h.GetStatus)
		group.GET("/health", h.GetHealth)
		group.GET("/audit", h.GetAuditLog)
		group.PUT("/stage", h.SetStage)
		group.PUT("/percentage", h.SetPercentage)
		group.POST("/beta/:user_id", h.AddBetaUser)
		group.DELETE("/beta/:user_id", h.RemoveBetaUser)
		group.PUT("/flags/:name", h.SetFlag)
		group.POST("/emergency-rollback", h.EmergencyRollback)
	}
}

func (h *Handler) requireAdmin(c *gin.Context) {
	if h.adminToken == "" || c.GetHeader("Authorization") != "Bearer "+h.adminToken {
		c.AbortWithStatusJSON(http.StatusForbidden, apperrors.ToErrorResponse(apperrors.ErrForbidden))
		return
	}
	c.Next()
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Rollout control error", "error", err, "path", c.Request.URL.Path)
	c.JSON(apperrors.ToHTTPStatus(err), apperrors.ToErrorResponse(err))
}

// GetStatus godoc
// @Summary      Migration status
// @Description  Current rollout stage, percentage, flags and health
// @Tags         rollout
// @Produce      json
// @Success      200  {object}  Status
// @Router       /chat/rollout/status [get]
func (h *Handler) GetStatus(c *gin.Context) {
	status, err := h.service.Status(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetHealth godoc
// @Summary      Engine health metrics
// @Tags         rollout
// @Produce      json
// @Success      200  {object}  HealthMetrics
// @Router       /chat/rollout/health [get]
func (h *Handler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Health())
}

// GetAuditLog godoc
// @Summary      Control-action audit log
// @Tags         rollout
// @Produce      json
// @Param        limit  query  int  false  "Maximum entries (1-1000)"  default(100)
// @Success      200  {array}  AuditEntry
// @Router       /chat/rollout/audit [get]
func (h *Handler) GetAuditLog(c *gin.Context) {
	limit := constants.DefaultAuditLimit
	if parsed, err := strconv.Atoi(c.Query("limit")); err == nil && parsed > 0 && parsed <= constants.MaxAuditLimit {
		limit = parsed
	}

	entries, err := h.service.AuditLog(c.Request.Context(), limit)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

type setStageRequest struct {
	Stage string `json:"stage" binding:"required"`
}

// SetStage godoc
// @Summary      Set rollout stage
// @Tags         rollout
// @Accept       json
// @Produce      json
// @Param        body  body  setStageRequest  true  "New stage"
// @Success      200  {object}  Config
// @Router       /chat/rollout/stage [put]
func (h *Handler) SetStage(c *gin.Context) {
	var req setStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(apperrors.ErrValidation.WithCause(err)))
		return
	}

	stage, err := ParseStage(req.Stage)
	if err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(apperrors.ErrValidation.WithCause(err)))
		return
	}

	cfg, err := h.service.SetStage(c.Request.Context(), stage, h.actor(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

type setPercentageRequest struct {
	Percentage *int `json:"percentage" binding:"required"`
	Emergency  bool `json:"emergency"`
}

// SetPercentage godoc
// @Summary      Set gradual rollout percentage
// @Description  Increases are refused while unhealthy unless emergency is set; decreases always apply
// @Tags         rollout
// @Accept       json
// @Produce      json
// @Param        body  body  setPercentageRequest  true  "New percentage"
// @Success      200  {object}  Config
// @Router       /chat/rollout/percentage [put]
func (h *Handler) SetPercentage(c *gin.Context) {
	var req setPercentageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(apperrors.ErrValidation.WithCause(err)))
		return
	}

	cfg, err := h.service.SetPercentage(c.Request.Context(), *req.Percentage, req.Emergency, h.actor(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(apperrors.ErrValidation.WithCause(err)))
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// AddBetaUser godoc
// @Summary      Add a beta user
// @Tags         rollout
// @Produce      json
// @Param        user_id  path  int  true  "User id"
// @Success      200  {object}  Config
// @Router       /chat/rollout/beta/{user_id} [post]
func (h *Handler) AddBetaUser(c *gin.Context) {
	h.mutateBeta(c, true)
}

// RemoveBetaUser godoc
// @Summary      Remove a beta user
// @Tags         rollout
// @Produce      json
// @Param        user_id  path  int  true  "User id"
// @Success      200  {object}  Config
// @Router       /chat/rollout/beta/{user_id} [delete]
func (h *Handler) RemoveBetaUser(c *gin.Context) {
	h.mutateBeta(c, false)
}

func (h *Handler) mutateBeta(c *gin.Context, add bool) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(apperrors.ErrValidation.WithDetail("message", "user_id must be a positive integer")))
		return
	}

	var cfg *Config
	if add {
		cfg, err = h.service.AddBetaUser(c.Request.Context(), userID, h.actor(c))
	} else {
		cfg, err = h.service.RemoveBetaUser(c.Request.Context(), userID, h.actor(c))
	}
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

type setFlagRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetFlag godoc
// @Summary      Toggle a capability flag
// @Tags         rollout
// @Accept       json
// @Produce      json
// @Param        name  path  string          true  "Flag name"
// @Param        body  body  setFlagRequest  true  "New value"
// @Success      200  {object}  Config
// @Router       /chat/rollout/flags/{name} [put]
func (h *Handler) SetFlag(c *gin.Context) {
	var req setFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(apperrors.ErrValidation.WithCause(err)))
		return
	}

	cfg, err := h.service.SetFlag(c.Request.Context(), c.Param("name"), *req.Enabled, h.actor(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// EmergencyRollback godoc
// @Summary      Disable the engine for everyone
// @Tags         rollout
// @Produce      json
// @Success      200  {object}  Config
// @Router       /chat/rollout/emergency-rollback [post]
func (h *Handler) EmergencyRollback(c *gin.Context) {
	cfg, err := h.service.EmergencyRollback(c.Request.Context(), h.actor(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *Handler) actor(c *gin.Context) string {
	if actor := c.GetHeader("X-Admin-Actor"); actor != "" {
		return actor
	}
	return "admin"
}
