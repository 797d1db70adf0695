package notification

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nail-dp-dev/naildp-realtime/internal/audit"
	"github.com/nail-dp-dev/naildp-realtime/internal/push"
	"github.com/nail-dp-dev/naildp-realtime/pkg/apperr"
	"github.com/nail-dp-dev/naildp-realtime/pkg/idgen"
	"github.com/nail-dp-dev/naildp-realtime/pkg/middleware"
	"github.com/nail-dp-dev/naildp-realtime/pkg/response"
)

// OnlineChecker answers cross-instance presence queries.
type OnlineChecker interface {
	Online(ctx context.Context, scope, key string) (bool, error)
}

// Handler handles HTTP requests for notifications.
type Handler struct {
	svc            Service
	registry       *push.Registry
	presence       OnlineChecker
	sessions       idgen.Generator
	stream         push.StreamConfig
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler creates a new notification HTTP handler. presence may be nil.
func NewHandler(svc Service, registry *push.Registry, presence OnlineChecker, sessions idgen.Generator, stream push.StreamConfig, authMiddleware *middleware.AuthMiddleware) *Handler {
	return &Handler{
		svc:            svc,
		registry:       registry,
		presence:       presence,
		sessions:       sessions,
		stream:         stream,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers all routes onto the Gin engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	notifications := r.Group("/api/notifications", h.authMiddleware.RequireAuth())
	{
		notifications.GET("/subscribe", h.Subscribe)
		notifications.GET("", h.List)
		notifications.PATCH("", h.MarkRead)
		notifications.GET("/unread-count", h.UnreadCount)
		notifications.POST("/read-all", h.MarkAllRead)
		notifications.GET("/online/:nickname", h.Online)
	}
}

// Subscribe handles GET /api/notifications/subscribe.
// Opens an SSE stream carrying the caller's notifications.
func (h *Handler) Subscribe(c *gin.Context) {
	nickname := middleware.GetNickname(c)
	sessionID := push.SessionID(c, h.sessions)

	audit.Log(c.Request.Context(), audit.ActionSubscribe, nickname, sessionID, "notification stream opened")
	push.ServeSSE(c, h.registry, nickname, sessionID, h.stream)
	audit.Log(c.Request.Context(), audit.ActionUnsubscribe, nickname, sessionID, "notification stream closed")
}

// List handles GET /api/notifications?cursor=&size=.
func (h *Handler) List(c *gin.Context) {
	size, err := queryInt(c, "size")
	if err != nil {
		response.FromError(c, err)
		return
	}

	page, err := h.svc.List(c.Request.Context(), middleware.GetNickname(c), c.Query("cursor"), size)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, page)
}

type markReadRequest struct {
	NotificationIDs []uint64 `json:"notification_ids" binding:"required,min=1"`
}

// MarkRead handles PATCH /api/notifications.
func (h *Handler) MarkRead(c *gin.Context) {
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "notification_ids is required")
		return
	}

	updated, err := h.svc.MarkRead(c.Request.Context(), middleware.GetNickname(c), req.NotificationIDs)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"updated": updated})
}

// UnreadCount handles GET /api/notifications/unread-count.
func (h *Handler) UnreadCount(c *gin.Context) {
	count, err := h.svc.UnreadCount(c.Request.Context(), middleware.GetNickname(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"count": count})
}

// MarkAllRead handles POST /api/notifications/read-all.
func (h *Handler) MarkAllRead(c *gin.Context) {
	updated, err := h.svc.MarkAllRead(c.Request.Context(), middleware.GetNickname(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"updated": updated})
}

// Online handles GET /api/notifications/online/:nickname.
func (h *Handler) Online(c *gin.Context) {
	nickname := c.Param("nickname")

	if h.presence == nil {
		response.Success(c, gin.H{"nickname": nickname, "online": h.registry.Count(nickname) > 0})
		return
	}

	online, err := h.presence.Online(c.Request.Context(), h.registry.Scope(), nickname)
	if err != nil {
		response.FromError(c, apperr.Storage("failed to read presence", err))
		return
	}
	response.Success(c, gin.H{"nickname": nickname, "online": online})
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperr.Validation(key + " must be a non-negative integer")
	}
	return v, nil
}
