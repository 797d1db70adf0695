package social

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nail-dp-dev/naildp-realtime/pkg/apperr"
	"github.com/nail-dp-dev/naildp-realtime/pkg/middleware"
	"github.com/nail-dp-dev/naildp-realtime/pkg/response"
)

// Handler handles HTTP requests for follows, posts, comments and likes.
type Handler struct {
	svc            Service
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler creates a new social HTTP handler.
func NewHandler(svc Service, authMiddleware *middleware.AuthMiddleware) *Handler {
	return &Handler{svc: svc, authMiddleware: authMiddleware}
}

// RegisterRoutes registers all routes onto the Gin engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api", h.authMiddleware.RequireAuth())
	{
		api.POST("/follows/:nickname", h.Follow)
		api.DELETE("/follows/:nickname", h.Unfollow)

		api.POST("/posts", h.CreatePost)
		api.POST("/posts/:id/likes", h.LikePost)
		api.DELETE("/posts/:id/likes", h.UnlikePost)
		api.POST("/posts/:id/comments", h.AddComment)

		api.POST("/comments/:id/likes", h.LikeComment)
		api.DELETE("/comments/:id/likes", h.UnlikeComment)
	}
}

// Follow handles POST /api/follows/:nickname.
func (h *Handler) Follow(c *gin.Context) {
	if err := h.svc.Follow(c.Request.Context(), middleware.GetNickname(c), c.Param("nickname")); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"following": true})
}

// Unfollow handles DELETE /api/follows/:nickname.
func (h *Handler) Unfollow(c *gin.Context) {
	if err := h.svc.Unfollow(c.Request.Context(), middleware.GetNickname(c), c.Param("nickname")); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"following": false})
}

type contentRequest struct {
	Content string `json:"content"`
}

// CreatePost handles POST /api/posts.
func (h *Handler) CreatePost(c *gin.Context) {
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	post, err := h.svc.CreatePost(c.Request.Context(), middleware.GetNickname(c), req.Content)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, post)
}

// LikePost handles POST /api/posts/:id/likes.
func (h *Handler) LikePost(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.svc.LikePost(c.Request.Context(), middleware.GetNickname(c), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"liked": true})
}

// UnlikePost handles DELETE /api/posts/:id/likes.
func (h *Handler) UnlikePost(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.svc.UnlikePost(c.Request.Context(), middleware.GetNickname(c), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"liked": false})
}

// AddComment handles POST /api/posts/:id/comments.
func (h *Handler) AddComment(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	comment, err := h.svc.AddComment(c.Request.Context(), middleware.GetNickname(c), id, req.Content)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, comment)
}

// LikeComment handles POST /api/comments/:id/likes.
func (h *Handler) LikeComment(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.svc.LikeComment(c.Request.Context(), middleware.GetNickname(c), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"liked": true})
}

// UnlikeComment handles DELETE /api/comments/:id/likes.
func (h *Handler) UnlikeComment(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.svc.UnlikeComment(c.Request.Context(), middleware.GetNickname(c), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"liked": false})
}

func paramID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.FromError(c, apperr.Validation("id must be a positive integer"))
		return 0, false
	}
	return id, true
}
