package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nail-dp-dev/naildp-realtime/internal/audit"
	"github.com/nail-dp-dev/naildp-realtime/internal/push"
	"github.com/nail-dp-dev/naildp-realtime/pkg/apperr"
	"github.com/nail-dp-dev/naildp-realtime/pkg/idgen"
	"github.com/nail-dp-dev/naildp-realtime/pkg/middleware"
	"github.com/nail-dp-dev/naildp-realtime/pkg/response"
)

// WebSocket frame types handled by the chat room stream.
const (
	MsgTypeChatMessage = "chat_message"
	TypeMessageAck     = "chat.ack"
)

// Handler handles HTTP requests for chat rooms.
type Handler struct {
	svc            Service
	rooms          *push.Registry
	sessions       idgen.Generator
	stream         push.StreamConfig
	maxUpload      int64
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler creates a new chat HTTP handler. maxUpload bounds a multipart
// request body; zero disables the limit.
func NewHandler(svc Service, rooms *push.Registry, sessions idgen.Generator, stream push.StreamConfig, maxUpload int64, authMiddleware *middleware.AuthMiddleware) *Handler {
	return &Handler{
		svc:            svc,
		rooms:          rooms,
		sessions:       sessions,
		stream:         stream,
		maxUpload:      maxUpload,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers all routes onto the Gin engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	chat := r.Group("/api/chat", h.authMiddleware.RequireAuth())
	{
		chat.POST("", h.CreateRoom)
		chat.GET("/list", h.ListRooms)

		chat.GET("/:roomId", h.ListMessages)
		chat.PATCH("/:roomId", h.RenameRoom)
		chat.POST("/:roomId/message", h.SendMessage)
		chat.POST("/:roomId/images", h.SendImages)
		chat.POST("/:roomId/video", h.SendVideo)
		chat.POST("/:roomId/file", h.SendFile)
		chat.PATCH("/:roomId/read", h.MarkRead)
		chat.DELETE("/:roomId/leave", h.LeaveRoom)
		chat.PATCH("/:roomId/pinning", h.PinRoom)
		chat.PATCH("/:roomId/unpinning", h.UnpinRoom)

		chat.GET("/:roomId/subscribe", h.Subscribe)
		chat.GET("/:roomId/ws", h.WebSocket)
	}
}

// CreateRoom handles POST /api/chat.
func (h *Handler) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	room, err := h.svc.CreateRoom(c.Request.Context(), middleware.GetNickname(c), req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if room.Created {
		response.Created(c, room)
		return
	}
	response.Success(c, room)
}

// ListRooms handles GET /api/chat/list?category=&size=&cursor=.
func (h *Handler) ListRooms(c *gin.Context) {
	size, err := queryInt(c, "size")
	if err != nil {
		response.FromError(c, err)
		return
	}

	list, err := h.svc.ListRooms(c.Request.Context(), middleware.GetNickname(c), c.DefaultQuery("category", CategoryAll), c.Query("cursor"), size)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, list)
}

// ListMessages handles GET /api/chat/:roomId?cursor=&size=.
func (h *Handler) ListMessages(c *gin.Context) {
	size, err := queryInt(c, "size")
	if err != nil {
		response.FromError(c, err)
		return
	}

	page, err := h.svc.ListMessages(c.Request.Context(), c.Param("roomId"), middleware.GetNickname(c), c.Query("cursor"), size)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, page)
}

// SendMessage handles POST /api/chat/:roomId/message.
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	msg, err := h.svc.SendMessage(c.Request.Context(), c.Param("roomId"), middleware.GetNickname(c), req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, msg)
}

// SendImages handles POST /api/chat/:roomId/images (multipart field "images").
func (h *Handler) SendImages(c *gin.Context) {
	h.sendMedia(c, MessageImage, "images")
}

// SendVideo handles POST /api/chat/:roomId/video (multipart field "video").
func (h *Handler) SendVideo(c *gin.Context) {
	h.sendMedia(c, MessageVideo, "video")
}

// SendFile handles POST /api/chat/:roomId/file (multipart field "file").
func (h *Handler) SendFile(c *gin.Context) {
	h.sendMedia(c, MessageFile, "file")
}

func (h *Handler) sendMedia(c *gin.Context, kind MessageType, field string) {
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, http.StatusRequestEntityTooLarge, apperr.CodeValidation, "upload too large")
			return
		}
		response.BadRequest(c, "multipart form is required")
		return
	}

	msg, err := h.svc.SendMedia(c.Request.Context(), c.Param("roomId"), middleware.GetNickname(c), kind, uploadsFrom(form.File[field]))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, msg)
}

func uploadsFrom(headers []*multipart.FileHeader) []Upload {
	uploads := make([]Upload, 0, len(headers))
	for _, fh := range headers {
		uploads = append(uploads, Upload{
			Name:        fh.Filename,
			Size:        fh.Size,
			ContentType: fh.Header.Get("Content-Type"),
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		})
	}
	return uploads
}

type markReadRequest struct {
	Seq int64 `json:"seq" binding:"required,min=1"`
}

// MarkRead handles PATCH /api/chat/:roomId/read.
func (h *Handler) MarkRead(c *gin.Context) {
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "seq is required")
		return
	}

	if err := h.svc.MarkRead(c.Request.Context(), c.Param("roomId"), middleware.GetNickname(c), req.Seq); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"seq": req.Seq})
}

// LeaveRoom handles DELETE /api/chat/:roomId/leave. Streams the caller holds
// on this instance are closed right away; other instances close theirs when
// the chat.left event reaches them.
func (h *Handler) LeaveRoom(c *gin.Context) {
	roomID, nickname := c.Param("roomId"), middleware.GetNickname(c)
	if err := h.svc.LeaveRoom(c.Request.Context(), roomID, nickname); err != nil {
		response.FromError(c, err)
		return
	}
	h.rooms.DisconnectOwner(roomID, nickname)
	response.Success(c, nil)
}

// PinRoom handles PATCH /api/chat/:roomId/pinning.
func (h *Handler) PinRoom(c *gin.Context) {
	if err := h.svc.PinRoom(c.Request.Context(), c.Param("roomId"), middleware.GetNickname(c)); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"pinned": true})
}

// UnpinRoom handles PATCH /api/chat/:roomId/unpinning.
func (h *Handler) UnpinRoom(c *gin.Context) {
	if err := h.svc.UnpinRoom(c.Request.Context(), c.Param("roomId"), middleware.GetNickname(c)); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"pinned": false})
}

type renameRequest struct {
	Name string `json:"name"`
}

// RenameRoom handles PATCH /api/chat/:roomId.
func (h *Handler) RenameRoom(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	if err := h.svc.RenameRoom(c.Request.Context(), c.Param("roomId"), middleware.GetNickname(c), req.Name); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"name": req.Name})
}

// Subscribe handles GET /api/chat/:roomId/subscribe.
// Opens an SSE stream carrying the room's events in sequence order.
func (h *Handler) Subscribe(c *gin.Context) {
	roomID, nickname, ok := h.member(c)
	if !ok {
		return
	}
	sessionID := push.OwnerSession(nickname, push.SessionID(c, h.sessions))

	audit.Log(c.Request.Context(), audit.ActionSubscribe, nickname, roomID, "room stream opened")
	push.ServeSSE(c, h.rooms, roomID, sessionID, h.stream)
	audit.Log(c.Request.Context(), audit.ActionUnsubscribe, nickname, roomID, "room stream closed")
}

// WebSocket handles GET /api/chat/:roomId/ws. Besides receiving room events
// the client may send chat_message frames.
func (h *Handler) WebSocket(c *gin.Context) {
	roomID, nickname, ok := h.member(c)
	if !ok {
		return
	}
	sessionID := push.OwnerSession(nickname, push.SessionID(c, h.sessions))

	audit.Log(c.Request.Context(), audit.ActionSubscribe, nickname, roomID, "room websocket opened")
	push.ServeWS(c, h.rooms, roomID, sessionID, h.stream, h.inbound(roomID, nickname))
	audit.Log(c.Request.Context(), audit.ActionUnsubscribe, nickname, roomID, "room websocket closed")
}

func (h *Handler) member(c *gin.Context) (string, string, bool) {
	roomID := c.Param("roomId")
	nickname := middleware.GetNickname(c)
	if err := h.svc.Member(c.Request.Context(), roomID, nickname); err != nil {
		response.FromError(c, err)
		return "", "", false
	}
	return roomID, nickname, true
}

type inboundMessage struct {
	Content []string `json:"content"`
	Mention []string `json:"mention"`
}

func (h *Handler) inbound(roomID, nickname string) push.InboundFunc {
	return func(ctx context.Context, msgType string, data []byte) *push.Envelope {
		if msgType != MsgTypeChatMessage {
			env := push.ErrorEnvelope(apperr.CodeValidation, "unknown message type")
			return &env
		}

		var in inboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			env := push.ErrorEnvelope(apperr.CodeValidation, "invalid message format")
			return &env
		}

		msg, err := h.svc.SendMessage(ctx, roomID, nickname, SendMessageRequest{Content: in.Content, Mention: in.Mention})
		if err != nil {
			env := push.ErrorEnvelope(apperr.KindOf(err).Code(), apperr.Message(err, "internal server error"))
			return &env
		}

		env, err := push.NewEnvelope(TypeMessageAck, gin.H{"id": msg.ID, "seq": msg.Seq})
		if err != nil {
			return nil
		}
		return &env
	}
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
