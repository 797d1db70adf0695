package push

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	pkglog "github.com/nail-dp-dev/naildp-realtime/pkg/log"
)

// Inbound message types understood by the push layer itself.
const (
	MsgTypePing = "ping"
)

// InboundFunc handles one client frame. A non-nil reply is sent back on the
// same connection.
type InboundFunc func(ctx context.Context, msgType string, data []byte) *Envelope

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandle is a handle backed by a WebSocket connection with separate read
// and write pumps.
type WSHandle struct {
	*queue
	conn *websocket.Conn
	cfg  StreamConfig
}

// NewWSHandle wraps an upgraded connection.
func NewWSHandle(conn *websocket.Conn, cfg StreamConfig) *WSHandle {
	return &WSHandle{
		queue: newQueue(cfg.BufferSize),
		conn:  conn,
		cfg:   cfg,
	}
}

// ServeWS upgrades the request, registers a WSHandle for (key, sessionID) and
// runs the pumps until either side closes.
func ServeWS(c *gin.Context, reg *Registry, key, sessionID string, cfg StreamConfig, inbound InboundFunc) {
	ctx := pkglog.With(c.Request.Context(), pkglog.FieldSessionID, sessionID)
	l := pkglog.Ctx(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	if cfg.PingInterval <= 0 || cfg.PongWait <= 0 || cfg.WriteWait <= 0 {
		d := DefaultStreamConfig()
		if cfg.PingInterval <= 0 {
			cfg.PingInterval = d.PingInterval
		}
		if cfg.PongWait <= 0 {
			cfg.PongWait = d.PongWait
		}
		if cfg.WriteWait <= 0 {
			cfg.WriteWait = d.WriteWait
		}
	}

	h := NewWSHandle(conn, cfg)
	reg.Connect(key, sessionID, h)

	if hello, err := NewEnvelope(TypeConnected, map[string]string{"session_id": sessionID}); err == nil {
		h.Send(hello)
	}

	go h.writePump()
	h.readPump(ctx, func() { reg.Touch(key, sessionID) }, inbound)

	reg.Release(key, sessionID, h)
	h.Close()
	l.Debug().Str("scope", reg.Scope()).Msg("websocket closed")
}

// readPump runs on the request goroutine. It returns when the connection
// fails or the handle is closed.
func (h *WSHandle) readPump(ctx context.Context, touch func(), inbound InboundFunc) {
	defer h.conn.Close()

	if h.cfg.MaxMessageSize > 0 {
		h.conn.SetReadLimit(h.cfg.MaxMessageSize)
	}
	h.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	h.conn.SetPongHandler(func(string) error {
		touch()
		return h.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	l := pkglog.Ctx(ctx)

	for {
		_, data, err := h.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				l.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		touch()
		h.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		var base struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &base); err != nil || base.Type == "" {
			h.Send(ErrorEnvelope("BAD_REQUEST", "invalid message format"))
			continue
		}

		var reply *Envelope
		switch {
		case base.Type == MsgTypePing:
			if env, err := NewEnvelope(TypePong, nil); err == nil {
				reply = &env
			}
		case inbound != nil:
			reply = inbound(ctx, base.Type, data)
		default:
			env := ErrorEnvelope("BAD_REQUEST", "unknown message type")
			reply = &env
		}

		if reply != nil {
			if err := h.Send(*reply); err != nil {
				l.Debug().Err(err).Msg("dropping websocket reply")
			}
		}
	}
}

// writePump drains the outbox and sends pings. Closing the connection on
// exit unblocks readPump.
func (h *WSHandle) writePump() {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		h.conn.Close()
	}()

	for {
		select {
		case env := <-h.Messages():
			h.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := h.conn.WriteJSON(env); err != nil {
				h.Close()
				return
			}

		case <-ticker.C:
			h.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := h.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.Close()
				return
			}

		case <-h.Done():
			h.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			h.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
