package push

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	pkglog "github.com/nail-dp-dev/naildp-realtime/pkg/log"
)

// StreamConfig tunes SSE and WebSocket streams.
type StreamConfig struct {
	BufferSize        int
	HeartbeatInterval time.Duration // SSE comment interval
	WriteWait         time.Duration
	PingInterval      time.Duration // WebSocket ping interval
	PongWait          time.Duration
	MaxMessageSize    int64
}

// DefaultStreamConfig returns production defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		BufferSize:        64,
		HeartbeatInterval: 25 * time.Second,
		WriteWait:         10 * time.Second,
		PingInterval:      30 * time.Second,
		PongWait:          60 * time.Second,
		MaxMessageSize:    8192,
	}
}

// SSEHandle is a handle drained by the HTTP goroutine serving the stream.
type SSEHandle struct {
	*queue
}

// NewSSEHandle creates an SSE handle with a buffered outbox.
func NewSSEHandle(bufferSize int) *SSEHandle {
	return &SSEHandle{queue: newQueue(bufferSize)}
}

// ServeSSE registers an SSE handle for (key, sessionID) and streams until the
// client goes away, the handle is closed, or a write fails. A "connected"
// envelope is written first so proxies see bytes immediately.
func ServeSSE(c *gin.Context, reg *Registry, key, sessionID string, cfg StreamConfig) {
	ctx := pkglog.With(c.Request.Context(), pkglog.FieldSessionID, sessionID)
	l := pkglog.Ctx(ctx)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	h := NewSSEHandle(cfg.BufferSize)
	reg.Connect(key, sessionID, h)
	defer func() {
		reg.Release(key, sessionID, h)
		h.Close()
		l.Debug().Str("scope", reg.Scope()).Msg("sse stream closed")
	}()

	w := &sseWriter{c: c, rc: http.NewResponseController(c.Writer), writeWait: cfg.WriteWait}

	hello, err := NewEnvelope(TypeConnected, map[string]string{"session_id": sessionID})
	if err != nil {
		return
	}
	if err := w.event(hello); err != nil {
		l.Debug().Err(err).Msg("sse initial write failed")
		return
	}

	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = DefaultStreamConfig().HeartbeatInterval
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.Done():
			return
		case env := <-h.Messages():
			if err := w.event(env); err != nil {
				l.Debug().Err(err).Str(pkglog.FieldEventID, env.ID).Msg("sse write failed")
				return
			}
		case <-ticker.C:
			if err := w.comment("ping"); err != nil {
				l.Debug().Err(err).Msg("sse heartbeat failed")
				return
			}
		}
		reg.Touch(key, sessionID)
	}
}

type sseWriter struct {
	c         *gin.Context
	rc        *http.ResponseController
	writeWait time.Duration
}

func (w *sseWriter) deadline() {
	if w.writeWait <= 0 {
		return
	}
	// Not every ResponseWriter supports deadlines; the stream still works
	// without one.
	if err := w.rc.SetWriteDeadline(time.Now().Add(w.writeWait)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		l := pkglog.Ctx(w.c.Request.Context())
		l.Debug().Err(err).Msg("failed to set sse write deadline")
	}
}

func (w *sseWriter) event(env Envelope) error {
	w.deadline()
	if err := sse.Encode(w.c.Writer, sse.Event{Id: env.ID, Event: env.Type, Data: env}); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}

func (w *sseWriter) comment(text string) error {
	w.deadline()
	if _, err := io.WriteString(w.c.Writer, ": "+text+"\n\n"); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}
