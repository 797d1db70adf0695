package push

import (
	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"

	"github.com/nail-dp-dev/naildp-realtime/pkg/idgen"
)

const headerSessionID = "X-Session-ID"

// SessionID returns the client supplied session id (query "session_id" or
// X-Session-ID header) or a new one. Reusing a session id on reconnect
// replaces the previous stream.
func SessionID(c *gin.Context, gen idgen.Generator) string {
	if sid := c.Query("session_id"); sid != "" && len(sid) <= 64 {
		return sid
	}
	if sid := c.GetHeader(headerSessionID); sid != "" && len(sid) <= 64 {
		return sid
	}
	if gen != nil {
		if sid, err := gen.Generate(); err == nil {
			return sid
		}
	}
	return ksuid.New().String()
}

// OwnerSession scopes a session id to the user that opened it, so every
// stream one user holds under a shared key can be found again.
func OwnerSession(owner, sessionID string) string {
	return owner + ":" + sessionID
}
