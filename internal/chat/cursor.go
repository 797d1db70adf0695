package chat

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// roomCursor is the keyset position after the last room of a page. It carries
// no pin state, so pin toggles between pages never shift it.
type roomCursor struct {
	At time.Time
	ID string
}

func encodeRoomCursor(c roomCursor) string {
	raw := strconv.FormatInt(c.At.UnixMicro(), 10) + ":" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeRoomCursor(s string) (*roomCursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	micros, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	us, err := strconv.ParseInt(micros, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &roomCursor{At: time.UnixMicro(us).UTC(), ID: id}, nil
}

// Message cursors are the seq of the oldest message already seen.
func encodeMessageCursor(seq int64) string {
	return strconv.FormatInt(seq, 10)
}

func decodeMessageCursor(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(s, 10, 64)
	if err != nil || seq <= 0 {
		return 0, ErrInvalidCursor
	}
	return seq, nil
}
