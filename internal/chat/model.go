package chat

import (
	"fmt"
	"time"

	"github.com/nail-dp-dev/naildp-realtime/pkg/database"
)

// RoomType is derived from the participant count at creation.
type RoomType string

const (
	RoomPersonal RoomType = "personal"
	RoomGroup    RoomType = "group"
)

// Boundary is the visibility scope of a room.
type Boundary string

const (
	BoundaryAll    Boundary = "all"
	BoundaryFollow Boundary = "follow"
	BoundaryNone   Boundary = "none"
)

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVideo MessageType = "video"
	MessageFile  MessageType = "file"
)

// Room is the GORM model for the chat_rooms table. LastSeq is the
// authoritative per-room sequence counter. PersonalKey is set on a personal
// room while both participants are active, so at most one such room exists
// per pair.
type Room struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)"`
	Name          string    `gorm:"type:varchar(100)"`
	Boundary      Boundary  `gorm:"type:varchar(16);not null;default:all"`
	RoomType      RoomType  `gorm:"type:varchar(16);not null"`
	PersonalKey   *string   `gorm:"type:varchar(160);uniqueIndex"`
	LastSeq       int64     `gorm:"not null;default:0"`
	LastMessage   string    `gorm:"type:varchar(255)"`
	LastMessageAt time.Time `gorm:"not null;index"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (Room) TableName() string { return "chat_rooms" }

// personalKey identifies the unordered pair a, b. The length prefix keeps
// nicknames containing the separator from colliding.
func personalKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%s:%s", len(a), a, b)
}

// Participant is one user's membership in a room. Leaving only flips Left.
type Participant struct {
	RoomID      string `gorm:"primaryKey;type:varchar(36)"`
	Nickname    string `gorm:"primaryKey;type:varchar(64);index"`
	RoomName    string `gorm:"type:varchar(100)"`
	Pinned      bool   `gorm:"not null;default:false"`
	PinnedAt    *time.Time
	Left        bool `gorm:"column:has_left;not null;default:false"`
	LeftAt      *time.Time
	LastReadSeq int64     `gorm:"not null;default:0"`
	JoinedAt    time.Time `gorm:"autoCreateTime"`
}

func (Participant) TableName() string { return "chat_participants" }

// Message is the GORM model for the chat_messages table.
type Message struct {
	ID             uint64               `gorm:"primaryKey;autoIncrement"`
	RoomID         string               `gorm:"type:varchar(36);not null;uniqueIndex:idx_chat_messages_room_seq,priority:1"`
	Seq            int64                `gorm:"not null;uniqueIndex:idx_chat_messages_room_seq,priority:2"`
	SenderNickname string               `gorm:"type:varchar(64);not null"`
	Content        database.StringArray `gorm:"type:text"`
	MediaKeys      database.StringArray `gorm:"type:text"`
	Mention        database.StringArray `gorm:"type:text"`
	MessageType    MessageType          `gorm:"type:varchar(16);not null"`
	CreatedAt      time.Time
}

func (Message) TableName() string { return "chat_messages" }

// Models lists every model owned by this package, in migration order.
func Models() []interface{} {
	return []interface{}{&Room{}, &Participant{}, &Message{}}
}

// MessageView is the wire form of a message, published to the room channel
// and returned by listings.
type MessageView struct {
	ID          uint64      `json:"id"`
	RoomID      string      `json:"room_id"`
	Seq         int64       `json:"seq"`
	Sender      string      `json:"sender"`
	Content     []string    `json:"content"`
	Mention     []string    `json:"mention,omitempty"`
	MessageType MessageType `json:"message_type"`
	Media       []string    `json:"media,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// RoomSummary is one row of the room list as seen by a participant.
type RoomSummary struct {
	RoomID        string    `json:"room_id"`
	Name          string    `json:"name"`
	RoomType      RoomType  `json:"room_type"`
	Boundary      Boundary  `json:"boundary"`
	LastMessage   string    `json:"last_message"`
	LastMessageAt time.Time `json:"last_message_at"`
	LastSeq       int64     `json:"last_seq"`
	UnreadCount   int64     `json:"unread_count"`
	Pinned        bool      `json:"pinned"`
}

// RoomList is a page of unpinned rooms. Pinned is only filled on the first
// page.
type RoomList struct {
	Pinned     []RoomSummary `json:"pinned,omitempty"`
	Rooms      []RoomSummary `json:"rooms"`
	HasNext    bool          `json:"has_next"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// CreatedRoom is returned by CreateRoom. Created is false when an existing
// personal room was reused.
type CreatedRoom struct {
	RoomID  string `json:"room_id"`
	Created bool   `json:"created"`
}

// ReadState is published when a participant advances their read cursor.
type ReadState struct {
	RoomID   string `json:"room_id"`
	Nickname string `json:"nickname"`
	Seq      int64  `json:"seq"`
}

// LeftRoom is published when a participant leaves.
type LeftRoom struct {
	RoomID   string    `json:"room_id"`
	Nickname string    `json:"nickname"`
	LeftAt   time.Time `json:"left_at"`
}
