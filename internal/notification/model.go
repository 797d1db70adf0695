package notification

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Kind identifies the domain event a notification was built from.
type Kind string

const (
	KindFollow      Kind = "follow"
	KindPostLike    Kind = "post_like"
	KindCommentLike Kind = "comment_like"
	KindComment     Kind = "comment"
)

// TargetType identifies what a notification points at.
type TargetType string

const (
	TargetUser    TargetType = "user"
	TargetPost    TargetType = "post"
	TargetComment TargetType = "comment"
)

// Notification is the GORM model for the notifications table. Rows are never
// deleted and is_read only moves from false to true.
type Notification struct {
	ID               uint64         `gorm:"primaryKey;autoIncrement;index:idx_notifications_receiver_id,priority:2" json:"id"`
	Kind             Kind           `gorm:"type:varchar(32);not null" json:"kind"`
	ReceiverNickname string         `gorm:"type:varchar(64);not null;index:idx_notifications_receiver_id,priority:1" json:"receiver_nickname"`
	ActorNickname    string         `gorm:"type:varchar(64);not null" json:"actor_nickname"`
	TargetType       TargetType     `gorm:"type:varchar(16);not null" json:"target_type"`
	TargetID         string         `gorm:"type:varchar(64);not null" json:"target_id"`
	Content          string         `gorm:"type:varchar(255);not null" json:"content"`
	Metadata         datatypes.JSON `json:"metadata,omitempty"`
	IsRead           bool           `gorm:"not null;default:false" json:"is_read"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }

// Event is a committed domain fact that should reach Receiver.
type Event struct {
	Kind       Kind
	Actor      string
	Receiver   string
	TargetType TargetType
	TargetID   string
	Metadata   map[string]any
}

// PushNotification is the payload published on the bus and streamed to
// clients.
type PushNotification struct {
	ID            uint64          `json:"id"`
	Kind          Kind            `json:"kind"`
	ActorNickname string          `json:"actor_nickname"`
	TargetType    TargetType      `json:"target_type"`
	TargetID      string          `json:"target_id"`
	Content       string          `json:"content"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	IsRead        bool            `json:"is_read"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ToPush converts a stored notification into its wire form.
func (n *Notification) ToPush() PushNotification {
	p := PushNotification{
		ID:            n.ID,
		Kind:          n.Kind,
		ActorNickname: n.ActorNickname,
		TargetType:    n.TargetType,
		TargetID:      n.TargetID,
		Content:       n.Content,
		IsRead:        n.IsRead,
		CreatedAt:     n.CreatedAt,
	}
	if len(n.Metadata) > 0 {
		p.Metadata = json.RawMessage(n.Metadata)
	}
	return p
}
