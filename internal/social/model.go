package social

import (
	"time"

	"gorm.io/gorm"
)

// Follow is the GORM model for the follows table. Unfollow soft-deletes the
// row and a later follow restores it.
type Follow struct {
	ID                uint           `gorm:"primaryKey;autoIncrement"`
	FollowerNickname  string         `gorm:"column:follower_nickname;type:varchar(64);not null;uniqueIndex:idx_follows_pair"`
	FollowingNickname string         `gorm:"column:following_nickname;type:varchar(64);not null;uniqueIndex:idx_follows_pair;index"`
	CreatedAt         time.Time      `gorm:"autoCreateTime"`
	DeletedAt         gorm.DeletedAt `gorm:"index"`
}

func (Follow) TableName() string { return "follows" }

// Post is the minimal post record likes and comments point at.
type Post struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	WriterNickname string    `gorm:"type:varchar(64);not null;index" json:"writer_nickname"`
	Content        string    `gorm:"type:text" json:"content"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Post) TableName() string { return "posts" }

type PostLike struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	PostID    uint64    `gorm:"not null;uniqueIndex:idx_post_likes_pair"`
	Nickname  string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_post_likes_pair"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (PostLike) TableName() string { return "post_likes" }

type Comment struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	PostID         uint64    `gorm:"not null;index" json:"post_id"`
	WriterNickname string    `gorm:"type:varchar(64);not null" json:"writer_nickname"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Comment) TableName() string { return "comments" }

type CommentLike struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	CommentID uint64    `gorm:"not null;uniqueIndex:idx_comment_likes_pair"`
	Nickname  string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_comment_likes_pair"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (CommentLike) TableName() string { return "comment_likes" }

// Models lists every model owned by this package, in migration order.
func Models() []interface{} {
	return []interface{}{&Follow{}, &Post{}, &PostLike{}, &Comment{}, &CommentLike{}}
}
