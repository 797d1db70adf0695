package social

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var (
	ErrFollowNotFound   = errors.New("follow relationship not found")
	ErrAlreadyFollowing = errors.New("already following")
	ErrPostNotFound     = errors.New("post not found")
	ErrCommentNotFound  = errors.New("comment not found")
	ErrAlreadyLiked     = errors.New("already liked")
	ErrLikeNotFound     = errors.New("like not found")
)

// isUniqueViolation reports whether err is a unique-constraint violation.
// GORM wraps these as gorm.ErrDuplicatedKey when TranslateError is on.
func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// Repository defines persistence operations for the social graph and the
// post interactions that produce notifications.
type Repository interface {
	// WithTx returns a repository bound to tx.
	WithTx(tx *gorm.DB) Repository

	Follow(ctx context.Context, follower, following string) error
	Unfollow(ctx context.Context, follower, following string) error
	IsFollowing(ctx context.Context, follower, following string) (bool, error)

	CreatePost(ctx context.Context, post *Post) error
	FindPost(ctx context.Context, id uint64) (*Post, error)
	CreateComment(ctx context.Context, comment *Comment) error
	FindComment(ctx context.Context, id uint64) (*Comment, error)

	LikePost(ctx context.Context, postID uint64, nickname string) error
	UnlikePost(ctx context.Context, postID uint64, nickname string) error
	LikeComment(ctx context.Context, commentID uint64, nickname string) error
	UnlikeComment(ctx context.Context, commentID uint64, nickname string) error
}

// GormRepository implements Repository using GORM.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new GORM-backed social repository.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) WithTx(tx *gorm.DB) Repository {
	return &GormRepository{db: tx}
}

// Follow creates a follow relationship. A soft-deleted row for the same pair
// is restored instead of inserting a new one.
func (r *GormRepository) Follow(ctx context.Context, follower, following string) error {
	db := r.db.WithContext(ctx)

	active, err := r.IsFollowing(ctx, follower, following)
	if err != nil {
		return err
	}
	if active {
		return ErrAlreadyFollowing
	}

	result := db.Unscoped().
		Model(&Follow{}).
		Where("follower_nickname = ? AND following_nickname = ? AND deleted_at IS NOT NULL", follower, following).
		Update("deleted_at", nil)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	model := Follow{FollowerNickname: follower, FollowingNickname: following}
	if err := db.Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyFollowing
		}
		return err
	}
	return nil
}

// Unfollow soft-deletes the follow relationship.
func (r *GormRepository) Unfollow(ctx context.Context, follower, following string) error {
	result := r.db.WithContext(ctx).
		Where("follower_nickname = ? AND following_nickname = ?", follower, following).
		Delete(&Follow{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrFollowNotFound
	}
	return nil
}

// IsFollowing checks if follower actively follows following.
func (r *GormRepository) IsFollowing(ctx context.Context, follower, following string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Follow{}).
		Where("follower_nickname = ? AND following_nickname = ?", follower, following).
		Count(&count).Error
	return count > 0, err
}

func (r *GormRepository) CreatePost(ctx context.Context, post *Post) error {
	return r.db.WithContext(ctx).Create(post).Error
}

func (r *GormRepository) FindPost(ctx context.Context, id uint64) (*Post, error) {
	var post Post
	if err := r.db.WithContext(ctx).First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	return &post, nil
}

func (r *GormRepository) CreateComment(ctx context.Context, comment *Comment) error {
	return r.db.WithContext(ctx).Create(comment).Error
}

func (r *GormRepository) FindComment(ctx context.Context, id uint64) (*Comment, error) {
	var comment Comment
	if err := r.db.WithContext(ctx).First(&comment, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCommentNotFound
		}
		return nil, err
	}
	return &comment, nil
}

func (r *GormRepository) LikePost(ctx context.Context, postID uint64, nickname string) error {
	return r.like(ctx, &PostLike{PostID: postID, Nickname: nickname}, "post_id = ? AND nickname = ?", postID, nickname)
}

func (r *GormRepository) UnlikePost(ctx context.Context, postID uint64, nickname string) error {
	return r.unlike(ctx, &PostLike{}, "post_id = ? AND nickname = ?", postID, nickname)
}

func (r *GormRepository) LikeComment(ctx context.Context, commentID uint64, nickname string) error {
	return r.like(ctx, &CommentLike{CommentID: commentID, Nickname: nickname}, "comment_id = ? AND nickname = ?", commentID, nickname)
}

func (r *GormRepository) UnlikeComment(ctx context.Context, commentID uint64, nickname string) error {
	return r.unlike(ctx, &CommentLike{}, "comment_id = ? AND nickname = ?", commentID, nickname)
}

func (r *GormRepository) like(ctx context.Context, model interface{}, query string, args ...interface{}) error {
	db := r.db.WithContext(ctx)

	var count int64
	if err := db.Model(model).Where(query, args...).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrAlreadyLiked
	}

	if err := db.Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyLiked
		}
		return err
	}
	return nil
}

func (r *GormRepository) unlike(ctx context.Context, model interface{}, query string, args ...interface{}) error {
	result := r.db.WithContext(ctx).Where(query, args...).Delete(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLikeNotFound
	}
	return nil
}
