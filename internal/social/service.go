package social

import (
	"context"
	"errors"
	"strconv"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/nail-dp-dev/naildp-realtime/internal/audit"
	"github.com/nail-dp-dev/naildp-realtime/internal/notification"
	"github.com/nail-dp-dev/naildp-realtime/pkg/apperr"
	"github.com/nail-dp-dev/naildp-realtime/pkg/database"
	"github.com/nail-dp-dev/naildp-realtime/pkg/validate"
)

const excerptLength = 50

// Service is the source of the domain events that become notifications.
// Every mutation commits first and notifies after.
type Service interface {
	Follow(ctx context.Context, follower, following string) error
	Unfollow(ctx context.Context, follower, following string) error
	CreatePost(ctx context.Context, writer, content string) (*Post, error)
	LikePost(ctx context.Context, nickname string, postID uint64) error
	UnlikePost(ctx context.Context, nickname string, postID uint64) error
	AddComment(ctx context.Context, nickname string, postID uint64, content string) (*Comment, error)
	LikeComment(ctx context.Context, nickname string, commentID uint64) error
	UnlikeComment(ctx context.Context, nickname string, commentID uint64) error
}

type service struct {
	uow      *database.UnitOfWork
	repo     Repository
	notifier notification.Notifier
}

// NewService creates a social service. notifier receives events only after
// their transaction has committed.
func NewService(uow *database.UnitOfWork, repo Repository, notifier notification.Notifier) Service {
	return &service{uow: uow, repo: repo, notifier: notifier}
}

type followInput struct {
	Follower  string `json:"follower" validate:"required,max=64"`
	Following string `json:"nickname" validate:"required,max=64,nefield=Follower"`
}

type postInput struct {
	Writer  string `json:"writer" validate:"required,max=64"`
	Content string `json:"content" validate:"required,max=2000"`
}

type commentInput struct {
	Writer  string `json:"writer" validate:"required,max=64"`
	PostID  uint64 `json:"post_id" validate:"required"`
	Content string `json:"content" validate:"required,max=1000"`
}

func (s *service) Follow(ctx context.Context, follower, following string) error {
	if follower == following && follower != "" {
		return apperr.Validation("cannot follow yourself")
	}
	if err := validate.Struct(followInput{Follower: follower, Following: following}); err != nil {
		return err
	}

	err := s.uow.Do(ctx, func(tx *gorm.DB, after *database.AfterCommit) error {
		if err := s.repo.WithTx(tx).Follow(ctx, follower, following); err != nil {
			return err
		}
		after.Defer(notification.Deferred(s.notifier, notification.Event{
			Kind:       notification.KindFollow,
			Actor:      follower,
			Receiver:   following,
			TargetType: notification.TargetUser,
			TargetID:   follower,
		}))
		return nil
	})
	if err != nil {
		return translate(err, "failed to follow")
	}

	audit.Log(ctx, audit.ActionFollow, follower, following, "user followed")
	return nil
}

func (s *service) Unfollow(ctx context.Context, follower, following string) error {
	if err := s.repo.Unfollow(ctx, follower, following); err != nil {
		return translate(err, "failed to unfollow")
	}
	audit.Log(ctx, audit.ActionUnfollow, follower, following, "user unfollowed")
	return nil
}

func (s *service) CreatePost(ctx context.Context, writer, content string) (*Post, error) {
	if err := validate.Struct(postInput{Writer: writer, Content: content}); err != nil {
		return nil, err
	}

	post := &Post{WriterNickname: writer, Content: content}
	if err := s.repo.CreatePost(ctx, post); err != nil {
		return nil, translate(err, "failed to create post")
	}
	return post, nil
}

func (s *service) LikePost(ctx context.Context, nickname string, postID uint64) error {
	err := s.uow.Do(ctx, func(tx *gorm.DB, after *database.AfterCommit) error {
		repo := s.repo.WithTx(tx)

		post, err := repo.FindPost(ctx, postID)
		if err != nil {
			return err
		}
		if err := repo.LikePost(ctx, postID, nickname); err != nil {
			return err
		}

		after.Defer(notification.Deferred(s.notifier, notification.Event{
			Kind:       notification.KindPostLike,
			Actor:      nickname,
			Receiver:   post.WriterNickname,
			TargetType: notification.TargetPost,
			TargetID:   formatID(post.ID),
		}))
		return nil
	})
	return translate(err, "failed to like post")
}

func (s *service) UnlikePost(ctx context.Context, nickname string, postID uint64) error {
	return translate(s.repo.UnlikePost(ctx, postID, nickname), "failed to unlike post")
}

func (s *service) AddComment(ctx context.Context, nickname string, postID uint64, content string) (*Comment, error) {
	if err := validate.Struct(commentInput{Writer: nickname, PostID: postID, Content: content}); err != nil {
		return nil, err
	}

	comment := &Comment{PostID: postID, WriterNickname: nickname, Content: content}
	err := s.uow.Do(ctx, func(tx *gorm.DB, after *database.AfterCommit) error {
		repo := s.repo.WithTx(tx)

		post, err := repo.FindPost(ctx, postID)
		if err != nil {
			return err
		}
		if err := repo.CreateComment(ctx, comment); err != nil {
			return err
		}

		after.Defer(notification.Deferred(s.notifier, notification.Event{
			Kind:       notification.KindComment,
			Actor:      nickname,
			Receiver:   post.WriterNickname,
			TargetType: notification.TargetPost,
			TargetID:   formatID(post.ID),
			Metadata: map[string]any{
				"comment_id": comment.ID,
				"excerpt":    excerpt(content),
			},
		}))
		return nil
	})
	if err != nil {
		return nil, translate(err, "failed to add comment")
	}
	return comment, nil
}

func (s *service) LikeComment(ctx context.Context, nickname string, commentID uint64) error {
	err := s.uow.Do(ctx, func(tx *gorm.DB, after *database.AfterCommit) error {
		repo := s.repo.WithTx(tx)

		comment, err := repo.FindComment(ctx, commentID)
		if err != nil {
			return err
		}
		if err := repo.LikeComment(ctx, commentID, nickname); err != nil {
			return err
		}

		after.Defer(notification.Deferred(s.notifier, notification.Event{
			Kind:       notification.KindCommentLike,
			Actor:      nickname,
			Receiver:   comment.WriterNickname,
			TargetType: notification.TargetComment,
			TargetID:   formatID(comment.ID),
			Metadata:   map[string]any{"post_id": comment.PostID},
		}))
		return nil
	})
	return translate(err, "failed to like comment")
}

func (s *service) UnlikeComment(ctx context.Context, nickname string, commentID uint64) error {
	return translate(s.repo.UnlikeComment(ctx, commentID, nickname), "failed to unlike comment")
}

// translate maps repository sentinels onto apperr kinds. Anything else is a
// storage failure.
func translate(err error, msg string) error {
	switch {
	case err == nil:
		return nil
	case apperr.KindOf(err) != apperr.KindUnknown:
		return err
	case errors.Is(err, ErrAlreadyFollowing):
		return apperr.E(apperr.KindConflict, "already following", err)
	case errors.Is(err, ErrFollowNotFound):
		return apperr.E(apperr.KindNotFound, "follow relationship not found", err)
	case errors.Is(err, ErrPostNotFound):
		return apperr.E(apperr.KindNotFound, "post not found", err)
	case errors.Is(err, ErrCommentNotFound):
		return apperr.E(apperr.KindNotFound, "comment not found", err)
	case errors.Is(err, ErrAlreadyLiked):
		return apperr.E(apperr.KindConflict, "already liked", err)
	case errors.Is(err, ErrLikeNotFound):
		return apperr.E(apperr.KindNotFound, "like not found", err)
	default:
		return apperr.Storage(msg, err)
	}
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func excerpt(s string) string {
	if utf8.RuneCountInString(s) <= excerptLength {
		return s
	}
	return string([]rune(s)[:excerptLength]) + "…"
}
