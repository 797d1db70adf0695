package notification

import (
	"context"
	"strconv"

	"github.com/nail-dp-dev/naildp-realtime/internal/audit"
	"github.com/nail-dp-dev/naildp-realtime/pkg/apperr"
	pkglog "github.com/nail-dp-dev/naildp-realtime/pkg/log"
	"github.com/nail-dp-dev/naildp-realtime/pkg/response"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 50
)

// Service defines the read side of notifications.
type Service interface {
	List(ctx context.Context, receiver, cursor string, size int) (*response.Page[PushNotification], error)
	MarkRead(ctx context.Context, receiver string, ids []uint64) (int64, error)
	MarkAllRead(ctx context.Context, receiver string) (int64, error)
	UnreadCount(ctx context.Context, receiver string) (int64, error)
}

type service struct {
	repo Repository
}

// NewService creates a new notification Service.
func NewService(repo Repository) Service {
	return &service{repo: repo}
}

// List returns one page of the receiver's notifications, newest first. The
// cursor is the id of the last item of the previous page.
func (s *service) List(ctx context.Context, receiver, cursor string, size int) (*response.Page[PushNotification], error) {
	var before uint64
	if cursor != "" {
		v, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil || v == 0 {
			return nil, apperr.Validation("invalid cursor")
		}
		before = v
	}
	size = clampPageSize(size)

	rows, err := s.repo.ListByReceiver(ctx, receiver, before, size+1)
	if err != nil {
		return nil, apperr.Storage("failed to list notifications", err)
	}

	page := &response.Page[PushNotification]{Items: make([]PushNotification, 0, size)}
	if len(rows) > size {
		page.HasNext = true
		rows = rows[:size]
	}
	for i := range rows {
		page.Items = append(page.Items, rows[i].ToPush())
	}
	if page.HasNext {
		page.NextCursor = strconv.FormatUint(rows[len(rows)-1].ID, 10)
	}
	return page, nil
}

func (s *service) MarkRead(ctx context.Context, receiver string, ids []uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, apperr.Validation("notification_ids must not be empty")
	}
	n, err := s.repo.MarkRead(ctx, receiver, ids)
	if err != nil {
		return 0, apperr.Storage("failed to mark notifications read", err)
	}
	return n, nil
}

func (s *service) MarkAllRead(ctx context.Context, receiver string) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, receiver)
	if err != nil {
		return 0, apperr.Storage("failed to mark notifications read", err)
	}
	audit.LogWithDetail(ctx, audit.ActionReadAll, receiver, receiver, strconv.FormatInt(n, 10), "marked all notifications read")
	return n, nil
}

func (s *service) UnreadCount(ctx context.Context, receiver string) (int64, error) {
	n, err := s.repo.UnreadCount(ctx, receiver)
	if err != nil {
		l := pkglog.Ctx(ctx)
		l.Error().Err(err).Str(pkglog.FieldReceiver, receiver).Msg("failed to count unread notifications")
		return 0, apperr.Storage("failed to count notifications", err)
	}
	return n, nil
}

func clampPageSize(size int) int {
	if size <= 0 {
		return DefaultPageSize
	}
	if size > MaxPageSize {
		return MaxPageSize
	}
	return size
}
