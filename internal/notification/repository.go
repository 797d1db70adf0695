package notification

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Repository defines persistence operations for notifications.
type Repository interface {
	Create(ctx context.Context, n *Notification) error
	// ListByReceiver returns up to limit notifications with id < before
	// (all when before is 0), newest first.
	ListByReceiver(ctx context.Context, receiver string, before uint64, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, receiver string, ids []uint64) (int64, error)
	MarkAllRead(ctx context.Context, receiver string) (int64, error)
	UnreadCount(ctx context.Context, receiver string) (int64, error)
}

// GormRepository implements Repository using GORM.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new GORM-backed notification repository.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Create inserts n in its own transaction.
func (r *GormRepository) Create(ctx context.Context, n *Notification) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(n).Error; err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
		return nil
	})
}

func (r *GormRepository) ListByReceiver(ctx context.Context, receiver string, before uint64, limit int) ([]Notification, error) {
	q := r.db.WithContext(ctx).
		Where("receiver_nickname = ?", receiver)
	if before > 0 {
		q = q.Where("id < ?", before)
	}

	var items []Notification
	if err := q.Order("id DESC").Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// MarkRead flags the given ids as read. Ids owned by other receivers are
// ignored.
func (r *GormRepository) MarkRead(ctx context.Context, receiver string, ids []uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Model(&Notification{}).
		Where("receiver_nickname = ? AND id IN ? AND is_read = ?", receiver, ids, false).
		Update("is_read", true)
	return result.RowsAffected, result.Error
}

func (r *GormRepository) MarkAllRead(ctx context.Context, receiver string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&Notification{}).
		Where("receiver_nickname = ? AND is_read = ?", receiver, false).
		Update("is_read", true)
	return result.RowsAffected, result.Error
}

func (r *GormRepository) UnreadCount(ctx context.Context, receiver string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Notification{}).
		Where("receiver_nickname = ? AND is_read = ?", receiver, false).
		Count(&count).Error
	return count, err
}

// Ensure interface is satisfied at compile time.
var _ Repository = (*GormRepository)(nil)
