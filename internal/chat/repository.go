package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	ErrRoomNotFound   = errors.New("chat room not found")
	ErrNotParticipant = errors.New("not a participant of this room")
)

// RoomRow is a room joined with the caller's participant row.
type RoomRow struct {
	ID            string
	Name          string
	Boundary      Boundary
	RoomType      RoomType
	LastSeq       int64
	LastMessage   string
	LastMessageAt time.Time
	RoomName      string
	Pinned        bool
	LastReadSeq   int64
}

// RoomFilter narrows a room listing for one participant.
type RoomFilter struct {
	Nickname   string
	UnreadOnly bool
	After      *roomCursor
	Limit      int
}

// Repository defines persistence operations for rooms, participants and
// messages.
type Repository interface {
	// WithTx returns a repository bound to tx.
	WithTx(tx *gorm.DB) Repository

	CreateRoom(ctx context.Context, room *Room, participants []Participant) error
	FindRoom(ctx context.Context, id string) (*Room, error)
	FindPersonalRoom(ctx context.Context, a, b string) (*Room, error)
	FindParticipant(ctx context.Context, roomID, nickname string) (*Participant, error)
	UpdateParticipant(ctx context.Context, roomID, nickname string, updates map[string]interface{}) error
	// ReleasePersonalKey frees the pair key of a personal room so the pair
	// can open a new one. Group rooms are left untouched.
	ReleasePersonalKey(ctx context.Context, roomID string) error

	// NextSeq atomically increments and returns the room counter. The row
	// stays locked until the enclosing transaction ends.
	NextSeq(ctx context.Context, roomID string) (int64, error)
	InsertMessage(ctx context.Context, msg *Message) error
	TouchRoom(ctx context.Context, roomID, summary string, at time.Time) error
	AdvanceRead(ctx context.Context, roomID, nickname string, seq int64) (bool, error)

	ListPinnedRooms(ctx context.Context, filter RoomFilter) ([]RoomRow, error)
	ListRooms(ctx context.Context, filter RoomFilter) ([]RoomRow, error)
	ListMessages(ctx context.Context, roomID string, beforeSeq int64, limit int) ([]Message, error)
}

// GormRepository implements Repository using GORM.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new GORM-backed chat repository.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) WithTx(tx *gorm.DB) Repository {
	return &GormRepository{db: tx}
}

func (r *GormRepository) CreateRoom(ctx context.Context, room *Room, participants []Participant) error {
	db := r.db.WithContext(ctx)
	if err := db.Create(room).Error; err != nil {
		return err
	}
	return db.Create(&participants).Error
}

func (r *GormRepository) FindRoom(ctx context.Context, id string) (*Room, error) {
	var room Room
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// FindPersonalRoom returns the personal room shared by a and b while both
// are still active in it.
func (r *GormRepository) FindPersonalRoom(ctx context.Context, a, b string) (*Room, error) {
	var room Room
	err := r.db.WithContext(ctx).
		Model(&Room{}).
		Joins("JOIN chat_participants pa ON pa.room_id = chat_rooms.id AND pa.nickname = ? AND pa.has_left = ?", a, false).
		Joins("JOIN chat_participants pb ON pb.room_id = chat_rooms.id AND pb.nickname = ? AND pb.has_left = ?", b, false).
		Where("chat_rooms.room_type = ?", RoomPersonal).
		Order("chat_rooms.created_at").
		First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

func (r *GormRepository) FindParticipant(ctx context.Context, roomID, nickname string) (*Participant, error) {
	var p Participant
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND nickname = ?", roomID, nickname).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotParticipant
		}
		return nil, err
	}
	return &p, nil
}

// UpdateParticipant applies updates to one participant row. Callers check
// membership first.
func (r *GormRepository) UpdateParticipant(ctx context.Context, roomID, nickname string, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&Participant{}).
		Where("room_id = ? AND nickname = ?", roomID, nickname).
		Updates(updates).Error
}

func (r *GormRepository) ReleasePersonalKey(ctx context.Context, roomID string) error {
	return r.db.WithContext(ctx).
		Model(&Room{}).
		Where("id = ? AND room_type = ?", roomID, RoomPersonal).
		Update("personal_key", nil).Error
}

func (r *GormRepository) NextSeq(ctx context.Context, roomID string) (int64, error) {
	db := r.db.WithContext(ctx)

	result := db.Model(&Room{}).
		Where("id = ?", roomID).
		UpdateColumn("last_seq", gorm.Expr("last_seq + ?", 1))
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, ErrRoomNotFound
	}

	var room Room
	if err := db.Select("last_seq").Where("id = ?", roomID).First(&room).Error; err != nil {
		return 0, err
	}
	return room.LastSeq, nil
}

func (r *GormRepository) InsertMessage(ctx context.Context, msg *Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *GormRepository) TouchRoom(ctx context.Context, roomID, summary string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&Room{}).
		Where("id = ?", roomID).
		UpdateColumns(map[string]interface{}{
			"last_message":    summary,
			"last_message_at": at,
		}).Error
}

// AdvanceRead moves the read cursor forward only. It reports whether the
// cursor moved.
func (r *GormRepository) AdvanceRead(ctx context.Context, roomID, nickname string, seq int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&Participant{}).
		Where("room_id = ? AND nickname = ? AND last_read_seq < ?", roomID, nickname, seq).
		UpdateColumn("last_read_seq", seq)
	return result.RowsAffected > 0, result.Error
}

func (r *GormRepository) roomQuery(ctx context.Context, filter RoomFilter) *gorm.DB {
	q := r.db.WithContext(ctx).
		Table("chat_rooms AS r").
		Select("r.id, r.name, r.boundary, r.room_type, r.last_seq, r.last_message, r.last_message_at, p.room_name, p.pinned, p.last_read_seq").
		Joins("JOIN chat_participants AS p ON p.room_id = r.id").
		Where("p.nickname = ? AND p.has_left = ?", filter.Nickname, false)
	if filter.UnreadOnly {
		q = q.Where("r.last_seq > p.last_read_seq")
	}
	return q
}

func (r *GormRepository) ListPinnedRooms(ctx context.Context, filter RoomFilter) ([]RoomRow, error) {
	var rows []RoomRow
	err := r.roomQuery(ctx, filter).
		Where("p.pinned = ?", true).
		Order("p.pinned_at DESC").
		Order("r.id DESC").
		Scan(&rows).Error
	return rows, err
}

// ListRooms returns unpinned rooms by (last_message_at, id) descending,
// strictly after filter.After.
func (r *GormRepository) ListRooms(ctx context.Context, filter RoomFilter) ([]RoomRow, error) {
	q := r.roomQuery(ctx, filter).Where("p.pinned = ?", false)
	if c := filter.After; c != nil {
		q = q.Where("(r.last_message_at < ? OR (r.last_message_at = ? AND r.id < ?))", c.At, c.At, c.ID)
	}

	var rows []RoomRow
	err := q.Order("r.last_message_at DESC").
		Order("r.id DESC").
		Limit(filter.Limit).
		Scan(&rows).Error
	return rows, err
}

// ListMessages returns up to limit messages newest first. beforeSeq of zero
// starts at the newest message.
func (r *GormRepository) ListMessages(ctx context.Context, roomID string, beforeSeq int64, limit int) ([]Message, error) {
	q := r.db.WithContext(ctx).Where("room_id = ?", roomID)
	if beforeSeq > 0 {
		q = q.Where("seq < ?", beforeSeq)
	}

	var msgs []Message
	err := q.Order("seq DESC").Limit(limit).Find(&msgs).Error
	return msgs, err
}
