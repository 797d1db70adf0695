package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/nail-dp-dev/naildp-realtime/internal/audit"
	"github.com/nail-dp-dev/naildp-realtime/pkg/apperr"
	"github.com/nail-dp-dev/naildp-realtime/pkg/database"
	"github.com/nail-dp-dev/naildp-realtime/pkg/idgen"
	pkglog "github.com/nail-dp-dev/naildp-realtime/pkg/log"
	"github.com/nail-dp-dev/naildp-realtime/pkg/pubsub"
	"github.com/nail-dp-dev/naildp-realtime/pkg/validate"
)

// Room list categories.
const (
	CategoryAll    = "all"
	CategoryUnread = "unread"
)

const summaryLength = 100

// Service is the chat pipeline: room lifecycle, sequenced sends and cursor
// listings.
type Service interface {
	CreateRoom(ctx context.Context, creator string, req CreateRoomRequest) (*CreatedRoom, error)
	SendMessage(ctx context.Context, roomID, sender string, req SendMessageRequest) (*MessageView, error)
	SendMedia(ctx context.Context, roomID, sender string, kind MessageType, files []Upload) (*MessageView, error)
	LeaveRoom(ctx context.Context, roomID, nickname string) error
	RenameRoom(ctx context.Context, roomID, nickname, name string) error
	PinRoom(ctx context.Context, roomID, nickname string) error
	UnpinRoom(ctx context.Context, roomID, nickname string) error
	ListRooms(ctx context.Context, nickname, category, cursor string, size int) (*RoomList, error)
	ListMessages(ctx context.Context, roomID, nickname, cursor string, size int) (*MessagePage, error)
	MarkRead(ctx context.Context, roomID, nickname string, seq int64) error
	// Member returns nil when nickname is an active participant of roomID.
	Member(ctx context.Context, roomID, nickname string) error
}

// Options tunes paging and identity. Zero values select defaults.
type Options struct {
	RoomPageSize    int
	RoomPageMax     int
	MessagePageSize int
	MessagePageMax  int
	CacheTTL        time.Duration
	RoomIDs         idgen.Generator
	Clock           func() time.Time
}

func (o *Options) applyDefaults() {
	if o.RoomPageSize <= 0 {
		o.RoomPageSize = 20
	}
	if o.RoomPageMax <= 0 {
		o.RoomPageMax = 50
	}
	if o.MessagePageSize <= 0 {
		o.MessagePageSize = 50
	}
	if o.MessagePageMax <= 0 {
		o.MessagePageMax = 100
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 10 * time.Minute
	}
	if o.RoomIDs == nil {
		o.RoomIDs = idgen.NewUUIDGenerator()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

type service struct {
	uow       *database.UnitOfWork
	repo      Repository
	publisher pubsub.Publisher
	cache     MessageCache
	uploader  *MediaUploader
	opts      Options
	sf        singleflight.Group
}

// NewService creates the chat service. cache may be nil.
func NewService(uow *database.UnitOfWork, repo Repository, publisher pubsub.Publisher, cache MessageCache, uploader *MediaUploader, opts Options) Service {
	opts.applyDefaults()
	return &service{
		uow:       uow,
		repo:      repo,
		publisher: publisher,
		cache:     cache,
		uploader:  uploader,
		opts:      opts,
	}
}

// CreateRoomRequest names the other participants. The creator is added
// implicitly.
type CreateRoomRequest struct {
	Nicknames []string `json:"nicknames" validate:"required,min=1,max=50,dive,required,max=64"`
	Name      string   `json:"name" validate:"max=100"`
	Boundary  Boundary `json:"boundary" validate:"omitempty,oneof=all follow none"`
}

// SendMessageRequest is a text message.
type SendMessageRequest struct {
	Content []string `json:"content" validate:"required,min=1,max=20,dive,required,max=2000"`
	Mention []string `json:"mention" validate:"max=50,dive,required,max=64"`
}

type renameInput struct {
	Name string `json:"name" validate:"required,max=100"`
}

func (s *service) now() time.Time {
	return s.opts.Clock().UTC().Truncate(time.Microsecond)
}

func (s *service) CreateRoom(ctx context.Context, creator string, req CreateRoomRequest) (*CreatedRoom, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	members := uniqueMembers(creator, req.Nicknames)
	if len(members) < 2 {
		return nil, apperr.Validation("a room needs at least one other participant")
	}

	roomType := RoomGroup
	if len(members) == 2 {
		roomType = RoomPersonal
		existing, err := s.repo.FindPersonalRoom(ctx, members[0], members[1])
		if err == nil {
			return &CreatedRoom{RoomID: existing.ID, Created: false}, nil
		}
		if !errors.Is(err, ErrRoomNotFound) {
			return nil, translate(err, "failed to look up personal room")
		}
	}

	id, err := s.opts.RoomIDs.Generate()
	if err != nil {
		return nil, apperr.Storage("failed to generate room id", err)
	}

	boundary := req.Boundary
	if boundary == "" {
		boundary = BoundaryAll
	}

	now := s.now()
	room := &Room{
		ID:            id,
		Name:          req.Name,
		Boundary:      boundary,
		RoomType:      roomType,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	if roomType == RoomPersonal {
		key := personalKey(members[0], members[1])
		room.PersonalKey = &key
	}

	participants := make([]Participant, 0, len(members))
	for _, m := range members {
		name := req.Name
		if name == "" {
			name = defaultRoomName(m, members)
		}
		participants = append(participants, Participant{
			RoomID:   id,
			Nickname: m,
			RoomName: name,
			JoinedAt: now,
		})
	}

	err = s.uow.Do(ctx, func(tx *gorm.DB, _ *database.AfterCommit) error {
		return s.repo.WithTx(tx).CreateRoom(ctx, room, participants)
	})
	if err != nil {
		// A concurrent request for the same pair took the personal key first.
		if roomType == RoomPersonal {
			if existing, findErr := s.repo.FindPersonalRoom(ctx, members[0], members[1]); findErr == nil {
				return &CreatedRoom{RoomID: existing.ID, Created: false}, nil
			}
		}
		return nil, translate(err, "failed to create chat room")
	}

	audit.LogWithDetail(ctx, audit.ActionCreateRoom, creator, id, strings.Join(members, ","), "chat room created")
	return &CreatedRoom{RoomID: id, Created: true}, nil
}

func (s *service) SendMessage(ctx context.Context, roomID, sender string, req SendMessageRequest) (*MessageView, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	msg := &Message{
		RoomID:         roomID,
		SenderNickname: sender,
		Content:        req.Content,
		Mention:        req.Mention,
		MessageType:    MessageText,
	}
	return s.persist(ctx, msg, summarize(MessageText, req.Content))
}

func (s *service) SendMedia(ctx context.Context, roomID, sender string, kind MessageType, files []Upload) (*MessageView, error) {
	if s.uploader == nil {
		return nil, apperr.Validation("media messages are not enabled")
	}
	if err := s.uploader.Validate(kind, files); err != nil {
		return nil, err
	}
	if err := s.Member(ctx, roomID, sender); err != nil {
		return nil, err
	}

	keys, err := s.uploader.Upload(ctx, sender, kind, files)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	msg := &Message{
		RoomID:         roomID,
		SenderNickname: sender,
		Content:        names,
		MediaKeys:      keys,
		MessageType:    kind,
	}

	view, err := s.persist(ctx, msg, summarize(kind, names))
	if err != nil {
		s.uploader.Cleanup(ctx, sender, keys)
		return nil, err
	}

	audit.LogWithDetail(ctx, audit.ActionSendMedia, sender, roomID, string(kind), "media message sent")
	return view, nil
}

// persist assigns the next room sequence and stores msg in one transaction,
// then publishes it to the room channel after commit.
func (s *service) persist(ctx context.Context, msg *Message, summary string) (*MessageView, error) {
	var view MessageView

	err := s.uow.Do(ctx, func(tx *gorm.DB, after *database.AfterCommit) error {
		repo := s.repo.WithTx(tx)

		if err := activeParticipant(ctx, repo, msg.RoomID, msg.SenderNickname); err != nil {
			return err
		}

		seq, err := repo.NextSeq(ctx, msg.RoomID)
		if err != nil {
			return err
		}

		msg.Seq = seq
		msg.CreatedAt = s.now()
		if err := repo.InsertMessage(ctx, msg); err != nil {
			return err
		}
		if err := repo.TouchRoom(ctx, msg.RoomID, summary, msg.CreatedAt); err != nil {
			return err
		}
		if _, err := repo.AdvanceRead(ctx, msg.RoomID, msg.SenderNickname, seq); err != nil {
			return err
		}

		view = s.toView(msg)
		after.Defer(s.publishEffect(pubsub.EventChatMessage, msg.RoomID, seq, view))
		return nil
	})
	if err != nil {
		return nil, translate(err, "failed to store message")
	}
	return &view, nil
}

func (s *service) publishEffect(eventType, roomID string, seq int64, payload interface{}) database.Effect {
	return func(ctx context.Context) {
		ctx = pkglog.With(ctx, pkglog.FieldRoomID, roomID)
		l := pkglog.Ctx(ctx)

		ev, err := pubsub.NewEvent(eventType, roomID, payload)
		if err != nil {
			l.Error().Err(err).Str("type", eventType).Msg("failed to encode room event")
			return
		}
		if err := s.publisher.Publish(ctx, pubsub.RoomChannel(roomID), ev.WithSeq(seq)); err != nil {
			l.Warn().Err(err).Str("type", eventType).Int64("seq", seq).Msg("failed to publish room event")
		}
	}
}

func (s *service) LeaveRoom(ctx context.Context, roomID, nickname string) error {
	leftAt := s.now()

	err := s.uow.Do(ctx, func(tx *gorm.DB, after *database.AfterCommit) error {
		repo := s.repo.WithTx(tx)
		if err := activeParticipant(ctx, repo, roomID, nickname); err != nil {
			return err
		}
		if err := repo.UpdateParticipant(ctx, roomID, nickname, map[string]interface{}{
			"has_left": true,
			"left_at":  leftAt,
		}); err != nil {
			return err
		}
		if err := repo.ReleasePersonalKey(ctx, roomID); err != nil {
			return err
		}
		after.Defer(s.publishEffect(pubsub.EventChatLeft, roomID, 0, LeftRoom{RoomID: roomID, Nickname: nickname, LeftAt: leftAt}))
		return nil
	})
	if err != nil {
		return translate(err, "failed to leave chat room")
	}

	audit.Log(ctx, audit.ActionLeaveRoom, nickname, roomID, "chat room left")
	return nil
}

func (s *service) RenameRoom(ctx context.Context, roomID, nickname, name string) error {
	name = strings.TrimSpace(name)
	if err := validate.Struct(renameInput{Name: name}); err != nil {
		return err
	}
	if err := s.updateActive(ctx, roomID, nickname, map[string]interface{}{"room_name": name}); err != nil {
		return translate(err, "failed to rename chat room")
	}

	audit.LogWithDetail(ctx, audit.ActionRenameRoom, nickname, roomID, name, "chat room renamed")
	return nil
}

func (s *service) PinRoom(ctx context.Context, roomID, nickname string) error {
	err := s.updateActive(ctx, roomID, nickname, map[string]interface{}{
		"pinned":    true,
		"pinned_at": s.now(),
	})
	return translate(err, "failed to pin chat room")
}

func (s *service) UnpinRoom(ctx context.Context, roomID, nickname string) error {
	err := s.updateActive(ctx, roomID, nickname, map[string]interface{}{
		"pinned":    false,
		"pinned_at": nil,
	})
	return translate(err, "failed to unpin chat room")
}

func (s *service) updateActive(ctx context.Context, roomID, nickname string, updates map[string]interface{}) error {
	return s.uow.Do(ctx, func(tx *gorm.DB, _ *database.AfterCommit) error {
		repo := s.repo.WithTx(tx)
		if err := activeParticipant(ctx, repo, roomID, nickname); err != nil {
			return err
		}
		return repo.UpdateParticipant(ctx, roomID, nickname, updates)
	})
}

func (s *service) ListRooms(ctx context.Context, nickname, category, cursor string, size int) (*RoomList, error) {
	switch category {
	case "", CategoryAll, CategoryUnread:
	default:
		return nil, apperr.Validation("category must be one of [all unread]")
	}

	after, err := decodeRoomCursor(cursor)
	if err != nil {
		return nil, apperr.E(apperr.KindValidation, "invalid cursor", err)
	}

	limit := clampSize(size, s.opts.RoomPageSize, s.opts.RoomPageMax)
	filter := RoomFilter{
		Nickname:   nickname,
		UnreadOnly: category == CategoryUnread,
		After:      after,
		Limit:      limit + 1,
	}

	list := &RoomList{Rooms: []RoomSummary{}}

	if after == nil {
		pinned, err := s.repo.ListPinnedRooms(ctx, filter)
		if err != nil {
			return nil, translate(err, "failed to list pinned rooms")
		}
		for _, row := range pinned {
			list.Pinned = append(list.Pinned, toSummary(row))
		}
	}

	rows, err := s.repo.ListRooms(ctx, filter)
	if err != nil {
		return nil, translate(err, "failed to list rooms")
	}
	if len(rows) > limit {
		rows = rows[:limit]
		list.HasNext = true
	}
	for _, row := range rows {
		list.Rooms = append(list.Rooms, toSummary(row))
	}
	if list.HasNext {
		last := rows[len(rows)-1]
		list.NextCursor = encodeRoomCursor(roomCursor{At: last.LastMessageAt.UTC(), ID: last.ID})
	}
	return list, nil
}

func (s *service) ListMessages(ctx context.Context, roomID, nickname, cursor string, size int) (*MessagePage, error) {
	before, err := decodeMessageCursor(cursor)
	if err != nil {
		return nil, apperr.E(apperr.KindValidation, "invalid cursor", err)
	}
	if err := s.Member(ctx, roomID, nickname); err != nil {
		return nil, err
	}

	limit := clampSize(size, s.opts.MessagePageSize, s.opts.MessagePageMax)

	// The head page changes with every send and is always read from the store.
	if before == 0 || s.cache == nil {
		return s.loadMessages(ctx, roomID, before, limit)
	}

	key := s.cache.BuildKey(roomID, cursor, limit)
	result, err, _ := s.sf.Do(key, func() (interface{}, error) {
		cached, err := s.cache.Get(ctx, key)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			l := pkglog.Ctx(ctx)
			l.Warn().Err(err).Msg("cache get error")
		}

		page, err := s.loadMessages(ctx, roomID, before, limit)
		if err != nil {
			return nil, err
		}
		s.asyncCacheSet(key, page)
		return page, nil
	})
	if err != nil {
		return nil, err
	}

	page, ok := result.(*MessagePage)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	return page, nil
}

func (s *service) loadMessages(ctx context.Context, roomID string, before int64, limit int) (*MessagePage, error) {
	msgs, err := s.repo.ListMessages(ctx, roomID, before, limit+1)
	if err != nil {
		return nil, translate(err, "failed to list messages")
	}

	page := &MessagePage{Items: make([]MessageView, 0, len(msgs))}
	if len(msgs) > limit {
		msgs = msgs[:limit]
		page.HasNext = true
	}
	for i := range msgs {
		page.Items = append(page.Items, s.toView(&msgs[i]))
	}
	if page.HasNext {
		page.NextCursor = encodeMessageCursor(msgs[len(msgs)-1].Seq)
	}
	return page, nil
}

func (s *service) asyncCacheSet(key string, page *MessagePage) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.cache.Set(ctx, key, page, s.opts.CacheTTL); err != nil {
			l := pkglog.L()
			l.Warn().Err(err).Msg("cache set error")
		}
	}()
}

// MarkRead advances the caller's read cursor to seq, clamped to the room's
// last sequence. It never moves backwards.
func (s *service) MarkRead(ctx context.Context, roomID, nickname string, seq int64) error {
	if seq <= 0 {
		return apperr.Validation("seq must be positive")
	}

	err := s.uow.Do(ctx, func(tx *gorm.DB, after *database.AfterCommit) error {
		repo := s.repo.WithTx(tx)
		if err := activeParticipant(ctx, repo, roomID, nickname); err != nil {
			return err
		}

		room, err := repo.FindRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if seq > room.LastSeq {
			seq = room.LastSeq
		}

		moved, err := repo.AdvanceRead(ctx, roomID, nickname, seq)
		if err != nil {
			return err
		}
		if moved {
			after.Defer(s.publishEffect(pubsub.EventChatRead, roomID, 0, ReadState{RoomID: roomID, Nickname: nickname, Seq: seq}))
		}
		return nil
	})
	return translate(err, "failed to mark messages read")
}

func (s *service) Member(ctx context.Context, roomID, nickname string) error {
	return translate(activeParticipant(ctx, s.repo, roomID, nickname), "failed to load participant")
}

func activeParticipant(ctx context.Context, repo Repository, roomID, nickname string) error {
	p, err := repo.FindParticipant(ctx, roomID, nickname)
	if err != nil {
		return err
	}
	if p.Left {
		return ErrNotParticipant
	}
	return nil
}

func (s *service) toView(m *Message) MessageView {
	v := MessageView{
		ID:          m.ID,
		RoomID:      m.RoomID,
		Seq:         m.Seq,
		Sender:      m.SenderNickname,
		Content:     []string(m.Content),
		Mention:     []string(m.Mention),
		MessageType: m.MessageType,
		CreatedAt:   m.CreatedAt.UTC(),
	}
	if v.Content == nil {
		v.Content = []string{}
	}
	for _, key := range m.MediaKeys {
		if s.uploader != nil {
			v.Media = append(v.Media, s.uploader.URL(key))
		} else {
			v.Media = append(v.Media, key)
		}
	}
	return v
}

func toSummary(row RoomRow) RoomSummary {
	name := row.RoomName
	if name == "" {
		name = row.Name
	}
	unread := row.LastSeq - row.LastReadSeq
	if unread < 0 {
		unread = 0
	}
	return RoomSummary{
		RoomID:        row.ID,
		Name:          name,
		RoomType:      row.RoomType,
		Boundary:      row.Boundary,
		LastMessage:   row.LastMessage,
		LastMessageAt: row.LastMessageAt.UTC(),
		LastSeq:       row.LastSeq,
		UnreadCount:   unread,
		Pinned:        row.Pinned,
	}
}

// translate maps repository sentinels onto apperr kinds. Anything else is a
// storage failure.
func translate(err error, msg string) error {
	switch {
	case err == nil:
		return nil
	case apperr.KindOf(err) != apperr.KindUnknown:
		return err
	case errors.Is(err, ErrRoomNotFound):
		return apperr.E(apperr.KindNotFound, "chat room not found", err)
	case errors.Is(err, ErrNotParticipant):
		return apperr.E(apperr.KindNotFound, "chat room not found", err)
	default:
		return apperr.Storage(msg, err)
	}
}

func uniqueMembers(creator string, others []string) []string {
	seen := map[string]bool{creator: true}
	members := []string{creator}
	for _, n := range others {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		members = append(members, n)
	}
	return members
}

// defaultRoomName is what a participant sees before renaming: the other
// members, sorted.
func defaultRoomName(self string, members []string) string {
	others := make([]string, 0, len(members)-1)
	for _, m := range members {
		if m != self {
			others = append(others, m)
		}
	}
	sort.Strings(others)
	return truncate(strings.Join(others, ", "), 100)
}

func summarize(kind MessageType, content []string) string {
	switch kind {
	case MessageImage:
		return fmt.Sprintf("[image] x%d", len(content))
	case MessageVideo:
		return "[video]"
	case MessageFile:
		return "[file] " + truncate(strings.Join(content, ", "), summaryLength)
	default:
		return truncate(strings.Join(content, " "), summaryLength)
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func clampSize(size, def, maxSize int) int {
	if size <= 0 {
		return def
	}
	if size > maxSize {
		return maxSize
	}
	return size
}
