package notification_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nail-dp-dev/naildp-realtime/internal/notification"
	"github.com/nail-dp-dev/naildp-realtime/internal/testutil"
	"github.com/nail-dp-dev/naildp-realtime/pkg/apperr"
	"github.com/nail-dp-dev/naildp-realtime/pkg/pubsub"
)

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, *pubsub.Event) error {
	return errors.New("bus down")
}

type failingRepo struct {
	notification.Repository
}

func (failingRepo) Create(context.Context, *notification.Notification) error {
	return errors.New("disk full")
}

func newRepo(t *testing.T) *notification.GormRepository {
	t.Helper()
	return notification.NewGormRepository(testutil.OpenDB(t, &notification.Notification{}))
}

func followEvent(actor, receiver string) notification.Event {
	return notification.Event{
		Kind:       notification.KindFollow,
		Actor:      actor,
		Receiver:   receiver,
		TargetType: notification.TargetUser,
		TargetID:   actor,
	}
}

func TestBuilder_Build_PersistsThenPublishes(t *testing.T) {
	repo := newRepo(t)
	bus := pubsub.NewMemoryPubSub(8)
	defer bus.Close()

	ch, err := bus.Subscribe(context.Background(), pubsub.NotificationChannel("bob"))
	require.NoError(t, err)

	b := notification.NewBuilder(repo, bus)
	ev := followEvent("alice", "bob")
	ev.Metadata = map[string]any{"profile_image": "alice.png"}

	n, err := b.Build(context.Background(), ev)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.NotZero(t, n.ID)
	assert.Equal(t, "alice started following you", n.Content)
	assert.False(t, n.IsRead)

	select {
	case got := <-ch:
		assert.Equal(t, pubsub.EventNotification, got.Type)
		assert.Equal(t, "bob", got.Topic)

		var payload notification.PushNotification
		require.NoError(t, got.UnmarshalPayload(&payload))
		assert.Equal(t, n.ID, payload.ID)
		assert.Equal(t, notification.KindFollow, payload.Kind)
		assert.JSONEq(t, `{"profile_image":"alice.png"}`, string(payload.Metadata))
	case <-time.After(time.Second):
		t.Fatal("notification not published")
	}
}

func TestBuilder_Build_SkipsSelfNotification(t *testing.T) {
	repo := newRepo(t)
	bus := pubsub.NewMemoryPubSub(8)
	defer bus.Close()
	ch, err := bus.SubscribePattern(context.Background(), pubsub.PatternNotification)
	require.NoError(t, err)

	b := notification.NewBuilder(repo, bus)
	n, err := b.Build(context.Background(), followEvent("alice", "alice"))

	assert.ErrorIs(t, err, notification.ErrSelfNotification)
	assert.Nil(t, n)

	count, err := repo.UnreadCount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Zero(t, count)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected publish %s", ev.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBuilder_Build_PublishFailureKeepsStoredRow(t *testing.T) {
	repo := newRepo(t)
	b := notification.NewBuilder(repo, failingPublisher{})

	n, err := b.Build(context.Background(), followEvent("alice", "bob"))
	require.NoError(t, err)
	require.NotNil(t, n)

	count, err := repo.UnreadCount(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestBuilder_Build_StorageFailure(t *testing.T) {
	b := notification.NewBuilder(failingRepo{}, pubsub.NewMemoryPubSub(1))

	_, err := b.Build(context.Background(), followEvent("alice", "bob"))
	assert.True(t, apperr.Is(err, apperr.KindStorage))

	// Notify swallows the same failure.
	assert.NotPanics(t, func() { b.Notify(context.Background(), followEvent("alice", "bob")) })
}

func TestBuilder_Build_RejectsUnknownKind(t *testing.T) {
	b := notification.NewBuilder(newRepo(t), pubsub.NewMemoryPubSub(1))

	_, err := b.Build(context.Background(), notification.Event{Kind: "poke", Actor: "a", Receiver: "b"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestDeferred_RunsNotify(t *testing.T) {
	repo := newRepo(t)
	b := notification.NewBuilder(repo, pubsub.NewMemoryPubSub(1))

	effect := notification.Deferred(b, followEvent("alice", "bob"))
	effect(context.Background())

	count, err := repo.UnreadCount(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
