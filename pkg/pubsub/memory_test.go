package pubsub_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nail-dp-dev/naildp-realtime/pkg/pubsub"
)

func receive(t *testing.T, ch <-chan *pubsub.Event) *pubsub.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func assertNoEvent(t *testing.T, ch <-chan *pubsub.Event) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event %s", ev.ID)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryPubSub_PatternAndExact(t *testing.T) {
	bus := pubsub.NewMemoryPubSub(8)
	defer bus.Close()
	ctx := context.Background()

	all, err := bus.SubscribePattern(ctx, pubsub.PatternNotification)
	require.NoError(t, err)
	bob, err := bus.Subscribe(ctx, pubsub.NotificationChannel("bob"))
	require.NoError(t, err)
	rooms, err := bus.SubscribePattern(ctx, pubsub.PatternChatRoom)
	require.NoError(t, err)

	ev, err := pubsub.NewEvent(pubsub.EventNotification, "bob", map[string]string{"kind": "FOLLOW"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, pubsub.NotificationChannel("bob"), ev))

	assert.Equal(t, ev.ID, receive(t, all).ID)
	assert.Equal(t, ev.ID, receive(t, bob).ID)
	assertNoEvent(t, rooms)
}

func TestMemoryPubSub_SubscribersGetCopies(t *testing.T) {
	bus := pubsub.NewMemoryPubSub(8)
	defer bus.Close()
	ctx := context.Background()

	a, err := bus.Subscribe(ctx, pubsub.RoomChannel("r1"))
	require.NoError(t, err)
	b, err := bus.SubscribePattern(ctx, pubsub.PatternChatRoom)
	require.NoError(t, err)

	ev, err := pubsub.NewEvent(pubsub.EventChatMessage, "r1", "hello")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, pubsub.RoomChannel("r1"), ev))

	got1 := receive(t, a)
	got2 := receive(t, b)
	got1.Topic = "mutated"
	assert.Equal(t, "r1", got2.Topic)
}

func TestMemoryPubSub_FullBufferDropsForThatSubscriberOnly(t *testing.T) {
	bus := pubsub.NewMemoryPubSub(1)
	defer bus.Close()
	ctx := context.Background()

	slow, err := bus.Subscribe(ctx, pubsub.RoomChannel("r1"))
	require.NoError(t, err)
	fast, err := bus.SubscribePattern(ctx, pubsub.PatternChatRoom)
	require.NoError(t, err)

	first, _ := pubsub.NewEvent(pubsub.EventChatMessage, "r1", 1)
	second, _ := pubsub.NewEvent(pubsub.EventChatMessage, "r1", 2)

	require.NoError(t, bus.Publish(ctx, pubsub.RoomChannel("r1"), first))
	assert.Equal(t, first.ID, receive(t, fast).ID)
	require.NoError(t, bus.Publish(ctx, pubsub.RoomChannel("r1"), second))
	assert.Equal(t, second.ID, receive(t, fast).ID)

	assert.Equal(t, first.ID, receive(t, slow).ID)
	assertNoEvent(t, slow)
}

func TestMemoryPubSub_ContextCancelClosesChannel(t *testing.T) {
	bus := pubsub.NewMemoryPubSub(4)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(ctx, pubsub.NotificationChannel("alice"))
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestMemoryPubSub_ResubscribeReplaces(t *testing.T) {
	bus := pubsub.NewMemoryPubSub(4)
	defer bus.Close()
	ctx := context.Background()

	old, err := bus.Subscribe(ctx, pubsub.NotificationChannel("alice"))
	require.NoError(t, err)
	fresh, err := bus.Subscribe(ctx, pubsub.NotificationChannel("alice"))
	require.NoError(t, err)

	_, ok := <-old
	assert.False(t, ok)

	ev, _ := pubsub.NewEvent(pubsub.EventNotification, "alice", nil)
	require.NoError(t, bus.Publish(ctx, pubsub.NotificationChannel("alice"), ev))
	assert.Equal(t, ev.ID, receive(t, fresh).ID)
}

func TestMemoryPubSub_Closed(t *testing.T) {
	bus := pubsub.NewMemoryPubSub(4)
	require.NoError(t, bus.Close())

	ev, _ := pubsub.NewEvent(pubsub.EventNotification, "alice", nil)
	assert.ErrorIs(t, bus.Publish(context.Background(), pubsub.NotificationChannel("alice"), ev), pubsub.ErrClosed)

	_, err := bus.Subscribe(context.Background(), pubsub.NotificationChannel("alice"))
	assert.ErrorIs(t, err, pubsub.ErrClosed)
}

func TestNewPubSub_UnsupportedDriver(t *testing.T) {
	_, err := pubsub.NewPubSub(pubsub.Config{Driver: "nats"})
	assert.Error(t, err)

	ps, err := pubsub.NewPubSub(pubsub.Config{Driver: "memory"})
	require.NoError(t, err)
	assert.NoError(t, ps.Close())
}
