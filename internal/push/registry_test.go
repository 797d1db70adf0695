package push_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nail-dp-dev/naildp-realtime/internal/push"
)

func envelope(t *testing.T, n int) push.Envelope {
	t.Helper()
	env, err := push.NewEnvelope("test", map[string]int{"n": n})
	require.NoError(t, err)
	return env
}

func isClosed(h push.Handle) bool {
	select {
	case <-h.Done():
		return true
	default:
		return false
	}
}

func drain(h *push.SSEHandle) []push.Envelope {
	var out []push.Envelope
	for {
		select {
		case env := <-h.Messages():
			out = append(out, env)
		default:
			return out
		}
	}
}

type fakePresence struct {
	mu     sync.Mutex
	active map[string]bool
}

func newFakePresence() *fakePresence {
	return &fakePresence{active: make(map[string]bool)}
}

func (p *fakePresence) Track(scope, key, sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[scope+"/"+key+"/"+sessionID] = true
}

func (p *fakePresence) Untrack(scope, key, sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, scope+"/"+key+"/"+sessionID)
}

func (p *fakePresence) has(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active[id]
}

func TestRegistry_ConnectReplacesAndClosesPrevious(t *testing.T) {
	reg := push.NewRegistry("notification", push.Options{})

	first := push.NewSSEHandle(8)
	second := push.NewSSEHandle(8)

	reg.Connect("bob", "s1", first)
	reg.Connect("bob", "s1", second)

	assert.True(t, isClosed(first), "replaced handle must be closed")
	assert.False(t, isClosed(second))
	assert.Equal(t, 1, reg.Count("bob"))

	assert.Equal(t, 1, reg.Fanout("bob", envelope(t, 1)))
	assert.Len(t, drain(second), 1)
	assert.Empty(t, drain(first))
}

func TestRegistry_ReleaseDoesNotEvictSuccessor(t *testing.T) {
	reg := push.NewRegistry("notification", push.Options{})

	first := push.NewSSEHandle(8)
	second := push.NewSSEHandle(8)
	reg.Connect("bob", "s1", first)
	reg.Connect("bob", "s1", second)

	// The first handle's teardown runs after it was replaced.
	assert.False(t, reg.Release("bob", "s1", first))
	assert.Equal(t, 1, reg.Count("bob"))

	assert.True(t, reg.Release("bob", "s1", second))
	assert.Equal(t, 0, reg.Count("bob"))
}

func TestRegistry_FanoutPreservesOrderPerHandle(t *testing.T) {
	reg := push.NewRegistry("notification", push.Options{})
	h := push.NewSSEHandle(16)
	reg.Connect("bob", "s1", h)

	var sent []string
	for i := 0; i < 10; i++ {
		env := envelope(t, i)
		sent = append(sent, env.ID)
		require.Equal(t, 1, reg.Fanout("bob", env))
	}

	var got []string
	for _, env := range drain(h) {
		got = append(got, env.ID)
	}
	assert.Equal(t, sent, got)
}

func TestRegistry_FailedEnqueueRemovesOnlyThatHandle(t *testing.T) {
	presence := newFakePresence()
	reg := push.NewRegistry("notification", push.Options{Presence: presence})

	slow := push.NewSSEHandle(1)
	fast := push.NewSSEHandle(8)
	reg.Connect("bob", "slow", slow)
	reg.Connect("bob", "fast", fast)

	assert.Equal(t, 2, reg.Fanout("bob", envelope(t, 1)))
	// slow's buffer is now full.
	assert.Equal(t, 1, reg.Fanout("bob", envelope(t, 2)))

	assert.True(t, isClosed(slow))
	assert.False(t, isClosed(fast))
	assert.Equal(t, 1, reg.Count("bob"))
	assert.Len(t, drain(fast), 2)
	assert.False(t, presence.has("notification/bob/slow"))
	assert.True(t, presence.has("notification/bob/fast"))
}

func TestRegistry_DisconnectIsIdempotent(t *testing.T) {
	reg := push.NewRegistry("notification", push.Options{})
	h := push.NewSSEHandle(8)
	reg.Connect("bob", "s1", h)

	reg.Disconnect("bob", "s1")
	reg.Disconnect("bob", "s1")
	reg.Disconnect("nobody", "s9")

	assert.True(t, isClosed(h))
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, reg.Fanout("bob", envelope(t, 1)))
}

func TestRegistry_DisconnectOwnerClosesOnlyThatOwner(t *testing.T) {
	presence := newFakePresence()
	reg := push.NewRegistry("chat", push.Options{Presence: presence})

	bobPhone := push.NewSSEHandle(8)
	bobLaptop := push.NewSSEHandle(8)
	bobby := push.NewSSEHandle(8)
	alice := push.NewSSEHandle(8)
	other := push.NewSSEHandle(8)
	reg.Connect("room-1", push.OwnerSession("bob", "phone"), bobPhone)
	reg.Connect("room-1", push.OwnerSession("bob", "laptop"), bobLaptop)
	reg.Connect("room-1", push.OwnerSession("bobby", "s1"), bobby)
	reg.Connect("room-1", push.OwnerSession("alice", "s1"), alice)
	reg.Connect("room-2", push.OwnerSession("bob", "phone"), other)

	assert.Equal(t, 2, reg.DisconnectOwner("room-1", "bob"))

	assert.True(t, isClosed(bobPhone))
	assert.True(t, isClosed(bobLaptop))
	assert.False(t, isClosed(bobby))
	assert.False(t, isClosed(alice))
	assert.False(t, isClosed(other))
	assert.Equal(t, 2, reg.Count("room-1"))
	assert.Equal(t, 1, reg.Count("room-2"))
	assert.False(t, presence.has("chat/room-1/bob:phone"))
	assert.True(t, presence.has("chat/room-2/bob:phone"))

	assert.Equal(t, 0, reg.DisconnectOwner("room-1", "bob"))
	assert.Equal(t, 0, reg.DisconnectOwner("ghost", "bob"))
}

func TestRegistry_FanoutToUnknownKey(t *testing.T) {
	reg := push.NewRegistry("notification", push.Options{})
	assert.Equal(t, 0, reg.Fanout("ghost", envelope(t, 1)))
}

func TestRegistry_FanoutSequencedDropsStale(t *testing.T) {
	reg := push.NewRegistry("chat", push.Options{})
	h := push.NewSSEHandle(16)
	reg.Connect("room-1", "s1", h)

	assert.Equal(t, 1, reg.FanoutSequenced("room-1", 1, envelope(t, 1)))
	assert.Equal(t, 1, reg.FanoutSequenced("room-1", 3, envelope(t, 3)))
	assert.Equal(t, 0, reg.FanoutSequenced("room-1", 2, envelope(t, 2)), "seq below high-water mark")
	assert.Equal(t, 0, reg.FanoutSequenced("room-1", 3, envelope(t, 3)), "duplicate seq")
	assert.Equal(t, 1, reg.FanoutSequenced("room-1", 4, envelope(t, 4)))

	got := drain(h)
	require.Len(t, got, 4)
	assert.Equal(t, "test", got[1].Type)

	// seq 2 lost the race against seq 3: the stream is told, the duplicate
	// is not reported.
	gap := got[2]
	assert.Equal(t, push.TypeGap, gap.Type)
	assert.Zero(t, gap.Seq)
	assert.JSONEq(t, `{"missed_seq":2,"last_seq":3}`, string(gap.Payload))
	assert.Equal(t, "test", got[3].Type)
}

func TestRegistry_FanoutSequencedConcurrentNeverInverts(t *testing.T) {
	reg := push.NewRegistry("chat", push.Options{})
	h := push.NewSSEHandle(256)
	reg.Connect("room-1", "s1", h)

	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(seq int64) {
			defer wg.Done()
			env, _ := push.NewEnvelope("chat.message", nil)
			env.Seq = seq
			reg.FanoutSequenced("room-1", seq, env)
		}(int64(i))
	}
	wg.Wait()

	var last int64
	for _, env := range drain(h) {
		if env.Type == push.TypeGap {
			continue
		}
		assert.Greater(t, env.Seq, last)
		last = env.Seq
	}
}

func TestRegistry_PruneRemovesIdleHandles(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	reg := push.NewRegistry("notification", push.Options{IdleTimeout: time.Minute, Clock: clock})
	idle := push.NewSSEHandle(8)
	active := push.NewSSEHandle(8)
	reg.Connect("bob", "idle", idle)
	reg.Connect("bob", "active", active)

	advance(50 * time.Second)
	reg.Touch("bob", "active")
	advance(20 * time.Second)

	assert.Equal(t, 1, reg.Prune())
	assert.True(t, isClosed(idle))
	assert.False(t, isClosed(active))
	assert.Equal(t, 1, reg.Count("bob"))
}

func TestRegistry_CloseAll(t *testing.T) {
	reg := push.NewRegistry("notification", push.Options{})
	var handles []*push.SSEHandle
	for i := 0; i < 3; i++ {
		h := push.NewSSEHandle(1)
		handles = append(handles, h)
		reg.Connect(fmt.Sprintf("user-%d", i), "s", h)
	}

	reg.CloseAll()

	assert.Equal(t, 0, reg.Len())
	for _, h := range handles {
		assert.True(t, isClosed(h))
	}
}
