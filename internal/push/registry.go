package push

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nail-dp-dev/naildp-realtime/pkg/apperr"
	pkglog "github.com/nail-dp-dev/naildp-realtime/pkg/log"
)

// Presence receives registry membership changes. Implementations must not
// block: calls are made while the registry lock is held.
type Presence interface {
	Track(scope, key, sessionID string)
	Untrack(scope, key, sessionID string)
}

// Options configures a Registry.
type Options struct {
	// IdleTimeout is how long a handle may go without Touch before Prune
	// removes it. Zero disables pruning.
	IdleTimeout time.Duration
	// PruneInterval is the Run loop period. Defaults to IdleTimeout/2.
	PruneInterval time.Duration
	Presence      Presence
	// Clock overrides time.Now.
	Clock func() time.Time
}

type entry struct {
	handle   Handle
	lastSeen atomic.Int64 // unix nanos
}

// Registry maps (key, session) pairs to live handles. Keys are nicknames for
// notification streams and room ids for chat streams.
type Registry struct {
	scope string
	opts  Options
	now   func() time.Time

	mu      sync.RWMutex
	handles map[string]map[string]*entry
	lastSeq map[string]int64

	// seqMu serialises FanoutSequenced so gate check and enqueue happen in
	// the same order for every handle.
	seqMu sync.Mutex
}

// NewRegistry creates an empty registry. scope names it in logs and presence
// keys.
func NewRegistry(scope string, opts Options) *Registry {
	if opts.PruneInterval <= 0 && opts.IdleTimeout > 0 {
		opts.PruneInterval = opts.IdleTimeout / 2
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Registry{
		scope:   scope,
		opts:    opts,
		now:     now,
		handles: make(map[string]map[string]*entry),
		lastSeq: make(map[string]int64),
	}
}

// Scope returns the registry name.
func (r *Registry) Scope() string {
	return r.scope
}

// Connect registers h for (key, sessionID). An existing handle for the pair is
// closed and replaced in the same critical section.
func (r *Registry) Connect(key, sessionID string, h Handle) {
	e := &entry{handle: h}
	e.lastSeen.Store(r.now().UnixNano())

	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.handles[key]
	if !ok {
		sessions = make(map[string]*entry)
		r.handles[key] = sessions
	}
	if old, ok := sessions[sessionID]; ok && old.handle != h {
		old.handle.Close()
	}
	sessions[sessionID] = e

	if r.opts.Presence != nil {
		r.opts.Presence.Track(r.scope, key, sessionID)
	}
}

// Disconnect removes and closes whatever handle is registered for the pair.
// Calling it for an unknown pair is a no-op.
func (r *Registry) Disconnect(key, sessionID string) {
	r.mu.Lock()
	e := r.removeLocked(key, sessionID, nil)
	r.mu.Unlock()

	if e != nil {
		e.handle.Close()
	}
}

// DisconnectOwner removes and closes every handle of key whose session was
// opened by owner (see OwnerSession) and returns how many were closed.
func (r *Registry) DisconnectOwner(key, owner string) int {
	prefix := OwnerSession(owner, "")

	var closed []Handle
	r.mu.Lock()
	for sid, e := range r.handles[key] {
		if strings.HasPrefix(sid, prefix) {
			r.removeLocked(key, sid, e.handle)
			closed = append(closed, e.handle)
		}
	}
	r.mu.Unlock()

	for _, h := range closed {
		h.Close()
	}
	return len(closed)
}

// Release removes the pair only if h is still the registered handle. A handle
// calls this from its own teardown so it never evicts a successor. It reports
// whether h was removed.
func (r *Registry) Release(key, sessionID string, h Handle) bool {
	r.mu.Lock()
	e := r.removeLocked(key, sessionID, h)
	r.mu.Unlock()

	return e != nil
}

// removeLocked deletes the pair when it matches want (any handle when want is
// nil) and returns the removed entry.
func (r *Registry) removeLocked(key, sessionID string, want Handle) *entry {
	sessions, ok := r.handles[key]
	if !ok {
		return nil
	}
	e, ok := sessions[sessionID]
	if !ok || (want != nil && e.handle != want) {
		return nil
	}

	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(r.handles, key)
		delete(r.lastSeq, key)
	}
	if r.opts.Presence != nil {
		r.opts.Presence.Untrack(r.scope, key, sessionID)
	}
	return e
}

// Touch records activity for the pair.
func (r *Registry) Touch(key, sessionID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.handles[key][sessionID]; ok {
		e.lastSeen.Store(r.now().UnixNano())
	}
}

type target struct {
	sessionID string
	handle    Handle
}

func (r *Registry) snapshotLocked(key string) []target {
	sessions := r.handles[key]
	if len(sessions) == 0 {
		return nil
	}
	out := make([]target, 0, len(sessions))
	for sid, e := range sessions {
		out = append(out, target{sessionID: sid, handle: e.handle})
	}
	return out
}

// Fanout enqueues env on every handle of key and returns how many accepted
// it. A handle that cannot accept is closed and removed; the others are
// unaffected.
func (r *Registry) Fanout(key string, env Envelope) int {
	r.mu.RLock()
	targets := r.snapshotLocked(key)
	r.mu.RUnlock()

	return r.deliver(key, targets, env)
}

// FanoutSequenced is Fanout with a per-key ordering gate: an envelope whose
// seq is not greater than the last one delivered for key is dropped. A
// duplicate is dropped silently; a lower seq is replaced by a TypeGap
// envelope so clients know to refetch history. The return value counts only
// handles that accepted env itself.
func (r *Registry) FanoutSequenced(key string, seq int64, env Envelope) int {
	r.seqMu.Lock()
	defer r.seqMu.Unlock()

	r.mu.Lock()
	targets := r.snapshotLocked(key)
	if len(targets) == 0 {
		r.mu.Unlock()
		return 0
	}
	if last := r.lastSeq[key]; seq <= last {
		r.mu.Unlock()
		l := pkglog.L()
		l.Debug().Str("scope", r.scope).Str("key", key).Int64(pkglog.FieldSeq, seq).Int64("last_seq", last).
			Msg("dropping out-of-order envelope")
		if seq < last {
			r.notifyGap(key, targets, seq, last)
		}
		return 0
	}
	r.lastSeq[key] = seq
	r.mu.Unlock()

	return r.deliver(key, targets, env)
}

func (r *Registry) notifyGap(key string, targets []target, missed, last int64) {
	gap, err := NewEnvelope(TypeGap, Gap{MissedSeq: missed, LastSeq: last})
	if err != nil {
		return
	}
	r.deliver(key, targets, gap)
}

func (r *Registry) deliver(key string, targets []target, env Envelope) int {
	delivered := 0
	for _, t := range targets {
		if err := t.handle.Send(env); err != nil {
			derr := apperr.Delivery("push enqueue failed", err)
			l := pkglog.L()
			l.Warn().Err(derr).
				Str("scope", r.scope).
				Str("key", key).
				Str(pkglog.FieldSessionID, t.sessionID).
				Str(pkglog.FieldEventID, env.ID).
				Msg("closing push handle")

			r.Release(key, t.sessionID, t.handle)
			t.handle.Close()
			continue
		}
		delivered++
	}
	return delivered
}

// Prune closes and removes handles idle for longer than IdleTimeout.
func (r *Registry) Prune() int {
	if r.opts.IdleTimeout <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.opts.IdleTimeout).UnixNano()

	var stale []Handle
	r.mu.Lock()
	for key, sessions := range r.handles {
		for sid, e := range sessions {
			if e.lastSeen.Load() < cutoff {
				r.removeLocked(key, sid, e.handle)
				stale = append(stale, e.handle)
			}
		}
	}
	r.mu.Unlock()

	for _, h := range stale {
		h.Close()
	}
	return len(stale)
}

// Run prunes idle handles until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	if r.opts.IdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(r.opts.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Prune(); n > 0 {
				l := pkglog.L()
				l.Info().Str("scope", r.scope).Int("pruned", n).Msg("pruned idle push handles")
			}
		}
	}
}

// Count returns the number of handles registered for key.
func (r *Registry) Count(key string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles[key])
}

// Len returns the total number of registered handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, sessions := range r.handles {
		n += len(sessions)
	}
	return n
}

// CloseAll closes and removes every handle. Used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	var all []Handle
	for key, sessions := range r.handles {
		for sid, e := range sessions {
			r.removeLocked(key, sid, e.handle)
			all = append(all, e.handle)
		}
	}
	r.mu.Unlock()

	for _, h := range all {
		h.Close()
	}
}

// CloseOnShutdown closes every handle of regs as soon as srv begins shutting
// down. Open streams otherwise keep their connections active and hold
// Shutdown until its deadline.
func CloseOnShutdown(srv *http.Server, regs ...*Registry) {
	srv.RegisterOnShutdown(func() {
		for _, r := range regs {
			r.CloseAll()
		}
	})
}
