package database

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"

	pkglog "github.com/nail-dp-dev/naildp-realtime/pkg/log"
)

// Effect is a side effect that must only run after its unit of work commits.
type Effect func(ctx context.Context)

// AfterCommit collects effects registered inside a transaction.
type AfterCommit struct {
	mu      sync.Mutex
	effects []Effect
}

// Defer queues fn to run once the enclosing transaction has committed.
// Effects are dropped when the transaction rolls back.
func (a *AfterCommit) Defer(fn Effect) {
	a.mu.Lock()
	a.effects = append(a.effects, fn)
	a.mu.Unlock()
}

// Len reports the number of queued effects.
func (a *AfterCommit) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.effects)
}

func (a *AfterCommit) drain() []Effect {
	a.mu.Lock()
	defer a.mu.Unlock()
	effects := a.effects
	a.effects = nil
	return effects
}

// UnitOfWork runs business operations in a transaction and drains their
// deferred effects only after a successful commit.
type UnitOfWork struct {
	db *gorm.DB
}

// NewUnitOfWork creates a UnitOfWork over db.
func NewUnitOfWork(db *gorm.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// DB returns the underlying handle for non-transactional reads.
func (u *UnitOfWork) DB() *gorm.DB {
	return u.db
}

// Do runs fn in a transaction. Effects queued on after run in order once the
// transaction has committed, with a context detached from the caller's
// cancellation so a finished request does not abort them. A panicking effect
// is logged and does not stop the remaining effects.
func (u *UnitOfWork) Do(ctx context.Context, fn func(tx *gorm.DB, after *AfterCommit) error) error {
	after := &AfterCommit{}

	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, after)
	})
	if err != nil {
		return err
	}

	effectCtx := context.WithoutCancel(ctx)
	for i, effect := range after.drain() {
		runEffect(effectCtx, i, effect)
	}
	return nil
}

func runEffect(ctx context.Context, index int, effect Effect) {
	defer func() {
		if r := recover(); r != nil {
			l := pkglog.Ctx(ctx)
			l.Error().Int("effect", index).Str("panic", fmt.Sprint(r)).Msg("post-commit effect panicked")
		}
	}()
	effect(ctx)
}
