package database_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nail-dp-dev/naildp-realtime/pkg/database"
)

type widget struct {
	ID   uint `gorm:"primaryKey"`
	Name string
	Tags database.StringArray
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.New(&database.Config{
		Driver:       "sqlite",
		FilePath:     "file:" + t.Name() + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, &widget{}))

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	return db
}

func TestUnitOfWork_Do_RunsEffectsAfterCommit(t *testing.T) {
	db := openDB(t)
	uow := database.NewUnitOfWork(db)

	var seen []int64
	err := uow.Do(context.Background(), func(tx *gorm.DB, after *database.AfterCommit) error {
		if err := tx.Create(&widget{Name: "a"}).Error; err != nil {
			return err
		}
		after.Defer(func(ctx context.Context) {
			// The effect observes the committed row from outside the transaction.
			var count int64
			db.WithContext(ctx).Model(&widget{}).Count(&count)
			seen = append(seen, count)
		})
		assert.Equal(t, 1, after.Len())
		assert.Empty(t, seen, "effect must not run inside the transaction")
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int64{1}, seen)
}

func TestUnitOfWork_Do_DropsEffectsOnRollback(t *testing.T) {
	db := openDB(t)
	uow := database.NewUnitOfWork(db)

	ran := false
	boom := errors.New("boom")
	err := uow.Do(context.Background(), func(tx *gorm.DB, after *database.AfterCommit) error {
		require.NoError(t, tx.Create(&widget{Name: "a"}).Error)
		after.Defer(func(context.Context) { ran = true })
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.False(t, ran)

	var count int64
	require.NoError(t, db.Model(&widget{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestUnitOfWork_Do_EffectOrderAndPanicIsolation(t *testing.T) {
	db := openDB(t)
	uow := database.NewUnitOfWork(db)

	var order []string
	err := uow.Do(context.Background(), func(tx *gorm.DB, after *database.AfterCommit) error {
		after.Defer(func(context.Context) { order = append(order, "first") })
		after.Defer(func(context.Context) { panic("bad effect") })
		after.Defer(func(context.Context) { order = append(order, "third") })
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"first", "third"}, order)
}

func TestUnitOfWork_Do_DetachesCancellation(t *testing.T) {
	db := openDB(t)
	uow := database.NewUnitOfWork(db)

	ctx, cancel := context.WithCancel(context.Background())
	var effectErr error
	err := uow.Do(ctx, func(tx *gorm.DB, after *database.AfterCommit) error {
		after.Defer(func(ctx context.Context) { effectErr = ctx.Err() })
		cancel()
		return nil
	})

	// Cancelling mid-transaction makes the commit itself fail on some drivers;
	// when it does commit, the effect must see a live context.
	if err == nil {
		assert.NoError(t, effectErr)
	}
}

func TestStringArray_RoundTrip(t *testing.T) {
	db := openDB(t)

	require.NoError(t, db.Create(&widget{Name: "w", Tags: database.StringArray{"a", "b,c"}}).Error)
	require.NoError(t, db.Create(&widget{Name: "empty"}).Error)

	var got []widget
	require.NoError(t, db.Order("id").Find(&got).Error)
	require.Len(t, got, 2)
	assert.Equal(t, database.StringArray{"a", "b,c"}, got[0].Tags)
	assert.Empty(t, got[1].Tags)
}

func TestNew_UnsupportedDriver(t *testing.T) {
	_, err := database.New(&database.Config{Driver: "oracle"})
	assert.Error(t, err)
}
