// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nail-dp-dev/naildp-realtime/pkg/database"
	"github.com/nail-dp-dev/naildp-realtime/pkg/jwt"
	"github.com/nail-dp-dev/naildp-realtime/pkg/middleware"
)

// OpenDB returns a private in-memory sqlite database migrated for models.
// A single connection keeps transactions serialised the way row locks do.
func OpenDB(t *testing.T, models ...interface{}) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.New(&database.Config{
		Driver:       "sqlite",
		FilePath:     "file:" + name + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, models...))

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	return db
}

// Auth returns a token manager and the middleware validating its tokens.
func Auth(t *testing.T) (*jwt.Manager, *middleware.AuthMiddleware) {
	t.Helper()
	mgr, err := jwt.NewManager("test-secret", "naildp-test", time.Hour)
	require.NoError(t, err)
	return mgr, middleware.NewAuthMiddleware(mgr)
}

// Bearer issues a token for nickname and returns the Authorization value.
func Bearer(t *testing.T, mgr *jwt.Manager, nickname string) string {
	t.Helper()
	token, _, err := mgr.Issue("uid-"+nickname, nickname)
	require.NoError(t, err)
	return middleware.BearerPrefix + token
}
