package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/wavelink/auth-service/internal/models"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRepo(t *testing.T) (*GormRepo, *fakeClock) {
	t.Helper()

	// a named shared-cache memory db keeps every connection on the same
	// in-memory db while still allowing concurrent connections
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	// keep idle connections open so the memory db outlives individual queries
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxIdleConns(4)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.RefreshToken{},
		&models.PasswordResetToken{},
		&models.UserSession{},
	))

	clk := &fakeClock{t: time.Now().UTC().Truncate(time.Second)}
	r := New(db)
	r.Now = clk.Now
	return r, clk
}

func createTestUser(t *testing.T, r *GormRepo, email, username string) *models.User {
	t.Helper()

	user, err := r.CreateUser(context.Background(), email, username, "Test User", "hash")
	require.NoError(t, err)
	return user
}
