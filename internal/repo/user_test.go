package repo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/wavelink/auth-service/internal/models"
)

func TestCreateUser_NormalizesAndRejectsDuplicates(t *testing.T) {
	t.Parallel()

	r, _ := newTestRepo(t)
	ctx := context.Background()

	user, err := r.CreateUser(ctx, "Alice@X.com", "Alice", "Alice", "hash")
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", user.Email)
	assert.Equal(t, "alice", user.Username)

	_, err = r.CreateUser(ctx, "alice@x.com", "other", "Other", "hash")
	require.ErrorIs(t, err, ErrDuplicate)

	_, err = r.CreateUser(ctx, "other@x.com", "ALICE", "Other", "hash")
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestCreateUser_InsertRaceCollapsesToDuplicate(t *testing.T) {
	t.Parallel()

	r, _ := newTestRepo(t)
	ctx := context.Background()

	// Sneak a conflicting row in after the existence check but before
	// the insert runs, the way a concurrent registration wins the race.
	sneaked := false
	err := r.DB.Callback().Create().Before("gorm:create").Register("sneak_conflicting_user", func(tx *gorm.DB) {
		if sneaked {
			return
		}
		if _, ok := tx.Statement.Dest.(*models.User); !ok {
			return
		}
		sneaked = true
		rival := models.User{
			ID:           uuid.NewString(),
			Email:        "race@x.com",
			Username:     "rival",
			DisplayName:  "Rival",
			PasswordHash: "hash",
			Role:         "user",
		}
		tx.AddError(r.DB.Session(&gorm.Session{NewDB: true}).Create(&rival).Error)
	})
	require.NoError(t, err)

	_, err = r.CreateUser(ctx, "race@x.com", "racer", "Racer", "hash")
	require.ErrorIs(t, err, ErrDuplicate)
	assert.True(t, sneaked)
}

func TestFindUserByIdentifier_CaseInsensitive(t *testing.T) {
	t.Parallel()

	r, _ := newTestRepo(t)
	ctx := context.Background()
	created := createTestUser(t, r, "bob@x.com", "bobby")

	byEmail, err := r.FindUserByIdentifier(ctx, "BOB@X.COM")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	byUsername, err := r.FindUserByIdentifier(ctx, "Bobby")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byUsername.ID)

	_, err = r.FindUserByIdentifier(ctx, "nobody")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestTakenChecks(t *testing.T) {
	t.Parallel()

	r, _ := newTestRepo(t)
	ctx := context.Background()
	createTestUser(t, r, "carol@x.com", "carol")

	taken, err := r.EmailTaken(ctx, "Carol@X.com")
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = r.UsernameTaken(ctx, "CAROL")
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = r.EmailTaken(ctx, "free@x.com")
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestRecordLoginFailure_OpensLockoutAtThreshold(t *testing.T) {
	t.Parallel()

	r, clk := newTestRepo(t)
	ctx := context.Background()
	user := createTestUser(t, r, "dora@x.com", "dora")

	locked, err := r.RecordLoginFailure(ctx, user.ID, 3, 15*time.Minute)
	require.NoError(t, err)
	assert.False(t, locked)

	locked, err = r.RecordLoginFailure(ctx, user.ID, 3, 15*time.Minute)
	require.NoError(t, err)
	assert.False(t, locked)

	locked, err = r.RecordLoginFailure(ctx, user.ID, 3, 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, locked)

	got, err := r.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LockoutUntil)
	assert.WithinDuration(t, clk.Now().Add(15*time.Minute), *got.LockoutUntil, time.Second)
	assert.Zero(t, got.FailedLogins)
}

func TestRecordLoginFailure_LapsedWindowRestartsCount(t *testing.T) {
	t.Parallel()

	r, clk := newTestRepo(t)
	ctx := context.Background()
	user := createTestUser(t, r, "fred@x.com", "fred")

	// two failures, then the window lapses before the third
	for i := 0; i < 2; i++ {
		locked, err := r.RecordLoginFailure(ctx, user.ID, 3, 15*time.Minute)
		require.NoError(t, err)
		assert.False(t, locked)
	}
	clk.Advance(16 * time.Minute)

	locked, err := r.RecordLoginFailure(ctx, user.ID, 3, 15*time.Minute)
	require.NoError(t, err)
	assert.False(t, locked)

	got, err := r.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LockoutUntil)
	assert.Equal(t, 1, got.FailedLogins)

	// two more inside the fresh window cross the threshold
	clk.Advance(time.Minute)
	locked, err = r.RecordLoginFailure(ctx, user.ID, 3, 15*time.Minute)
	require.NoError(t, err)
	assert.False(t, locked)

	locked, err = r.RecordLoginFailure(ctx, user.ID, 3, 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestRecordLoginSuccess_ClearsLockout(t *testing.T) {
	t.Parallel()

	r, clk := newTestRepo(t)
	ctx := context.Background()
	user := createTestUser(t, r, "eve@x.com", "eve")

	_, err := r.RecordLoginFailure(ctx, user.ID, 1, 15*time.Minute)
	require.NoError(t, err)

	require.NoError(t, r.RecordLoginSuccess(ctx, user.ID))

	got, err := r.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LockoutUntil)
	assert.Zero(t, got.FailedLogins)
	require.NotNil(t, got.LastLoginAt)
	assert.WithinDuration(t, clk.Now(), *got.LastLoginAt, time.Second)
}

func TestUpdatePassword_UnknownUser(t *testing.T) {
	t.Parallel()

	r, _ := newTestRepo(t)
	err := r.UpdatePassword(context.Background(), "no-such-id", "hash")
	require.ErrorIs(t, err, ErrUserNotFound)
}
