package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wavelink/auth-service/internal/models"
)

// Emails and usernames are stored lowercased so the unique indexes
// enforce case-insensitive uniqueness at insert time.

func (r *GormRepo) FindUserByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	ident := strings.ToLower(strings.TrimSpace(identifier))
	var user models.User
	err := r.DB.WithContext(ctx).
		Where("email = ? OR username = ?", ident, ident).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *GormRepo) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.DB.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *GormRepo) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *GormRepo) EmailTaken(ctx context.Context, email string) (bool, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&models.User{}).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		Count(&count).Error
	return count > 0, err
}

func (r *GormRepo) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&models.User{}).
		Where("username = ?", strings.ToLower(strings.TrimSpace(username))).
		Count(&count).Error
	return count > 0, err
}

// CreateUser inserts the user unless the email or username is already
// taken. The pre-checks in the service are advisory only; the unique
// indexes are the authoritative race check, so a constraint violation
// from a concurrent insert collapses into the same ErrDuplicate as the
// lookup path.
func (r *GormRepo) CreateUser(ctx context.Context, email, username, displayName, passwordHash string) (*models.User, error) {
	user := models.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		Username:     strings.ToLower(strings.TrimSpace(username)),
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		Role:         "user",
	}

	tx := r.DB.WithContext(ctx).
		Where("email = ? OR username = ?", user.Email, user.Username).
		FirstOrCreate(&user)
	if tx.Error != nil {
		if errors.Is(tx.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicate
		}
		return nil, tx.Error
	}
	if tx.RowsAffected == 0 {
		return nil, ErrDuplicate
	}
	return &user, nil
}

func (r *GormRepo) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res := r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("password_hash", passwordHash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RecordLoginFailure bumps the failed-attempt counter and, once the
// threshold is crossed within a single window, opens the lockout.
// The window starts at the first failure; a failure landing after the
// window lapsed restarts the count, so stale failures never accumulate
// into a lockout. Returns true when the account just became locked.
func (r *GormRepo) RecordLoginFailure(ctx context.Context, userID string, threshold int, window time.Duration) (bool, error) {
	now := r.now()
	locked := false
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			return err
		}

		failures := user.FailedLogins
		windowStart := user.FirstFailedAt
		if windowStart == nil || now.Sub(*windowStart) >= window {
			failures = 0
			windowStart = &now
		}
		failures++

		updates := map[string]any{
			"failed_logins":   failures,
			"first_failed_at": windowStart,
		}
		if failures >= threshold {
			until := now.Add(window)
			updates["lockout_until"] = &until
			updates["failed_logins"] = 0
			updates["first_failed_at"] = nil
			locked = true
		}
		return tx.Model(&models.User{}).Where("id = ?", userID).Updates(updates).Error
	})
	return locked, err
}

func (r *GormRepo) RecordLoginSuccess(ctx context.Context, userID string) error {
	now := r.now()
	return r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"failed_logins":   0,
			"first_failed_at": nil,
			"lockout_until":   nil,
			"last_login_at":   &now,
		}).Error
}
