package repo

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrDuplicate       = errors.New("email or username already taken")
	ErrTokenNotFound   = errors.New("token not found")
	ErrTokenExpired    = errors.New("token expired")
	ErrTokenRevoked    = errors.New("token revoked")
	ErrTokenUsed       = errors.New("token already used")
	ErrSessionNotFound = errors.New("session not found")
)

// Revocation reasons persisted on refresh tokens.
const (
	ReasonRotated         = "rotated"
	ReasonLogout          = "logout"
	ReasonLogoutAll       = "logout_all"
	ReasonReuseDetected   = "reuse_detected"
	ReasonPasswordChanged = "password_changed"
	ReasonPasswordReset   = "password_reset"
)

// ReuseError reports that a rotated-away refresh token was presented
// again. It carries the owning user so the caller can widen the blast
// radius beyond the chain.
type ReuseError struct {
	UserID string
}

func (e *ReuseError) Error() string {
	return fmt.Sprintf("refresh token reuse detected for user %s", e.UserID)
}

// GormRepo owns all four auth tables. Now is injectable so tests can
// drive expiry with a fake clock.
type GormRepo struct {
	DB  *gorm.DB
	Now func() time.Time
}

func New(db *gorm.DB) *GormRepo {
	return &GormRepo{DB: db, Now: time.Now}
}

func (r *GormRepo) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}
