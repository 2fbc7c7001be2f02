package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wavelink/auth-service/internal/models"
	"github.com/wavelink/auth-service/pkg/tokens"
)

// CreateResetToken never blocks on outstanding tokens; the newest link
// simply joins them. Completing a reset is what invalidates the rest.
func (r *GormRepo) CreateResetToken(ctx context.Context, userID, clientIP string, ttl time.Duration) (*models.PasswordResetToken, string, error) {
	now := r.now()
	plain := tokens.NewOpaqueToken()
	tok := models.PasswordResetToken{
		ID:          uuid.NewString(),
		UserID:      userID,
		Token:       tokens.Sha256Hex(plain),
		ExpiresAt:   now.Add(ttl),
		RequestedIP: clientIP,
	}
	if err := r.DB.WithContext(ctx).Create(&tok).Error; err != nil {
		return nil, "", err
	}
	return &tok, plain, nil
}

// ConsumeResetToken marks the token used and invalidates every other
// outstanding reset token for the same user, so an older emailed link
// cannot be replayed after the reset went through. Returns the owning
// user ID.
func (r *GormRepo) ConsumeResetToken(ctx context.Context, presented string) (string, error) {
	now := r.now()

	var tok models.PasswordResetToken
	err := r.DB.WithContext(ctx).
		Where("token = ?", tokens.Sha256Hex(presented)).
		First(&tok).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrTokenNotFound
		}
		return "", err
	}

	if !now.Before(tok.ExpiresAt) {
		return "", ErrTokenExpired
	}
	if tok.Used {
		return "", ErrTokenUsed
	}

	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.PasswordResetToken{}).
			Where("id = ? AND used = ?", tok.ID, false).
			Updates(map[string]any{"used": true, "used_at": &now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrTokenUsed
		}
		return tx.Model(&models.PasswordResetToken{}).
			Where("user_id = ? AND used = ?", tok.UserID, false).
			Updates(map[string]any{"used": true, "used_at": &now}).Error
	})
	if err != nil {
		return "", err
	}

	return tok.UserID, nil
}

func (r *GormRepo) SweepExpiredResetTokens(ctx context.Context) (int64, error) {
	res := r.DB.WithContext(ctx).
		Where("expires_at <= ?", r.now()).
		Delete(&models.PasswordResetToken{})
	return res.RowsAffected, res.Error
}
