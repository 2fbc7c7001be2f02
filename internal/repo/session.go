package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wavelink/auth-service/internal/models"
)

func (r *GormRepo) OpenSession(ctx context.Context, userID, clientIP, userAgent, deviceInfo string, ttl time.Duration) (*models.UserSession, error) {
	now := r.now()
	sess := models.UserSession{
		ID:           uuid.NewString(),
		SessionID:    uuid.NewString(),
		UserID:       userID,
		IP:           clientIP,
		UserAgent:    userAgent,
		DeviceInfo:   deviceInfo,
		LastActivity: now,
		ExpiresAt:    now.Add(ttl),
		Active:       true,
	}
	if err := r.DB.WithContext(ctx).Create(&sess).Error; err != nil {
		return nil, err
	}
	return &sess, nil
}

// TouchSession bumps last-activity. Inactive or expired sessions are
// left alone, not surfaced as errors.
func (r *GormRepo) TouchSession(ctx context.Context, sessionID string) error {
	now := r.now()
	return r.DB.WithContext(ctx).Model(&models.UserSession{}).
		Where("session_id = ? AND active = ? AND expires_at > ?", sessionID, true, now).
		Update("last_activity", now).Error
}

// CloseSession deactivates the session if it belongs to userID. The row
// is kept for the audit trail. Closing an already closed session is a
// no-op; an unknown or foreign session is ErrSessionNotFound.
func (r *GormRepo) CloseSession(ctx context.Context, userID, sessionID string) error {
	var sess models.UserSession
	err := r.DB.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		First(&sess).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if !sess.Active {
		return nil
	}
	return r.DB.WithContext(ctx).Model(&models.UserSession{}).
		Where("id = ?", sess.ID).
		Update("active", false).Error
}

func (r *GormRepo) CloseAllSessions(ctx context.Context, userID string) error {
	return r.DB.WithContext(ctx).Model(&models.UserSession{}).
		Where("user_id = ? AND active = ?", userID, true).
		Update("active", false).Error
}

func (r *GormRepo) ListActiveSessions(ctx context.Context, userID string) ([]models.UserSession, error) {
	var sessions []models.UserSession
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND active = ? AND expires_at > ?", userID, true, r.now()).
		Order("last_activity DESC").
		Find(&sessions).Error
	return sessions, err
}

func (r *GormRepo) SweepExpiredSessions(ctx context.Context) (int64, error) {
	res := r.DB.WithContext(ctx).
		Where("expires_at <= ?", r.now()).
		Delete(&models.UserSession{})
	return res.RowsAffected, res.Error
}
