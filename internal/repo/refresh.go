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

// errRotationLost aborts the rotation transaction when the conditional
// update hits zero rows: a concurrent caller rotated the token first.
var errRotationLost = errors.New("rotation race lost")

// IssueRefreshToken creates a fresh chain root. The plain opaque value
// is returned once and never stored.
func (r *GormRepo) IssueRefreshToken(ctx context.Context, userID, jti, clientIP string, ttl time.Duration) (*models.RefreshToken, string, error) {
	now := r.now()
	plain := tokens.NewOpaqueToken()
	tok := models.RefreshToken{
		ID:          uuid.NewString(),
		UserID:      userID,
		Token:       tokens.Sha256Hex(plain),
		JTI:         jti,
		ExpiresAt:   now.Add(ttl),
		CreatedByIP: clientIP,
	}
	if err := r.DB.WithContext(ctx).Create(&tok).Error; err != nil {
		return nil, "", err
	}
	return &tok, plain, nil
}

// RotateRefreshToken retires the presented token and issues its
// successor. Presenting a token that was already rotated away is
// treated as theft: the whole chain is revoked and a *ReuseError
// carrying the owner is returned. Expiry wins over every flag so a
// stale expired token reads as Expired, not theft.
func (r *GormRepo) RotateRefreshToken(ctx context.Context, presented, newJTI, clientIP string, ttl time.Duration) (*models.RefreshToken, string, error) {
	now := r.now()

	var tok models.RefreshToken
	err := r.DB.WithContext(ctx).
		Where("token = ?", tokens.Sha256Hex(presented)).
		First(&tok).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrTokenNotFound
		}
		return nil, "", err
	}

	if !now.Before(tok.ExpiresAt) {
		return nil, "", ErrTokenExpired
	}

	// A used token was rotated away; presenting it again is theft. A
	// token that is merely revoked (logout, password change, an earlier
	// theft response) reads as revoked, not as a fresh breach.
	if tok.Used {
		if err := r.revokeChain(ctx, &tok, clientIP); err != nil {
			return nil, "", err
		}
		return nil, "", &ReuseError{UserID: tok.UserID}
	}
	if tok.Revoked {
		return nil, "", ErrTokenRevoked
	}

	plain := tokens.NewOpaqueToken()
	succ := models.RefreshToken{
		ID:          uuid.NewString(),
		UserID:      tok.UserID,
		Token:       tokens.Sha256Hex(plain),
		JTI:         newJTI,
		ExpiresAt:   now.Add(ttl),
		CreatedByIP: clientIP,
	}

	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Conditional update is the serialization point: of two
		// concurrent rotations only one flips used=false to true.
		res := tx.Model(&models.RefreshToken{}).
			Where("id = ? AND used = ? AND revoked = ?", tok.ID, false, false).
			Updates(map[string]any{
				"used":           true,
				"revoked":        true,
				"revoked_reason": ReasonRotated,
				"revoked_at":     &now,
				"revoked_by_ip":  clientIP,
				"replaced_by":    succ.Token,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errRotationLost
		}
		return tx.Create(&succ).Error
	})
	if errors.Is(err, errRotationLost) {
		// The in-memory row predates the winning rotation; re-read it so
		// the chain walk sees the winner's replaced-by pointer and the
		// freshly issued successor falls inside the blast radius.
		var fresh models.RefreshToken
		if ferr := r.DB.WithContext(ctx).Where("id = ?", tok.ID).First(&fresh).Error; ferr == nil {
			tok = fresh
		}
		if err := r.revokeChain(ctx, &tok, clientIP); err != nil {
			return nil, "", err
		}
		return nil, "", &ReuseError{UserID: tok.UserID}
	}
	if err != nil {
		return nil, "", err
	}

	return &succ, plain, nil
}

// revokeChain walks the replaced-by pointers forward from tok and
// revokes every descendant that is still unrevoked. Rotation is
// strictly forward, so the walk terminates.
func (r *GormRepo) revokeChain(ctx context.Context, tok *models.RefreshToken, clientIP string) error {
	now := r.now()
	cur := *tok
	for {
		if !cur.Revoked || cur.RevokedReason == ReasonRotated {
			err := r.DB.WithContext(ctx).Model(&models.RefreshToken{}).
				Where("id = ?", cur.ID).
				Updates(map[string]any{
					"revoked":        true,
					"revoked_reason": ReasonReuseDetected,
					"revoked_at":     &now,
					"revoked_by_ip":  clientIP,
				}).Error
			if err != nil {
				return err
			}
		}
		if cur.ReplacedBy == nil {
			return nil
		}
		var next models.RefreshToken
		err := r.DB.WithContext(ctx).Where("token = ?", *cur.ReplacedBy).First(&next).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		cur = next
	}
}

// RevokeRefreshToken is idempotent; revoking an unknown or already
// revoked token is a no-op.
func (r *GormRepo) RevokeRefreshToken(ctx context.Context, presented, clientIP, reason string) error {
	now := r.now()
	return r.DB.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token = ? AND revoked = ?", tokens.Sha256Hex(presented), false).
		Updates(map[string]any{
			"revoked":        true,
			"revoked_reason": reason,
			"revoked_at":     &now,
			"revoked_by_ip":  clientIP,
		}).Error
}

func (r *GormRepo) RevokeAllRefreshTokens(ctx context.Context, userID, clientIP, reason string) error {
	now := r.now()
	return r.DB.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Updates(map[string]any{
			"revoked":        true,
			"revoked_reason": reason,
			"revoked_at":     &now,
			"revoked_by_ip":  clientIP,
		}).Error
}

func (r *GormRepo) CountActiveRefreshTokens(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked = ? AND expires_at > ?", userID, false, r.now()).
		Count(&count).Error
	return count, err
}

// SweepExpiredRefreshTokens deletes rows past expiry. Expired rows are
// terminal, so this is safe alongside live issuance.
func (r *GormRepo) SweepExpiredRefreshTokens(ctx context.Context) (int64, error) {
	res := r.DB.WithContext(ctx).
		Where("expires_at <= ?", r.now()).
		Delete(&models.RefreshToken{})
	return res.RowsAffected, res.Error
}
