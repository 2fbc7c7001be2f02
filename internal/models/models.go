package models

import "time"

type User struct {
	ID              string     `gorm:"type:uuid;primaryKey"      json:"id"`
	Email           string     `gorm:"uniqueIndex;not null"      json:"email"`
	Username        string     `gorm:"uniqueIndex;not null"      json:"username"`
	DisplayName     string     `gorm:"not null"                  json:"display_name"`
	PasswordHash    string     `gorm:"not null"                  json:"-"`
	Role            string     `gorm:"not null;default:user"     json:"role"`
	EmailConfirmed  bool       `gorm:"default:false"             json:"email_confirmed"`
	TwoFactorSecret *string    `json:"-"`
	FailedLogins    int        `gorm:"default:0"                 json:"-"`
	FirstFailedAt   *time.Time `json:"-"`
	LockoutUntil    *time.Time `json:"-"`
	LastLoginAt     *time.Time `json:"last_login_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// RefreshToken persists one link of a rotation chain. Token holds the
// SHA-256 of the opaque value, never the value itself. ReplacedBy is the
// forward pointer to the successor's hash.
type RefreshToken struct {
	ID            string     `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        string     `gorm:"type:uuid;index;not null" json:"user_id"`
	Token         string     `gorm:"uniqueIndex;not null" json:"-"`
	JTI           string     `gorm:"not null"             json:"jti"`
	ExpiresAt     time.Time  `gorm:"index;not null"       json:"expires_at"`
	Used          bool       `gorm:"default:false"        json:"used"`
	Revoked       bool       `gorm:"default:false"        json:"revoked"`
	RevokedReason string     `json:"revoked_reason,omitempty"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	RevokedByIP   string     `json:"revoked_by_ip,omitempty"`
	ReplacedBy    *string    `gorm:"index"                json:"-"`
	CreatedByIP   string     `json:"created_by_ip"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Active is the liveness invariant: neither revoked nor past expiry.
func (t *RefreshToken) Active(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

type PasswordResetToken struct {
	ID          string     `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      string     `gorm:"type:uuid;index;not null" json:"user_id"`
	Token       string     `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt   time.Time  `gorm:"index;not null"       json:"expires_at"`
	Used        bool       `gorm:"default:false"        json:"used"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
	RequestedIP string     `json:"requested_ip"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (t *PasswordResetToken) Valid(now time.Time) bool {
	return !t.Used && now.Before(t.ExpiresAt)
}

// UserSession is the user-visible device login, independent of token
// rotation. Closed sessions are kept for the audit trail.
type UserSession struct {
	ID           string    `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID    string    `gorm:"uniqueIndex;not null" json:"session_id"`
	UserID       string    `gorm:"type:uuid;index;not null" json:"user_id"`
	IP           string    `json:"ip"`
	UserAgent    string    `gorm:"type:text"            json:"user_agent"`
	DeviceInfo   string    `json:"device_info"`
	LastActivity time.Time `gorm:"index;not null"       json:"last_activity"`
	ExpiresAt    time.Time `gorm:"index;not null"       json:"expires_at"`
	Active       bool      `gorm:"index;default:true"   json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}
