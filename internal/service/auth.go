package service

import (
	"context"
	"errors"
	"time"

	"github.com/wavelink/auth-service/internal/models"
	"github.com/wavelink/auth-service/internal/repo"
	"github.com/wavelink/auth-service/pkg/hash"
	"github.com/wavelink/auth-service/pkg/logging"
	"github.com/wavelink/auth-service/pkg/tokens"
)

// Event types published on the auth_events topic.
const (
	EventUserRegistered  = "user.registered"
	EventUserLoggedIn    = "user.logged_in"
	EventPasswordChanged = "user.password_changed"
	EventTheftDetected   = "auth.theft_detected"
)

type Event struct {
	Type        string    `json:"type"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	At          time.Time `json:"at"`
}

type Options struct {
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	ResetTokenTTL    time.Duration
	SessionTTL       time.Duration
	LockoutThreshold int
	LockoutWindow    time.Duration
}

// AuthService composes the credential store, the two ledgers and the
// session registry into the externally visible auth operations. It
// holds no persistent state of its own.
type AuthService struct {
	Repo   *repo.GormRepo
	Signer tokens.SignerConfig
	Opts   Options
	Events EventPublisher
	Audit  AuditRecorder
	Mailer Mailer
	Now    func() time.Time
}

func New(rp *repo.GormRepo, signer tokens.SignerConfig, opts Options) *AuthService {
	return &AuthService{
		Repo:   rp,
		Signer: signer,
		Opts:   opts,
		Events: NopPublisher{},
		Audit:  NopRecorder{},
		Mailer: LogMailer{},
		Now:    time.Now,
	}
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

type LoginResult struct {
	TokenPair
	User    *models.User
	Session *models.UserSession
}

func (s *AuthService) Register(ctx context.Context, email, username, displayName, password string) (*models.User, error) {
	l := logging.FromContext(ctx).With("svc", "auth.register")

	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	if taken, err := s.Repo.EmailTaken(ctx, email); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrValidation
	}
	if taken, err := s.Repo.UsernameTaken(ctx, username); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrValidation
	}

	pwHash, err := hash.HashPassword(password)
	if err != nil {
		l.Error("register_failed", "reason", "hash", "error", err)
		return nil, err
	}

	user, err := s.Repo.CreateUser(ctx, email, username, displayName, pwHash)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			// insert-time race lost; same variant as the pre-check
			return nil, ErrValidation
		}
		return nil, err
	}

	s.publish(ctx, EventUserRegistered, user.ID, user.DisplayName)
	l.Info("user_registered", "user_id", user.ID)
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, identifier, password, clientIP, userAgent, deviceInfo string) (*LoginResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login")
	now := s.now()

	user, err := s.Repo.FindUserByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if user.LockoutUntil != nil && now.Before(*user.LockoutUntil) {
		s.Audit.Record(ctx, "login_locked", map[string]any{"user_id": user.ID, "ip": clientIP})
		return nil, ErrLockedOut
	}

	if !hash.CheckPassword(user.PasswordHash, password) {
		locked, ferr := s.Repo.RecordLoginFailure(ctx, user.ID, s.Opts.LockoutThreshold, s.Opts.LockoutWindow)
		if ferr != nil {
			l.Error("login_failure_bookkeeping", "error", ferr)
		}
		s.Audit.Record(ctx, "login_failed", map[string]any{"user_id": user.ID, "ip": clientIP, "locked": locked})
		return nil, ErrInvalidCredentials
	}

	if err := s.Repo.RecordLoginSuccess(ctx, user.ID); err != nil {
		return nil, err
	}
	user.FailedLogins = 0
	user.LockoutUntil = nil
	user.LastLoginAt = &now

	pair, _, err := s.issuePair(ctx, user, clientIP)
	if err != nil {
		return nil, err
	}

	sess, err := s.Repo.OpenSession(ctx, user.ID, clientIP, userAgent, deviceInfo, s.Opts.SessionTTL)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, EventUserLoggedIn, user.ID, user.DisplayName)
	l.Info("login_successful", "user_id", user.ID)

	return &LoginResult{TokenPair: *pair, User: user, Session: sess}, nil
}

// Refresh exchanges a still-active refresh token for a new pair. Reuse
// of a rotated-away token revokes everything the user holds and
// surfaces ErrSecurityViolation so callers force a full re-login.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, clientIP string) (*TokenPair, error) {
	l := logging.FromContext(ctx).With("svc", "auth.refresh")

	newJTI := tokens.NewJTI()
	succ, plain, err := s.Repo.RotateRefreshToken(ctx, refreshToken, newJTI, clientIP, s.Opts.RefreshTokenTTL)
	if err != nil {
		var reuse *repo.ReuseError
		if errors.As(err, &reuse) {
			if rerr := s.Repo.RevokeAllRefreshTokens(ctx, reuse.UserID, clientIP, repo.ReasonReuseDetected); rerr != nil {
				return nil, rerr
			}
			if cerr := s.Repo.CloseAllSessions(ctx, reuse.UserID); cerr != nil {
				return nil, cerr
			}
			s.Audit.Record(ctx, "theft_detected", map[string]any{"user_id": reuse.UserID, "ip": clientIP})
			s.publish(ctx, EventTheftDetected, reuse.UserID, "")
			l.Warn("refresh_reuse_detected", "user_id", reuse.UserID, "ip", clientIP)
			return nil, ErrSecurityViolation
		}
		if errors.Is(err, repo.ErrTokenNotFound) || errors.Is(err, repo.ErrTokenExpired) || errors.Is(err, repo.ErrTokenRevoked) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	user, err := s.Repo.FindUserByID(ctx, succ.UserID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	accessExp := now.Add(s.Opts.AccessTokenTTL)
	access, err := tokens.NewAccessToken(s.Signer, user.ID, user.Role, succ.JTI, now, accessExp)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: plain,
		AccessExp:    accessExp,
		RefreshExp:   succ.ExpiresAt,
	}, nil
}

func (s *AuthService) ValidateAccessToken(tokenStr string) (*tokens.AccessClaims, error) {
	claims, err := tokens.AccessClaimsFromToken(tokenStr, s.Signer)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Logout revokes the presented refresh token and closes the session,
// when given. Safe to call with neither.
func (s *AuthService) Logout(ctx context.Context, userID, refreshToken, sessionID, clientIP string) error {
	if refreshToken != "" {
		if err := s.Repo.RevokeRefreshToken(ctx, refreshToken, clientIP, repo.ReasonLogout); err != nil {
			return err
		}
	}
	if sessionID != "" {
		if err := s.Repo.CloseSession(ctx, userID, sessionID); err != nil && !errors.Is(err, repo.ErrSessionNotFound) {
			return err
		}
	}
	return nil
}

func (s *AuthService) LogoutAll(ctx context.Context, userID, clientIP string) error {
	if err := s.Repo.RevokeAllRefreshTokens(ctx, userID, clientIP, repo.ReasonLogoutAll); err != nil {
		return err
	}
	return s.Repo.CloseAllSessions(ctx, userID)
}

// ChangePassword re-hashes and then revokes every refresh token the
// user holds, forcing re-auth on all other devices.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword, clientIP string) error {
	user, err := s.Repo.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return ErrNotFound
		}
		return err
	}

	if !hash.CheckPassword(user.PasswordHash, currentPassword) {
		return ErrInvalidCredentials
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	pwHash, err := hash.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.Repo.UpdatePassword(ctx, userID, pwHash); err != nil {
		return err
	}
	if err := s.Repo.RevokeAllRefreshTokens(ctx, userID, clientIP, repo.ReasonPasswordChanged); err != nil {
		return err
	}

	s.Audit.Record(ctx, "password_changed", map[string]any{"user_id": userID, "ip": clientIP})
	s.publish(ctx, EventPasswordChanged, userID, user.DisplayName)
	return nil
}

// ForgotPassword always reports success so responses cannot be used to
// enumerate accounts. Failures are logged, never surfaced.
func (s *AuthService) ForgotPassword(ctx context.Context, email, clientIP string) error {
	l := logging.FromContext(ctx).With("svc", "auth.forgot_password")

	user, err := s.Repo.FindUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repo.ErrUserNotFound) {
			l.Error("forgot_password_lookup", "error", err)
		}
		return nil
	}

	_, plain, err := s.Repo.CreateResetToken(ctx, user.ID, clientIP, s.Opts.ResetTokenTTL)
	if err != nil {
		l.Error("forgot_password_issue", "error", err)
		return nil
	}

	if err := s.Mailer.SendPasswordReset(ctx, user.Email, plain); err != nil {
		l.Error("forgot_password_mail", "error", err)
	}
	return nil
}

func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword, clientIP string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	userID, err := s.Repo.ConsumeResetToken(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrTokenNotFound),
			errors.Is(err, repo.ErrTokenExpired),
			errors.Is(err, repo.ErrTokenUsed):
			return ErrInvalidToken
		}
		return err
	}

	pwHash, err := hash.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.Repo.UpdatePassword(ctx, userID, pwHash); err != nil {
		return err
	}
	if err := s.Repo.RevokeAllRefreshTokens(ctx, userID, clientIP, repo.ReasonPasswordReset); err != nil {
		return err
	}

	s.Audit.Record(ctx, "password_reset", map[string]any{"user_id": userID, "ip": clientIP})
	s.publish(ctx, EventPasswordChanged, userID, "")
	return nil
}

func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]models.UserSession, error) {
	return s.Repo.ListActiveSessions(ctx, userID)
}

func (s *AuthService) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if err := s.Repo.CloseSession(ctx, userID, sessionID); err != nil {
		if errors.Is(err, repo.ErrSessionNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *AuthService) TouchSession(ctx context.Context, sessionID string) error {
	return s.Repo.TouchSession(ctx, sessionID)
}

// issuePair mints an access token and a fresh refresh chain root for
// the user.
func (s *AuthService) issuePair(ctx context.Context, user *models.User, clientIP string) (*TokenPair, *models.RefreshToken, error) {
	now := s.now()
	jti := tokens.NewJTI()

	accessExp := now.Add(s.Opts.AccessTokenTTL)
	access, err := tokens.NewAccessToken(s.Signer, user.ID, user.Role, jti, now, accessExp)
	if err != nil {
		return nil, nil, err
	}

	refreshTok, plain, err := s.Repo.IssueRefreshToken(ctx, user.ID, jti, clientIP, s.Opts.RefreshTokenTTL)
	if err != nil {
		return nil, nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: plain,
		AccessExp:    accessExp,
		RefreshExp:   refreshTok.ExpiresAt,
	}, refreshTok, nil
}

func (s *AuthService) publish(ctx context.Context, eventType, userID, displayName string) {
	err := s.Events.Publish(ctx, userID, Event{
		Type:        eventType,
		UserID:      userID,
		DisplayName: displayName,
		At:          s.now(),
	})
	if err != nil {
		logging.FromContext(ctx).Error("event_publish_failed", "type", eventType, "error", err)
	}
}
