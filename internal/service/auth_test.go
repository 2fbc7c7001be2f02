package service

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/wavelink/auth-service/internal/models"
	"github.com/wavelink/auth-service/internal/repo"
	"github.com/wavelink/auth-service/pkg/tokens"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type captureMailer struct {
	email string
	token string
	sent  int
}

func (m *captureMailer) SendPasswordReset(_ context.Context, email, token string) error {
	m.email = email
	m.token = token
	m.sent++
	return nil
}

type captureEvents struct {
	events []Event
}

func (p *captureEvents) Publish(_ context.Context, _ string, event any) error {
	if e, ok := event.(Event); ok {
		p.events = append(p.events, e)
	}
	return nil
}

func newTestService(t *testing.T) (*AuthService, *fakeClock, *captureMailer) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.RefreshToken{},
		&models.PasswordResetToken{},
		&models.UserSession{},
	))

	clk := &fakeClock{t: time.Now().UTC().Truncate(time.Second)}
	rp := repo.New(db)
	rp.Now = clk.Now

	svc := New(rp, tokens.SignerConfig{
		Secret:   []byte("test-jwt-secret"),
		Issuer:   "auth-service",
		Audience: "wavelink",
	}, Options{
		AccessTokenTTL:   15 * time.Minute,
		RefreshTokenTTL:  7 * 24 * time.Hour,
		ResetTokenTTL:    time.Hour,
		SessionTTL:       30 * 24 * time.Hour,
		LockoutThreshold: 3,
		LockoutWindow:    15 * time.Minute,
	})
	svc.Now = clk.Now

	mailer := &captureMailer{}
	svc.Mailer = mailer
	return svc, clk, mailer
}

func registerAndLogin(t *testing.T, svc *AuthService) *LoginResult {
	t.Helper()
	ctx := context.Background()

	_, err := svc.Register(ctx, "a@x.com", "alice", "Alice", "Passw0rd1")
	require.NoError(t, err)

	res, err := svc.Login(ctx, "a@x.com", "Passw0rd1", "1.2.3.4", "test-agent", "laptop")
	require.NoError(t, err)
	return res
}

func TestRegister_Validation(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		username string
		password string
	}{
		{name: "malformed email", email: "not-an-email", username: "alice", password: "Passw0rd1"},
		{name: "short username", username: "al", email: "a@x.com", password: "Passw0rd1"},
		{name: "short password", username: "alice", email: "a@x.com", password: "Pw1"},
		{name: "no digit in password", username: "alice", email: "a@x.com", password: "Password"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.email, tt.username, "Alice", tt.password)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestRegister_DuplicateCollapsesToValidation(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "a@x.com", "alice", "Alice", "Passw0rd1")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "A@X.com", "other", "Other", "Passw0rd1")
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Register(ctx, "b@x.com", "ALICE", "Other", "Passw0rd1")
	require.ErrorIs(t, err, ErrValidation)
}

func TestLogin_UniformInvalidCredentials(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "a@x.com", "alice", "Alice", "Passw0rd1")
	require.NoError(t, err)

	_, errUnknown := svc.Login(ctx, "nobody@x.com", "Passw0rd1", "ip", "ua", "dev")
	_, errWrongPw := svc.Login(ctx, "a@x.com", "WrongPass1", "ip", "ua", "dev")

	// one variant for both halves of the credential pair
	require.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	require.ErrorIs(t, errWrongPw, ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrongPw.Error())
}

func TestLogin_LockoutAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	svc, clk, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "a@x.com", "alice", "Alice", "Passw0rd1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.Login(ctx, "alice", "WrongPass1", "ip", "ua", "dev")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// correct password is refused while the window is open
	_, err = svc.Login(ctx, "alice", "Passw0rd1", "ip", "ua", "dev")
	require.ErrorIs(t, err, ErrLockedOut)

	clk.Advance(16 * time.Minute)

	res, err := svc.Login(ctx, "alice", "Passw0rd1", "ip", "ua", "dev")
	require.NoError(t, err)
	require.NotNil(t, res.User.LastLoginAt)
}

func TestLogin_IssuesTokensAndSession(t *testing.T) {
	t.Parallel()

	svc, clk, _ := newTestService(t)
	res := registerAndLogin(t, svc)

	require.NotEmpty(t, res.AccessToken)
	require.NotEmpty(t, res.RefreshToken)
	require.NotNil(t, res.Session)

	claims, err := svc.ValidateAccessToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.Subject)
	assert.Equal(t, "user", claims.Role)
	assert.WithinDuration(t, clk.Now().Add(15*time.Minute), claims.ExpiresAt.Time, time.Second)

	sessions, err := svc.ListSessions(context.Background(), res.User.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "laptop", sessions[0].DeviceInfo)
}

func TestRefresh_RotatesOnce(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()
	res := registerAndLogin(t, svc)

	pair, err := svc.Refresh(ctx, res.RefreshToken, "1.2.3.4")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, res.RefreshToken, pair.RefreshToken)

	claims, err := svc.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.Subject)
}

// The theft scenario end to end: reusing R1 after it rotated into R2
// kills everything, including R2 and all sessions.
func TestRefresh_TheftDetection(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()
	events := &captureEvents{}
	svc.Events = events

	res := registerAndLogin(t, svc)
	r1 := res.RefreshToken

	pair, err := svc.Refresh(ctx, r1, "ip")
	require.NoError(t, err)
	r2 := pair.RefreshToken

	_, err = svc.Refresh(ctx, r1, "ip")
	require.ErrorIs(t, err, ErrSecurityViolation)

	_, err = svc.Refresh(ctx, r2, "ip")
	require.ErrorIs(t, err, ErrInvalidToken)

	sessions, err := svc.ListSessions(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	var sawTheft bool
	for _, e := range events.events {
		if e.Type == EventTheftDetected && e.UserID == res.User.ID {
			sawTheft = true
		}
	}
	assert.True(t, sawTheft)
}

func TestRefresh_ExpiredToken(t *testing.T) {
	t.Parallel()

	svc, clk, _ := newTestService(t)
	ctx := context.Background()
	res := registerAndLogin(t, svc)

	clk.Advance(7 * 24 * time.Hour)

	_, err := svc.Refresh(ctx, res.RefreshToken, "ip")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefresh_UnknownToken(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	_, err := svc.Refresh(context.Background(), "garbage", "ip")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogout_RevokesPresentedToken(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()
	res := registerAndLogin(t, svc)

	require.NoError(t, svc.Logout(ctx, res.User.ID, res.RefreshToken, res.Session.SessionID, "ip"))

	_, err := svc.Refresh(ctx, res.RefreshToken, "ip")
	require.ErrorIs(t, err, ErrInvalidToken)

	sessions, err := svc.ListSessions(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	// access-token-only logout is fine
	require.NoError(t, svc.Logout(ctx, res.User.ID, "", "", "ip"))
}

func TestLogoutAll(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()
	res := registerAndLogin(t, svc)

	second, err := svc.Login(ctx, "alice", "Passw0rd1", "ip-2", "ua-2", "phone")
	require.NoError(t, err)

	require.NoError(t, svc.LogoutAll(ctx, res.User.ID, "ip"))

	for _, tok := range []string{res.RefreshToken, second.RefreshToken} {
		_, err := svc.Refresh(ctx, tok, "ip")
		require.ErrorIs(t, err, ErrInvalidToken)
	}

	sessions, err := svc.ListSessions(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestChangePassword_RevokesEveryToken(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()
	res := registerAndLogin(t, svc)

	err := svc.ChangePassword(ctx, res.User.ID, "WrongPass1", "NewPass1!", "ip")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, svc.ChangePassword(ctx, res.User.ID, "Passw0rd1", "NewPass1!", "ip"))

	// every other device is forced to re-auth
	_, err = svc.Refresh(ctx, res.RefreshToken, "ip")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Login(ctx, "alice", "Passw0rd1", "ip", "ua", "dev")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "alice", "NewPass1!", "ip", "ua", "dev")
	require.NoError(t, err)
}

func TestForgotPassword_UniformResponse(t *testing.T) {
	t.Parallel()

	svc, _, mailer := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "a@x.com", "alice", "Alice", "Passw0rd1")
	require.NoError(t, err)

	require.NoError(t, svc.ForgotPassword(ctx, "a@x.com", "ip"))
	require.NoError(t, svc.ForgotPassword(ctx, "ghost@x.com", "ip"))

	assert.Equal(t, 1, mailer.sent)
	assert.Equal(t, "a@x.com", mailer.email)
	assert.NotEmpty(t, mailer.token)
}

func TestResetPassword_SingleUseAndRevokesTokens(t *testing.T) {
	t.Parallel()

	svc, _, mailer := newTestService(t)
	ctx := context.Background()
	res := registerAndLogin(t, svc)

	require.NoError(t, svc.ForgotPassword(ctx, "a@x.com", "ip"))
	token := mailer.token

	require.NoError(t, svc.ResetPassword(ctx, token, "NewPass1!", "ip"))

	err := svc.ResetPassword(ctx, token, "OtherPass1!", "ip")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Refresh(ctx, res.RefreshToken, "ip")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Login(ctx, "alice", "NewPass1!", "ip", "ua", "dev")
	require.NoError(t, err)
}

func TestResetPassword_ExpiredToken(t *testing.T) {
	t.Parallel()

	svc, clk, mailer := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "a@x.com", "alice", "Alice", "Passw0rd1")
	require.NoError(t, err)
	require.NoError(t, svc.ForgotPassword(ctx, "a@x.com", "ip"))

	clk.Advance(2 * time.Hour)

	err = svc.ResetPassword(ctx, mailer.token, "NewPass1!", "ip")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevokeSession(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()
	res := registerAndLogin(t, svc)

	require.NoError(t, svc.RevokeSession(ctx, res.User.ID, res.Session.SessionID))

	sessions, err := svc.ListSessions(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	err = svc.RevokeSession(ctx, res.User.ID, "no-such-session")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestValidateAccessToken_Garbage(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	_, err := svc.ValidateAccessToken("not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidToken)
}
