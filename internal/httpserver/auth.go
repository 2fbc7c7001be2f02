package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/wavelink/auth-service/internal/service"
	"github.com/wavelink/auth-service/pkg/logging"
)

type AuthHTTP struct {
	Svc *service.AuthService
}

// httpError maps service sentinels onto status codes. Credentials and
// token failures share 401 bodies that never say which part was wrong.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, service.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, service.ErrInvalidToken):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
	case errors.Is(err, service.ErrLockedOut):
		return echo.NewHTTPError(http.StatusLocked, "account temporarily locked")
	case errors.Is(err, service.ErrSecurityViolation):
		return echo.NewHTTPError(http.StatusForbidden, "token reuse detected, re-login required")
	case errors.Is(err, service.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}

func (h *AuthHTTP) Register(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_register")

	var req struct {
		Email       string `json:"email"`
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
		Password    string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	user, err := h.Svc.Register(ctx, req.Email, req.Username, req.DisplayName, req.Password)
	if err != nil {
		l.Warn("register_failed", "error", err)
		return httpError(err)
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"id":           user.ID,
		"email":        user.Email,
		"username":     user.Username,
		"display_name": user.DisplayName,
	})
}

func (h *AuthHTTP) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_login")

	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
		DeviceInfo string `json:"device_info"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	res, err := h.Svc.Login(ctx, req.Identifier, req.Password, c.RealIP(), c.Request().UserAgent(), req.DeviceInfo)
	if err != nil {
		l.Warn("login_failed", "error", err)
		return httpError(err)
	}

	c.SetCookie(createCookie("accessToken", res.AccessToken, "/", res.AccessExp))
	c.SetCookie(createCookie("refreshToken", res.RefreshToken, "/", res.RefreshExp))
	l.Info("login_successful", "user_id", res.User.ID)

	return c.JSON(http.StatusOK, echo.Map{
		"access_token":  res.AccessToken,
		"refresh_token": res.RefreshToken,
		"session_id":    res.Session.SessionID,
		"user": echo.Map{
			"id":           res.User.ID,
			"username":     res.User.Username,
			"display_name": res.User.DisplayName,
		},
	})
}

func (h *AuthHTTP) Refresh(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_refresh")

	refreshToken := ""
	if cookie, err := c.Cookie("refreshToken"); err == nil {
		refreshToken = cookie.Value
	}
	if refreshToken == "" {
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := c.Bind(&req); err == nil {
			refreshToken = req.RefreshToken
		}
	}
	if refreshToken == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing refresh token")
	}

	pair, err := h.Svc.Refresh(ctx, refreshToken, c.RealIP())
	if err != nil {
		c.SetCookie(deleteCookie("accessToken", "/"))
		c.SetCookie(deleteCookie("refreshToken", "/"))
		l.Warn("refresh_failed", "error", err)
		return httpError(err)
	}

	c.SetCookie(createCookie("accessToken", pair.AccessToken, "/", pair.AccessExp))
	c.SetCookie(createCookie("refreshToken", pair.RefreshToken, "/", pair.RefreshExp))

	return c.JSON(http.StatusOK, echo.Map{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

func (h *AuthHTTP) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	userID, _ := c.Get("user_id").(string)

	refreshToken := ""
	if cookie, err := c.Cookie("refreshToken"); err == nil {
		refreshToken = cookie.Value
	}
	sessionID := c.Request().Header.Get("X-Session-ID")

	if err := h.Svc.Logout(ctx, userID, refreshToken, sessionID, c.RealIP()); err != nil {
		return httpError(err)
	}

	c.SetCookie(deleteCookie("accessToken", "/"))
	c.SetCookie(deleteCookie("refreshToken", "/"))
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

func (h *AuthHTTP) LogoutAll(c echo.Context) error {
	ctx := c.Request().Context()
	userID, _ := c.Get("user_id").(string)

	if err := h.Svc.LogoutAll(ctx, userID, c.RealIP()); err != nil {
		return httpError(err)
	}

	c.SetCookie(deleteCookie("accessToken", "/"))
	c.SetCookie(deleteCookie("refreshToken", "/"))
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out everywhere"})
}

func (h *AuthHTTP) ChangePassword(c echo.Context) error {
	ctx := c.Request().Context()
	userID, _ := c.Get("user_id").(string)

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	if err := h.Svc.ChangePassword(ctx, userID, req.CurrentPassword, req.NewPassword, c.RealIP()); err != nil {
		return httpError(err)
	}

	c.SetCookie(deleteCookie("refreshToken", "/"))
	return c.JSON(http.StatusOK, echo.Map{"message": "password changed"})
}

func (h *AuthHTTP) ForgotPassword(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	// Uniform response whether or not the account exists.
	if err := h.Svc.ForgotPassword(ctx, req.Email, c.RealIP()); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "check your email"})
}

func (h *AuthHTTP) ResetPassword(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	if err := h.Svc.ResetPassword(ctx, req.Token, req.NewPassword, c.RealIP()); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "password reset"})
}

func (h *AuthHTTP) ListSessions(c echo.Context) error {
	ctx := c.Request().Context()
	userID, _ := c.Get("user_id").(string)

	sessions, err := h.Svc.ListSessions(ctx, userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"sessions": sessions})
}

func (h *AuthHTTP) RevokeSession(c echo.Context) error {
	ctx := c.Request().Context()
	userID, _ := c.Get("user_id").(string)

	if err := h.Svc.RevokeSession(ctx, userID, c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "session revoked"})
}

// Validate lets the gateway check an access token without sharing the
// signing secret.
func (h *AuthHTTP) Validate(c echo.Context) error {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	claims, err := h.Svc.ValidateAccessToken(req.Token)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"user_id":    claims.Subject,
		"role":       claims.Role,
		"jti":        claims.ID,
		"expires_at": claims.ExpiresAt.Time,
	})
}
