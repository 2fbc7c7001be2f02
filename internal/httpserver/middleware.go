package httpserver

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/wavelink/auth-service/internal/service"
	"github.com/wavelink/auth-service/pkg/logging"
)

type AuthMiddleware struct {
	Svc *service.AuthService
}

// RequireAuth accepts a bearer header or the accessToken cookie. A
// session ID header, when present, bumps the session's last-activity.
func (m *AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c)
		if token == "" {
			if cookie, err := c.Cookie("accessToken"); err == nil {
				token = cookie.Value
			}
		}
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
		}

		claims, err := m.Svc.ValidateAccessToken(token)
		if err != nil {
			c.SetCookie(deleteCookie("accessToken", "/"))
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
		}

		c.Set("user_id", claims.Subject)
		c.Set("role", claims.Role)
		c.Set("jti", claims.ID)

		if sessionID := c.Request().Header.Get("X-Session-ID"); sessionID != "" {
			ctx := c.Request().Context()
			if err := m.Svc.TouchSession(ctx, sessionID); err != nil {
				logging.FromContext(ctx).Warn("session_touch_failed", "error", err)
			}
		}

		return next(c)
	}
}

func bearerToken(c echo.Context) string {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
