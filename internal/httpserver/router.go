package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Deps struct {
	AuthHandler *AuthHTTP
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	authMw := &AuthMiddleware{Svc: d.AuthHandler.Svc}

	e.POST("/register", d.AuthHandler.Register)
	e.POST("/login", d.AuthHandler.Login)
	e.POST("/refresh", d.AuthHandler.Refresh)
	e.POST("/validate", d.AuthHandler.Validate)
	e.POST("/password/forgot", d.AuthHandler.ForgotPassword)
	e.POST("/password/reset", d.AuthHandler.ResetPassword)

	private := e.Group("")
	private.Use(authMw.RequireAuth)

	private.POST("/logout", d.AuthHandler.Logout)
	private.POST("/logout-all", d.AuthHandler.LogoutAll)
	private.POST("/password/change", d.AuthHandler.ChangePassword)
	private.GET("/sessions", d.AuthHandler.ListSessions)
	private.DELETE("/sessions/:id", d.AuthHandler.RevokeSession)
}
