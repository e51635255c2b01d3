package server

import (
	"crypto/subtle"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"

	"cakisi/internal/core"
)

// AuthMiddleware requires "Authorization: Bearer <key>" when key is set.
// An empty key allows every request.
func AuthMiddleware(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if key == "" {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return denied(c, "missing authorization header")
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				return denied(c, "invalid authorization header format, expected 'Bearer <token>'")
			}

			token := strings.TrimPrefix(authHeader, prefix)
			if subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
				return denied(c, "invalid admin key")
			}

			return next(c)
		}
	}
}

func denied(c echo.Context, message string) error {
	slog.Warn("admin authentication failed",
		"event_type", "auth_failure",
		"client", core.GetClientID(c.Request().Context()),
		"path", c.Request().URL.Path,
		"reason", message,
	)
	err := core.NewAuthenticationError(message)
	return c.JSON(err.HTTPStatusCode(), err.ToJSON())
}
