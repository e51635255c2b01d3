package ratelimit

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"cakisi/internal/core"
)

// Middleware rejects requests from clients over their per-minute budget and
// stores the client identity in the request context.
func Middleware(l *Limiter) echo.MiddlewareFunc {
	retryAfter := strconv.Itoa(int(RequestWindow.Seconds()))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := ClientID(req)
			ctx := core.WithClientID(req.Context(), id)
			c.SetRequest(req.WithContext(ctx))

			if err := l.CheckRequest(ctx, id); err != nil {
				var toolErr *core.ToolError
				if errors.As(err, &toolErr) {
					c.Response().Header().Set("Retry-After", retryAfter)
					return c.JSON(toolErr.HTTPStatusCode(), toolErr.ToJSON())
				}
				return c.JSON(http.StatusInternalServerError, core.NewInternalError("rate limit check failed", err).ToJSON())
			}

			return next(c)
		}
	}
}
