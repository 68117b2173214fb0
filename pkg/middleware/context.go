package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	appctx "github.com/shirkeanjali/medgenix/pkg/context"
)

const (
	// HeaderUserID is trusted only when authentication is disabled (local development)
	HeaderUserID = "X-User-ID"
	// HeaderLanguage carries the caller's UI language preference
	HeaderLanguage = "X-Language"
)

// Context copies request metadata into the request context so repositories and
// loggers can read it without touching echo.
func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			ctx := req.Context()
			ctx = appctx.SetRequestID(ctx, requestID)
			ctx = appctx.SetMethod(ctx, req.Method)
			ctx = appctx.SetRoute(ctx, req.URL.Path)
			ctx = appctx.SetRemoteIP(ctx, c.RealIP())
			ctx = appctx.SetReferer(ctx, req.Referer())
			ctx = appctx.SetUserID(ctx, req.Header.Get(HeaderUserID))
			ctx = appctx.SetLanguage(ctx, req.Header.Get(HeaderLanguage))

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
