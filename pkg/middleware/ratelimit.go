package middleware

import (
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/shirkeanjali/medgenix/pkg/redis"
)

// RateLimit limits requests per client IP using the Redis sliding window
// limiter. When Redis is unreachable the request is allowed through; the
// limiter protects against abuse, it is not a correctness guarantee.
func RateLimit(limiter *redis.RateLimiter, limit int64, window time.Duration, logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			result, err := limiter.Allow(ctx, c.RealIP(), limit, window)
			if err != nil {
				logger.WithContext(ctx).WithError(err).Warn("rate limit check failed, allowing request")
				return next(c)
			}

			if !result.Allowed {
				c.Response().Header().Set("Retry-After", result.RetryIn.Round(time.Second).String())
				return httperror.NewHTTPError(http.StatusTooManyRequests, "too many requests")
			}

			return next(c)
		}
	}
}
