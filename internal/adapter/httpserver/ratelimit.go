package httpserver

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/sensorpulse/internal/adapter/metrics"
	apperrors "github.com/pscheid92/sensorpulse/internal/platform/errors"
	"golang.org/x/time/rate"
)

const rateLimiterExpiry = 5 * time.Minute

// newRateLimiter limits requests per client IP. echo hands handler results to
// c.Error rather than returning them, so denials are rendered here. m may be nil.
func newRateLimiter(ratePerSecond float64, burst int, m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		Store: store,
		ErrorHandler: func(c echo.Context, err error) error {
			return writeError(c, m, apperrors.InternalError("rate limiter failed", err))
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return writeError(c, m, apperrors.RateLimitedError("rate limit exceeded"))
		},
	})
}
