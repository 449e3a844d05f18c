package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/sensorpulse/internal/adapter/metrics"
	apperrors "github.com/pscheid92/sensorpulse/internal/platform/errors"
)

// ErrorHandlingMiddleware converts returned errors into JSON responses.
// echo.HTTPErrors pass through to echo's own handler but are still counted.
// m may be nil.
func ErrorHandlingMiddleware(m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				countError(m, WrapHTTPError(httpErr))
				return err
			}

			return writeError(c, m, apperrors.AsStructuredError(err))
		}
	}
}

// writeError counts, logs and renders a structured error. Middleware that
// reports errors through c.Error instead of returning them uses it directly.
func writeError(c echo.Context, m *metrics.HTTPMetrics, appErr *apperrors.Error) error {
	countError(m, appErr)
	logError(c, appErr)

	if err := c.JSON(appErr.HTTPStatus(), appErr.ToResponse()); err != nil {
		return fmt.Errorf("failed to write error response: %w", err)
	}
	return nil
}

func countError(m *metrics.HTTPMetrics, err *apperrors.Error) {
	if m != nil {
		m.ErrorsTotal.WithLabelValues(string(err.Type)).Inc()
	}
}

func logError(c echo.Context, err *apperrors.Error) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	switch err.Type {
	case apperrors.TypeValidation, apperrors.TypeNotFound:
		slog.InfoContext(ctx, "Client error", attrs...)
	case apperrors.TypeUnauthorized, apperrors.TypeRateLimited:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.WarnContext(ctx, "Request refused", attrs...)
	case apperrors.TypeConflict, apperrors.TypeUnavailable:
		slog.WarnContext(ctx, "Request rejected", attrs...)
	case apperrors.TypeInternal, apperrors.TypeExternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Internal error", attrs...)
	default:
		slog.ErrorContext(ctx, "Unknown error type", attrs...)
	}
}

// WrapHTTPError maps an echo.HTTPError onto the structured taxonomy.
func WrapHTTPError(httpErr *echo.HTTPError) *apperrors.Error {
	message := http.StatusText(httpErr.Code)
	if msg, ok := httpErr.Message.(string); ok {
		message = msg
	}

	var errType apperrors.ErrorType
	switch httpErr.Code {
	case http.StatusBadRequest:
		errType = apperrors.TypeValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		errType = apperrors.TypeUnauthorized
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		errType = apperrors.TypeNotFound
	case http.StatusConflict:
		errType = apperrors.TypeConflict
	case http.StatusTooManyRequests:
		errType = apperrors.TypeRateLimited
	case http.StatusServiceUnavailable:
		errType = apperrors.TypeUnavailable
	case http.StatusBadGateway:
		errType = apperrors.TypeExternal
	default:
		errType = apperrors.TypeInternal
	}

	err := apperrors.InternalError(message, httpErr.Internal)
	err.Type = errType
	return err
}
