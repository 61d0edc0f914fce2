package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sumire/authgate/internal/domain"
)

// Envelope is the standard API response wrapper. Failures carry a single
// human-readable Error string.
type Envelope struct {
	Data    any          `json:"data,omitempty"`
	Error   string       `json:"error,omitempty"`
	Details []FieldError `json:"details,omitempty"`
}

// FieldError represents a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// JSON writes a JSON response with the standard envelope.
func JSON(c echo.Context, status int, data any) error {
	return c.JSON(status, Envelope{Data: data})
}

// HTTPErrorHandler is the global error handler for echo.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := mapError(err)
	if jsonErr := c.JSON(status, body); jsonErr != nil {
		slog.Error("failed to send error response", "error", jsonErr)
	}
}

func mapError(err error) (int, Envelope) {
	// Handle echo's own HTTP errors (404, 405, 429, etc.)
	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		msg, _ := echoErr.Message.(string)
		if msg == "" {
			msg = http.StatusText(echoErr.Code)
		}
		if echoErr.Code >= http.StatusInternalServerError {
			slog.Error("http error", "status", echoErr.Code, "error", err)
			msg = http.StatusText(echoErr.Code)
		}
		return echoErr.Code, Envelope{Error: msg}
	}

	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized, Envelope{Error: "Invalid email or password"}
	case errors.Is(err, domain.ErrInvalidToken),
		errors.Is(err, domain.ErrTokenExpired),
		errors.Is(err, domain.ErrTokenMalformed),
		errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized, Envelope{Error: "Invalid or expired session"}
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, Envelope{Error: "Authentication is required"}
	case errors.Is(err, domain.ErrInvalidResetToken):
		return http.StatusBadRequest, Envelope{Error: "Invalid or expired reset token"}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, Envelope{Error: "The requested resource was not found"}
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, Envelope{Error: "The request body is invalid"}
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, Envelope{Error: "An account with this email already exists"}
	default:
		var validationErr *domain.ValidationError
		if errors.As(err, &validationErr) {
			return http.StatusBadRequest, Envelope{
				Error:   validationErr.Message,
				Details: []FieldError{{Field: validationErr.Field, Message: validationErr.Message}},
			}
		}

		slog.Error("unhandled error", "error", err)
		return http.StatusInternalServerError, Envelope{Error: "An unexpected error occurred"}
	}
}
