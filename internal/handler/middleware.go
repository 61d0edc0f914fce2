package handler

import (
	"log/slog"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sumire/authgate/internal/domain"
	"github.com/sumire/authgate/internal/service"
)

const (
	contextKeyClaims = "auth_claims"
)

// RequestLogger logs each HTTP request with structured fields.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				// Let the error handler write the response so the logged status is final.
				c.Error(err)
			}

			slog.Info("http request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
				"ip", c.RealIP(),
			)

			return nil
		}
	}
}

// RequireSession verifies the access token from the Authorization header or
// the access token cookie, then checks that its session is still live.
func RequireSession(sessions *service.SessionManager, cookies *CookieTransport) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := accessToken(c, cookies)
			if token == "" {
				return domain.ErrUnauthorized
			}

			claims, err := sessions.Codec().Verify(token)
			if err != nil {
				return err
			}

			live, err := sessions.Validate(c.Request().Context(), claims.SessionID)
			if err != nil {
				return err
			}
			if !live {
				return domain.ErrInvalidToken
			}

			c.Set(contextKeyClaims, claims)
			return next(c)
		}
	}
}

func accessToken(c echo.Context, cookies *CookieTransport) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return cookies.AccessToken(c)
}

// GetClaims extracts the verified access claims from echo context.
func GetClaims(c echo.Context) (*domain.AccessClaims, bool) {
	claims, ok := c.Get(contextKeyClaims).(*domain.AccessClaims)
	return claims, ok
}

func clientMeta(c echo.Context) domain.ClientMeta {
	return domain.ClientMeta{
		UserAgent: c.Request().UserAgent(),
		IPAddress: c.RealIP(),
	}
}
