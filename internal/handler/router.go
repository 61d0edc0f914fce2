package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/sumire/authgate/internal/service"
)

// RouterConfig holds the HTTP surface settings.
type RouterConfig struct {
	AllowedOrigins []string
	// AuthRateLimit is requests per second per client IP on POST auth endpoints. Zero disables it.
	AuthRateLimit float64
}

// NewEcho creates the echo instance with the global error handler, validator and middleware.
func NewEcho(cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = HTTPErrorHandler
	e.Validator = NewAppValidator()
	e.IPExtractor = echo.ExtractIPFromXFFHeader()

	e.Use(middleware.RequestID())
	e.Use(RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentType},
		ExposeHeaders:    []string{echo.HeaderXRequestID},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	return e
}

// RegisterRoutes mounts the auth endpoints on e.
func RegisterRoutes(e *echo.Echo, cfg RouterConfig, auth *AuthHandler, oauth *OAuthHandler, sessions *service.SessionManager, cookies *CookieTransport) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	g := e.Group("/auth")

	g.GET("/:provider/login", oauth.Login)
	g.GET("/:provider/callback", oauth.Callback)

	var limited []echo.MiddlewareFunc
	if cfg.AuthRateLimit > 0 {
		limited = append(limited, rateLimiter(cfg.AuthRateLimit))
	}
	g.POST("/signup", auth.Signup, limited...)
	g.POST("/login", auth.Login, limited...)
	g.POST("/forgot-password", auth.ForgotPassword, limited...)
	g.POST("/reset-password", auth.ResetPassword, limited...)
	g.POST("/refresh", auth.Refresh, limited...)
	g.POST("/logout", auth.Logout)

	requireSession := RequireSession(sessions, cookies)
	g.GET("/me", auth.Me, requireSession)
	g.POST("/onboarding/complete", auth.CompleteOnboarding, requireSession)
}

func rateLimiter(perSecond float64) echo.MiddlewareFunc {
	burst := int(perSecond * 2)
	if burst < 1 {
		burst = 1
	}
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(perSecond),
		Burst:     burst,
		ExpiresIn: 3 * time.Minute,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "Too many requests")
		},
	})
}
