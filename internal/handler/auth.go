package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sumire/authgate/internal/domain"
	"github.com/sumire/authgate/internal/service"
)

const forgotPasswordMessage = "If an account exists for that email, a password reset link has been sent"

type signupRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// sessionResponse is returned by every endpoint that issues credentials.
type sessionResponse struct {
	User         *domain.User `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// AuthHandler handles email/password and session endpoints.
type AuthHandler struct {
	auth     *service.AuthService
	sessions *service.SessionManager
	cookies  *CookieTransport
	locales  *Localizer
	appURL   string
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(auth *service.AuthService, sessions *service.SessionManager, cookies *CookieTransport, locales *Localizer, appURL string) *AuthHandler {
	return &AuthHandler{auth: auth, sessions: sessions, cookies: cookies, locales: locales, appURL: appURL}
}

func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return c.Validate(req)
}

func (h *AuthHandler) respondSession(c echo.Context, status int, res *service.AuthResult) error {
	h.cookies.SetSession(c, res.IssuedSession)
	return JSON(c, status, sessionResponse{
		User:         res.User,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    res.AccessExpiresAt,
	})
}

// Signup registers a new password user.
func (h *AuthHandler) Signup(c echo.Context) error {
	var req signupRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	res, err := h.auth.Signup(c.Request().Context(), service.SignupInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	}, clientMeta(c))
	if err != nil {
		return err
	}
	return h.respondSession(c, http.StatusCreated, res)
}

// Login signs in with email and password.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	res, err := h.auth.Login(c.Request().Context(), req.Email, req.Password, clientMeta(c))
	if err != nil {
		return err
	}
	return h.respondSession(c, http.StatusOK, res)
}

// Logout revokes the current session, if any, and clears the token cookies.
// It succeeds even without a valid access token.
func (h *AuthHandler) Logout(c echo.Context) error {
	h.cookies.ClearSession(c)

	if token := accessToken(c, h.cookies); token != "" {
		claims, err := h.sessions.Codec().Verify(token)
		if err == nil {
			if err := h.auth.Logout(c.Request().Context(), claims, clientMeta(c)); err != nil {
				return err
			}
		}
	}

	return JSON(c, http.StatusOK, messageResponse{Message: "Logged out"})
}

// Refresh rotates the refresh token from the cookie or, for non-browser
// clients, the request body.
func (h *AuthHandler) Refresh(c echo.Context) error {
	token := h.cookies.RefreshToken(c)
	if token == "" {
		var req refreshRequest
		if err := c.Bind(&req); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		token = req.RefreshToken
	}

	res, err := h.auth.Refresh(c.Request().Context(), token)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidToken) {
			h.cookies.ClearSession(c)
		}
		return err
	}
	return h.respondSession(c, http.StatusOK, res)
}

// ForgotPassword requests a reset link. The response never reveals whether the email exists.
func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req forgotPasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	locale := h.locales.Resolve(c, "")
	resetPage := h.appURL + h.locales.Path(locale, "/reset-password")
	if err := h.auth.ForgotPassword(c.Request().Context(), req.Email, resetPage, clientMeta(c)); err != nil {
		return err
	}
	return JSON(c, http.StatusOK, messageResponse{Message: forgotPasswordMessage})
}

// ResetPassword sets a new password using a reset token.
func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetPasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.auth.ResetPassword(c.Request().Context(), req.Token, req.Password, clientMeta(c)); err != nil {
		return err
	}
	return JSON(c, http.StatusOK, messageResponse{Message: "Password has been reset"})
}

// Me returns the currently authenticated user.
func (h *AuthHandler) Me(c echo.Context) error {
	claims, ok := GetClaims(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	user, err := h.auth.Me(c.Request().Context(), claims.UserID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, user)
}

// CompleteOnboarding marks the current user's onboarding as finished.
func (h *AuthHandler) CompleteOnboarding(c echo.Context) error {
	claims, ok := GetClaims(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	user, err := h.auth.CompleteOnboarding(c.Request().Context(), claims.UserID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, user)
}
