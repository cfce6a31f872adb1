package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/utafrali/authsession/pkg/httputil"
	"github.com/utafrali/authsession/pkg/validator"
	"github.com/utafrali/authsession/services/auth/internal/service"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 10 << 10

// MsgBodyTooLarge is returned when a request body exceeds maxBodyBytes.
const MsgBodyTooLarge = "Request body is too large."

// AuthHandler handles the /api/auth endpoints.
type AuthHandler struct {
	service *service.SessionService
	cookies CookieConfig
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc *service.SessionService, cookies CookieConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, cookies: cookies, logger: logger}
}

// --- Request DTOs ---

// RegisterRequest is the JSON body for registration.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=120"`
	Password string `json:"password" validate:"required,password_strength"`
}

// LoginRequest is the JSON body for login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=120"`
	Password string `json:"password" validate:"required"`
}

// --- Response types ---

// UserResponse is the public view of an account.
type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	User        UserResponse `json:"user"`
	AccessToken string       `json:"accessToken"`
	ExpiresIn   int          `json:"expiresIn"`
}

// RefreshResponse is returned by refresh.
type RefreshResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
}

// --- Handlers ---

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.cookies.set(w, res.Tokens.RefreshToken)
	httputil.WriteJSON(w, http.StatusCreated, authResponse(res))
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.cookies.set(w, res.Tokens.RefreshToken)
	httputil.WriteJSON(w, http.StatusOK, authResponse(res))
}

// Refresh handles POST /api/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Refresh(r.Context(), refreshTokenFrom(r))
	if err != nil {
		// The presented token is dead either way.
		h.cookies.clear(w)
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.cookies.set(w, res.Tokens.RefreshToken)
	httputil.WriteJSON(w, http.StatusOK, RefreshResponse{
		AccessToken: res.Tokens.AccessToken,
		ExpiresIn:   res.ExpiresIn,
	})
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.service.Logout(r.Context(), refreshTokenFrom(r))
	h.cookies.clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// decode reads and validates a JSON body, writing the 4xx itself on failure.
func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	err := validator.DecodeAndValidate(r, dst)
	if err == nil {
		return true
	}

	var valErr *validator.ValidationError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &valErr):
		httputil.WriteValidationError(w, err)
	case errors.As(err, &tooLarge):
		httputil.WriteMessage(w, http.StatusRequestEntityTooLarge, MsgBodyTooLarge)
	default:
		httputil.WriteMessage(w, http.StatusBadRequest, validator.FallbackMessage)
	}
	return false
}

func authResponse(res *service.AuthResult) AuthResponse {
	return AuthResponse{
		User:        UserResponse{ID: res.Account.ID, Email: res.Account.Email},
		AccessToken: res.Tokens.AccessToken,
		ExpiresIn:   res.ExpiresIn,
	}
}
