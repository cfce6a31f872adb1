package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/utafrali/authsession/pkg/errors"
	"github.com/utafrali/authsession/pkg/logger"
	"github.com/utafrali/authsession/pkg/validator"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

// WriteMessage writes {"message": msg} with the given status code.
func WriteMessage(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Message: msg})
}

// WriteError maps err to a status and client-safe message. Anything that
// resolves to 500 is logged with its cause and answered with "Server error".
// It prefers the request-scoped logger from context (set by the RequestLogger
// middleware) over the fallback logger.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		WriteValidationError(w, err)
		return
	}

	status := apperrors.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		l := logger.FromContext(r.Context())
		if l == slog.Default() && fallback != nil {
			l = fallback
		}
		l.ErrorContext(r.Context(), "internal error",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		WriteMessage(w, status, apperrors.ServerErrorMessage)
		return
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		WriteMessage(w, status, appErr.Message)
		return
	}

	WriteMessage(w, status, http.StatusText(status))
}

// WriteValidationError writes a 400 carrying the first validation failure.
func WriteValidationError(w http.ResponseWriter, err error) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		WriteMessage(w, http.StatusBadRequest, valErr.Message())
		return
	}

	WriteMessage(w, http.StatusBadRequest, validator.FallbackMessage)
}
