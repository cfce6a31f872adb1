package http

import (
	"net/http"

	"github.com/utafrali/authsession/pkg/httputil"
	"github.com/utafrali/authsession/pkg/middleware"
)

// MsgSessionNotFound is returned by /me when no identity is attached.
const MsgSessionNotFound = "Session not found."

// MeResponse is the body of GET /api/users/me.
type MeResponse struct {
	User UserResponse `json:"user"`
}

// Me handles GET /api/users/me. The identity comes from the verified access
// token; the store is not consulted.
func Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		httputil.WriteMessage(w, http.StatusUnauthorized, MsgSessionNotFound)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, MeResponse{
		User: UserResponse{ID: identity.AccountID, Email: identity.Email},
	})
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status      string `json:"status"`
	Environment string `json:"environment"`
}

// APIHealth handles GET /api/health.
func APIHealth(environment string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok", Environment: environment})
	}
}
