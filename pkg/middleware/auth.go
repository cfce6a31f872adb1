package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/utafrali/authsession/pkg/httputil"
	"github.com/utafrali/authsession/pkg/logger"
)

type contextKeyType string

const identityKey contextKeyType = "identity"

// Bearer authentication failure messages.
const (
	MsgAuthorizationRequired = "Authorization required."
	MsgInvalidToken          = "Invalid authorization token."
	MsgVerificationFailed    = "Token verification failed."
)

// Identity is the authenticated caller extracted from a verified access token.
type Identity struct {
	AccountID string
	Email     string
	TokenID   string
}

// TokenValidator verifies an access token and returns the identity it carries.
// This allows the service to inject its own codec.
type TokenValidator func(token string) (*Identity, error)

// Auth validates bearer access tokens and injects the identity into context.
func Auth(validate TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				httputil.WriteMessage(w, http.StatusUnauthorized, MsgAuthorizationRequired)
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			if token == "" {
				httputil.WriteMessage(w, http.StatusUnauthorized, MsgInvalidToken)
				return
			}

			identity, err := validate(token)
			if err != nil || identity == nil {
				httputil.WriteMessage(w, http.StatusUnauthorized, MsgVerificationFailed)
				return
			}

			ctx := WithIdentity(r.Context(), identity)
			ctx = logger.WithAccountID(ctx, identity.AccountID)
			ctx = logger.NewContext(ctx, logger.FromContext(ctx).With(slog.String("account_id", identity.AccountID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithIdentity returns a copy of ctx carrying the given identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity stored by Auth, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}

// AccountIDFromContext extracts the authenticated account ID from the request context.
func AccountIDFromContext(ctx context.Context) string {
	if id, ok := IdentityFromContext(ctx); ok {
		return id.AccountID
	}
	return ""
}
