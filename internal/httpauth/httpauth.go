// Package httpauth extracts the caller identity that management endpoints
// require (spec §6.2: "the identity service establishes this via a bearer
// token out of scope of this spec"). This service sits behind that identity
// collaborator and trusts its bearer token verbatim as the caller's user id;
// it performs no JWT validation itself, mirroring the teacher's
// ctxPrincipal pattern in services/control-plane/gateway/main.go without
// reimplementing its JWKS verification, which belongs to the out-of-scope
// identity service.
package httpauth

import (
	"context"
	"net/http"
	"strings"

	apierrors "github.com/Ap3pp3rs94/issuewatch/pkg/errors"
)

type userIDKey struct{}

// RequireUser extracts the bearer token from Authorization and stores it in
// the request context as the caller's user id. A missing or malformed
// header is rejected with 401 before next is invoked.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := bearerToken(r.Header.Get("Authorization"))
		if userID == "" {
			apierrors.Write(w, apierrors.MissingAuth, "missing bearer token")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDFromContext returns the caller's user id stored by RequireUser, or
// "" if absent.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	const prefix = "Bearer "
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(prefix)) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
