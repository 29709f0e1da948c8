package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/gatehouse/pkg/slogx"
)

// CredentialValidator resolves a bearer credential to a live session.
type CredentialValidator interface {
	ValidateCredential(ctx context.Context, token string) (Principal, error)
}

// CredentialValidatorFunc adapts a function to CredentialValidator.
type CredentialValidatorFunc func(ctx context.Context, token string) (Principal, error)

func (f CredentialValidatorFunc) ValidateCredential(ctx context.Context, token string) (Principal, error) {
	return f(ctx, token)
}

func AuthnMiddleware(v CredentialValidator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			raw, ok := BearerToken(r)
			if !ok {
				writeBearerError(w, "Access token required")
				return
			}

			p, err := v.ValidateCredential(ctx, raw)
			if err != nil {
				log.Warn("session validation failed", "err", err)
				writeBearerError(w, "Invalid session. Please login again.")
				return
			}

			ctx = ContextWithPrincipal(ctx, p)
			ctx = slogx.WithContext(ctx, log.With("principal_id", p.ID, "principal_kind", p.Kind))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the credential from an Authorization: Bearer header.
func BearerToken(r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
		return "", false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer"))
	return raw, raw != ""
}

// RFC 6750-compliant challenge header with the JSON failure envelope.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	WriteFailure(w, http.StatusUnauthorized, desc, nil)
}
