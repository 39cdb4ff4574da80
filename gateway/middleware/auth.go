package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"

	"custodia/gateway/auth"
	"custodia/observability"
	"custodia/observability/logging"
)

type contextKey string

// ContextKeyPrincipal carries the authenticated principal through the request
// context.
const ContextKeyPrincipal contextKey = "gateway.principal"

// RequireSignature wraps handlers with API key + HMAC verification. The body
// is buffered for signing and restored for downstream handlers.
func RequireSignature(authenticator *auth.Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authenticator == nil {
				next.ServeHTTP(w, r)
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, int64(auth.MaxBodyForSignature)+1))
			if err != nil {
				http.Error(w, "unable to read request body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			principal, err := authenticator.Authenticate(r, body)
			if err != nil {
				logger.LogAttrs(r.Context(), slog.LevelWarn, "request rejected",
					slog.String("component", "gateway"),
					slog.String("reason", err.Error()),
					logging.MaskField("api_key", r.Header.Get(auth.HeaderAPIKey)))
				observability.Gateway().RecordAuthRejection(err.Error())
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyPrincipal, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (*auth.Principal, bool) {
	principal, ok := ctx.Value(ContextKeyPrincipal).(*auth.Principal)
	return principal, ok
}
