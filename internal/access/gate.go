package access

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-user-management/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/token"
	"github.com/ovaphlow/pitchfork/service-user-management/pkg/httpjson"
)

type ctxKeyClaims struct{}

// WithClaims stores verified claims in ctx.
func WithClaims(ctx context.Context, c *token.Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims{}, c)
}

// ClaimsFrom returns the claims stored by Authenticate.
func ClaimsFrom(ctx context.Context) (*token.Claims, bool) {
	c, ok := ctx.Value(ctxKeyClaims{}).(*token.Claims)
	return c, ok
}

// BearerToken extracts the credential from an "Authorization: Bearer <token>" header.
// The scheme word is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, cred, found := strings.Cut(auth, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	cred = strings.TrimSpace(cred)
	return cred, cred != ""
}

// Authenticate rejects requests without a valid bearer token and stores the
// verified claims in the request context.
func Authenticate(codec *token.Codec, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := BearerToken(r)
			if !ok {
				httpjson.Fail(w, http.StatusUnauthorized, "Invalid authorization code.")
				return
			}
			claims, err := codec.Verify(raw)
			if err != nil {
				logger.Debugw("token rejected", "path", r.URL.Path, "err", err)
				httpjson.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// Require rejects callers whose token role may not perform act on obj.
// It must run after Authenticate.
func Require(p *Policy, obj, act string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok {
				httpjson.WriteError(w, apperr.ErrUnauthenticated)
				return
			}
			if err := p.Authorize(claims.Role, obj, act); err != nil {
				httpjson.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
