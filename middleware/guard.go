package middleware

import (
	"context"
	"net/http"

	"github.com/MrEthical07/goMagicLink/access"
)

type identityContextKey struct{}

// IdentityFromContext returns the identity admitted by a guard.
func IdentityFromContext(ctx context.Context) (access.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(access.Identity)
	return id, ok
}

// TenantFunc extracts the tenant a request targets.
type TenantFunc func(r *http.Request) string

// RequireAPI admits requests allowed by checker.CheckAPI and answers the rest
// with a JSON 401 or 403.
func RequireAPI(checker *access.Checker, tenant TenantFunc) func(http.Handler) http.Handler {
	return guard(tenant, checker.CheckAPI)
}

// RequireDashboard admits requests allowed by checker.CheckDashboard,
// redirecting unauthenticated callers to login.
func RequireDashboard(checker *access.Checker, tenant TenantFunc) func(http.Handler) http.Handler {
	return guard(tenant, checker.CheckDashboard)
}

func guard(tenant TenantFunc, check func(*http.Request, string) access.Decision) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := check(r, tenant(r))
			if !d.Allowed {
				access.WriteDenial(w, r, d)
				return
			}
			ctx := r.Context()
			if d.Identity != nil {
				ctx = context.WithValue(ctx, identityContextKey{}, *d.Identity)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
