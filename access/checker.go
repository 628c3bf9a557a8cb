package access

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"

	goMagicLink "github.com/MrEthical07/goMagicLink"
	"go.uber.org/zap"
)

const (
	DefaultAdminTenant   = "master"
	DefaultOverrideRole  = "mideye-magic-link-master"
	DefaultLoginClientID = "magic-link-dashboard"
)

// Identity is a caller resolved by the host platform. Tenant is the tenant
// the account belongs to, which differs from the requested tenant when the
// caller arrived through an administrative-tenant session.
type Identity struct {
	Username string
	Tenant   string
}

// IdentityResolver is the capability the host platform provides.
type IdentityResolver interface {
	ResolveSessionIdentity(r *http.Request, tenant string) (Identity, bool)
	ResolveTokenIdentity(r *http.Request, tenant string) (Identity, bool)
	HasRole(ctx context.Context, id Identity, tenant, role string) (bool, error)
}

// Decision is the result of a check. Denials carry the HTTP status and either
// a JSON message, a login redirect or an HTML page.
type Decision struct {
	Allowed     bool
	Status      int
	Message     string
	RedirectURL string
	HTML        string
	Identity    *Identity
}

// Checker evaluates access for one tenant at a time. The zero values of the
// string fields fall back to the package defaults.
type Checker struct {
	Resolver IdentityResolver
	// RoleFor returns the tenant's configured dashboard role. Blank or nil
	// means goMagicLink.DefaultDashboardRole.
	RoleFor       func(tenant string) string
	AdminTenant   string
	OverrideRole  string
	PublicBaseURL string
	LoginClientID string
	Logger        *zap.Logger
}

// CheckAPI authorizes a machine caller. Unauthenticated callers get 401 and
// callers without a qualifying role get 403, both with a message naming the
// roles that would grant access.
func (c *Checker) CheckAPI(r *http.Request, tenant string) Decision {
	role := c.requiredRole(tenant)
	id, ok := c.resolve(r, tenant)
	if !ok {
		return Decision{
			Status: http.StatusUnauthorized,
			Message: fmt.Sprintf("Authentication required. Log in and ensure you have the '%s' realm role or the '%s' %s realm role.",
				role, c.overrideRole(), c.adminTenant()),
		}
	}
	if c.authorized(r.Context(), id, tenant, role) {
		return Decision{Allowed: true, Status: http.StatusOK, Identity: &id}
	}
	return Decision{
		Status: http.StatusForbidden,
		Message: fmt.Sprintf("Access denied. Requires realm role '%s' or %s realm role '%s'.",
			role, c.adminTenant(), c.overrideRole()),
		Identity: &id,
	}
}

// CheckDashboard authorizes a browser caller. Unauthenticated callers are
// redirected to the interactive login with a return URL to the dashboard and
// callers without a qualifying role get an HTML explanation.
func (c *Checker) CheckDashboard(r *http.Request, tenant string) Decision {
	role := c.requiredRole(tenant)
	id, ok := c.resolve(r, tenant)
	if !ok {
		return Decision{
			Status:      http.StatusFound,
			RedirectURL: c.LoginURL(r, tenant),
		}
	}
	if c.authorized(r.Context(), id, tenant, role) {
		return Decision{Allowed: true, Status: http.StatusOK, Identity: &id}
	}
	return Decision{
		Status:   http.StatusForbidden,
		HTML:     c.deniedPage(id.Username, role),
		Identity: &id,
	}
}

// resolve tries the tenant session, the tenant bearer token and finally the
// administrative-tenant session. The first hit wins.
func (c *Checker) resolve(r *http.Request, tenant string) (Identity, bool) {
	if c == nil || c.Resolver == nil {
		return Identity{}, false
	}
	if id, ok := c.Resolver.ResolveSessionIdentity(r, tenant); ok {
		return id, true
	}
	if id, ok := c.Resolver.ResolveTokenIdentity(r, tenant); ok {
		return id, true
	}
	if admin := c.adminTenant(); admin != tenant {
		if id, ok := c.Resolver.ResolveSessionIdentity(r, admin); ok {
			return id, true
		}
	}
	return Identity{}, false
}

func (c *Checker) authorized(ctx context.Context, id Identity, tenant, role string) bool {
	if c.hasRole(ctx, id, c.adminTenant(), c.overrideRole()) {
		return true
	}
	if c.hasRole(ctx, id, tenant, role) {
		return true
	}
	c.logger().Warn("dashboard access denied",
		zap.String("tenant", tenant),
		zap.String("user", id.Username),
		zap.String("required_role", role),
		zap.String("override_role", c.overrideRole()),
	)
	return false
}

func (c *Checker) hasRole(ctx context.Context, id Identity, tenant, role string) bool {
	ok, err := c.Resolver.HasRole(ctx, id, tenant, role)
	if err != nil {
		c.logger().Debug("role lookup failed",
			zap.String("tenant", tenant),
			zap.String("role", role),
			zap.Error(err),
		)
		return false
	}
	return ok
}

// LoginURL builds the OIDC authorization URL that returns the caller to the
// tenant's dashboard after login.
func (c *Checker) LoginURL(r *http.Request, tenant string) string {
	base := c.baseURL(r)
	dashboard := base + "realms/" + tenant + "/mideye-magic-link/dashboard"
	return base + "realms/" + tenant + "/protocol/openid-connect/auth" +
		"?response_type=code" +
		"&client_id=" + url.QueryEscape(c.loginClientID()) +
		"&redirect_uri=" + url.QueryEscape(dashboard) +
		"&scope=openid"
}

// baseURL returns the public base URL with a trailing slash. Without a
// configured value it is derived from the request.
func (c *Checker) baseURL(r *http.Request) string {
	base := strings.TrimSpace(c.PublicBaseURL)
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
			scheme = p
		}
		base = scheme + "://" + r.Host
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

func (c *Checker) deniedPage(username, role string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><title>Access Denied</title>")
	b.WriteString("<style>body{font-family:system-ui,sans-serif;display:flex;justify-content:center;")
	b.WriteString("align-items:center;min-height:100vh;margin:0;background:#1a1a2e;color:#e0e0e0}")
	b.WriteString(".card{background:#16213e;padding:2rem 3rem;border-radius:12px;text-align:center}")
	b.WriteString("h1{color:#e74c3c}code{background:#0d1b2a;padding:2px 8px;border-radius:4px;color:#f39c12}")
	b.WriteString("</style></head><body><div class='card'><h1>Access Denied</h1>")
	b.WriteString("<p>Your account <strong>" + html.EscapeString(username) + "</strong> does not have the required role.</p>")
	b.WriteString("<p>You need one of:</p><ul style='text-align:left'>")
	b.WriteString("<li>Realm role <code>" + html.EscapeString(role) + "</code> in this realm</li>")
	b.WriteString("<li>Role <code>" + html.EscapeString(c.overrideRole()) + "</code> in realm <code>" +
		html.EscapeString(c.adminTenant()) + "</code></li>")
	b.WriteString("</ul></div></body></html>")
	return b.String()
}

func (c *Checker) requiredRole(tenant string) string {
	if c != nil && c.RoleFor != nil {
		if role := strings.TrimSpace(c.RoleFor(tenant)); role != "" {
			return role
		}
	}
	return goMagicLink.DefaultDashboardRole
}

func (c *Checker) adminTenant() string {
	if c == nil || c.AdminTenant == "" {
		return DefaultAdminTenant
	}
	return c.AdminTenant
}

func (c *Checker) overrideRole() string {
	if c == nil || c.OverrideRole == "" {
		return DefaultOverrideRole
	}
	return c.OverrideRole
}

func (c *Checker) loginClientID() string {
	if c.LoginClientID == "" {
		return DefaultLoginClientID
	}
	return c.LoginClientID
}

func (c *Checker) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
