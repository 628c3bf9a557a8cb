package hostauth

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/goMagicLink/access"
	"go.uber.org/zap"
)

// CookieName carries session tokens.
const CookieName = "MAGIC_LINK_IDENTITY"

// RoleStore answers role membership; directory.Store implements it.
type RoleStore interface {
	HasRole(ctx context.Context, tenant, username, role string) (bool, error)
}

// Resolver implements access.IdentityResolver over identity tokens.
type Resolver struct {
	tokens *TokenManager
	roles  RoleStore
	logger *zap.Logger
}

var _ access.IdentityResolver = (*Resolver)(nil)

// NewResolver returns a Resolver. A nil logger is replaced with a no-op one.
func NewResolver(tokens *TokenManager, roles RoleStore, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{tokens: tokens, roles: roles, logger: logger}
}

// ResolveSessionIdentity reads the session cookie and accepts it only for
// the tenant named in its realm claim.
func (r *Resolver) ResolveSessionIdentity(req *http.Request, tenant string) (access.Identity, bool) {
	c, err := req.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return access.Identity{}, false
	}
	return r.resolve(c.Value, KindSession, tenant)
}

// ResolveTokenIdentity reads an Authorization bearer token.
func (r *Resolver) ResolveTokenIdentity(req *http.Request, tenant string) (access.Identity, bool) {
	token, ok := bearerToken(req.Header.Get("Authorization"))
	if !ok {
		return access.Identity{}, false
	}
	return r.resolve(token, KindBearer, tenant)
}

func (r *Resolver) resolve(token string, kind TokenKind, tenant string) (access.Identity, bool) {
	if r == nil || r.tokens == nil {
		return access.Identity{}, false
	}
	claims, err := r.tokens.Parse(token, kind)
	if err != nil {
		r.logger.Debug("identity token rejected",
			zap.String("tenant", tenant),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return access.Identity{}, false
	}
	if claims.Realm != tenant {
		return access.Identity{}, false
	}
	return access.Identity{Username: claims.PreferredUsername, Tenant: claims.Realm}, true
}

// HasRole reports whether id holds role in tenant. Accounts are tenant
// scoped, so an identity never holds roles outside its own tenant.
func (r *Resolver) HasRole(ctx context.Context, id access.Identity, tenant, role string) (bool, error) {
	if r == nil || r.roles == nil || id.Tenant != tenant {
		return false, nil
	}
	return r.roles.HasRole(ctx, tenant, id.Username, role)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}
