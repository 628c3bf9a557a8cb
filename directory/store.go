package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by a Store.
const DefaultPrefix = "ml"

// grantRoleScript adds a member only when the role is defined, so a grant can
// never resurrect a role deleted concurrently.
const grantRoleScript = `
if redis.call("SISMEMBER", KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call("SADD", KEYS[2], ARGV[2])
return 1
`

const hasRoleScript = `
if redis.call("SISMEMBER", KEYS[1], ARGV[1]) == 0 then
  return 0
end
return redis.call("SISMEMBER", KEYS[2], ARGV[2])
`

const deleteRoleScript = `
redis.call("SREM", KEYS[1], ARGV[1])
return redis.call("DEL", KEYS[2])
`

var (
	grantRoleLua  = redis.NewScript(grantRoleScript)
	hasRoleLua    = redis.NewScript(hasRoleScript)
	deleteRoleLua = redis.NewScript(deleteRoleScript)
)

// Store reads and writes users and roles in Redis. It is safe for concurrent
// use.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore returns a Store using prefix, or DefaultPrefix when prefix is blank.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultPrefix
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) userKey(tenant, username string) string {
	return s.prefix + ":" + tenant + ":user:" + username
}

func (s *Store) rolesKey(tenant string) string {
	return s.prefix + ":" + tenant + ":roles"
}

func (s *Store) roleKey(tenant, role string) string {
	return s.prefix + ":" + tenant + ":role:" + role
}

func validNames(names ...string) error {
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			return ErrInvalidName
		}
	}
	return nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

// PutUser merges attrs into the user's attribute hash.
func (s *Store) PutUser(ctx context.Context, tenant, username string, attrs map[string]string) error {
	if err := validNames(tenant, username); err != nil {
		return err
	}
	if len(attrs) == 0 {
		return nil
	}
	if err := s.redis.HSet(ctx, s.userKey(tenant, username), attrs).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// DeleteUser removes the user's attributes. Role memberships are kept.
func (s *Store) DeleteUser(ctx context.Context, tenant, username string) error {
	if err := s.redis.Del(ctx, s.userKey(tenant, username)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// User returns all attributes of username.
func (s *Store) User(ctx context.Context, tenant, username string) (map[string]string, error) {
	if err := validNames(tenant, username); err != nil {
		return nil, err
	}
	attrs, err := s.redis.HGetAll(ctx, s.userKey(tenant, username)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(attrs) == 0 {
		return nil, ErrUserNotFound
	}
	return attrs, nil
}

// Attribute returns one attribute, or "" when the user or attribute is absent.
func (s *Store) Attribute(ctx context.Context, tenant, username, name string) (string, error) {
	if err := validNames(tenant, username, name); err != nil {
		return "", err
	}
	v, err := s.redis.HGet(ctx, s.userKey(tenant, username), name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", unavailable(err)
	}
	return v, nil
}

// DefineRole creates role in tenant. Defining an existing role is a no-op.
func (s *Store) DefineRole(ctx context.Context, tenant, role string) error {
	if err := validNames(tenant, role); err != nil {
		return err
	}
	if err := s.redis.SAdd(ctx, s.rolesKey(tenant), role).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// DeleteRole removes role and all of its memberships.
func (s *Store) DeleteRole(ctx context.Context, tenant, role string) error {
	if err := validNames(tenant, role); err != nil {
		return err
	}
	keys := []string{s.rolesKey(tenant), s.roleKey(tenant, role)}
	if err := deleteRoleLua.Run(ctx, s.redis, keys, role).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// RoleExists reports whether role is defined in tenant.
func (s *Store) RoleExists(ctx context.Context, tenant, role string) (bool, error) {
	if err := validNames(tenant, role); err != nil {
		return false, err
	}
	ok, err := s.redis.SIsMember(ctx, s.rolesKey(tenant), role).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

// Roles lists the roles defined in tenant.
func (s *Store) Roles(ctx context.Context, tenant string) ([]string, error) {
	roles, err := s.redis.SMembers(ctx, s.rolesKey(tenant)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	return roles, nil
}

// GrantRole adds username to role. It fails with ErrRoleNotFound when the
// role is not defined.
func (s *Store) GrantRole(ctx context.Context, tenant, role, username string) error {
	if err := validNames(tenant, role, username); err != nil {
		return err
	}
	keys := []string{s.rolesKey(tenant), s.roleKey(tenant, role)}
	granted, err := grantRoleLua.Run(ctx, s.redis, keys, role, username).Int64()
	if err != nil {
		return unavailable(err)
	}
	if granted == 0 {
		return ErrRoleNotFound
	}
	return nil
}

// RevokeRole removes username from role.
func (s *Store) RevokeRole(ctx context.Context, tenant, role, username string) error {
	if err := validNames(tenant, role, username); err != nil {
		return err
	}
	if err := s.redis.SRem(ctx, s.roleKey(tenant, role), username).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// HasRole reports whether username holds role in tenant. A role that is not
// defined is never held.
func (s *Store) HasRole(ctx context.Context, tenant, username, role string) (bool, error) {
	if err := validNames(tenant, role, username); err != nil {
		return false, err
	}
	keys := []string{s.rolesKey(tenant), s.roleKey(tenant, role)}
	held, err := hasRoleLua.Run(ctx, s.redis, keys, role, username).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return held == 1, nil
}
