package directory

import "errors"

var (
	// ErrUserNotFound is returned by User for a username without attributes.
	ErrUserNotFound = errors.New("user not found")
	// ErrRoleNotFound is returned when granting a role the tenant does not define.
	ErrRoleNotFound = errors.New("role not found")
	// ErrInvalidName is returned for blank tenant, user or role names.
	ErrInvalidName = errors.New("invalid name")
	// ErrRedisUnavailable wraps Redis command failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
