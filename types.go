package goMagicLink

import (
	"context"

	"github.com/MrEthical07/goMagicLink/eventcache"
	"github.com/MrEthical07/goMagicLink/verifier"
)

// User is the identity bound to a flow. Attributes may be partial; missing
// attributes are looked up in the [UserDirectory] when one is configured.
type User struct {
	Username   string
	Attributes map[string]string
}

// FlowRequest is one invocation of the challenge step by the host flow engine.
type FlowRequest struct {
	TenantID string
	// User is nil when the flow has no identity bound yet.
	User     *User
	ClientIP string
	// Settings is the tenant's raw settings map, resolved with ResolveConfig.
	Settings map[string]string
}

// FailureCategory tells the host flow engine why authentication was denied.
type FailureCategory string

const (
	CategoryNone               FailureCategory = ""
	CategoryUnknownUser        FailureCategory = "unknown_user"
	CategoryInvalidUser        FailureCategory = "invalid_user"
	CategoryInvalidCredentials FailureCategory = "invalid_credentials"
	CategoryInternalError      FailureCategory = "internal_error"
)

// Decision is the result reported back to the host flow engine. Allowed is
// true only on the accepted-code path.
type Decision struct {
	Allowed  bool
	Category FailureCategory
	Outcome  eventcache.Outcome
	// Err is the underlying sentinel, for logs. It is never shown to end users.
	Err error
}

// UserDirectory reads user attributes from the host's user store.
type UserDirectory interface {
	Attribute(ctx context.Context, tenant, username, name string) (string, error)
}

// Verifier issues a blocking challenge to the push verification service.
// [verifier.Client] is the production implementation.
type Verifier interface {
	Challenge(ctx context.Context, req verifier.Request) verifier.Result
}

// challengeLimiter bounds how often a user can be challenged. CheckChallenge
// returns a *rate.LimitError when the budget is spent.
type challengeLimiter interface {
	CheckChallenge(ctx context.Context, tenant, username string) error
}
