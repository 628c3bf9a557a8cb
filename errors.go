package goMagicLink

import "errors"

var (
	// ErrNoUser is reported when the flow carries no user.
	ErrNoUser = errors.New("no user in authentication context")
	// ErrNotConfigured is reported when the service URL or API key is missing.
	ErrNotConfigured = errors.New("verification service not configured")
	// ErrNoPhone is reported when the user has no phone number attribute.
	ErrNoPhone = errors.New("user has no phone number")
	// ErrChallengeRejected is reported when the user denied the challenge.
	ErrChallengeRejected = errors.New("challenge rejected")
	// ErrChallengeTimeout is reported when the user did not answer in time.
	ErrChallengeTimeout = errors.New("challenge timed out")
	// ErrVerificationFailed wraps transport, timeout and status failures of
	// the verification call.
	ErrVerificationFailed = errors.New("verification call failed")
	// ErrChallengeRateLimited is reported when a user exceeded the challenge budget.
	ErrChallengeRateLimited = errors.New("challenge rate limited")
	// ErrInvalidTenant is reported for a blank tenant identifier.
	ErrInvalidTenant = errors.New("invalid tenant")
	// ErrAuthenticatorNotReady is returned when methods are called on a nil Authenticator.
	ErrAuthenticatorNotReady = errors.New("authenticator not initialized")
)
