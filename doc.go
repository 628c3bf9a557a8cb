// Package goMagicLink adds an out-of-band push verification step to an
// authentication flow.
//
// After the host has checked the user's password it calls
// [Authenticator.Authenticate]. The Authenticator resolves the tenant's
// settings ([ResolveConfig]), sends a challenge to the verification service
// with the user's phone number, blocks until the user answers on their device
// and converts the reply into a [Decision]. Every attempt is recorded in the
// tenant's event cache (package eventcache) for the admin dashboard.
//
// # Architecture boundaries
//
// This package is the public surface: [Authenticator], [Builder], [Config] and
// value types. The HTTP client lives in verifier, the per-tenant event log in
// eventcache and admin access checks in access. Host adapters (directory,
// hostauth, settings) are optional implementations of the small interfaces
// declared here.
//
// # What this package must NOT do
//
//   - Return an allow decision for anything but the accepted response code.
//   - Log or record raw phone numbers or the API key.
//   - Keep global state: caches are owned by an explicit eventcache.Manager.
package goMagicLink
