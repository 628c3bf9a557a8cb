// Package directory is a Redis-backed user attribute and role store. It stands
// in for the host platform's user store: the authenticator reads phone numbers
// from it and the JWT identity resolver reads role memberships.
//
// # Key layout
//
//   - {prefix}:{tenant}:user:{username}  hash of attributes
//   - {prefix}:{tenant}:roles            set of defined role names
//   - {prefix}:{tenant}:role:{role}      set of member usernames
//
// # What this package must NOT do
//
//   - Authenticate users or validate credentials.
//   - Cache reads in process memory.
package directory
