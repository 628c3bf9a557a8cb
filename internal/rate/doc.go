// Package rate implements the Redis-backed challenge limiter.
//
// # Window semantics
//
// Fixed windows keyed mlc:{tenant}:{username}. One Lua script increments the
// counter and starts the window on the first hit, so a counter never lives
// without an expiry.
//
// # What this package must NOT do
//
//   - Decide what happens to a limited flow (the authenticator does).
//   - Be imported outside the goMagicLink module.
package rate
