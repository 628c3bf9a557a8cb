// Package middleware holds the HTTP middleware shared by the flow endpoint
// and the administrative dashboard.
//
// # Stack
//
//   - [Recovery] converts panics into a JSON 500.
//   - [RequestID] propagates or assigns X-Request-ID.
//   - [ClientIP] stores the caller address for event records.
//   - [Logging] writes one structured line per request.
//   - [RateLimiter] applies a process-wide token bucket.
//   - [RequireAPI] and [RequireDashboard] enforce access.Checker decisions.
//
// # What this package must NOT do
//
//   - Resolve identities or read roles itself (delegates to access.Checker).
//   - Write event records.
package middleware
