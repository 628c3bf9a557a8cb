// Package verifier calls the push verification service and turns its reply
// into a [Result].
//
// A challenge is a single blocking GET to {base}/api/sfwa/auth. The upstream
// holds the request open until the end user approves or denies on their device,
// so the request timeout is long (minutes) while the connection timeout stays
// short.
//
// Failures are values, not errors: a [Result] carries either the response code
// or a [Failure] whose [FailureKind] tells timeouts, transport problems and
// non-200 replies apart.
//
// # What this package must NOT do
//
//   - Decide whether authentication succeeds (the caller compares codes).
//   - Log the phone number or the API key.
package verifier
