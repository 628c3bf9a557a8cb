// Package hostauth resolves dashboard callers from signed identity tokens and
// answers role questions from the directory store. It is the host-platform
// adapter behind access.IdentityResolver.
//
// Two token kinds exist. Session tokens travel in the MAGIC_LINK_IDENTITY
// cookie; bearer tokens travel in the Authorization header. A token is only
// accepted in the slot matching its kind and only for the tenant named in its
// realm claim.
//
// # What this package must NOT do
//
//   - Decide authorization (that is the access package).
//   - Accept tokens signed with any algorithm other than HS256.
package hostauth
