// Package access implements tiered authorization for the administrative
// surfaces: a caller resolved from a tenant session, a tenant bearer token or
// an administrative-tenant session must hold either the tenant's dashboard role
// or the cross-tenant override role defined in the administrative tenant.
//
// # Architecture boundaries
//
// The host platform is reached only through [IdentityResolver]. This package
// never parses credentials or reads role storage itself.
package access
