// Package dashboard serves the per-tenant administrative surface under
// /realms/{realm}/mideye-magic-link/: an HTML dashboard and a JSON API over
// the tenant's event cache. Every route is guarded by access.Checker.
package dashboard
