// Package eventcache keeps a bounded, TTL-pruned log of recent push-challenge
// events per tenant, together with running outcome counters.
//
// A [Manager] owns one [Cache] per tenant identifier. It is constructed once at
// process start and handed to every consumer (the authenticator records into it,
// the dashboard reads from it). Caches are created lazily on first reference and
// live until [Manager.Remove] is called for the tenant.
//
// # Concurrency
//
// Every access to a cache's event sequence is serialised by a per-cache mutex, so
// the newest-first order and the capacity bound hold at all times. Counters are
// independent atomics; a [Stats] snapshot may be momentarily inconsistent across
// counters.
package eventcache
