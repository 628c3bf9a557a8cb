package internaldefs

import (
	goMagicLink "github.com/MrEthical07/goMagicLink"
	"github.com/MrEthical07/goMagicLink/eventcache"
)

// CounterDef names one process-wide counter.
type CounterDef struct {
	ID   goMagicLink.MetricID
	Name string
	Help string
}

// HistogramDef names one process-wide histogram.
type HistogramDef struct {
	ID   goMagicLink.MetricID
	Name string
	Help string
}

// TenantDef names one per-tenant series read from an event cache.
type TenantDef struct {
	Name    string
	Help    string
	Counter bool
	Value   func(eventcache.Stats) uint64
}

// TenantLabel labels every per-tenant series.
const TenantLabel = "tenant"

var CounterDefs = []CounterDef{
	{ID: goMagicLink.MetricChallengeSuccess, Name: "magiclink_challenge_success_total", Help: "Challenges accepted on the user's device."},
	{ID: goMagicLink.MetricChallengeRejected, Name: "magiclink_challenge_rejected_total", Help: "Challenges rejected on the user's device."},
	{ID: goMagicLink.MetricChallengeTimeout, Name: "magiclink_challenge_timeout_total", Help: "Challenges that timed out or expired."},
	{ID: goMagicLink.MetricChallengeError, Name: "magiclink_challenge_error_total", Help: "Attempts that failed with an error."},
	{ID: goMagicLink.MetricChallengeNoPhone, Name: "magiclink_challenge_no_phone_total", Help: "Attempts for users without a phone number."},
	{ID: goMagicLink.MetricChallengeNotConfigured, Name: "magiclink_challenge_not_configured_total", Help: "Attempts in tenants without a verification service."},
	{ID: goMagicLink.MetricChallengeRateLimited, Name: "magiclink_challenge_rate_limited_total", Help: "Attempts refused by the per-user challenge limit."},
	{ID: goMagicLink.MetricUnknownUser, Name: "magiclink_unknown_user_total", Help: "Attempts without a user bound to the flow."},
	{ID: goMagicLink.MetricVerifierFailure, Name: "magiclink_verifier_failure_total", Help: "Verification calls that failed before a response code."},
	{ID: goMagicLink.MetricEventsPruned, Name: "magiclink_events_pruned_total", Help: "Expired events removed from event caches."},
}

var HistogramDefs = []HistogramDef{
	{ID: goMagicLink.MetricVerifierLatency, Name: "magiclink_verifier_latency_seconds", Help: "Wall time of verification calls."},
}

var TenantDefs = []TenantDef{
	{Name: "magiclink_tenant_attempts_total", Help: "Attempts recorded per tenant since the last reset.", Counter: true,
		Value: func(s eventcache.Stats) uint64 { return s.TotalAttempts }},
	{Name: "magiclink_tenant_success_total", Help: "Successful attempts per tenant since the last reset.", Counter: true,
		Value: func(s eventcache.Stats) uint64 { return s.TotalSuccess }},
	{Name: "magiclink_tenant_rejected_total", Help: "Rejected attempts per tenant since the last reset.", Counter: true,
		Value: func(s eventcache.Stats) uint64 { return s.TotalRejected }},
	{Name: "magiclink_tenant_timeout_total", Help: "Timed out attempts per tenant since the last reset.", Counter: true,
		Value: func(s eventcache.Stats) uint64 { return s.TotalTimeout }},
	{Name: "magiclink_tenant_errors_total", Help: "Failed attempts per tenant since the last reset.", Counter: true,
		Value: func(s eventcache.Stats) uint64 { return s.TotalErrors }},
	{Name: "magiclink_tenant_no_phone_total", Help: "Attempts without a phone number per tenant since the last reset.", Counter: true,
		Value: func(s eventcache.Stats) uint64 { return s.TotalNoPhone }},
	{Name: "magiclink_tenant_event_log_size", Help: "Events currently stored per tenant.",
		Value: func(s eventcache.Stats) uint64 { return uint64(s.EventLogSize) }},
	{Name: "magiclink_tenant_event_log_capacity", Help: "Event log capacity per tenant.",
		Value: func(s eventcache.Stats) uint64 { return uint64(s.EventLogMaxSize) }},
}

// AuditDroppedName counts audit events lost to dispatcher backpressure.
const (
	AuditDroppedName = "magiclink_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)

// HistogramBounds are the upper bounds in seconds, matching the in-process
// buckets.
var HistogramBounds = []float64{0.5, 1, 2.5, 5, 10, 30, 60}

// HistogramBucketLabels are the le attribute values of each bucket, +Inf
// included.
var HistogramBucketLabels = []string{"0.5", "1", "2.5", "5", "10", "30", "60", "+Inf"}

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
