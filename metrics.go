package goMagicLink

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goMagicLink/eventcache"
)

// MetricID names an in-process counter or histogram.
type MetricID uint16

const (
	MetricChallengeSuccess MetricID = iota
	MetricChallengeRejected
	MetricChallengeTimeout
	MetricChallengeError
	MetricChallengeNoPhone
	MetricChallengeNotConfigured
	MetricChallengeRateLimited
	MetricUnknownUser
	MetricVerifierFailure
	MetricEventsPruned
	// MetricVerifierLatency is the only histogram: wall time of the upstream call.
	MetricVerifierLatency
	metricIDCount
)

// latencyBounds are the inclusive upper bounds of the verifier latency
// buckets. A final bucket catches everything slower. The spread follows a
// call that waits on a human: most answers land between a few seconds and a
// minute.
var latencyBounds = [...]time.Duration{
	500 * time.Millisecond,
	time.Second,
	2500 * time.Millisecond,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	time.Minute,
}

const latencyBucketCount = len(latencyBounds) + 1

// MetricsConfig controls in-process metric collection.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// counter sits alone on a cache line; every flow bumps one.
type counter struct {
	atomic.Uint64
	_ [56]byte
}

// Metrics holds process-wide counters across all tenants. Per-tenant numbers
// live in the event caches.
type Metrics struct {
	enabled bool
	latency bool

	counters [metricIDCount]counter
	buckets  [latencyBucketCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of [Metrics]. Histogram buckets are
// not cumulative.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.latency
}

func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

func (m *Metrics) Add(id MetricID, n uint64) {
	if !m.Enabled() || id >= metricIDCount || id == MetricVerifierLatency || n == 0 {
		return
	}
	m.counters[id].Add(n)
}

// RecordOutcome bumps the counter matching an event outcome. Unknown
// outcomes are ignored.
func (m *Metrics) RecordOutcome(o eventcache.Outcome) {
	switch o {
	case eventcache.OutcomeSuccess:
		m.Inc(MetricChallengeSuccess)
	case eventcache.OutcomeRejected:
		m.Inc(MetricChallengeRejected)
	case eventcache.OutcomeTimeout:
		m.Inc(MetricChallengeTimeout)
	case eventcache.OutcomeError:
		m.Inc(MetricChallengeError)
	case eventcache.OutcomeNoPhone:
		m.Inc(MetricChallengeNoPhone)
	case eventcache.OutcomeNotConfigured:
		m.Inc(MetricChallengeNotConfigured)
	}
}

// Observe records a latency sample. Only MetricVerifierLatency is a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() || id != MetricVerifierLatency {
		return
	}
	i := sort.Search(len(latencyBounds), func(i int) bool { return d <= latencyBounds[i] })
	m.buckets[i].Add(1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		if id != MetricVerifierLatency {
			s.Counters[id] = m.counters[id].Load()
		}
	}
	if m.latency {
		buckets := make([]uint64, latencyBucketCount)
		for i := range buckets {
			buckets[i] = m.buckets[i].Load()
		}
		s.Histograms[MetricVerifierLatency] = buckets
	}
	return s
}
