package prometheus

import (
	"net/http"

	goMagicLink "github.com/MrEthical07/goMagicLink"
	"github.com/MrEthical07/goMagicLink/eventcache"
	"github.com/MrEthical07/goMagicLink/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsSource interface {
	MetricsSnapshot() goMagicLink.MetricsSnapshot
	AuditDropped() uint64
}

// cacheSource is satisfied by *eventcache.Manager.
type cacheSource interface {
	Range(fn func(tenant string, c *eventcache.Cache) bool)
}

// Exporter is a prometheus.Collector over an authenticator and its caches.
type Exporter struct {
	source metricsSource
	caches cacheSource

	counters     []*prometheus.Desc
	histograms   []*prometheus.Desc
	tenants      []*prometheus.Desc
	auditDropped *prometheus.Desc
}

var _ prometheus.Collector = (*Exporter)(nil)

// NewExporter reads counters from a and per-tenant series from its caches.
func NewExporter(a *goMagicLink.Authenticator) *Exporter {
	return NewExporterFromSource(a, a.Caches())
}

// NewExporterFromSource builds an exporter over arbitrary sources. Either
// may be nil.
func NewExporterFromSource(source metricsSource, caches cacheSource) *Exporter {
	e := &Exporter{
		source:       source,
		caches:       caches,
		auditDropped: prometheus.NewDesc(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, nil, nil),
	}
	for _, def := range internaldefs.CounterDefs {
		e.counters = append(e.counters, prometheus.NewDesc(def.Name, def.Help, nil, nil))
	}
	for _, def := range internaldefs.HistogramDefs {
		e.histograms = append(e.histograms, prometheus.NewDesc(def.Name, def.Help, nil, nil))
	}
	for _, def := range internaldefs.TenantDefs {
		e.tenants = append(e.tenants, prometheus.NewDesc(def.Name, def.Help, []string{internaldefs.TenantLabel}, nil))
	}
	return e
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range e.counters {
		ch <- d
	}
	for _, d := range e.histograms {
		ch <- d
	}
	for _, d := range e.tenants {
		ch <- d
	}
	ch <- e.auditDropped
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	if e.source != nil {
		snapshot := e.source.MetricsSnapshot()
		if len(snapshot.Counters) > 0 {
			for i, def := range internaldefs.CounterDefs {
				ch <- prometheus.MustNewConstMetric(e.counters[i], prometheus.CounterValue, float64(snapshot.Counters[def.ID]))
			}
		}
		for i, def := range internaldefs.HistogramDefs {
			raw, ok := snapshot.Histograms[def.ID]
			if !ok {
				continue
			}
			cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
			buckets := make(map[float64]uint64, len(internaldefs.HistogramBounds))
			for j, le := range internaldefs.HistogramBounds {
				buckets[le] = cumulative[j]
			}
			// Bucket counts are kept without a running sum.
			ch <- prometheus.MustNewConstHistogram(e.histograms[i], cumulative[len(cumulative)-1], 0, buckets)
		}
		ch <- prometheus.MustNewConstMetric(e.auditDropped, prometheus.CounterValue, float64(e.source.AuditDropped()))
	}

	if e.caches == nil {
		return
	}
	e.caches.Range(func(tenant string, c *eventcache.Cache) bool {
		stats := c.Stats()
		for i, def := range internaldefs.TenantDefs {
			kind := prometheus.GaugeValue
			if def.Counter {
				kind = prometheus.CounterValue
			}
			ch <- prometheus.MustNewConstMetric(e.tenants[i], kind, float64(def.Value(stats)), tenant)
		}
		return true
	})
}

// Handler serves the exporter from a private registry.
func (e *Exporter) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(e)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
