package otel

import (
	"context"
	"errors"
	"fmt"

	goMagicLink "github.com/MrEthical07/goMagicLink"
	"github.com/MrEthical07/goMagicLink/eventcache"
	"github.com/MrEthical07/goMagicLink/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() goMagicLink.MetricsSnapshot
	AuditDropped() uint64
}

type cacheSource interface {
	Range(fn func(tenant string, c *eventcache.Cache) bool)
}

// latencyInstruments carry one bucket gauge split by the le attribute and
// one sample count gauge.
type latencyInstruments struct {
	id      goMagicLink.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter keeps the callback registration alive until Close.
type OTelExporter struct {
	source metricsSource
	caches cacheSource

	counters     map[goMagicLink.MetricID]metric.Int64ObservableCounter
	latency      []latencyInstruments
	tenants      []metric.Int64Observable
	auditDropped metric.Int64ObservableCounter
	bucketAttrs  []metric.ObserveOption

	registration metric.Registration
}

// NewOTelExporter observes a and its event caches.
func NewOTelExporter(meter metric.Meter, a *goMagicLink.Authenticator) (*OTelExporter, error) {
	if a == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, a, a.Caches())
}

// NewOTelExporterFromSource observes arbitrary sources. Per-tenant
// instruments are only created when caches is non-nil.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource, caches cacheSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{
		source:   source,
		caches:   caches,
		counters: make(map[goMagicLink.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs)),
	}
	for _, le := range internaldefs.HistogramBucketLabels {
		e.bucketAttrs = append(e.bucketAttrs, metric.WithAttributes(attribute.String("le", le)))
	}

	var observables []metric.Observable
	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		e.counters[def.ID] = ins
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative count per le bound."))
		if err != nil {
			return nil, fmt.Errorf("create bucket gauge %s: %w", def.Name, err)
		}
		count, err := meter.Int64ObservableGauge(def.Name+"_count",
			metric.WithDescription(def.Help+" Total samples."))
		if err != nil {
			return nil, fmt.Errorf("create count gauge %s: %w", def.Name, err)
		}
		e.latency = append(e.latency, latencyInstruments{id: def.ID, buckets: buckets, count: count})
		observables = append(observables, buckets, count)
	}

	if caches != nil {
		for _, def := range internaldefs.TenantDefs {
			ins, err := tenantInstrument(meter, def)
			if err != nil {
				return nil, fmt.Errorf("create tenant instrument %s: %w", def.Name, err)
			}
			e.tenants = append(e.tenants, ins)
			observables = append(observables, ins)
		}
	}

	dropped, err := meter.Int64ObservableCounter(internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	e.auditDropped = dropped
	observables = append(observables, dropped)

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func tenantInstrument(meter metric.Meter, def internaldefs.TenantDef) (metric.Int64Observable, error) {
	if def.Counter {
		return meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
	}
	return meter.Int64ObservableGauge(def.Name, metric.WithDescription(def.Help))
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for id, ins := range e.counters {
		o.ObserveInt64(ins, int64(snap.Counters[id]))
	}
	for _, l := range e.latency {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[l.id]))
		for i, n := range cumulative {
			o.ObserveInt64(l.buckets, int64(n), e.bucketAttrs[i])
		}
		o.ObserveInt64(l.count, int64(cumulative[len(cumulative)-1]))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))

	if len(e.tenants) == 0 {
		return nil
	}
	e.caches.Range(func(tenant string, c *eventcache.Cache) bool {
		stats := c.Stats()
		attrs := metric.WithAttributes(attribute.String(internaldefs.TenantLabel, tenant))
		for i, ins := range e.tenants {
			o.ObserveInt64(ins, int64(internaldefs.TenantDefs[i].Value(stats)), attrs)
		}
		return true
	})
	return nil
}

// Close unregisters the callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
