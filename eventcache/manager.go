package eventcache

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type options struct {
	logger *zap.Logger
	now    func() time.Time
}

// Option customises a [Manager] and the caches it creates.
type Option func(*options)

// WithLogger sets the logger shared by the manager and its caches.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces time.Now as the source of event timestamps and prune
// cutoffs.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Manager maps tenant identifiers to their [Cache]. It is safe for concurrent
// use and constructs at most one cache per tenant.
type Manager struct {
	opts   options
	caches sync.Map // tenant -> *Cache

	// createMu serialises the slow path of Get so that racing first
	// references to a tenant construct a single cache.
	createMu sync.Mutex
}

// NewManager returns an empty registry.
func NewManager(opts ...Option) *Manager {
	o := options{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{opts: o}
}

// Get returns the cache for tenant, creating it on first use.
func (m *Manager) Get(tenant string) (*Cache, error) {
	if strings.TrimSpace(tenant) == "" {
		return nil, ErrInvalidTenant
	}
	if v, ok := m.caches.Load(tenant); ok {
		return v.(*Cache), nil
	}

	m.createMu.Lock()
	defer m.createMu.Unlock()

	if v, ok := m.caches.Load(tenant); ok {
		return v.(*Cache), nil
	}
	c := newCache(tenant, m.opts)
	m.caches.Store(tenant, c)
	m.opts.logger.Info("created event cache", zap.String("tenant", tenant))
	return c, nil
}

// Remove discards the tenant's cache and its contents. It is a no-op for
// unknown tenants.
func (m *Manager) Remove(tenant string) {
	v, ok := m.caches.LoadAndDelete(tenant)
	if !ok {
		return
	}
	v.(*Cache).ClearEventLog()
	m.opts.logger.Info("removed event cache", zap.String("tenant", tenant))
}

// Tenants returns the identifiers of all live caches in sorted order.
func (m *Manager) Tenants() []string {
	var out []string
	m.caches.Range(func(key, _ any) bool {
		out = append(out, key.(string))
		return true
	})
	sort.Strings(out)
	return out
}

// Range calls fn for every live cache until fn returns false.
func (m *Manager) Range(fn func(tenant string, c *Cache) bool) {
	m.caches.Range(func(key, value any) bool {
		return fn(key.(string), value.(*Cache))
	})
}

// Len returns the number of live caches.
func (m *Manager) Len() int {
	n := 0
	m.caches.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
