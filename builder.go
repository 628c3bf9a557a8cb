package goMagicLink

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/goMagicLink/eventcache"
	"github.com/MrEthical07/goMagicLink/internal/rate"
	"github.com/MrEthical07/goMagicLink/verifier"
)

// Builder assembles an [Authenticator]. A Builder can be used once.
type Builder struct {
	options Options
	logger  *zap.Logger
	redis   redis.UniversalClient

	caches    *eventcache.Manager
	verifier  Verifier
	directory UserDirectory
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder with [DefaultOptions].
func New() *Builder {
	return &Builder{options: DefaultOptions()}
}

func (b *Builder) WithOptions(o Options) *Builder {
	b.options = o
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithEventCaches shares an existing registry, typically with the admin
// surface. Without it Build creates a private one.
func (b *Builder) WithEventCaches(m *eventcache.Manager) *Builder {
	b.caches = m
	return b
}

// WithVerifier replaces the default HTTP verifier.
func (b *Builder) WithVerifier(v Verifier) *Builder {
	b.verifier = v
	return b
}

func (b *Builder) WithUserDirectory(d UserDirectory) *Builder {
	b.directory = d
	return b
}

// WithRedis supplies the client used by the challenge limiter.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithChallengeLimit(cfg ChallengeLimitConfig) *Builder {
	b.options.ChallengeLimit = cfg
	return b
}

// WithAuditSink enables the audit dispatcher and routes events to sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.options.Audit.Enabled = sink != nil
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.options.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.options.Metrics.EnableLatencyHistograms = enabled
	return b
}

func (b *Builder) WithPruneInterval(n int) *Builder {
	b.options.PruneInterval = n
	return b
}

// WithClock replaces time.Now for duration measurement.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMaxChallengeTimeout caps the verification timeout of every tenant.
func (b *Builder) WithMaxChallengeTimeout(d time.Duration) *Builder {
	b.options.MaxChallengeTimeout = d
	return b
}

// Build validates the options and returns the Authenticator.
func (b *Builder) Build() (*Authenticator, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if err := b.options.Validate(); err != nil {
		return nil, err
	}
	if b.options.ChallengeLimit.Enabled && b.redis == nil {
		return nil, errors.New("ChallengeLimit requires redis client")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	a := &Authenticator{
		caches:        b.caches,
		verifier:      b.verifier,
		directory:     b.directory,
		logger:        logger,
		now:           now,
		pruneInterval: uint64(b.options.PruneInterval),
		maxTimeout:    b.options.MaxChallengeTimeout,
		metrics:       NewMetrics(b.options.Metrics),
		audit:         newAuditDispatcher(b.options.Audit, b.auditSink, logger.Named("audit")),
	}
	if a.caches == nil {
		a.caches = eventcache.NewManager(eventcache.WithLogger(logger))
	}
	if a.verifier == nil {
		vc := verifier.New(verifier.WithLogger(logger))
		a.verifier = vc
		a.closers = append(a.closers, vc.Close)
	}
	if b.options.ChallengeLimit.Enabled {
		a.limiter = rate.New(b.redis, rate.Config{
			MaxChallenges: b.options.ChallengeLimit.MaxChallenges,
			Window:        b.options.ChallengeLimit.Window,
		})
	}

	b.built = true
	return a, nil
}
