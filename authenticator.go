package goMagicLink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MrEthical07/goMagicLink/eventcache"
	"github.com/MrEthical07/goMagicLink/internal/rate"
	"github.com/MrEthical07/goMagicLink/verifier"
)

// DefaultPruneInterval is how many Authenticate calls pass between two
// expiry sweeps of the caller's tenant cache.
const DefaultPruneInterval = 50

// Authenticator runs the push challenge step of an authentication flow. One
// Authenticator serves every tenant and is safe for concurrent use; calls
// block for as long as the verification service does.
type Authenticator struct {
	caches    *eventcache.Manager
	verifier  Verifier
	directory UserDirectory
	limiter   challengeLimiter
	logger    *zap.Logger
	audit     *auditDispatcher
	metrics   *Metrics
	now       func() time.Time

	pruneInterval uint64
	maxTimeout    time.Duration
	calls         atomic.Uint64

	closers []func()
}

// Authenticate executes one challenge and reports whether the flow may
// proceed. Every path except an accepted response code denies.
func (a *Authenticator) Authenticate(ctx context.Context, req FlowRequest) Decision {
	if a == nil {
		return Decision{Category: CategoryInternalError, Outcome: eventcache.OutcomeError, Err: ErrAuthenticatorNotReady}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tenant := req.TenantID
	if tenant == "" {
		tenant, _ = TenantIDFromContext(ctx)
	}
	cache, err := a.caches.Get(tenant)
	if err != nil {
		a.logger.Error("challenge without tenant", zap.Error(err))
		a.metrics.Inc(MetricChallengeError)
		return Decision{Category: CategoryInternalError, Outcome: eventcache.OutcomeError, Err: fmt.Errorf("%w: %v", ErrInvalidTenant, err)}
	}

	cfg := ResolveConfig(req.Settings)
	cache.ApplyConfig(cfg.EventLogMaxSize, cfg.EventTTLHours)

	if a.calls.Add(1)%a.pruneInterval == 0 {
		a.metrics.Add(MetricEventsPruned, uint64(cache.PruneOldEvents()))
	}

	ip := req.ClientIP
	if ip == "" {
		ip = ClientIPFromContext(ctx)
	}
	rec := recorder{a: a, ctx: ctx, cache: cache, ip: ip}

	if req.User == nil {
		a.logger.Error("no user bound to flow", zap.String("tenant", tenant))
		a.metrics.Inc(MetricUnknownUser)
		rec.record(eventcache.Event{Outcome: eventcache.OutcomeError, ErrorMessage: "No user in context"})
		return deny(CategoryUnknownUser, eventcache.OutcomeError, ErrNoUser)
	}
	username := req.User.Username
	rec.username = username

	if !cfg.IsConfigured() {
		a.logger.Error("verification service not configured",
			zap.String("tenant", tenant),
			zap.String("user", username),
		)
		rec.record(eventcache.Event{Outcome: eventcache.OutcomeNotConfigured, ErrorMessage: "URL or API key not configured"})
		return deny(CategoryInternalError, eventcache.OutcomeNotConfigured, ErrNotConfigured)
	}

	phone := a.lookupPhone(ctx, tenant, req.User, cfg.PhoneAttribute)
	if phone == "" {
		a.logger.Warn("user has no phone number",
			zap.String("tenant", tenant),
			zap.String("user", username),
			zap.String("attribute", cfg.PhoneAttribute),
		)
		rec.record(eventcache.Event{
			Outcome:      eventcache.OutcomeNoPhone,
			ErrorMessage: "No phone number in attribute '" + cfg.PhoneAttribute + "'",
		})
		return deny(CategoryInvalidUser, eventcache.OutcomeNoPhone, ErrNoPhone)
	}
	masked := MaskPhoneNumber(phone)
	rec.phone = masked

	if a.limiter != nil {
		if err := a.limiter.CheckChallenge(ctx, tenant, username); err != nil {
			var limited *rate.LimitError
			if errors.As(err, &limited) {
				a.logger.Warn("challenge rate limited",
					zap.String("tenant", tenant),
					zap.String("user", username),
					zap.Duration("retry_after", limited.RetryAfter),
				)
				a.metrics.Inc(MetricChallengeRateLimited)
				rec.record(eventcache.Event{Outcome: eventcache.OutcomeError, ErrorMessage: "challenge rate limited"})
				return deny(CategoryInternalError, eventcache.OutcomeError, ErrChallengeRateLimited)
			}
			// Limiter backend down: the challenge itself is still safe to send.
			a.logger.Warn("challenge limiter unavailable", zap.Error(err))
		}
	}

	a.logger.Info("initiating challenge",
		zap.String("tenant", tenant),
		zap.String("user", username),
		zap.String("phone", masked),
	)

	timeout := cfg.Timeout()
	if a.maxTimeout > 0 && timeout > a.maxTimeout {
		timeout = a.maxTimeout
	}

	start := a.now()
	res := a.verifier.Challenge(ctx, verifier.Request{
		BaseURL:       cfg.URL,
		APIKey:        cfg.APIKey,
		Phone:         phone,
		Timeout:       timeout,
		SkipTLSVerify: cfg.SkipTLSVerify,
	})
	elapsed := a.now().Sub(start)
	a.metrics.Observe(MetricVerifierLatency, elapsed)
	durationMs := elapsed.Milliseconds()

	if res.Failure != nil {
		outcome := eventcache.OutcomeError
		if res.Failure.Kind == verifier.FailureTimeout {
			outcome = eventcache.OutcomeTimeout
		}
		a.logger.Error("verification call failed",
			zap.String("tenant", tenant),
			zap.String("user", username),
			zap.Stringer("kind", res.Failure.Kind),
			zap.Int("status", res.StatusCode),
			zap.String("error", res.Failure.Message),
			zap.Duration("duration", elapsed),
		)
		a.metrics.Inc(MetricVerifierFailure)
		rec.record(eventcache.Event{Outcome: outcome, DurationMs: durationMs, ErrorMessage: res.Failure.Message})
		return deny(CategoryInternalError, outcome, fmt.Errorf("%w: %w", ErrVerificationFailed, res.Failure))
	}

	if res.Code == verifier.AcceptedCode {
		a.logger.Info("challenge accepted",
			zap.String("tenant", tenant),
			zap.String("user", username),
			zap.Duration("duration", elapsed),
		)
		rec.record(eventcache.Event{Outcome: eventcache.OutcomeSuccess, ResponseCode: res.Code, DurationMs: durationMs})
		return Decision{Allowed: true, Outcome: eventcache.OutcomeSuccess}
	}

	outcome, sentinel := eventcache.OutcomeRejected, ErrChallengeRejected
	if verifier.IsTimeoutCode(res.Code) {
		outcome, sentinel = eventcache.OutcomeTimeout, ErrChallengeTimeout
	}
	a.logger.Warn("challenge not accepted",
		zap.String("tenant", tenant),
		zap.String("user", username),
		zap.String("code", res.Code),
		zap.Duration("duration", elapsed),
	)
	rec.record(eventcache.Event{Outcome: outcome, ResponseCode: res.Code, DurationMs: durationMs})
	return deny(CategoryInvalidCredentials, outcome, sentinel)
}

// ConfiguredFor reports whether user can take the challenge step, that is
// whether a non-blank phone number is stored under the tenant's configured
// attribute.
func (a *Authenticator) ConfiguredFor(ctx context.Context, tenant string, user *User, settings map[string]string) bool {
	if a == nil || user == nil {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := ResolveConfig(settings)
	return a.lookupPhone(ctx, tenant, user, cfg.PhoneAttribute) != ""
}

func (a *Authenticator) lookupPhone(ctx context.Context, tenant string, user *User, attribute string) string {
	if v := strings.TrimSpace(user.Attributes[attribute]); v != "" {
		return v
	}
	if a.directory == nil || user.Username == "" {
		return ""
	}
	v, err := a.directory.Attribute(ctx, tenant, user.Username, attribute)
	if err != nil {
		a.logger.Warn("phone lookup failed",
			zap.String("tenant", tenant),
			zap.String("user", user.Username),
			zap.Error(err),
		)
		return ""
	}
	return strings.TrimSpace(v)
}

// Caches returns the tenant cache registry shared with the admin surface.
func (a *Authenticator) Caches() *eventcache.Manager {
	return a.caches
}

// Metrics returns the in-process metrics.
func (a *Authenticator) Metrics() *Metrics {
	return a.metrics
}

// MetricsSnapshot returns a copy of the in-process metrics.
func (a *Authenticator) MetricsSnapshot() MetricsSnapshot {
	return a.metrics.Snapshot()
}

// AuditDropped returns how many audit events were dropped under backpressure.
func (a *Authenticator) AuditDropped() uint64 {
	return a.audit.Dropped()
}

// Close flushes the audit dispatcher and releases idle upstream connections.
func (a *Authenticator) Close() {
	if a == nil {
		return
	}
	a.audit.Close()
	for _, fn := range a.closers {
		fn()
	}
}

func deny(category FailureCategory, outcome eventcache.Outcome, err error) Decision {
	return Decision{Category: category, Outcome: outcome, Err: err}
}

// recorder fills the per-flow fields of every event emitted by one call.
type recorder struct {
	a        *Authenticator
	ctx      context.Context
	cache    *eventcache.Cache
	username string
	phone    string
	ip       string
}

func (r recorder) record(ev eventcache.Event) {
	ev.Username = r.username
	ev.PhoneNumber = r.phone
	ev.IPAddress = r.ip
	r.cache.RecordEvent(ev)

	r.a.metrics.RecordOutcome(ev.Outcome)

	if r.a.audit == nil {
		return
	}
	r.a.audit.Emit(r.ctx, AuditEvent{
		ID:           uuid.NewString(),
		Timestamp:    r.a.now().UTC(),
		EventType:    AuditEventChallenge,
		TenantID:     r.cache.Tenant(),
		Username:     ev.Username,
		PhoneNumber:  ev.PhoneNumber,
		IP:           ev.IPAddress,
		Outcome:      string(ev.Outcome),
		ResponseCode: ev.ResponseCode,
		DurationMs:   ev.DurationMs,
		Success:      ev.Outcome == eventcache.OutcomeSuccess,
		Error:        ev.ErrorMessage,
	})
}

// MaskPhoneNumber keeps the last four characters (runes) of phone behind a "***"
// prefix. Numbers of four characters or fewer are replaced entirely by "****".
func MaskPhoneNumber(phone string) string {
	runes := []rune(phone)
	if len(runes) <= 4 {
		return "****"
	}
	return "***" + string(runes[len(runes)-4:])
}
