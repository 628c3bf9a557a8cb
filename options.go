package goMagicLink

import (
	"errors"
	"time"
)

// ChallengeLimitConfig bounds how many challenges one user receives per
// window. Disabled by default.
type ChallengeLimitConfig struct {
	Enabled       bool
	MaxChallenges int
	Window        time.Duration
}

// Options configures an [Authenticator]. Per-tenant behaviour comes from the
// settings map of each flow, not from here.
type Options struct {
	Audit          AuditConfig
	Metrics        MetricsConfig
	ChallengeLimit ChallengeLimitConfig
	// PruneInterval is the number of calls between expiry sweeps.
	PruneInterval int
	// MaxChallengeTimeout caps the per-tenant verification timeout. Zero
	// leaves it uncapped.
	MaxChallengeTimeout time.Duration
}

// DefaultOptions returns the options used by [New].
func DefaultOptions() Options {
	return Options{
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		ChallengeLimit: ChallengeLimitConfig{
			MaxChallenges: 5,
			Window:        5 * time.Minute,
		},
		PruneInterval: DefaultPruneInterval,
	}
}

// Validate reports the first invalid field.
func (o Options) Validate() error {
	if o.PruneInterval <= 0 {
		return errors.New("PruneInterval must be > 0")
	}
	if o.MaxChallengeTimeout < 0 {
		return errors.New("MaxChallengeTimeout must be >= 0")
	}
	if o.Audit.Enabled && o.Audit.BufferSize <= 0 {
		return errors.New("Audit.BufferSize must be > 0 when audit is enabled")
	}
	if o.ChallengeLimit.Enabled {
		if o.ChallengeLimit.MaxChallenges <= 0 {
			return errors.New("ChallengeLimit.MaxChallenges must be > 0")
		}
		if o.ChallengeLimit.Window <= 0 {
			return errors.New("ChallengeLimit.Window must be > 0")
		}
	}
	return nil
}
