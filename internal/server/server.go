package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	goMagicLink "github.com/MrEthical07/goMagicLink"
	"github.com/MrEthical07/goMagicLink/access"
	"github.com/MrEthical07/goMagicLink/dashboard"
	"github.com/MrEthical07/goMagicLink/directory"
	"github.com/MrEthical07/goMagicLink/hostauth"
	"github.com/MrEthical07/goMagicLink/internal/config"
	"github.com/MrEthical07/goMagicLink/metrics/export/prometheus"
	"github.com/MrEthical07/goMagicLink/middleware"
	"github.com/MrEthical07/goMagicLink/settings"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deps are the collaborators the router serves from.
type Deps struct {
	Auth     *goMagicLink.Authenticator
	Users    userSource
	Settings tenantSettings
	Checker  *access.Checker
	Logger   *zap.Logger

	FlowSecret  string
	TrustProxy  bool
	RateLimiter config.RateLimiterConfig
	// MetricsPath is left unmounted when blank.
	MetricsPath string
}

// NewRouter mounts the flow endpoint, the dashboard, the health check and
// the metrics endpoint behind the middleware stack.
func NewRouter(d Deps) *mux.Router {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	chain := []func(http.Handler) http.Handler{
		middleware.Recovery(logger),
		middleware.RequestID,
		middleware.ClientIP(d.TrustProxy),
		middleware.Logging(logger),
	}
	if d.RateLimiter.Enabled {
		rl := middleware.NewRateLimiter(d.RateLimiter.RequestsPerSecond, d.RateLimiter.BurstSize, logger)
		chain = append(chain, rl.Limit)
	}

	r := mux.NewRouter()
	r.Use(middleware.Chain(chain...))

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	if d.MetricsPath != "" {
		r.Handle(d.MetricsPath, prometheus.NewExporter(d.Auth).Handler()).Methods(http.MethodGet)
	}

	r.Handle(dashboard.PathPrefix+"/authenticate", &flowHandler{
		auth:     d.Auth,
		users:    d.Users,
		settings: d.Settings,
		secret:   d.FlowSecret,
		logger:   logger,
	}).Methods(http.MethodPost)

	dashboard.New(d.Auth.Caches(), d.Settings, d.Checker, logger).Register(r)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "endpoint not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})
	return r
}

// Server owns the process-lifetime resources.
type Server struct {
	cfg        *config.Config
	logger     *zap.Logger
	redis      redis.UniversalClient
	auth       *goMagicLink.Authenticator
	settings   *settings.Store
	httpServer *http.Server
}

// New wires every component from cfg.
func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	dir := directory.NewStore(client, cfg.Redis.KeyPrefix)

	store, err := settings.Open(cfg.Settings.File, logger)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("settings file not found, serving without tenants", zap.String("path", cfg.Settings.File))
		store = settings.NewStore(logger)
	case err != nil:
		_ = client.Close()
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	if cfg.Auth.FlowSecret == "" {
		logger.Warn("auth.flow_secret is empty, the authenticate endpoint accepts any caller")
	}

	tokens, err := hostauth.NewTokenManager(hostauth.TokenConfig{
		Secret: []byte(cfg.Auth.JWTSecret),
		Issuer: cfg.Auth.JWTIssuer,
		TTL:    cfg.Auth.TokenTTL,
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	b := goMagicLink.New().
		WithLogger(logger).
		WithRedis(client).
		WithUserDirectory(dir).
		WithOptions(optionsFrom(cfg))
	if cfg.Audit.Enabled {
		b = b.WithAuditSink(auditSink(cfg.Audit.Sink, logger))
	}
	auth, err := b.Build()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to build authenticator: %w", err)
	}

	// Caches of tenants that leave the settings file are dropped with them.
	store.OnChange(func(changed []string) {
		live := store.Tenants()
		for _, t := range changed {
			if !slices.Contains(live, t) {
				auth.Caches().Remove(t)
			}
		}
	})

	checker := &access.Checker{
		Resolver:      hostauth.NewResolver(tokens, dir, logger),
		RoleFor:       roleFor(store),
		AdminTenant:   cfg.Auth.AdminTenant,
		PublicBaseURL: cfg.Server.PublicBaseURL,
		Logger:        logger,
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	router := NewRouter(Deps{
		Auth:        auth,
		Users:       dir,
		Settings:    store,
		Checker:     checker,
		Logger:      logger,
		FlowSecret:  cfg.Auth.FlowSecret,
		TrustProxy:  cfg.Server.TrustProxy,
		RateLimiter: cfg.RateLimiter,
		MetricsPath: metricsPath,
	})

	return &Server{
		cfg:      cfg,
		logger:   logger,
		redis:    client,
		auth:     auth,
		settings: store,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is done, then shuts down gracefully and releases the
// authenticator and the Redis client.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Settings.Watch {
		go func() {
			if err := s.settings.Watch(ctx); err != nil && !errors.Is(err, settings.ErrNoFile) {
				s.logger.Error("settings watcher stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", zap.Int("port", s.cfg.Server.Port))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to start HTTP server: %w", err)
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("failed to shutdown HTTP server", zap.Error(err))
	}

	s.auth.Close()
	if err := s.redis.Close(); err != nil {
		s.logger.Warn("failed to close redis client", zap.Error(err))
	}
	return serveErr
}

// responseMargin is the part of the write timeout kept free for writing the
// flow response after the verification call returns.
const responseMargin = 5 * time.Second

func optionsFrom(cfg *config.Config) goMagicLink.Options {
	o := goMagicLink.DefaultOptions()
	if wt := cfg.Server.WriteTimeout; wt > 0 {
		o.MaxChallengeTimeout = max(wt-responseMargin, wt/2)
	}
	o.Audit = goMagicLink.AuditConfig{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}
	o.Metrics = goMagicLink.MetricsConfig{
		Enabled:                 cfg.Metrics.Enabled,
		EnableLatencyHistograms: cfg.Metrics.LatencyHistograms,
	}
	o.ChallengeLimit = goMagicLink.ChallengeLimitConfig{
		Enabled:       cfg.ChallengeLimit.Enabled,
		MaxChallenges: cfg.ChallengeLimit.MaxChallenges,
		Window:        cfg.ChallengeLimit.Window,
	}
	return o
}

func auditSink(kind string, logger *zap.Logger) goMagicLink.AuditSink {
	if kind == "stdout" {
		return goMagicLink.NewJSONWriterSink(os.Stdout)
	}
	return goMagicLink.NewZapSink(logger)
}

func roleFor(src dashboard.SettingsSource) func(string) string {
	return func(tenant string) string {
		return strings.TrimSpace(src.Settings(tenant)[goMagicLink.SettingDashboardRole])
	}
}
