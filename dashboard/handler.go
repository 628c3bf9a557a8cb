package dashboard

import (
	_ "embed"
	"encoding/json"
	"net/http"
	"strconv"

	goMagicLink "github.com/MrEthical07/goMagicLink"
	"github.com/MrEthical07/goMagicLink/access"
	"github.com/MrEthical07/goMagicLink/eventcache"
	"github.com/MrEthical07/goMagicLink/middleware"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	// PathPrefix is the route template every dashboard route lives under.
	PathPrefix = "/realms/{realm}/mideye-magic-link"

	defaultEvents   = 500
	defaultTopUsers = 20
	maxTopUsers     = 100
	maxExportEvents = 5000

	exportFilename = "magic-link-events.csv"
)

//go:embed static/dashboard.html
var dashboardHTML []byte

// SettingsSource supplies a tenant's raw settings map.
type SettingsSource interface {
	Settings(tenant string) map[string]string
}

// Handler serves the dashboard routes.
type Handler struct {
	caches   *eventcache.Manager
	settings SettingsSource
	checker  *access.Checker
	logger   *zap.Logger
}

// New returns a Handler. A nil logger is replaced with a no-op one.
func New(caches *eventcache.Manager, settings SettingsSource, checker *access.Checker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{caches: caches, settings: settings, checker: checker, logger: logger}
}

// Realm returns the tenant named in the route.
func Realm(r *http.Request) string {
	return mux.Vars(r)["realm"]
}

// Register mounts the routes on r.
func (h *Handler) Register(r *mux.Router) {
	sub := r.PathPrefix(PathPrefix).Subrouter()

	page := middleware.RequireDashboard(h.checker, Realm)
	api := middleware.RequireAPI(h.checker, Realm)

	sub.Handle("/dashboard", page(http.HandlerFunc(h.dashboard))).Methods(http.MethodGet)
	sub.Handle("/api/events", api(http.HandlerFunc(h.events))).Methods(http.MethodGet)
	sub.Handle("/api/stats", api(http.HandlerFunc(h.stats))).Methods(http.MethodGet)
	sub.Handle("/api/stats/reset", api(http.HandlerFunc(h.resetStats))).Methods(http.MethodPost)
	sub.Handle("/api/config", api(http.HandlerFunc(h.config))).Methods(http.MethodGet)
	sub.Handle("/api/top-users", api(http.HandlerFunc(h.topUsers))).Methods(http.MethodGet)
	sub.Handle("/api/export/events", api(http.HandlerFunc(h.exportEvents))).Methods(http.MethodGet)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(dashboardHTML)
}

func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	cache, ok := h.cache(w, r)
	if !ok {
		return
	}
	capacity := cache.Capacity()
	limit := parseLimit(r, min(defaultEvents, capacity), capacity)

	w.Header().Set("Content-Type", "application/json")
	if err := eventcache.WriteEventsJSON(w, cache.RecentEvents(limit)); err != nil {
		h.logger.Warn("write events failed", zap.String("tenant", cache.Tenant()), zap.Error(err))
	}
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	cache, ok := h.cache(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, cache.Stats())
}

func (h *Handler) resetStats(w http.ResponseWriter, r *http.Request) {
	cache, ok := h.cache(w, r)
	if !ok {
		return
	}
	cache.ResetStats()
	if id, ok := middleware.IdentityFromContext(r.Context()); ok {
		h.logger.Info("statistics reset via dashboard",
			zap.String("tenant", cache.Tenant()),
			zap.String("user", id.Username),
			zap.String("user_tenant", id.Tenant),
		)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Statistics reset"})
}

func (h *Handler) config(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.resolve(Realm(r)))
}

func (h *Handler) topUsers(w http.ResponseWriter, r *http.Request) {
	cache, ok := h.cache(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, cache.TopUsernames(parseLimit(r, defaultTopUsers, maxTopUsers)))
}

func (h *Handler) exportEvents(w http.ResponseWriter, r *http.Request) {
	cache, ok := h.cache(w, r)
	if !ok {
		return
	}
	events := cache.RecentEvents(parseLimit(r, maxExportEvents, maxExportEvents))

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+exportFilename+`"`)
	if err := eventcache.WriteEventsCSV(w, events); err != nil {
		h.logger.Warn("write csv export failed", zap.String("tenant", cache.Tenant()), zap.Error(err))
	}
}

// cache returns the tenant's cache with its limits refreshed from settings.
func (h *Handler) cache(w http.ResponseWriter, r *http.Request) (*eventcache.Cache, bool) {
	tenant := Realm(r)
	cache, err := h.caches.Get(tenant)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return nil, false
	}
	cfg := h.resolve(tenant)
	cache.ApplyConfig(cfg.EventLogMaxSize, cfg.EventTTLHours)
	return cache, true
}

func (h *Handler) resolve(tenant string) goMagicLink.Config {
	if h.settings == nil {
		return goMagicLink.DefaultConfig()
	}
	return goMagicLink.ResolveConfig(h.settings.Settings(tenant))
}

// parseLimit reads ?limit=. Missing, malformed or non-positive values yield
// def; larger values are clamped to ceiling.
func parseLimit(r *http.Request, def, ceiling int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > ceiling {
		return ceiling
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
