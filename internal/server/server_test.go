package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	goMagicLink "github.com/MrEthical07/goMagicLink"
	"github.com/MrEthical07/goMagicLink/access"
	"github.com/MrEthical07/goMagicLink/directory"
	"github.com/MrEthical07/goMagicLink/internal/config"
	"github.com/MrEthical07/goMagicLink/settings"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	acceptedPhone = "+46700000001"
	rejectedPhone = "+46700000002"
)

// upstream answers by phone number.
func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := "TOUCH_REJECTED"
		if r.URL.Query().Get("msisdn") == acceptedPhone {
			code = "TOUCH_ACCEPTED"
		}
		_, _ = w.Write([]byte(`{"code":"` + code + `"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fixture struct {
	router   http.Handler
	auth     *goMagicLink.Authenticator
	dir      *directory.Store
	settings *settings.Store
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	dir := directory.NewStore(client, "ml")
	ctx := context.Background()
	require.NoError(t, dir.PutUser(ctx, "acme", "alice", map[string]string{"phoneNumber": acceptedPhone}))
	require.NoError(t, dir.PutUser(ctx, "acme", "bob", map[string]string{"phoneNumber": rejectedPhone}))
	require.NoError(t, dir.PutUser(ctx, "acme", "carol", map[string]string{"email": "carol@example.com"}))

	store := settings.NewStore(nil)
	store.Set("acme", map[string]string{
		goMagicLink.SettingURL:    upstream(t).URL,
		goMagicLink.SettingAPIKey: "key",
	})

	auth, err := goMagicLink.New().WithUserDirectory(dir).Build()
	require.NoError(t, err)
	t.Cleanup(auth.Close)

	router := NewRouter(Deps{
		Auth:        auth,
		Users:       dir,
		Settings:    store,
		Checker:     &access.Checker{},
		FlowSecret:  secret,
		MetricsPath: "/metrics",
	})
	return &fixture{router: router, auth: auth, dir: dir, settings: store}
}

func (f *fixture) authenticate(t *testing.T, tenant, body string, header http.Header) (*httptest.ResponseRecorder, flowResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/realms/"+tenant+"/mideye-magic-link/authenticate", strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var resp flowResponse
	if rec.Header().Get("Content-Type") == "application/json" {
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	}
	return rec, resp
}

func TestAuthenticateEndpoint(t *testing.T) {
	t.Setenv(goMagicLink.EnvURL, "")
	t.Setenv(goMagicLink.EnvAPIKey, "")
	f := newFixture(t, "")
	f.settings.Set("other", map[string]string{})

	tests := []struct {
		name       string
		tenant     string
		body       string
		wantStatus int
		wantResp   flowResponse
	}{
		{
			name:       "accepted",
			tenant:     "acme",
			body:       `{"username":"alice"}`,
			wantStatus: http.StatusOK,
			wantResp:   flowResponse{Status: "success"},
		},
		{
			name:       "rejected",
			tenant:     "acme",
			body:       `{"username":"bob"}`,
			wantStatus: http.StatusUnauthorized,
			wantResp:   flowResponse{Status: "failure", Error: "invalid_credentials"},
		},
		{
			name:       "no phone",
			tenant:     "acme",
			body:       `{"username":"carol"}`,
			wantStatus: http.StatusUnauthorized,
			wantResp:   flowResponse{Status: "failure", Error: "invalid_user"},
		},
		{
			name:       "unknown user",
			tenant:     "acme",
			body:       `{"username":"mallory"}`,
			wantStatus: http.StatusUnauthorized,
			wantResp:   flowResponse{Status: "failure", Error: "unknown_user"},
		},
		{
			name:       "not configured",
			tenant:     "other",
			body:       `{"username":"alice"}`,
			wantStatus: http.StatusInternalServerError,
			wantResp:   flowResponse{Status: "failure", Error: "internal_error"},
		},
		{
			name:       "unknown realm",
			tenant:     "nowhere",
			body:       `{"username":"alice"}`,
			wantStatus: http.StatusNotFound,
			wantResp:   flowResponse{Error: "unknown realm"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := f.authenticate(t, tt.tenant, tt.body, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantResp, resp)
		})
	}

	c, err := f.auth.Caches().Get("acme")
	require.NoError(t, err)
	stats := c.Stats()
	assert.Equal(t, uint64(4), stats.TotalAttempts)
	assert.Equal(t, uint64(1), stats.TotalSuccess)
	assert.Equal(t, uint64(1), stats.TotalRejected)
	assert.Equal(t, uint64(1), stats.TotalNoPhone)
}

func TestAuthenticateEndpointIgnoresUnknownRealms(t *testing.T) {
	t.Setenv(goMagicLink.EnvURL, "https://mideye.example")
	t.Setenv(goMagicLink.EnvAPIKey, "env-key")
	f := newFixture(t, "")

	for i := 0; i < 50; i++ {
		rec, _ := f.authenticate(t, fmt.Sprintf("bogus-%d", i), `{"username":"alice"}`, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	}
	assert.Equal(t, 0, f.auth.Caches().Len())

	rec, _ := f.authenticate(t, "acme", `{"username":"alice"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"acme"}, f.auth.Caches().Tenants())
}

func TestAuthenticateEndpointOutlivesClientCancel(t *testing.T) {
	f := newFixture(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/realms/acme/mideye-magic-link/authenticate",
		strings.NewReader(`{"username":"alice"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	c, err := f.auth.Caches().Get("acme")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.Stats().TotalSuccess)
}

func TestAuthenticateEndpointRecordsClientIP(t *testing.T) {
	f := newFixture(t, "")

	rec, _ := f.authenticate(t, "acme", `{"username":"alice","clientIp":"203.0.113.9"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	c, err := f.auth.Caches().Get("acme")
	require.NoError(t, err)
	events := c.RecentEvents(1)
	require.Len(t, events, 1)
	assert.Equal(t, "203.0.113.9", events[0].IPAddress)
	assert.NotContains(t, events[0].PhoneNumber, "4670000")
}

func TestAuthenticateEndpointFlowSecret(t *testing.T) {
	f := newFixture(t, "s3cret")

	rec, _ := f.authenticate(t, "acme", `{"username":"alice"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.authenticate(t, "acme", `{"username":"alice"}`, http.Header{FlowSecretHeader: {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, resp := f.authenticate(t, "acme", `{"username":"alice"}`, http.Header{FlowSecretHeader: {"s3cret"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", resp.Status)
}

func TestAuthenticateEndpointRejectsBadBody(t *testing.T) {
	f := newFixture(t, "")

	rec, _ := f.authenticate(t, "acme", `{"username":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	big := `{"username":"` + strings.Repeat("a", maxFlowBody) + `"}`
	rec, _ = f.authenticate(t, "acme", big, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthenticateEndpointMethod(t *testing.T) {
	f := newFixture(t, "")

	req := httptest.NewRequest(http.MethodGet, "/realms/acme/mideye-magic-link/authenticate", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, "")
	_, _ = f.authenticate(t, "acme", `{"username":"alice"}`, nil)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "magiclink_")
	assert.Contains(t, rec.Body.String(), `tenant="acme"`)
}

func TestDashboardRequiresIdentity(t *testing.T) {
	f := newFixture(t, "")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/realms/acme/mideye-magic-link/api/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func testConfig(t *testing.T, redisAddr, settingsFile string) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Port:            0,
			WriteTimeout:    time.Minute,
			ShutdownTimeout: time.Second,
		},
		Redis:    config.RedisConfig{Addr: redisAddr, KeyPrefix: "ml"},
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Settings: config.SettingsConfig{File: settingsFile},
		Audit:    config.AuditConfig{Enabled: true, Sink: "log", BufferSize: 16},
		Auth: config.AuthConfig{
			JWTSecret:   strings.Repeat("k", 32),
			JWTIssuer:   "magiclink",
			TokenTTL:    time.Hour,
			AdminTenant: "master",
		},
	}
}

func TestNewWiresSettingsAndDropsRemovedTenants(t *testing.T) {
	mr := miniredis.RunT(t)
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tenants:\n  acme:\n    mideye.url: http://127.0.0.1:1\n  beta:\n    mideye.url: http://127.0.0.1:1\n"), 0o600))

	s, err := New(testConfig(t, mr.Addr(), path), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.auth.Close()
		_ = s.redis.Close()
	})

	assert.Equal(t, []string{"acme", "beta"}, s.settings.Tenants())

	_, err = s.auth.Caches().Get("acme")
	require.NoError(t, err)
	_, err = s.auth.Caches().Get("beta")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("tenants:\n  acme:\n    mideye.url: http://127.0.0.1:1\n"), 0o600))
	require.NoError(t, s.settings.Reload())
	assert.Equal(t, []string{"acme"}, s.auth.Caches().Tenants())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewWarnsWithoutFlowSecret(t *testing.T) {
	mr := miniredis.RunT(t)
	core, logs := observer.New(zapcore.WarnLevel)

	s, err := New(testConfig(t, mr.Addr(), filepath.Join(t.TempDir(), "missing.yaml")), zap.New(core))
	require.NoError(t, err)
	t.Cleanup(func() {
		s.auth.Close()
		_ = s.redis.Close()
	})
	assert.Equal(t, 1, logs.FilterMessageSnippet("flow_secret is empty").Len())
}

func TestOptionsFromCapsChallengeTimeout(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1:6379", "tenants.yaml")

	cfg.Server.WriteTimeout = 150 * time.Second
	assert.Equal(t, 145*time.Second, optionsFrom(cfg).MaxChallengeTimeout)

	cfg.Server.WriteTimeout = 6 * time.Second
	assert.Equal(t, 3*time.Second, optionsFrom(cfg).MaxChallengeTimeout)
}

func TestNewToleratesMissingSettingsFile(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := New(testConfig(t, mr.Addr(), filepath.Join(t.TempDir(), "missing.yaml")), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.auth.Close()
		_ = s.redis.Close()
	})
	assert.Empty(t, s.settings.Tenants())
}

func TestNewRejectsMalformedSettings(t *testing.T) {
	mr := miniredis.RunT(t)
	path := filepath.Join(t.TempDir(), "tenants.ini")
	require.NoError(t, os.WriteFile(path, []byte("x=1"), 0o600))

	_, err := New(testConfig(t, mr.Addr(), path), nil)
	require.Error(t, err)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr.Addr(), filepath.Join(t.TempDir(), "missing.yaml"))
	s, err := New(cfg, nil)
	require.NoError(t, err)
	s.httpServer.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
