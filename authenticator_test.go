package goMagicLink

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goMagicLink/eventcache"
	"github.com/MrEthical07/goMagicLink/verifier"
)

type stubVerifier struct {
	mu     sync.Mutex
	result verifier.Result
	calls  int
	last   verifier.Request
}

func (s *stubVerifier) Challenge(_ context.Context, req verifier.Request) verifier.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = req
	return s.result
}

func (s *stubVerifier) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type mapDirectory struct {
	attrs map[string]string
	err   error
}

func (d mapDirectory) Attribute(_ context.Context, tenant, username, name string) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	return d.attrs[tenant+"/"+username+"/"+name], nil
}

func configuredSettings() map[string]string {
	return map[string]string{
		SettingURL:    "https://mideye.example",
		SettingAPIKey: "key",
	}
}

func newTestAuthenticator(t *testing.T, v Verifier, opts ...func(*Builder)) *Authenticator {
	t.Helper()
	b := New().WithVerifier(v)
	for _, opt := range opts {
		opt(b)
	}
	a, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func lastEvent(t *testing.T, a *Authenticator, tenant string) eventcache.Event {
	t.Helper()
	c, err := a.Caches().Get(tenant)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	events := c.RecentEvents(1)
	if len(events) != 1 {
		t.Fatalf("expected a recorded event, got %d", len(events))
	}
	return events[0]
}

func alice() *User {
	return &User{Username: "alice", Attributes: map[string]string{"phoneNumber": "+46701234567"}}
}

func TestAuthenticateAccepted(t *testing.T) {
	v := &stubVerifier{result: verifier.Result{Code: verifier.AcceptedCode, StatusCode: 200}}
	a := newTestAuthenticator(t, v)

	d := a.Authenticate(context.Background(), FlowRequest{
		TenantID: "realm",
		User:     alice(),
		ClientIP: "203.0.113.7",
		Settings: configuredSettings(),
	})
	if !d.Allowed || d.Category != CategoryNone || d.Err != nil {
		t.Fatalf("expected allow, got %+v", d)
	}
	if v.last.Phone != "+46701234567" || v.last.APIKey != "key" || v.last.Timeout != 120*time.Second {
		t.Fatalf("unexpected verifier request %+v", v.last)
	}

	ev := lastEvent(t, a, "realm")
	if ev.Outcome != eventcache.OutcomeSuccess || ev.Username != "alice" ||
		ev.PhoneNumber != "***4567" || ev.ResponseCode != verifier.AcceptedCode || ev.IPAddress != "203.0.113.7" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if a.Metrics().Value(MetricChallengeSuccess) != 1 {
		t.Fatal("expected success metric")
	}
}

func TestAuthenticateOutcomes(t *testing.T) {
	tests := []struct {
		name         string
		result       verifier.Result
		wantOutcome  eventcache.Outcome
		wantCategory FailureCategory
		wantErr      error
	}{
		{
			name:         "rejected code",
			result:       verifier.Result{Code: "TOUCH_REJECTED", StatusCode: 200},
			wantOutcome:  eventcache.OutcomeRejected,
			wantCategory: CategoryInvalidCredentials,
			wantErr:      ErrChallengeRejected,
		},
		{
			name:         "expired code",
			result:       verifier.Result{Code: "SESSION_EXPIRED", StatusCode: 200},
			wantOutcome:  eventcache.OutcomeTimeout,
			wantCategory: CategoryInvalidCredentials,
			wantErr:      ErrChallengeTimeout,
		},
		{
			name:         "unknown code",
			result:       verifier.Result{Code: verifier.UnknownCode, StatusCode: 200},
			wantOutcome:  eventcache.OutcomeRejected,
			wantCategory: CategoryInvalidCredentials,
			wantErr:      ErrChallengeRejected,
		},
		{
			name:         "transport timeout",
			result:       verifier.Result{Failure: &verifier.Failure{Kind: verifier.FailureTimeout, Message: "request timed out"}},
			wantOutcome:  eventcache.OutcomeTimeout,
			wantCategory: CategoryInternalError,
			wantErr:      ErrVerificationFailed,
		},
		{
			name:         "non-200 status",
			result:       verifier.Result{StatusCode: 503, Failure: &verifier.Failure{Kind: verifier.FailureStatus, Message: "HTTP 503"}},
			wantOutcome:  eventcache.OutcomeError,
			wantCategory: CategoryInternalError,
			wantErr:      ErrVerificationFailed,
		},
		{
			name:         "transport error",
			result:       verifier.Result{Failure: &verifier.Failure{Kind: verifier.FailureTransport, Message: "connection refused"}},
			wantOutcome:  eventcache.OutcomeError,
			wantCategory: CategoryInternalError,
			wantErr:      ErrVerificationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAuthenticator(t, &stubVerifier{result: tt.result})
			d := a.Authenticate(context.Background(), FlowRequest{TenantID: "realm", User: alice(), Settings: configuredSettings()})
			if d.Allowed {
				t.Fatal("expected deny")
			}
			if d.Category != tt.wantCategory || d.Outcome != tt.wantOutcome || !errors.Is(d.Err, tt.wantErr) {
				t.Fatalf("unexpected decision %+v", d)
			}
			ev := lastEvent(t, a, "realm")
			if ev.Outcome != tt.wantOutcome || ev.PhoneNumber != "***4567" {
				t.Fatalf("unexpected event %+v", ev)
			}
			if tt.result.Failure != nil {
				if ev.ErrorMessage != tt.result.Failure.Message || ev.ResponseCode != "" {
					t.Fatalf("failure event must carry the message only: %+v", ev)
				}
			} else if ev.ResponseCode != tt.result.Code {
				t.Fatalf("expected response code %q, got %q", tt.result.Code, ev.ResponseCode)
			}
		})
	}
}

func TestAuthenticateNoUser(t *testing.T) {
	v := &stubVerifier{}
	a := newTestAuthenticator(t, v)

	d := a.Authenticate(WithClientIP(context.Background(), "198.51.100.1"), FlowRequest{TenantID: "realm", Settings: configuredSettings()})
	if d.Allowed || d.Category != CategoryUnknownUser || !errors.Is(d.Err, ErrNoUser) {
		t.Fatalf("unexpected decision %+v", d)
	}
	ev := lastEvent(t, a, "realm")
	if ev.Outcome != eventcache.OutcomeError || ev.Username != "" || ev.IPAddress != "198.51.100.1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if v.Calls() != 0 {
		t.Fatal("verifier must not be called without a user")
	}
}

func TestAuthenticateNotConfigured(t *testing.T) {
	t.Setenv(EnvURL, "")
	t.Setenv(EnvAPIKey, "")
	v := &stubVerifier{}
	a := newTestAuthenticator(t, v)

	d := a.Authenticate(context.Background(), FlowRequest{
		TenantID: "realm",
		User:     alice(),
		Settings: map[string]string{SettingURL: "https://mideye.example"},
	})
	if d.Allowed || d.Category != CategoryInternalError || d.Outcome != eventcache.OutcomeNotConfigured {
		t.Fatalf("unexpected decision %+v", d)
	}
	ev := lastEvent(t, a, "realm")
	if ev.Outcome != eventcache.OutcomeNotConfigured || ev.Username != "alice" || ev.PhoneNumber != "" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if v.Calls() != 0 {
		t.Fatal("verifier must not be called when not configured")
	}
}

func TestAuthenticateNoPhone(t *testing.T) {
	v := &stubVerifier{}
	a := newTestAuthenticator(t, v)

	d := a.Authenticate(context.Background(), FlowRequest{
		TenantID: "realm",
		User:     &User{Username: "bob", Attributes: map[string]string{"phoneNumber": "   "}},
		Settings: configuredSettings(),
	})
	if d.Allowed || d.Category != CategoryInvalidUser || !errors.Is(d.Err, ErrNoPhone) {
		t.Fatalf("unexpected decision %+v", d)
	}
	ev := lastEvent(t, a, "realm")
	if ev.Outcome != eventcache.OutcomeNoPhone || ev.ErrorMessage != "No phone number in attribute 'phoneNumber'" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if v.Calls() != 0 {
		t.Fatal("verifier must not be called without a phone")
	}
}

func TestAuthenticateBlankTenant(t *testing.T) {
	a := newTestAuthenticator(t, &stubVerifier{})
	d := a.Authenticate(context.Background(), FlowRequest{User: alice(), Settings: configuredSettings()})
	if d.Allowed || d.Category != CategoryInternalError || !errors.Is(d.Err, ErrInvalidTenant) {
		t.Fatalf("unexpected decision %+v", d)
	}
	if a.Caches().Len() != 0 {
		t.Fatal("blank tenant must not create a cache")
	}
}

func TestAuthenticateTenantFromContext(t *testing.T) {
	a := newTestAuthenticator(t, &stubVerifier{result: verifier.Result{Code: verifier.AcceptedCode}})
	ctx := WithTenantID(context.Background(), "ctx-realm")
	if d := a.Authenticate(ctx, FlowRequest{User: alice(), Settings: configuredSettings()}); !d.Allowed {
		t.Fatalf("expected allow, got %+v", d)
	}
	if tenants := a.Caches().Tenants(); len(tenants) != 1 || tenants[0] != "ctx-realm" {
		t.Fatalf("unexpected tenants %v", tenants)
	}
}

func TestAuthenticatePhoneFromDirectory(t *testing.T) {
	v := &stubVerifier{result: verifier.Result{Code: verifier.AcceptedCode}}
	dir := mapDirectory{attrs: map[string]string{"realm/carol/mobile": "+4670555123"}}
	a := newTestAuthenticator(t, v, func(b *Builder) { b.WithUserDirectory(dir) })

	settings := configuredSettings()
	settings[SettingPhoneAttribute] = "mobile"
	d := a.Authenticate(context.Background(), FlowRequest{TenantID: "realm", User: &User{Username: "carol"}, Settings: settings})
	if !d.Allowed {
		t.Fatalf("expected allow, got %+v", d)
	}
	if v.last.Phone != "+4670555123" {
		t.Fatalf("expected directory phone, got %q", v.last.Phone)
	}
}

func TestAuthenticateDirectoryErrorIsNoPhone(t *testing.T) {
	dir := mapDirectory{err: errors.New("redis down")}
	a := newTestAuthenticator(t, &stubVerifier{}, func(b *Builder) { b.WithUserDirectory(dir) })

	d := a.Authenticate(context.Background(), FlowRequest{TenantID: "realm", User: &User{Username: "carol"}, Settings: configuredSettings()})
	if d.Category != CategoryInvalidUser {
		t.Fatalf("expected invalid_user, got %+v", d)
	}
}

func TestAuthenticateAppliesCacheLimits(t *testing.T) {
	a := newTestAuthenticator(t, &stubVerifier{result: verifier.Result{Code: verifier.AcceptedCode}})
	settings := configuredSettings()
	settings[SettingEventLogMaxSize] = "250"
	settings[SettingEventTTLHours] = "6"

	a.Authenticate(context.Background(), FlowRequest{TenantID: "realm", User: alice(), Settings: settings})
	c, _ := a.Caches().Get("realm")
	if c.Capacity() != 250 || c.TTL() != 6*time.Hour {
		t.Fatalf("limits not applied: capacity=%d ttl=%v", c.Capacity(), c.TTL())
	}
}

func TestAuthenticatePrunesEveryInterval(t *testing.T) {
	var now atomic.Int64
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now.Store(base.UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()).UTC() }

	caches := eventcache.NewManager(eventcache.WithClock(clock))
	a := newTestAuthenticator(t, &stubVerifier{result: verifier.Result{Code: verifier.AcceptedCode}}, func(b *Builder) {
		b.WithEventCaches(caches).WithPruneInterval(3).WithClock(clock)
	})
	req := FlowRequest{TenantID: "realm", User: alice(), Settings: configuredSettings()}

	a.Authenticate(context.Background(), req)
	a.Authenticate(context.Background(), req)
	now.Store(base.Add(2 * time.Hour).UnixNano())

	// Third call prunes the two expired events before recording its own.
	a.Authenticate(context.Background(), req)
	c, _ := caches.Get("realm")
	if c.Len() != 1 {
		t.Fatalf("expected 1 event after prune, got %d", c.Len())
	}
	if a.Metrics().Value(MetricEventsPruned) != 2 {
		t.Fatalf("expected 2 pruned, got %d", a.Metrics().Value(MetricEventsPruned))
	}
}

func TestAuthenticateAgainstHTTPUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"code":"TOUCH_ACCEPTED"}`))
	}))
	defer srv.Close()

	a, err := New().Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer a.Close()

	settings := map[string]string{SettingURL: srv.URL, SettingAPIKey: "key"}
	if d := a.Authenticate(context.Background(), FlowRequest{TenantID: "realm", User: alice(), Settings: settings}); !d.Allowed {
		t.Fatalf("expected allow, got %+v", d)
	}

	settings[SettingAPIKey] = "wrong"
	d := a.Authenticate(context.Background(), FlowRequest{TenantID: "realm", User: alice(), Settings: settings})
	if d.Allowed || d.Outcome != eventcache.OutcomeError || d.Category != CategoryInternalError {
		t.Fatalf("expected error decision, got %+v", d)
	}
}

func TestAuthenticateConcurrentUsers(t *testing.T) {
	a := newTestAuthenticator(t, &stubVerifier{result: verifier.Result{Code: verifier.AcceptedCode}})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tenant := "realm-a"
			if i%2 == 1 {
				tenant = "realm-b"
			}
			a.Authenticate(context.Background(), FlowRequest{TenantID: tenant, User: alice(), Settings: configuredSettings()})
		}(i)
	}
	wg.Wait()

	for _, tenant := range []string{"realm-a", "realm-b"} {
		c, _ := a.Caches().Get(tenant)
		if got := c.Stats().TotalSuccess; got != 16 {
			t.Fatalf("%s: expected 16 successes, got %d", tenant, got)
		}
	}
}

func TestConfiguredFor(t *testing.T) {
	dir := mapDirectory{attrs: map[string]string{"realm/dave/phoneNumber": "+4670111"}}
	a := newTestAuthenticator(t, &stubVerifier{}, func(b *Builder) { b.WithUserDirectory(dir) })
	ctx := context.Background()

	if !a.ConfiguredFor(ctx, "realm", alice(), nil) {
		t.Fatal("alice has a phone attribute")
	}
	if !a.ConfiguredFor(ctx, "realm", &User{Username: "dave"}, nil) {
		t.Fatal("dave has a phone in the directory")
	}
	if a.ConfiguredFor(ctx, "realm", &User{Username: "erin"}, nil) {
		t.Fatal("erin has no phone")
	}
	if a.ConfiguredFor(ctx, "realm", alice(), map[string]string{SettingPhoneAttribute: "mobile"}) {
		t.Fatal("alice has no mobile attribute")
	}
	if a.ConfiguredFor(ctx, "realm", nil, nil) {
		t.Fatal("nil user is never configured")
	}
}

func TestMaskPhoneNumber(t *testing.T) {
	cases := map[string]string{
		"+46701234567": "***4567",
		"56789":        "***6789",
		"1234":         "****",
		"123":          "****",
		"":             "****",
		"äöüåé":        "***öüåé",
		"+46 ७०१२":     "***७०१२",
		"äöüå":         "****",
	}
	for in, want := range cases {
		if got := MaskPhoneNumber(in); got != want {
			t.Fatalf("MaskPhoneNumber(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNilAuthenticator(t *testing.T) {
	var a *Authenticator
	d := a.Authenticate(context.Background(), FlowRequest{})
	if d.Allowed || !errors.Is(d.Err, ErrAuthenticatorNotReady) {
		t.Fatalf("unexpected decision %+v", d)
	}
	a.Close()
}

func TestAuthenticateCapsChallengeTimeout(t *testing.T) {
	v := &stubVerifier{result: verifier.Result{Code: verifier.AcceptedCode, StatusCode: 200}}
	a := newTestAuthenticator(t, v, func(b *Builder) { b.WithMaxChallengeTimeout(90 * time.Second) })

	settings := configuredSettings()
	settings[SettingTimeoutSeconds] = "600"
	a.Authenticate(context.Background(), FlowRequest{TenantID: "acme", User: alice(), Settings: settings})
	if v.last.Timeout != 90*time.Second {
		t.Fatalf("expected timeout capped to 90s, got %v", v.last.Timeout)
	}

	settings[SettingTimeoutSeconds] = "30"
	a.Authenticate(context.Background(), FlowRequest{TenantID: "acme", User: alice(), Settings: settings})
	if v.last.Timeout != 30*time.Second {
		t.Fatalf("expected timeout 30s, got %v", v.last.Timeout)
	}
}
