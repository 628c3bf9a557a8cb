package verifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestChallengeSendsContract(t *testing.T) {
	var gotPath, gotQuery, gotKey, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("api-key")
		gotAccept = r.Header.Get("Accept")
		_, _ = w.Write([]byte(`{"code":"TOUCH_ACCEPTED"}`))
	}))
	defer srv.Close()

	c := New()
	defer c.Close()

	res := c.Challenge(context.Background(), Request{
		BaseURL: srv.URL + "/",
		APIKey:  "secret-key",
		Phone:   "+46701234567",
		Timeout: 5 * time.Second,
	})
	if res.Failure != nil {
		t.Fatalf("unexpected failure: %v", res.Failure)
	}
	if !res.Accepted() || res.StatusCode != http.StatusOK {
		t.Fatalf("unexpected result: %+v", res)
	}
	if gotPath != "/api/sfwa/auth" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotQuery != "msisdn=%2B46701234567" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if gotKey != "secret-key" || gotAccept != "application/json" {
		t.Fatalf("unexpected headers key=%q accept=%q", gotKey, gotAccept)
	}
}

func TestChallengeUnknownBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	res := New().Challenge(context.Background(), Request{BaseURL: srv.URL, APIKey: "k", Phone: "1", Timeout: time.Second})
	if res.Failure != nil || res.Code != UnknownCode {
		t.Fatalf("expected unknown code, got %+v", res)
	}
}

func TestChallengeNon200IsStatusFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"code":"TOUCH_ACCEPTED"}`))
	}))
	defer srv.Close()

	res := New().Challenge(context.Background(), Request{BaseURL: srv.URL, APIKey: "k", Phone: "1", Timeout: time.Second})
	if res.Failure == nil || res.Failure.Kind != FailureStatus {
		t.Fatalf("expected status failure, got %+v", res)
	}
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", res.StatusCode)
	}
	if res.Accepted() {
		t.Fatal("non-200 reply must never be accepted")
	}
	if !strings.Contains(res.Failure.Message, "503") {
		t.Fatalf("expected status in message, got %q", res.Failure.Message)
	}
}

func TestChallengeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	start := time.Now()
	res := New().Challenge(context.Background(), Request{
		BaseURL: srv.URL,
		APIKey:  "k",
		Phone:   "+46701234567",
		Timeout: 50 * time.Millisecond,
	})
	if res.Failure == nil || res.Failure.Kind != FailureTimeout {
		t.Fatalf("expected timeout failure, got %+v", res)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not enforced, took %v", time.Since(start))
	}
	if strings.Contains(res.Failure.Message, "46701234567") {
		t.Fatalf("failure message leaks the phone number: %q", res.Failure.Message)
	}
}

func TestChallengeConnectionRefusedIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	res := New().Challenge(context.Background(), Request{BaseURL: base, APIKey: "k", Phone: "1", Timeout: time.Second})
	if res.Failure == nil || res.Failure.Kind != FailureTransport {
		t.Fatalf("expected transport failure, got %+v", res)
	}
}

func TestChallengeInvalidBaseURL(t *testing.T) {
	for _, base := range []string{"", "ftp://example.com", "://bad"} {
		res := New().Challenge(context.Background(), Request{BaseURL: base, Phone: "1", Timeout: time.Second})
		if res.Failure == nil || res.Failure.Kind != FailureTransport {
			t.Fatalf("base %q: expected transport failure, got %+v", base, res)
		}
	}
}

func TestChallengeTLSVerification(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":"TOUCH_REJECTED"}`))
	}))
	defer srv.Close()

	c := New()
	strict := c.Challenge(context.Background(), Request{BaseURL: srv.URL, APIKey: "k", Phone: "1", Timeout: time.Second})
	if strict.Failure == nil || strict.Failure.Kind != FailureTransport {
		t.Fatalf("expected certificate failure, got %+v", strict)
	}

	relaxed := c.Challenge(context.Background(), Request{BaseURL: srv.URL, APIKey: "k", Phone: "1", Timeout: time.Second, SkipTLSVerify: true})
	if relaxed.Failure != nil || relaxed.Code != "TOUCH_REJECTED" {
		t.Fatalf("expected rejected code with verification off, got %+v", relaxed)
	}
}

func TestChallengeCallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := New().Challenge(ctx, Request{BaseURL: srv.URL, APIKey: "k", Phone: "1", Timeout: 5 * time.Second})
	if res.Failure == nil || res.Failure.Kind != FailureTransport {
		t.Fatalf("expected transport failure on cancellation, got %+v", res)
	}
}
