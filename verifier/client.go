package verifier

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultDialTimeout bounds connection setup, TLS handshake included.
	DefaultDialTimeout = 10 * time.Second

	authPath        = "/api/sfwa/auth"
	apiKeyHeader    = "api-key"
	maxBodyBytes    = 64 << 10
	maxMessageBytes = 256
)

// Request is one challenge to send.
type Request struct {
	BaseURL       string
	APIKey        string
	Phone         string
	Timeout       time.Duration
	SkipTLSVerify bool
}

// Client issues challenges. It is safe for concurrent use; transports are
// shared between calls so connections are pooled per TLS mode.
type Client struct {
	logger      *zap.Logger
	dialTimeout time.Duration

	once     sync.Once
	secure   *http.Transport
	insecure *http.Transport
}

// Option configures a [Client].
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialTimeout overrides DefaultDialTimeout.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// New returns a Client.
func New(opts ...Option) *Client {
	c := &Client{
		logger:      zap.NewNop(),
		dialTimeout: DefaultDialTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) initTransports() {
	c.once.Do(func() {
		c.secure = c.newTransport(false)
		c.insecure = c.newTransport(true)
	})
}

func (c *Client) newTransport(skipVerify bool) *http.Transport {
	dialer := &net.Dialer{Timeout: c.dialTimeout, KeepAlive: 30 * time.Second}
	t := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   c.dialTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
	if skipVerify {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // test deployments only
	}
	return t
}

// Challenge sends the request and blocks until the upstream answers, the
// request timeout expires or ctx is done. It never returns an error; failures
// are reported in Result.Failure.
func (c *Client) Challenge(ctx context.Context, req Request) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint, err := challengeURL(req.BaseURL, req.Phone)
	if err != nil {
		return Result{Failure: &Failure{Kind: FailureTransport, Message: err.Error()}}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{Failure: &Failure{Kind: FailureTransport, Message: err.Error()}}
	}
	httpReq.Header.Set(apiKeyHeader, req.APIKey)
	httpReq.Header.Set("Accept", "application/json")

	c.initTransports()
	transport := c.secure
	if req.SkipTLSVerify {
		c.logger.Warn("tls certificate verification disabled for verification call")
		transport = c.insecure
	}
	client := &http.Client{Transport: transport, Timeout: req.Timeout}

	c.logger.Debug("calling verification service", zap.String("url", redactedURL(req.BaseURL)))

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{Failure: classify(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{StatusCode: resp.StatusCode, Failure: classify(err)}
	}

	if resp.StatusCode != http.StatusOK {
		return Result{
			StatusCode: resp.StatusCode,
			Failure: &Failure{
				Kind:    FailureStatus,
				Message: fmt.Sprintf("verification service returned HTTP %d: %s", resp.StatusCode, truncate(string(body))),
			},
		}
	}

	return Result{Code: ParseResponseCode(string(body)), StatusCode: resp.StatusCode}
}

// Close releases idle connections.
func (c *Client) Close() {
	if c.secure != nil {
		c.secure.CloseIdleConnections()
	}
	if c.insecure != nil {
		c.insecure.CloseIdleConnections()
	}
}

func challengeURL(base, phone string) (string, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid verification service url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid verification service url scheme %q", u.Scheme)
	}
	return base + authPath + "?msisdn=" + url.QueryEscape(phone), nil
}

// classify maps a client error to a Failure. The request URL carries the phone
// number, so url.Error wrappers are stripped from the message.
func classify(err error) *Failure {
	kind := FailureTransport
	if isTimeout(err) {
		kind = FailureTimeout
	}
	msg := err.Error()
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		msg = urlErr.Err.Error()
	}
	return &Failure{Kind: kind, Message: msg}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

func redactedURL(base string) string {
	return strings.TrimRight(base, "/") + authPath + "?msisdn=***"
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxMessageBytes {
		return s
	}
	return s[:maxMessageBytes] + "..."
}
