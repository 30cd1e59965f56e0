// Package httpkit builds the *http.Client used wherever alloyrt talks
// HTTP to a bot process: the HTTP client bot's outbound POSTs (C4) and
// the HTTP API caller's synchronous action calls (C7). Both sit on top
// of a bot process that may be mid-restart at the moment a call lands,
// so the shared client favors bounded timeouts and an opt-in retry for
// the handful of dial-level errors a restarting process actually
// produces, over leaving callers to reimplement that judgment per
// transport.
package httpkit

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/alloyrt/alloy/internal/buildinfo"
)

// Connection-pool and timeout defaults for the shared transport. These
// bound how long a single bot API call can stall the dispatch pipeline
// behind it (§5's resource model assumes no outbound call blocks
// indefinitely).
const (
	DefaultDialTimeout         = 10 * time.Second
	DefaultKeepAlive           = 30 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	DefaultResponseHeader      = 15 * time.Second
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultMaxIdleConns        = 20
	DefaultMaxIdleConnsPerHost = 5
)

// restartRetryableErrnos are the syscall-level errors a bot process
// restart (or the supervisor bouncing the port during a deploy)
// actually surfaces to a client mid-call. Anything else is treated as
// a real failure, not a reason to retry.
var restartRetryableErrnos = map[syscall.Errno]bool{
	syscall.EHOSTUNREACH: true,
	syscall.ENETUNREACH:  true,
	syscall.ECONNREFUSED: true,
	syscall.ECONNRESET:   true,
}

// ClientOption configures a client built by NewClient.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout               time.Duration
	userAgent             string
	skipUserAgent         bool
	transport             *http.Transport
	disableKeepAlives     bool
	tlsInsecureSkipVerify bool
	retryAttempts         int
	retryBackoff          time.Duration
	logger                *slog.Logger
}

// WithTimeout sets the overall request timeout on the client. Zero
// disables it, which the HTTP client bot never wants but a long-poll
// style plugin call might.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.timeout = d }
}

// WithUserAgent overrides the default alloyrt User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *clientConfig) { c.userAgent = ua }
}

// WithoutUserAgent disables the automatic User-Agent roundtripper.
func WithoutUserAgent() ClientOption {
	return func(c *clientConfig) { c.skipUserAgent = true }
}

// WithTransport swaps in a caller-built transport instead of the
// shared pooled one. Rarely needed; prefer the other options.
func WithTransport(t *http.Transport) ClientOption {
	return func(c *clientConfig) { c.transport = t }
}

// WithDisableKeepAlives disables HTTP keep-alives on the transport.
func WithDisableKeepAlives() ClientOption {
	return func(c *clientConfig) { c.disableKeepAlives = true }
}

// WithTLSInsecureSkipVerify skips TLS certificate verification. Only
// for a bot process reachable over a loopback or trusted dev link.
func WithTLSInsecureSkipVerify() ClientOption {
	return func(c *clientConfig) { c.tlsInsecureSkipVerify = true }
}

// WithRetry retries a call up to attempts times, waiting backoff
// between tries, when the underlying error looks like the bot process
// bouncing rather than a real failure (see restartRetryableErrnos). A
// request whose body can't be rewound via GetBody is never retried.
func WithRetry(attempts int, backoff time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.retryAttempts = attempts
		c.retryBackoff = backoff
	}
}

// WithLogger attaches a logger that records retry attempts.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = l }
}

// NewTransport returns the pooled transport NewClient uses by default.
func NewTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeader,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient builds the *http.Client the HTTP client bot (C4) and the
// HTTP API caller (C7) share: bounded timeouts, a pooled transport,
// and an alloyrt User-Agent unless overridden.
func NewClient(opts ...ClientOption) *http.Client {
	cfg := &clientConfig{
		timeout:   30 * time.Second,
		userAgent: buildinfo.UserAgent(),
	}
	for _, o := range opts {
		o(cfg)
	}

	transport := cfg.transport
	if transport == nil {
		transport = NewTransport()
	}
	if cfg.disableKeepAlives {
		transport.DisableKeepAlives = true
	}
	if cfg.tlsInsecureSkipVerify {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{}
		}
		transport.TLSClientConfig.InsecureSkipVerify = true //nolint:gosec // explicit opt-in
	}

	var rt http.RoundTripper = transport
	if !cfg.skipUserAgent {
		rt = &userAgentTransport{base: rt, userAgent: cfg.userAgent}
	}
	if cfg.retryAttempts > 0 {
		rt = &restartRetryTransport{base: rt, attempts: cfg.retryAttempts, backoff: cfg.retryBackoff, logger: cfg.logger}
	}

	return &http.Client{Timeout: cfg.timeout, Transport: rt}
}

// userAgentTransport stamps the alloyrt User-Agent on requests that
// don't already carry one.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

// restartRetryTransport retries a call while the bot process on the
// other end appears to be restarting. It gives up immediately on any
// error that isn't in restartRetryableErrnos, and on any error once
// the request body can no longer be rewound.
type restartRetryTransport struct {
	base     http.RoundTripper
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

func (t *restartRetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err == nil || !looksLikeRestart(err) {
		return resp, err
	}
	if req.Body != nil && req.GetBody == nil {
		return resp, err
	}

	for attempt := 1; attempt <= t.attempts; attempt++ {
		t.logf(slog.LevelWarn, "retrying call after apparent bot restart", req, attempt, err)

		timer := time.NewTimer(t.backoff)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}

		if req.GetBody != nil {
			body, rebuildErr := req.GetBody()
			if rebuildErr != nil {
				return nil, fmt.Errorf("httpkit: rewind request body for retry: %w", rebuildErr)
			}
			req.Body = body
		}

		resp, err = t.base.RoundTrip(req)
		if err == nil || !looksLikeRestart(err) {
			if err == nil {
				t.logf(slog.LevelInfo, "call succeeded after retry", req, attempt, nil)
			}
			return resp, err
		}
	}
	return resp, err
}

func (t *restartRetryTransport) logf(level slog.Level, msg string, req *http.Request, attempt int, err error) {
	if t.logger == nil {
		return
	}
	args := []any{"method", req.Method, "url", req.URL.String(), "attempt", attempt}
	if err != nil {
		args = append(args, "error", err)
	}
	t.logger.Log(req.Context(), level, msg, args...)
}

// looksLikeRestart reports whether err is one of the dial-level
// failures a bouncing bot process produces.
func looksLikeRestart(err error) bool {
	if err == nil {
		return false
	}

	var errno syscall.Errno
	if errors.As(err, &errno) && restartRetryableErrnos[errno] {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && errors.As(opErr.Err, &errno) && restartRetryableErrnos[errno] {
		return true
	}

	return false
}

// DrainAndClose reads up to limit bytes from rc and closes it, so the
// underlying connection can return to the pool instead of being torn
// down. Safe to call with rc == nil.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

// ReadErrorBody reads up to limit bytes from rc for inclusion in an
// error message, then drains and closes whatever remains so the
// connection is still reusable. Returns "" for a nil rc.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	DrainAndClose(rc, 1024)
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}
