package httpkit

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestNewClientDefaultTimeout(t *testing.T) {
	c := NewClient()
	if c.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", c.Timeout)
	}
}

func TestNewClientCustomTimeout(t *testing.T) {
	c := NewClient(WithTimeout(5 * time.Second))
	if c.Timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", c.Timeout)
	}
}

func TestNewClientZeroTimeoutDisablesIt(t *testing.T) {
	c := NewClient(WithTimeout(0))
	if c.Timeout != 0 {
		t.Errorf("timeout = %v, want 0", c.Timeout)
	}
}

func echoUserAgent() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("User-Agent")))
	}))
}

func TestNewClientStampsAlloyrtUserAgentByDefault(t *testing.T) {
	srv := echoUserAgent()
	defer srv.Close()

	resp, err := NewClient().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(body), "alloyrt/") {
		t.Errorf("user-agent = %q, want alloyrt/ prefix", body)
	}
}

func TestNewClientWithUserAgentOverride(t *testing.T) {
	srv := echoUserAgent()
	defer srv.Close()

	resp, err := NewClient(WithUserAgent("onebot-probe/1.0")).Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "onebot-probe/1.0" {
		t.Errorf("user-agent = %q, want onebot-probe/1.0", body)
	}
}

func TestNewClientWithoutUserAgentLeavesGoDefault(t *testing.T) {
	srv := echoUserAgent()
	defer srv.Close()

	resp, err := NewClient(WithoutUserAgent()).Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if strings.HasPrefix(string(body), "alloyrt/") {
		t.Errorf("expected no alloyrt/ prefix with WithoutUserAgent, got %q", body)
	}
}

func TestNewClientPreservesCallerSetUserAgent(t *testing.T) {
	srv := echoUserAgent()
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "go-cqhttp/1.2")
	resp, err := NewClient().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "go-cqhttp/1.2" {
		t.Errorf("user-agent = %q, want untouched go-cqhttp/1.2", body)
	}
}

func TestNewTransportAppliesDefaults(t *testing.T) {
	tr := NewTransport()
	if tr.TLSHandshakeTimeout != DefaultTLSHandshakeTimeout {
		t.Errorf("TLSHandshakeTimeout = %v, want %v", tr.TLSHandshakeTimeout, DefaultTLSHandshakeTimeout)
	}
	if tr.ResponseHeaderTimeout != DefaultResponseHeader {
		t.Errorf("ResponseHeaderTimeout = %v, want %v", tr.ResponseHeaderTimeout, DefaultResponseHeader)
	}
	if tr.IdleConnTimeout != DefaultIdleConnTimeout {
		t.Errorf("IdleConnTimeout = %v, want %v", tr.IdleConnTimeout, DefaultIdleConnTimeout)
	}
	if tr.MaxIdleConns != DefaultMaxIdleConns {
		t.Errorf("MaxIdleConns = %d, want %d", tr.MaxIdleConns, DefaultMaxIdleConns)
	}
	if tr.MaxIdleConnsPerHost != DefaultMaxIdleConnsPerHost {
		t.Errorf("MaxIdleConnsPerHost = %d, want %d", tr.MaxIdleConnsPerHost, DefaultMaxIdleConnsPerHost)
	}
}

func TestNewClientWithCustomTransportIsUsed(t *testing.T) {
	custom := NewTransport()
	custom.MaxIdleConns = 99
	c := NewClient(WithTransport(custom))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
}

func TestNewClientTLSInsecureSkipVerify(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("secure"))
	}))
	defer srv.Close()

	if _, err := NewClient(WithTimeout(2 * time.Second)).Get(srv.URL); err == nil {
		t.Fatal("expected a TLS verification error against a self-signed cert")
	}

	insecure := NewClient(WithTimeout(2*time.Second), WithTLSInsecureSkipVerify())
	resp, err := insecure.Get(srv.URL)
	if err != nil {
		t.Fatalf("insecure client: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "secure" {
		t.Errorf("body = %q, want secure", body)
	}
}

func TestNewClientDisableKeepAlivesDoesNotPanic(t *testing.T) {
	if NewClient(WithDisableKeepAlives()) == nil {
		t.Fatal("expected a non-nil client")
	}
}

func TestDrainAndClose(t *testing.T) {
	DrainAndClose(io.NopCloser(strings.NewReader("hello world")), 1024)
	DrainAndClose(nil, 1024)
}

func TestDrainAndCloseRespectsLimit(t *testing.T) {
	rc := io.NopCloser(strings.NewReader(strings.Repeat("x", 10000)))
	DrainAndClose(rc, 100)
}

func TestReadErrorBody(t *testing.T) {
	got := ReadErrorBody(io.NopCloser(strings.NewReader("retcode 104: token expired")), 512)
	if got != "retcode 104: token expired" {
		t.Errorf("got %q", got)
	}
}

func TestReadErrorBodyTruncatesAtLimit(t *testing.T) {
	rc := io.NopCloser(strings.NewReader(strings.Repeat("x", 1000)))
	if got := ReadErrorBody(rc, 10); len(got) != 10 {
		t.Errorf("len = %d, want 10", len(got))
	}
}

func TestReadErrorBodyNil(t *testing.T) {
	if got := ReadErrorBody(nil, 512); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

type failReader struct{}

func (f *failReader) Read([]byte) (int, error) { return 0, fmt.Errorf("simulated read error") }

func TestReadErrorBodyReportsReadFailure(t *testing.T) {
	got := ReadErrorBody(io.NopCloser(&failReader{}), 512)
	if !strings.Contains(got, "failed to read") {
		t.Errorf("got %q, want a failure message", got)
	}
}

// bouncingBot simulates a bot process that refuses N connections (as
// if it were mid-restart) before it starts answering again.
type bouncingBot struct {
	refusals int
	calls    int
}

func (b *bouncingBot) RoundTrip(req *http.Request) (*http.Response, error) {
	b.calls++
	if b.calls <= b.refusals {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: &net.OpError{Op: "connect", Err: syscall.ECONNREFUSED}}
	}
	return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader("ok"))}, nil
}

func TestRestartRetryTransportRetriesThroughABounce(t *testing.T) {
	bot := &bouncingBot{refusals: 1}
	rt := &restartRetryTransport{base: bot, attempts: 2, backoff: 10 * time.Millisecond}

	req, _ := http.NewRequest(http.MethodGet, "http://bot.local/api", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("expected success once the bot comes back, got: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if bot.calls != 2 {
		t.Fatalf("calls = %d, want 2 (1 refusal + 1 success)", bot.calls)
	}
}

func TestRestartRetryTransportSkipsRetryOnFirstSuccess(t *testing.T) {
	bot := &bouncingBot{refusals: 0}
	rt := &restartRetryTransport{base: bot, attempts: 2, backoff: 10 * time.Millisecond}

	req, _ := http.NewRequest(http.MethodGet, "http://bot.local/api", nil)
	if _, err := rt.RoundTrip(req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bot.calls != 1 {
		t.Fatalf("calls = %d, want 1", bot.calls)
	}
}

func TestRestartRetryTransportGivesUpAfterAttemptsExhausted(t *testing.T) {
	bot := &bouncingBot{refusals: 10}
	rt := &restartRetryTransport{base: bot, attempts: 2, backoff: 10 * time.Millisecond}

	req, _ := http.NewRequest(http.MethodGet, "http://bot.local/api", nil)
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected an error once the bot never comes back")
	}
	if bot.calls != 3 {
		t.Fatalf("calls = %d, want 3 (1 initial + 2 retries)", bot.calls)
	}
}

func TestRestartRetryTransportRespectsContextCancellation(t *testing.T) {
	bot := &bouncingBot{refusals: 10}
	rt := &restartRetryTransport{base: bot, attempts: 5, backoff: 5 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://bot.local/api", nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected a context cancellation error")
	}
	if bot.calls != 1 {
		t.Fatalf("calls = %d, want 1 before cancellation", bot.calls)
	}
}

type protocolErrorRoundTripper struct{ calls int }

func (f *protocolErrorRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	f.calls++
	return nil, fmt.Errorf("action not supported")
}

func TestRestartRetryTransportDoesNotRetryNonDialErrors(t *testing.T) {
	bot := &protocolErrorRoundTripper{}
	rt := &restartRetryTransport{base: bot, attempts: 2, backoff: 10 * time.Millisecond}

	req, _ := http.NewRequest(http.MethodGet, "http://bot.local/api", nil)
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected an error")
	}
	if bot.calls != 1 {
		t.Fatalf("calls = %d, want 1 (a protocol error is not a restart)", bot.calls)
	}
}

func TestLooksLikeRestart(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"generic", fmt.Errorf("oops"), false},
		{"EHOSTUNREACH", syscall.EHOSTUNREACH, true},
		{"ENETUNREACH", syscall.ENETUNREACH, true},
		{"ECONNREFUSED", syscall.ECONNREFUSED, true},
		{"ECONNRESET", syscall.ECONNRESET, true},
		{"wrapped ECONNREFUSED", fmt.Errorf("connect: %w", syscall.ECONNREFUSED), true},
		{"OpError wrapping ECONNREFUSED", &net.OpError{
			Op: "dial", Net: "tcp",
			Err: &net.OpError{Op: "connect", Err: syscall.ECONNREFUSED},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := looksLikeRestart(tt.err); got != tt.want {
				t.Errorf("looksLikeRestart(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRestartRetryTransportRewindsRequestBody(t *testing.T) {
	bot := &bouncingBot{refusals: 1}
	rt := &restartRetryTransport{base: bot, attempts: 2, backoff: 10 * time.Millisecond}

	payload := `{"action":"send_group_msg"}`
	req, _ := http.NewRequest(http.MethodPost, "http://bot.local/api", strings.NewReader(payload))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(payload)), nil
	}

	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("expected success after retry, got: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestRestartRetryTransportWithoutGetBodyNeverRetries(t *testing.T) {
	bot := &bouncingBot{refusals: 1}
	rt := &restartRetryTransport{base: bot, attempts: 2, backoff: 10 * time.Millisecond}

	req, _ := http.NewRequest(http.MethodPost, "http://bot.local/api", strings.NewReader(`{}`))
	req.GetBody = nil

	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected an error: a body without GetBody cannot be safely retried")
	}
	if bot.calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry without a rewindable body)", bot.calls)
	}
}
