package apicaller

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alloyrt/alloy/internal/conn"
)

const defaultCallTimeout = 30 * time.Second

// WSCaller is the echo-matched RPC correlator for a duplex
// connection. One instance is owned per bot.
type WSCaller struct {
	handle  *conn.Handle
	seq     atomic.Int64
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan inboundResponse
}

// NewWSCaller builds a caller bound to the send side of handle. A
// zero timeout uses the 30s protocol default.
func NewWSCaller(handle *conn.Handle, timeout time.Duration) *WSCaller {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &WSCaller{
		handle:  handle,
		timeout: timeout,
		pending: make(map[string]chan inboundResponse),
	}
}

// Call stringifies the envelope, registers a pending entry keyed by
// a freshly minted echo token, writes the envelope, then awaits the
// matching response, the timeout, or the caller's context.
func (c *WSCaller) Call(ctx context.Context, action string, params json.RawMessage) (json.RawMessage, error) {
	echo := strconv.FormatInt(c.seq.Add(1), 10)

	body, err := json.Marshal(envelope{Action: action, Params: params, Echo: echo})
	if err != nil {
		return nil, serialization(err)
	}

	rx := make(chan inboundResponse, 1)
	c.mu.Lock()
	c.pending[echo] = rx
	c.mu.Unlock()
	defer c.removePending(echo)

	if err := c.handle.Send(body); err != nil {
		return nil, transportIO(err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-rx:
		if !ok {
			return nil, notConnected()
		}
		return resolve(resp)
	case <-timer.C:
		return nil, timeoutErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func resolve(resp inboundResponse) (json.RawMessage, error) {
	if resp.Status == "failed" || resp.Retcode != 0 {
		return nil, protocolError(resp.Retcode, resp.Message)
	}
	return resp.Raw, nil
}

func (c *WSCaller) removePending(echo string) {
	c.mu.Lock()
	delete(c.pending, echo)
	c.mu.Unlock()
}

// Resolve routes an inbound frame carrying an echo field to the
// waiting call, if any. Called by the bridge after EchoField
// identifies the frame as a response rather than an event.
func (c *WSCaller) Resolve(raw []byte) {
	var resp inboundResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return
	}
	resp.Raw = raw

	c.mu.Lock()
	rx, ok := c.pending[resp.Echo]
	if ok {
		delete(c.pending, resp.Echo)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	select {
	case rx <- resp:
	default:
	}
}

// FailAllPending signals every in-flight call with a disconnect
// error and clears the pending table. Called by the bridge whenever
// the underlying connection drops, whether or not it later
// reconnects (see conn.Handler.FailPending).
func (c *WSCaller) FailAllPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan inboundResponse)
	c.mu.Unlock()

	for _, rx := range pending {
		close(rx)
	}
}
