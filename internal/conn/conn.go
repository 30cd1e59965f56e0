// Package conn defines the connection handle and connection-handler
// interface shared by every transport (C5). A Handle is owned by the
// bot/adapter side; the Handler interface is implemented by the
// adapter bridge and invoked by transports as frames arrive.
package conn

import (
	"context"
	"errors"
	"sync"
)

// Kind identifies the shape of a connection.
type Kind string

const (
	KindWS         Kind = "ws"
	KindHTTPServer Kind = "http-server"
	KindHTTPClient Kind = "http-client"
)

// ErrNotSupported is returned by Handle operations the connection kind
// does not implement (e.g. CallAPI on a ws handle).
var ErrNotSupported = errors.New("conn: operation not supported for this connection kind")

// ErrClosed is returned by Send once the handle's shutdown signal has
// been raised.
var ErrClosed = errors.New("conn: connection closed")

// Info describes the connection a bot-id must be derived from: a kind
// tag, the remote address, and normalized (lowercased-key) metadata —
// HTTP headers for HTTP/WS-server connections.
type Info struct {
	Kind       Kind
	RemoteAddr string
	Metadata   map[string]string
}

// Handler is the connection-facing interface transports invoke. The
// adapter bridge (C6) implements it.
type Handler interface {
	// GetBotID derives a bot-id from connection metadata. An error
	// means the transport should refuse the connection.
	GetBotID(info Info) (string, error)
	// CreateBot registers botID with h, constructing or re-identifying
	// the bot object.
	CreateBot(botID string, h *Handle)
	// OnMessage delivers one inbound frame for botID.
	OnMessage(botID string, data []byte)
	// OnDisconnect tears down botID's bot object entirely: removes it
	// from the bot table, fails its pending API calls with
	// Disconnected, and invokes the bot's on_disconnect hook. Final —
	// used when a connection is not going to reconnect.
	OnDisconnect(botID string)
	// FailPending fails botID's pending API calls with Disconnected
	// without tearing down the bot object. Used by the WebSocket
	// client loop on a transient drop that will attempt to reconnect:
	// the bot-id persists across reconnects, but in-flight calls
	// against the dead connection cannot be satisfied (spec §9: the
	// source fails pending calls on drop; the reconnected connection's
	// pending map starts fresh).
	FailPending(botID string)
}

// SendFunc pushes a frame outbound. Semantics depend on Kind: a
// websocket handle writes a text frame; an HTTP-server handle warns
// and drops (no push mechanism); an HTTP-client handle is nil (send is
// not supported, only CallAPI).
type SendFunc func([]byte) error

// CallAPIFunc performs a synchronous request/response round trip.
// Only HTTP-client handles set this.
type CallAPIFunc func(ctx context.Context, body []byte) ([]byte, error)

// Handle is the connection handle (C5): bot-id, a send function or a
// call-API function, a shutdown signal, and a kind tag. Close is
// idempotent; the owning transport task observes Done().
type Handle struct {
	botID     string
	kind      Kind
	sendFn    SendFunc
	callAPIFn CallAPIFunc
	shutdown  chan struct{}
	closeOnce sync.Once
}

// NewHandle constructs a Handle. Either send or callAPI (or both) may
// be nil; the corresponding operation then returns ErrNotSupported.
func NewHandle(botID string, kind Kind, send SendFunc, callAPI CallAPIFunc) *Handle {
	return &Handle{
		botID:     botID,
		kind:      kind,
		sendFn:    send,
		callAPIFn: callAPI,
		shutdown:  make(chan struct{}),
	}
}

// ID returns the bot-id this handle is bound to.
func (h *Handle) ID() string { return h.botID }

// Kind returns the connection kind.
func (h *Handle) Kind() Kind { return h.kind }

// Send pushes a frame outbound. Returns ErrClosed once Close has been
// called, ErrNotSupported if the kind has no send function.
func (h *Handle) Send(data []byte) error {
	select {
	case <-h.shutdown:
		return ErrClosed
	default:
	}
	if h.sendFn == nil {
		return ErrNotSupported
	}
	return h.sendFn(data)
}

// CallAPI performs a synchronous round trip. Only supported on
// http-client handles.
func (h *Handle) CallAPI(ctx context.Context, body []byte) ([]byte, error) {
	if h.callAPIFn == nil {
		return nil, ErrNotSupported
	}
	return h.callAPIFn(ctx, body)
}

// Close raises the shutdown signal. Idempotent.
func (h *Handle) Close() {
	h.closeOnce.Do(func() { close(h.shutdown) })
}

// Done returns a channel closed once Close has been called. The
// owning transport task selects on this to know when to tear down.
func (h *Handle) Done() <-chan struct{} { return h.shutdown }
