// Package capability holds the four process-wide transport
// capability registries (C1): ws-connect, ws-listen,
// http-start-client, http-listen. Each is populated at process
// start-up by the transport package's init and is read-only
// thereafter. The runtime exposes them to adapters as four optional
// capabilities; a missing capability is not an error, only a reason
// for the adapter to skip that connection config.
package capability

import (
	"context"
	"sync"

	"github.com/alloyrt/alloy/internal/conn"
)

// WSServerConfig configures a WebSocket-server route.
type WSServerConfig struct {
	Addr        string
	Path        string
	AccessToken string
}

// WSClientConfig configures an outbound WebSocket-client connection.
type WSClientConfig struct {
	URL           string
	AccessToken   string
	AutoReconnect bool
}

// HTTPServerConfig configures an HTTP-server route.
type HTTPServerConfig struct {
	Addr        string
	Path        string
	AccessToken string
}

// HTTPClientConfig configures an outbound HTTP-client pseudo-connection.
type HTTPClientConfig struct {
	BotID       string
	APIURL      string
	AccessToken string
}

// ListenerHandle is returned by the two listen capabilities. Close
// releases the route; when the last route on a bind address is
// released, the shared TCP server for that address shuts down.
type ListenerHandle interface {
	Close()
}

// WSConnectFunc dials an outbound WebSocket client connection.
type WSConnectFunc func(ctx context.Context, cfg WSClientConfig, handler conn.Handler) (*conn.Handle, error)

// WSListenFunc registers a WebSocket-server route.
type WSListenFunc func(ctx context.Context, cfg WSServerConfig, handler conn.Handler) (ListenerHandle, error)

// HTTPListenFunc registers an HTTP-server route.
type HTTPListenFunc func(ctx context.Context, cfg HTTPServerConfig, handler conn.Handler) (ListenerHandle, error)

// HTTPStartClientFunc synthesizes an HTTP-client pseudo-connection.
type HTTPStartClientFunc func(ctx context.Context, cfg HTTPClientConfig, handler conn.Handler) (*conn.Handle, error)

var (
	mu              sync.RWMutex
	wsConnect       WSConnectFunc
	wsListen        WSListenFunc
	httpListen      HTTPListenFunc
	httpStartClient HTTPStartClientFunc
)

// RegisterWSConnect installs the ws-client capability. Called once
// from the transport package's init.
func RegisterWSConnect(f WSConnectFunc) {
	mu.Lock()
	defer mu.Unlock()
	wsConnect = f
}

// RegisterWSListen installs the ws-server capability.
func RegisterWSListen(f WSListenFunc) {
	mu.Lock()
	defer mu.Unlock()
	wsListen = f
}

// RegisterHTTPListen installs the http-server capability.
func RegisterHTTPListen(f HTTPListenFunc) {
	mu.Lock()
	defer mu.Unlock()
	httpListen = f
}

// RegisterHTTPStartClient installs the http-client capability.
func RegisterHTTPStartClient(f HTTPStartClientFunc) {
	mu.Lock()
	defer mu.Unlock()
	httpStartClient = f
}

// WSClient returns the ws-client capability, if a transport registered one.
func WSClient() (WSConnectFunc, bool) {
	mu.RLock()
	defer mu.RUnlock()
	return wsConnect, wsConnect != nil
}

// WSServer returns the ws-server capability, if a transport registered one.
func WSServer() (WSListenFunc, bool) {
	mu.RLock()
	defer mu.RUnlock()
	return wsListen, wsListen != nil
}

// HTTPServer returns the http-server capability, if a transport registered one.
func HTTPServer() (HTTPListenFunc, bool) {
	mu.RLock()
	defer mu.RUnlock()
	return httpListen, httpListen != nil
}

// HTTPClient returns the http-client capability, if a transport registered one.
func HTTPClient() (HTTPStartClientFunc, bool) {
	mu.RLock()
	defer mu.RUnlock()
	return httpStartClient, httpStartClient != nil
}

// reset clears all registrations. Test-only seam.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	wsConnect = nil
	wsListen = nil
	httpListen = nil
	httpStartClient = nil
}
