package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alloyrt/alloy/internal/capability"
	"github.com/alloyrt/alloy/internal/conn"
	"github.com/gorilla/websocket"
)

// outboundBufferSize bounds the per-connection outbound channel; a
// full channel applies backpressure to Send rather than erroring.
const outboundBufferSize = 256

// maxHTTPBodyBytes bounds inbound HTTP-server event payloads.
const maxHTTPBodyBytes = 8 << 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func init() {
	capability.RegisterWSListen(wsListen)
	capability.RegisterHTTPListen(httpListen)
}

// pathRoute holds the optional HTTP and WS handlers registered for one path.
type pathRoute struct {
	httpHandler conn.Handler
	httpToken   string
	wsHandler   conn.Handler
	wsToken     string

	// httpBots caches connection handles for HTTP-server bots so that
	// repeated POSTs from the same bot-id reuse one handle instead of
	// calling CreateBot on every request.
	httpBotsMu sync.Mutex
	httpBots   map[string]*conn.Handle
}

// sharedServer owns one TCP listener for one bind address, fanning
// requests out to per-path routes. Reference-counted: the last route
// removed tears the listener down.
type sharedServer struct {
	addr   string
	mu     sync.Mutex
	routes map[string]*pathRoute
	refs   int

	httpSrv  *http.Server
	listener net.Listener
	logger   *slog.Logger
}

var (
	serversMu sync.Mutex
	servers   = map[string]*sharedServer{}
)

func getOrCreateServer(addr string) (*sharedServer, error) {
	serversMu.Lock()
	defer serversMu.Unlock()

	if s, ok := servers[addr]; ok {
		s.mu.Lock()
		s.refs++
		s.mu.Unlock()
		return s, nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &sharedServer{
		addr:     addr,
		routes:   make(map[string]*pathRoute),
		refs:     1,
		listener: ln,
		logger:   slog.Default().With("component", "transport.tcpserver", "addr", addr),
	}
	s.httpSrv = &http.Server{Handler: s}
	servers[addr] = s

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("accept loop exited", "error", err)
		}
	}()

	return s, nil
}

func (s *sharedServer) release() {
	serversMu.Lock()
	s.mu.Lock()
	s.refs--
	remaining := s.refs
	s.mu.Unlock()
	if remaining > 0 {
		serversMu.Unlock()
		return
	}
	delete(servers, s.addr)
	serversMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown failed", "error", err)
	}
}

func (s *sharedServer) routeFor(path string) *pathRoute {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.routes[path]
	if !ok {
		pr = &pathRoute{httpBots: make(map[string]*conn.Handle)}
		s.routes[path] = pr
	}
	return pr
}

func (s *sharedServer) removeHTTPRoute(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.routes[path]
	if !ok {
		return
	}
	pr.httpHandler = nil
	if pr.httpHandler == nil && pr.wsHandler == nil {
		delete(s.routes, path)
	}
}

func (s *sharedServer) removeWSRoute(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.routes[path]
	if !ok {
		return
	}
	pr.wsHandler = nil
	if pr.httpHandler == nil && pr.wsHandler == nil {
		delete(s.routes, path)
	}
}

func (s *sharedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	pr, ok := s.routes[r.URL.Path]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch {
	case r.Method == http.MethodPost && pr.httpHandler != nil:
		s.serveHTTPPost(pr, w, r)
	case r.Method == http.MethodGet && isUpgradeRequest(r) && pr.wsHandler != nil:
		s.serveWSUpgrade(pr, w, r)
	default:
		http.NotFound(w, r)
	}
}

func isUpgradeRequest(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade") &&
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func lowercaseHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}

func (s *sharedServer) serveHTTPPost(pr *pathRoute, w http.ResponseWriter, r *http.Request) {
	if pr.httpToken != "" {
		auth := r.Header.Get("Authorization")
		if auth != "Bearer "+pr.httpToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	info := conn.Info{Kind: conn.KindHTTPServer, RemoteAddr: r.RemoteAddr, Metadata: lowercaseHeaders(r.Header)}
	botID, err := pr.httpHandler.GetBotID(info)
	if err != nil {
		s.logger.Warn("http-server: bot identification failed", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "bot identification failed", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxHTTPBodyBytes))
	r.Body.Close()
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	pr.httpBotsMu.Lock()
	h, seen := pr.httpBots[botID]
	if !seen {
		h = conn.NewHandle(botID, conn.KindHTTPServer, func(data []byte) error {
			s.logger.Warn("http-server: outbound send has no push mechanism, dropping",
				"bot_id", botID, "bytes", len(data))
			return nil
		}, nil)
		pr.httpBots[botID] = h
		pr.httpHandler.CreateBot(botID, h)
	}
	pr.httpBotsMu.Unlock()

	pr.httpHandler.OnMessage(botID, body)
	w.WriteHeader(http.StatusOK)
}

func (s *sharedServer) serveWSUpgrade(pr *pathRoute, w http.ResponseWriter, r *http.Request) {
	if pr.wsToken != "" {
		auth := r.Header.Get("Authorization")
		if auth != "Bearer "+pr.wsToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	info := conn.Info{Kind: conn.KindWS, RemoteAddr: r.RemoteAddr, Metadata: lowercaseHeaders(r.Header)}
	botID, err := pr.wsHandler.GetBotID(info)
	if err != nil {
		s.logger.Warn("ws-server: bot identification failed", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "bot identification failed", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws-server: upgrade failed", "error", err)
		return
	}

	outbound := make(chan []byte, outboundBufferSize)
	var h *conn.Handle
	h = conn.NewHandle(botID, conn.KindWS, func(data []byte) error {
		select {
		case outbound <- data:
			return nil
		case <-h.Done():
			return conn.ErrClosed
		}
	}, nil)

	pr.wsHandler.CreateBot(botID, h)

	go wsWriteLoop(ws, outbound, h.Done(), s.logger)
	go wsReadLoop(ws, botID, pr.wsHandler, h, s.logger)
}

func wsWriteLoop(ws *websocket.Conn, outbound <-chan []byte, done <-chan struct{}, logger *slog.Logger) {
	defer ws.Close()
	for {
		select {
		case <-done:
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data, ok := <-outbound:
			if !ok {
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("ws-server: write failed", "error", err)
				return
			}
		}
	}
}

func wsReadLoop(ws *websocket.Conn, botID string, handler conn.Handler, h *conn.Handle, logger *slog.Logger) {
	defer func() {
		h.Close()
		handler.OnDisconnect(botID)
	}()
	ws.SetPongHandler(func(string) error { return nil })
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			handler.OnMessage(botID, data)
		}
	}
}

// wsListen implements capability.WSListenFunc.
func wsListen(ctx context.Context, cfg capability.WSServerConfig, handler conn.Handler) (capability.ListenerHandle, error) {
	s, err := getOrCreateServer(cfg.Addr)
	if err != nil {
		return nil, err
	}
	pr := s.routeFor(cfg.Path)
	s.mu.Lock()
	pr.wsHandler = handler
	pr.wsToken = cfg.AccessToken
	s.mu.Unlock()

	return &listenerHandle{closeFn: func() {
		s.removeWSRoute(cfg.Path)
		s.release()
	}}, nil
}

// httpListen implements capability.HTTPListenFunc.
func httpListen(ctx context.Context, cfg capability.HTTPServerConfig, handler conn.Handler) (capability.ListenerHandle, error) {
	s, err := getOrCreateServer(cfg.Addr)
	if err != nil {
		return nil, err
	}
	pr := s.routeFor(cfg.Path)
	s.mu.Lock()
	pr.httpHandler = handler
	pr.httpToken = cfg.AccessToken
	s.mu.Unlock()

	return &listenerHandle{closeFn: func() {
		s.removeHTTPRoute(cfg.Path)
		s.release()
	}}, nil
}

// listenerHandle carries a cancellation token (here, a plain
// idempotent close func) per spec's route-handle lifecycle.
type listenerHandle struct {
	once    sync.Once
	closeFn func()
}

func (l *listenerHandle) Close() {
	l.once.Do(l.closeFn)
}
