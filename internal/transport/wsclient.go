package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alloyrt/alloy/internal/backoff"
	"github.com/alloyrt/alloy/internal/capability"
	"github.com/alloyrt/alloy/internal/conn"
	"github.com/gorilla/websocket"
)

func init() {
	capability.RegisterWSConnect(wsConnect)
}

const (
	wsDialTimeout  = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// wsConnect implements capability.WSConnectFunc: the WebSocket client
// reconnect loop (C3). The initial connect is awaited synchronously;
// subsequent reconnects happen in the background task.
func wsConnect(ctx context.Context, cfg capability.WSClientConfig, handler conn.Handler) (*conn.Handle, error) {
	logger := slog.Default().With("component", "transport.wsclient", "url", cfg.URL)

	ws, err := dialWS(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ws-client: initial connect: %w", err)
	}

	botID, err := handler.GetBotID(conn.Info{Kind: conn.KindWS, RemoteAddr: cfg.URL})
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("ws-client: bot identification failed: %w", err)
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

	handler.CreateBot(botID, h)

	loop := &wsClientLoop{
		cfg:      cfg,
		handler:  handler,
		botID:    botID,
		h:        h,
		outbound: outbound,
		logger:   logger,
		seq:      backoff.NewSequence(backoff.DefaultConfig()),
	}
	go loop.run(ctx, ws)

	return h, nil
}

func dialWS(ctx context.Context, cfg capability.WSClientConfig) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: wsDialTimeout}
	var header http.Header
	if cfg.AccessToken != "" {
		header = http.Header{"Authorization": {"Bearer " + cfg.AccessToken}}
	}
	ws, _, err := dialer.DialContext(ctx, cfg.URL, header)
	return ws, err
}

// wsClientLoop owns the single-connection send/receive select loop
// with auto-reconnect, exponential backoff, ping/pong, and graceful
// shutdown described in spec §4.3.
type wsClientLoop struct {
	cfg      capability.WSClientConfig
	handler  conn.Handler
	botID    string
	h        *conn.Handle
	outbound chan []byte
	logger   *slog.Logger
	seq      *backoff.Sequence
}

func (l *wsClientLoop) run(ctx context.Context, ws *websocket.Conn) {
	defer func() {
		l.handler.OnDisconnect(l.botID)
	}()

	for {
		ws = l.serveOne(ctx, ws)
		if ws == nil {
			return
		}
	}
}

// serveOne drives one connection until it drops or the handle is
// closed. On a recoverable drop it reconnects (honoring
// auto_reconnect/backoff) and returns the new connection, or nil to
// stop the loop entirely.
func (l *wsClientLoop) serveOne(ctx context.Context, ws *websocket.Conn) *websocket.Conn {
	incoming := make(chan wsFrame, 1)
	readerDone := make(chan struct{})
	go l.readPump(ws, incoming, readerDone)

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.h.Done():
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			ws.Close()
			<-readerDone
			return nil

		case <-ticker.C:
			_ = ws.WriteMessage(websocket.PingMessage, nil)

		case data, ok := <-l.outbound:
			if !ok {
				return nil
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				l.logger.Warn("write failed", "error", err)
			}

		case frame := <-incoming:
			if frame.err != nil {
				ws.Close()
				<-readerDone
				l.handler.FailPending(l.botID)
				next := l.reconnect(ctx)
				if next != nil {
					l.handler.CreateBot(l.botID, l.h)
				}
				return next
			}
			l.seq.Reset()
			l.handler.OnMessage(l.botID, frame.data)
		}
	}
}

type wsFrame struct {
	data []byte
	err  error
}

func (l *wsClientLoop) readPump(ws *websocket.Conn, out chan<- wsFrame, done chan<- struct{}) {
	defer close(done)
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			out <- wsFrame{err: err}
			return
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			out <- wsFrame{data: data}
		}
	}
}

// reconnect implements the backoff/retry schedule on connection loss.
// Returns the new connection, or nil if reconnect is disabled or
// retries are exhausted (both of which end the loop and trigger
// on_disconnect).
func (l *wsClientLoop) reconnect(ctx context.Context) *websocket.Conn {
	if !l.cfg.AutoReconnect {
		return nil
	}

	for {
		if l.seq.Exhausted() {
			l.logger.Warn("reconnect retries exhausted")
			return nil
		}

		delay := l.seq.Next()
		l.logger.Info("reconnecting", "attempt", l.seq.Attempt(), "delay", delay)
		if !backoff.Sleep(ctx, delay) {
			return nil
		}

		ws, err := dialWS(ctx, l.cfg)
		if err != nil {
			l.logger.Warn("reconnect attempt failed", "error", err)
			continue
		}
		l.seq.Reset()
		return ws
	}
}
