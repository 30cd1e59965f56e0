// Package bridge implements the adapter bridge (C6): the object
// transports (C2-C4) talk to via conn.Handler, and that adapters
// (package onebot et al.) talk to via the Adapter interface. It owns
// the bot table, builds the per-bot API caller, and hands parsed
// events to a Dispatcher.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alloyrt/alloy/internal/apicaller"
	"github.com/alloyrt/alloy/internal/bot"
	"github.com/alloyrt/alloy/internal/capability"
	"github.com/alloyrt/alloy/internal/config"
	"github.com/alloyrt/alloy/internal/conn"
	"github.com/alloyrt/alloy/internal/event"
	"github.com/alloyrt/alloy/internal/events"
	"github.com/alloyrt/alloy/internal/metrics"
)

// Adapter is implemented by a protocol module (e.g. package onebot):
// it identifies bots from connection metadata, constructs the
// protocol-specific bot object, and parses inbound frames into
// events.
type Adapter interface {
	// Name returns the adapter's configured name, used for logging.
	Name() string
	// IdentifyBot derives a bot-id from connection info. An error
	// means the transport should refuse the connection.
	IdentifyBot(info conn.Info) (string, error)
	// NewBot constructs the protocol-specific bot wrapping caller.
	NewBot(botID string, caller apicaller.Caller) bot.Bot
	// ParseEvent parses a non-response inbound frame into an event.
	ParseEvent(raw []byte) (event.Event, error)
}

// Dispatcher is implemented by whatever owns the matcher pipeline for
// this bridge — typically a plugin.Manager, sometimes a bare
// dispatch.Dispatcher for adapters with no plugins configured.
type Dispatcher interface {
	Dispatch(ctx context.Context, b bot.Bot, ev event.Event)
}

// failer is satisfied by apicaller.WSCaller; HTTP callers have no
// pending table to fail.
type failer interface {
	FailAllPending()
}

type botEntry struct {
	bot    bot.Bot
	handle *conn.Handle
	caller apicaller.Caller
}

// Bridge implements conn.Handler for every transport attached to one
// adapter instance, and drives that adapter's on_start/on_shutdown
// lifecycle (§4.6, §4.12).
type Bridge struct {
	adapter    Adapter
	dispatcher Dispatcher
	bus        *events.Bus
	metrics    *metrics.Registry
	callTimeout time.Duration
	logger     *slog.Logger

	mu   sync.RWMutex
	bots map[string]*botEntry

	listenersMu sync.Mutex
	listeners   []capability.ListenerHandle
	handles     []*conn.Handle
}

// Option configures a Bridge at construction time.
type Option func(*Bridge)

// WithBus attaches an operational event bus.
func WithBus(b *events.Bus) Option { return func(br *Bridge) { br.bus = b } }

// WithMetrics attaches a metrics registry.
func WithMetrics(m *metrics.Registry) Option { return func(br *Bridge) { br.metrics = m } }

// WithCallTimeout overrides the default 30s API call timeout used for
// WS callers minted by this bridge.
func WithCallTimeout(d time.Duration) Option {
	return func(br *Bridge) { br.callTimeout = d }
}

// New constructs a Bridge wiring adapter to dispatcher.
func New(adapter Adapter, dispatcher Dispatcher, opts ...Option) *Bridge {
	br := &Bridge{
		adapter:    adapter,
		dispatcher: dispatcher,
		bots:       make(map[string]*botEntry),
		logger:     slog.Default().With("component", "bridge", "adapter", adapter.Name()),
	}
	for _, o := range opts {
		o(br)
	}
	return br
}

// GetBotID implements conn.Handler.
func (br *Bridge) GetBotID(info conn.Info) (string, error) {
	id, err := br.adapter.IdentifyBot(info)
	if err != nil {
		return "", fmt.Errorf("bridge: identify bot: %w", err)
	}
	return id, nil
}

// CreateBot implements conn.Handler: builds the caller appropriate to
// h's kind, constructs the protocol bot, and inserts (or replaces) the
// bot-table entry. Re-identification of an existing bot-id fails the
// prior handle's pending calls with Disconnected before replacing it.
func (br *Bridge) CreateBot(botID string, h *conn.Handle) {
	var caller apicaller.Caller
	switch h.Kind() {
	case conn.KindWS:
		caller = apicaller.NewWSCaller(h, br.callTimeout)
	default:
		caller = apicaller.NewHTTPCaller(h)
	}

	b := br.adapter.NewBot(botID, caller)
	entry := &botEntry{bot: b, handle: h, caller: caller}

	br.mu.Lock()
	prior := br.bots[botID]
	br.bots[botID] = entry
	br.mu.Unlock()

	if prior != nil {
		if f, ok := prior.caller.(failer); ok {
			f.FailAllPending()
		}
	}

	if br.metrics != nil {
		br.metrics.BotsConnected.Set(float64(br.botCount()))
	}
	br.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceBridge,
		Kind:      events.KindBotConnected,
		Data:      map[string]any{"bot_id": botID, "kind": string(h.Kind())},
	})
}

// OnMessage implements conn.Handler: routes echo-tagged frames to the
// bot's API caller, everything else through adapter parsing and into
// the dispatcher. Dispatch runs on its own goroutine so parsing of
// the next frame for this bot is never blocked on handler execution
// (§4.6, §5).
func (br *Bridge) OnMessage(botID string, data []byte) {
	entry, ok := br.get(botID)
	if !ok {
		br.logger.Warn("message for unknown bot", "bot_id", botID)
		return
	}
	br.logger.Log(context.Background(), config.LevelTrace, "inbound frame", "bot_id", botID, "payload", truncate(data, 2048))

	if echo, ok := apicaller.EchoField(data); ok {
		if wc, ok := entry.caller.(*apicaller.WSCaller); ok {
			wc.Resolve(data)
		} else {
			br.logger.Warn("response frame on non-duplex caller", "bot_id", botID, "echo", echo)
		}
		return
	}

	ev, err := br.adapter.ParseEvent(data)
	if err != nil {
		br.logger.Warn("dropping unparseable frame", "bot_id", botID, "error", err, "payload", truncate(data, 256))
		return
	}

	if br.metrics != nil {
		br.metrics.EventsDispatchedTotal.WithLabelValues(ev.EventName()).Inc()
	}
	br.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceBridge,
		Kind:      events.KindEventDispatched,
		Data:      map[string]any{"bot_id": botID, "event": ev.EventName()},
	})

	go br.dispatcher.Dispatch(context.Background(), entry.bot, ev)
}

// OnDisconnect implements conn.Handler: tears the bot down entirely.
func (br *Bridge) OnDisconnect(botID string) {
	br.mu.Lock()
	entry, ok := br.bots[botID]
	delete(br.bots, botID)
	br.mu.Unlock()
	if !ok {
		return
	}

	if f, ok := entry.caller.(failer); ok {
		f.FailAllPending()
	}
	entry.bot.OnDisconnect()

	if br.metrics != nil {
		br.metrics.BotsConnected.Set(float64(br.botCount()))
	}
	br.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceBridge,
		Kind:      events.KindBotDisconnected,
		Data:      map[string]any{"bot_id": botID, "reason": "disconnect"},
	})
}

// FailPending implements conn.Handler: fails in-flight API calls for
// botID without tearing the bot object down, used on a transient
// WS-client drop that is about to attempt a reconnect.
func (br *Bridge) FailPending(botID string) {
	entry, ok := br.get(botID)
	if !ok {
		return
	}
	if f, ok := entry.caller.(failer); ok {
		f.FailAllPending()
	}
}

// Bot returns the currently registered bot for botID, if any.
func (br *Bridge) Bot(botID string) (bot.Bot, bool) {
	entry, ok := br.get(botID)
	if !ok {
		return nil, false
	}
	return entry.bot, true
}

func (br *Bridge) get(botID string) (*botEntry, bool) {
	br.mu.RLock()
	defer br.mu.RUnlock()
	e, ok := br.bots[botID]
	return e, ok
}

func (br *Bridge) botCount() int {
	br.mu.RLock()
	defer br.mu.RUnlock()
	return len(br.bots)
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}

// OnStart implements §4.6's on_start: iterates cfg's enabled
// connections and, for each one whose transport capability is
// registered, invokes it. A missing capability is logged at warn and
// the connection skipped, never a hard error.
func (br *Bridge) OnStart(ctx context.Context, cfg config.AdapterConfig) error {
	for _, c := range cfg.Enabled() {
		if err := br.startConnection(ctx, c, cfg.DefaultAccessToken); err != nil {
			br.logger.Warn("connection start failed", "name", c.Name, "type", c.Type, "error", err)
		}
	}
	return nil
}

func (br *Bridge) startConnection(ctx context.Context, c config.ConnectionConfig, defaultToken string) error {
	token := c.AccessToken
	if token == "" {
		token = defaultToken
	}

	switch c.Type {
	case config.ConnWSServer:
		f, ok := capability.WSServer()
		if !ok {
			br.logger.Warn("ws-server capability unavailable, skipping", "name", c.Name)
			return nil
		}
		h, err := f(ctx, capability.WSServerConfig{Addr: c.BindAddr(), Path: c.Path, AccessToken: token}, br)
		if err != nil {
			return err
		}
		br.addListener(h)

	case config.ConnHTTPServer:
		f, ok := capability.HTTPServer()
		if !ok {
			br.logger.Warn("http-server capability unavailable, skipping", "name", c.Name)
			return nil
		}
		h, err := f(ctx, capability.HTTPServerConfig{Addr: c.BindAddr(), Path: c.Path, AccessToken: token}, br)
		if err != nil {
			return err
		}
		br.addListener(h)

	case config.ConnWSClient:
		f, ok := capability.WSClient()
		if !ok {
			br.logger.Warn("ws-client capability unavailable, skipping", "name", c.Name)
			return nil
		}
		h, err := f(ctx, capability.WSClientConfig{URL: c.URL, AccessToken: token, AutoReconnect: c.AutoReconnect}, br)
		if err != nil {
			return err
		}
		br.addHandle(h)

	case config.ConnHTTPClient:
		f, ok := capability.HTTPClient()
		if !ok {
			br.logger.Warn("http-client capability unavailable, skipping", "name", c.Name)
			return nil
		}
		h, err := f(ctx, capability.HTTPClientConfig{BotID: c.BotID, APIURL: c.APIURL, AccessToken: token}, br)
		if err != nil {
			return err
		}
		br.addHandle(h)

	default:
		return fmt.Errorf("unknown connection type %q", c.Type)
	}
	return nil
}

func (br *Bridge) addListener(h capability.ListenerHandle) {
	br.listenersMu.Lock()
	defer br.listenersMu.Unlock()
	br.listeners = append(br.listeners, h)
}

func (br *Bridge) addHandle(h *conn.Handle) {
	br.listenersMu.Lock()
	defer br.listenersMu.Unlock()
	br.handles = append(br.handles, h)
}

// OnShutdown implements §4.12's on_shutdown: releases every listener
// route and closes every outbound connection handle this bridge
// started.
func (br *Bridge) OnShutdown(_ context.Context) error {
	br.listenersMu.Lock()
	defer br.listenersMu.Unlock()
	for _, l := range br.listeners {
		l.Close()
	}
	for _, h := range br.handles {
		h.Close()
	}
	return nil
}
