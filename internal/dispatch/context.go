// Package dispatch implements the handler/extractor system (C9) and
// the matcher pipeline (C10): ordered matchers with check predicates,
// blocking semantics, and reflection-driven parameter extraction for
// handler functions of arbitrary arity.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/alloyrt/alloy/internal/bot"
	"github.com/alloyrt/alloy/internal/event"
	"github.com/alloyrt/alloy/internal/events"
)

// ServiceLookup resolves a published service by its type identity.
// plugin.Snapshot implements this; kept as an interface here so
// dispatch does not import the plugin package.
type ServiceLookup interface {
	Lookup(key any) (any, bool)
}

// Context is the per-event dispatch context threaded through every
// matcher and handler for one inbound event. It is not safe for use
// beyond the lifetime of a single Dispatch call.
type Context struct {
	std      context.Context
	event    event.Event
	bot      bot.Bot
	services ServiceLookup
	bus      *events.Bus

	pluginName   string
	pluginConfig []byte

	mu    *sync.Mutex
	state map[string]any

	// propagating is shared (by pointer) across every per-plugin copy
	// of a Context produced by ForPlugin, so StopPropagation called
	// from inside one plugin's handler is observed by the loop
	// iterating the remaining plugins for the same event.
	propagating *atomic.Bool
}

// NewContext builds a Context for one event dispatch. services may be
// nil (no plugins loaded any services yet); bus may be nil.
func NewContext(std context.Context, ev event.Event, b bot.Bot, services ServiceLookup, bus *events.Bus) *Context {
	propagating := &atomic.Bool{}
	propagating.Store(true)
	return &Context{
		std:         std,
		event:       ev,
		bot:         b,
		services:    services,
		bus:         bus,
		mu:          &sync.Mutex{},
		state:       make(map[string]any),
		propagating: propagating,
	}
}

// Std returns the underlying standard context, for handlers that make
// further blocking calls (CallAPI, outbound HTTP, etc).
func (c *Context) Std() context.Context { return c.std }

// Event returns the untyped inbound event.
func (c *Context) Event() event.Event { return c.event }

// Bot returns the untyped bot capability object.
func (c *Context) Bot() bot.Bot { return c.bot }

// Propagating reports whether later matchers should still observe
// this event.
func (c *Context) Propagating() bool { return c.propagating.Load() }

// StopPropagation clears the propagating flag; the dispatcher breaks
// out of the matcher loop after the current matcher finishes.
func (c *Context) StopPropagation() { c.propagating.Store(false) }

// ForPlugin returns a shallow copy of c scoped to one plugin's name
// and config slice, used by the plugin manager so ServiceRef/
// PluginConfig extractors see the right plugin without threading
// extra parameters through Dispatch.
func (c *Context) ForPlugin(name string, cfg []byte) *Context {
	return &Context{
		std:          c.std,
		event:        c.event,
		bot:          c.bot,
		services:     c.services,
		bus:          c.bus,
		pluginName:   name,
		pluginConfig: cfg,
		mu:           c.mu,
		state:        c.state,
		propagating:  c.propagating,
	}
}

// setState stores a value under key for later extraction within the
// same dispatch (e.g. the command middleware's parsed argument
// struct). Safe for concurrent use, though within one event dispatch
// matchers run sequentially.
func (c *Context) setState(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[key] = v
}

func (c *Context) getState(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.state[key]
	return v, ok
}
