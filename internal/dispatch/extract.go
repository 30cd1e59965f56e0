package dispatch

import (
	"encoding/json"
	"errors"
	"reflect"

	"github.com/alloyrt/alloy/internal/bot"
	"github.com/alloyrt/alloy/internal/event"
)

// ErrEventSkipped is returned by an extractor to silently skip the
// handler (not an error worth logging): the event simply doesn't
// match what this parameter wants.
var ErrEventSkipped = errors.New("dispatch: event skipped")

// Extractable is implemented by every handler parameter type. Extract
// receives the dispatch context and returns a value assignable to the
// parameter's own type, or an error (ErrEventSkipped to skip quietly,
// anything else is logged at warn per §4.9/§7).
//
// Go has no trait-object equivalent of "extract Self from &ctx", so
// each wrapper is a concrete (possibly generic) struct whose zero
// value implements Extractable; Handler builds a zero value per
// parameter type via reflection and calls Extract on it.
type Extractable interface {
	Extract(ctx *Context) (any, error)
}

// Event is the typed-event extractor: Event[T] downgrades the
// inbound event to T via event.Downgrade, skipping the handler if the
// event's concrete type is not T or a descendant of T.
type Event[T event.Event] struct {
	Value T
}

func (Event[T]) Extract(ctx *Context) (any, error) {
	var zero T
	target := reflect.TypeOf(zero)
	v, ok := event.Downgrade(ctx.event, target)
	if !ok {
		return nil, ErrEventSkipped
	}
	typed, ok := v.(T)
	if !ok {
		return nil, ErrEventSkipped
	}
	return Event[T]{Value: typed}, nil
}

// RawEvent is the untyped-event extractor: every handler can take one
// regardless of the event's concrete type.
type RawEvent struct {
	Value event.Event
}

func (RawEvent) Extract(ctx *Context) (any, error) {
	return RawEvent{Value: ctx.event}, nil
}

// Bot is the typed-bot extractor: Bot[T] downcasts the bot capability
// object to the protocol-specific concrete type T via a type
// assertion, skipping the handler if the bot is a different concrete
// type (e.g. a handler bound to Bot[*onebot.Bot] receiving a bot from
// a different adapter).
type Bot[T bot.Bot] struct {
	Value T
}

func (Bot[T]) Extract(ctx *Context) (any, error) {
	typed, ok := ctx.bot.(T)
	if !ok {
		return nil, ErrEventSkipped
	}
	return Bot[T]{Value: typed}, nil
}

// RawBot is the untyped-bot extractor.
type RawBot struct {
	Value bot.Bot
}

func (RawBot) Extract(ctx *Context) (any, error) {
	return RawBot{Value: ctx.bot}, nil
}

// PluginConfig decodes the current plugin's raw config slice into T,
// or leaves T at its zero value if the plugin declared no config.
type PluginConfig[T any] struct {
	Value T
}

func (PluginConfig[T]) Extract(ctx *Context) (any, error) {
	var p PluginConfig[T]
	if len(ctx.pluginConfig) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(ctx.pluginConfig, &p.Value); err != nil {
		return nil, err
	}
	return p, nil
}

// ServiceRef looks up a published service of interface type T in the
// current service-registry snapshot. The handler is silently skipped
// if no plugin has published that service (§4.9, S6).
type ServiceRef[T any] struct {
	Value T
}

func (ServiceRef[T]) Extract(ctx *Context) (any, error) {
	var zero T
	key := reflect.TypeOf(&zero).Elem()
	if ctx.services == nil {
		return nil, ErrEventSkipped
	}
	v, ok := ctx.services.Lookup(key)
	if !ok {
		return nil, ErrEventSkipped
	}
	typed, ok := v.(T)
	if !ok {
		return nil, ErrEventSkipped
	}
	return ServiceRef[T]{Value: typed}, nil
}

// Option wraps another extractor so failure never skips the handler:
// Present is false and Value is zero instead.
type Option[T Extractable] struct {
	Value   T
	Present bool
}

func (Option[T]) Extract(ctx *Context) (any, error) {
	var inner T
	v, err := inner.Extract(ctx)
	if err != nil {
		return Option[T]{}, nil
	}
	typed, ok := v.(T)
	if !ok {
		return Option[T]{}, nil
	}
	return Option[T]{Value: typed, Present: true}, nil
}

// Command holds the struct parsed by an on_command matcher's
// middleware (see command.go) out of the message's shell-style
// tokens. It is only ever satisfiable inside a matcher built by
// OnCommand[T]; elsewhere it skips the handler.
type Command[T any] struct {
	Value T
}

func (Command[T]) Extract(ctx *Context) (any, error) {
	v, ok := ctx.getState(commandStateKey)
	if !ok {
		return nil, ErrEventSkipped
	}
	typed, ok := v.(T)
	if !ok {
		return nil, ErrEventSkipped
	}
	return Command[T]{Value: typed}, nil
}

// newExtractable builds a zero value of an Extractable parameter type
// via reflection, given the concrete reflect.Type a handler function
// declared for that parameter.
func newExtractable(t reflect.Type) (Extractable, bool) {
	zero := reflect.New(t).Elem().Interface()
	ex, ok := zero.(Extractable)
	return ex, ok
}
