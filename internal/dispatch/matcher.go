package dispatch

import (
	"errors"
	"log/slog"
)

// CheckFunc is a matcher's optional check predicate. A nil CheckFunc
// always matches.
type CheckFunc func(ctx *Context) bool

// Matcher bundles a check predicate, an ordered handler list, and a
// blocking flag (M in the data model). Build one with NewMatcher and
// the chained With*/Handle methods; Matcher is itself a small
// middleware layer — Check is the filter layer, Blocking the
// propagation layer.
type Matcher struct {
	Name     string
	Check    CheckFunc
	Blocking bool
	handlers []*Handler
}

// NewMatcher creates an unconditional, non-blocking matcher with no
// handlers. name is used only for logging.
func NewMatcher(name string) *Matcher {
	return &Matcher{Name: name}
}

// WithCheck sets the check predicate and returns m for chaining.
func (m *Matcher) WithCheck(f CheckFunc) *Matcher {
	m.Check = f
	return m
}

// Block sets the blocking flag and returns m for chaining.
func (m *Matcher) Block(blocking bool) *Matcher {
	m.Blocking = blocking
	return m
}

// Handle appends a handler built from fn. Panics if fn's signature is
// invalid — handler registration happens at plugin-load/start-up
// time, not per-event, so a panic here surfaces immediately rather
// than silently dropping events later.
func (m *Matcher) Handle(fn any) *Matcher {
	h, err := NewHandler(fn)
	if err != nil {
		panic(err)
	}
	m.handlers = append(m.handlers, h)
	return m
}

// matches evaluates the check predicate (true if none set).
func (m *Matcher) matches(ctx *Context) bool {
	if m.Check == nil {
		return true
	}
	return m.Check(ctx)
}

// run evaluates the check and, if it passes, runs every handler in
// order, awaiting each before starting the next. Returns whether the
// matcher matched (regardless of whether any handler errored).
func (m *Matcher) run(ctx *Context, logger *slog.Logger) bool {
	if !m.matches(ctx) {
		return false
	}
	for _, h := range m.handlers {
		reply, err := h.run(ctx)
		if err != nil {
			if errors.Is(err, ErrEventSkipped) {
				continue
			}
			logger.Warn("handler failed", "matcher", m.Name, "error", err)
			continue
		}
		if reply == "" {
			continue
		}
		if _, sendErr := ctx.bot.Send(ctx.std, ctx.event, reply); sendErr != nil {
			logger.Warn("reply send failed", "matcher", m.Name, "error", sendErr)
		}
	}
	return true
}
