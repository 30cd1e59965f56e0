package dispatch

import (
	"log/slog"
	"sync"

	"github.com/alloyrt/alloy/internal/event"
)

// Dispatcher holds an ordered list of matchers and runs the dispatch
// algorithm from §4.10 against a Context: matchers are tried in
// order; a matched blocking matcher, or a handler clearing
// propagation, ends the loop for the remaining matchers.
type Dispatcher struct {
	mu       sync.RWMutex
	matchers []*Matcher
	logger   *slog.Logger
}

// New creates an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{logger: slog.Default().With("component", "dispatch")}
}

// Register appends m to the matcher list. Registration order is
// match-evaluation order.
func (d *Dispatcher) Register(m *Matcher) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.matchers = append(d.matchers, m)
}

// Run evaluates every registered matcher against ctx in order.
func (d *Dispatcher) Run(ctx *Context) {
	d.mu.RLock()
	matchers := make([]*Matcher, len(d.matchers))
	copy(matchers, d.matchers)
	d.mu.RUnlock()

	for _, m := range matchers {
		matched := m.run(ctx, d.logger)
		if !matched {
			continue
		}
		if m.Blocking || !ctx.Propagating() {
			return
		}
	}
}

// classify returns the post_type-equivalent kind of ev: "message",
// "notice", "request", or "meta". Used by the On* convenience
// builders below.
func classify(ev event.Event) string {
	switch ev.(type) {
	case event.PrivateMessageEvent, event.GroupMessageEvent, event.MessageEvent:
		return "message"
	case event.GroupIncreaseNoticeEvent, event.FriendAddNoticeEvent, event.PokeNotifyEvent, event.NoticeEvent:
		return "notice"
	case event.FriendRequestEvent, event.GroupRequestEvent, event.RequestEvent:
		return "request"
	case event.HeartbeatEvent, event.LifecycleEvent, event.MetaEvent:
		return "meta"
	default:
		return ""
	}
}

func kindCheck(kind string) CheckFunc {
	return func(ctx *Context) bool { return classify(ctx.event) == kind }
}

// OnMessage builds an unconditional-within-kind matcher over
// post_type=message events.
func OnMessage(name string) *Matcher { return NewMatcher(name).WithCheck(kindCheck("message")) }

// OnNotice builds a matcher over post_type=notice events.
func OnNotice(name string) *Matcher { return NewMatcher(name).WithCheck(kindCheck("notice")) }

// OnRequest builds a matcher over post_type=request events.
func OnRequest(name string) *Matcher { return NewMatcher(name).WithCheck(kindCheck("request")) }

// OnMeta builds a matcher over post_type=meta_event events.
func OnMeta(name string) *Matcher { return NewMatcher(name).WithCheck(kindCheck("meta")) }
