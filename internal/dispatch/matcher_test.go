package dispatch

import (
	"context"
	"log/slog"
	"testing"

	"github.com/alloyrt/alloy/internal/event"
)

func TestMatcherRunSkipsOnFailedCheck(t *testing.T) {
	called := false
	m := NewMatcher("never").WithCheck(func(ctx *Context) bool { return false }).
		Handle(func() string { called = true; return "" })

	ctx := NewContext(context.Background(), privateMessage("hi"), &fakeBot{id: "1"}, nil, nil)
	if matched := m.run(ctx, slog.Default()); matched {
		t.Error("run() = true, want false when check fails")
	}
	if called {
		t.Error("handler ran despite failed check")
	}
}

func TestMatcherRunSendsStringReply(t *testing.T) {
	b := &fakeBot{id: "1"}
	m := NewMatcher("echo").Handle(func(ev Event[event.PrivateMessageEvent]) string {
		return "got: " + ev.Value.RawMessage
	})

	ev := privateMessage("hi")
	ev.RawMessage = "hi"
	ctx := NewContext(context.Background(), ev, b, nil, nil)
	if matched := m.run(ctx, slog.Default()); !matched {
		t.Fatal("run() = false, want true")
	}
	if len(b.sent) != 1 || b.sent[0] != "got: hi" {
		t.Errorf("sent = %v, want [%q]", b.sent, "got: hi")
	}
}

func TestMatcherRunSwallowsEventSkippedQuietly(t *testing.T) {
	second := false
	m := NewMatcher("m").
		Handle(func(ev Event[event.GroupMessageEvent]) string { return "never" }).
		Handle(func() string { second = true; return "" })

	ctx := NewContext(context.Background(), privateMessage("hi"), &fakeBot{id: "1"}, nil, nil)
	if matched := m.run(ctx, slog.Default()); !matched {
		t.Fatal("run() = false, want true")
	}
	if !second {
		t.Error("second handler did not run after first was skipped")
	}
}

func TestRateLimitedBlocksOverBurst(t *testing.T) {
	hits := 0
	base := NewMatcher("limited").Handle(func() string { hits++; return "" })
	limited := RateLimited(base, 0, 1)

	ctx1 := NewContext(context.Background(), privateMessage("hi"), &fakeBot{id: "1"}, nil, nil)
	ctx2 := NewContext(context.Background(), privateMessage("hi"), &fakeBot{id: "1"}, nil, nil)

	if matched := limited.run(ctx1, slog.Default()); !matched {
		t.Error("first call should be allowed by the token bucket")
	}
	if matched := limited.run(ctx2, slog.Default()); matched {
		t.Error("second call should be rejected: burst exhausted and refill rate is zero")
	}
	if hits != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
}
