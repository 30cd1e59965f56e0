package dispatch

import (
	"context"
	"log/slog"
	"testing"

	"github.com/alloyrt/alloy/internal/event"
)

func testLogger() *slog.Logger { return slog.Default() }

func groupMessage(segs ...event.MessageSegment) event.GroupMessageEvent {
	return event.GroupMessageEvent{
		MessageEvent: event.MessageEvent{
			Base:        event.Base{PostType: "message"},
			MessageType: "group",
			Message:     segs,
		},
		GroupID: 999,
	}
}

func text(s string) event.MessageSegment {
	return event.MessageSegment{Type: "text", Data: map[string]string{"text": s}}
}

func at(qq string) event.MessageSegment {
	return event.MessageSegment{Type: "at", Data: map[string]string{"qq": qq}}
}

type kickArgs struct {
	Target AtSegment
	Reason string
}

// TestOnCommandParsesMentionAndTrailingText reproduces spec.md §8's S5
// scenario: "/kick @user spam" arrives as three segments (leading text
// carrying the command name, an at-segment, trailing text), and the
// parsed struct ends up with Target bound to the mention and Reason
// holding the free-text remainder.
func TestOnCommandParsesMentionAndTrailingText(t *testing.T) {
	var got kickArgs
	m := OnCommand[kickArgs]("kick").Handle(func(cmd Command[kickArgs]) string {
		got = cmd.Value
		return ""
	})

	ev := groupMessage(text("/kick "), at("12345"), text(" spam"))
	ctx := NewContext(context.Background(), ev, &fakeBot{id: "1"}, nil, nil)

	if matched := m.run(ctx, testLogger()); !matched {
		t.Fatal("command matcher did not match")
	}
	if got.Target.UserID != "12345" {
		t.Errorf("Target.UserID = %q, want %q", got.Target.UserID, "12345")
	}
	if got.Reason != "spam" {
		t.Errorf("Reason = %q, want %q", got.Reason, "spam")
	}
}

func TestOnCommandIsCaseInsensitive(t *testing.T) {
	matched := false
	m := OnCommand[kickArgs]("kick").Handle(func(cmd Command[kickArgs]) string {
		matched = true
		return ""
	})

	ev := groupMessage(text("/KICK "), at("1"), text("x"))
	ctx := NewContext(context.Background(), ev, &fakeBot{id: "1"}, nil, nil)
	m.run(ctx, testLogger())

	if !matched {
		t.Error("expected case-insensitive command name match")
	}
}

func TestOnCommandIgnoresNonMatchingMessage(t *testing.T) {
	m := OnCommand[kickArgs]("kick")
	ev := groupMessage(text("/ban "), at("1"), text("x"))
	ctx := NewContext(context.Background(), ev, &fakeBot{id: "1"}, nil, nil)
	if matched := m.run(ctx, testLogger()); matched {
		t.Error("matcher should not match a different command name")
	}
}

func TestOnCommandSendsHelpOnParseFailure(t *testing.T) {
	b := &fakeBot{id: "1"}
	m := OnCommand[kickArgs]("kick", WithHelp("usage: /kick @user <reason>"))
	ev := groupMessage(text("/kick"))
	ctx := NewContext(context.Background(), ev, b, nil, nil)

	if matched := m.run(ctx, testLogger()); !matched {
		t.Fatal("a recognized command name should still match, even on parse failure")
	}
	if len(b.sent) != 1 || b.sent[0] != "usage: /kick @user <reason>" {
		t.Errorf("sent = %v, want the help text", b.sent)
	}
}

func TestOnCommandIntegerField(t *testing.T) {
	type warnArgs struct {
		Target AtSegment
		Count  int
	}
	var got warnArgs
	m := OnCommand[warnArgs]("warn").Handle(func(cmd Command[warnArgs]) string {
		got = cmd.Value
		return ""
	})

	ev := groupMessage(text("/warn "), at("42"), text(" 3"))
	ctx := NewContext(context.Background(), ev, &fakeBot{id: "1"}, nil, nil)
	if matched := m.run(ctx, testLogger()); !matched {
		t.Fatal("command matcher did not match")
	}
	if got.Target.UserID != "42" || got.Count != 3 {
		t.Errorf("got = %+v, want Target.UserID=42 Count=3", got)
	}
}

// TestOnCommandBlocksLaterMatchers completes the S5 scenario: once the
// command matcher matches, a later, unrelated matcher must not run.
func TestOnCommandBlocksLaterMatchers(t *testing.T) {
	laterRan := false
	d := New()
	d.Register(OnCommand[kickArgs]("kick"))
	d.Register(OnMessage("catch-all").Handle(func() string {
		laterRan = true
		return ""
	}))

	ev := groupMessage(text("/kick "), at("12345"), text(" spam"))
	ctx := NewContext(context.Background(), ev, &fakeBot{id: "1"}, nil, nil)
	d.Run(ctx)

	if laterRan {
		t.Error("a matcher after a matched blocking command should not run")
	}
}

func TestShellSplitHonorsQuotes(t *testing.T) {
	got := shellSplit(`one "two three" 'four'`)
	want := []string{"one", "two three", "four"}
	if len(got) != len(want) {
		t.Fatalf("shellSplit = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("shellSplit[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
