package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"

	"github.com/alloyrt/alloy/internal/event"
)

// commandStateKey is where OnCommand stashes its parsed argument
// struct for the Command[T] extractor to pick up.
const commandStateKey = "dispatch.command"

// placeholderCtxKey scopes the segment-placeholder resolution map to
// the single parseArgs call that needs it. Go has no thread-local
// storage; a context.Context value carried only through that one call
// plays the same role (set only around the call, impossible to leak
// since nothing retains the context afterward) — see DESIGN.md's note
// on the "thread-local state in command parsing" pattern.
type placeholderCtxKey struct{}

func withPlaceholders(ctx context.Context, m map[string]event.MessageSegment) context.Context {
	return context.WithValue(ctx, placeholderCtxKey{}, m)
}

func placeholdersFrom(ctx context.Context) map[string]event.MessageSegment {
	m, _ := ctx.Value(placeholderCtxKey{}).(map[string]event.MessageSegment)
	return m
}

// commandConfig collects OnCommand's options.
type commandConfig struct {
	block    bool
	helpText string
}

// CommandOption configures an OnCommand matcher.
type CommandOption func(*commandConfig)

// WithHelp sends text back through the bot when argument parsing
// fails for a message that otherwise matched the command name.
func WithHelp(text string) CommandOption {
	return func(c *commandConfig) { c.helpText = text }
}

// WithBlock overrides the default blocking=true behavior: when false,
// a matched command still lets later matchers observe the event.
func WithBlock(block bool) CommandOption {
	return func(c *commandConfig) { c.block = block }
}

// OnCommand builds a matcher implementing §4.10's command middleware:
// it recognizes messages beginning with "/name" (case-insensitive),
// tokenizes the remainder shell-style (image/mention segments become
// opaque placeholders), and parses the tokens positionally into T's
// fields. On success the parsed value is stashed for Command[T]; on
// failure the command name still matched, so the event is swallowed
// (propagation stops per the blocking default) without a parsed value
// to extract.
func OnCommand[T any](name string, opts ...CommandOption) *Matcher {
	cfg := commandConfig{block: true}
	for _, o := range opts {
		o(&cfg)
	}

	m := NewMatcher("command:" + name)
	m.Blocking = cfg.block
	m.Check = func(ctx *Context) bool {
		if classify(ctx.event) != "message" {
			return false
		}
		v, ok := event.Downgrade(ctx.event, reflect.TypeOf(event.MessageEvent{}))
		if !ok {
			return false
		}
		me := v.(event.MessageEvent)

		tokens, placeholders := tokenize(me.Message)
		if len(tokens) == 0 || !strings.EqualFold(tokens[0], "/"+name) {
			return false
		}

		goCtx := withPlaceholders(ctx.std, placeholders)
		parsed, err := parseArgs[T](goCtx, tokens[1:])
		if err != nil {
			if cfg.helpText != "" {
				if _, sendErr := ctx.bot.Send(ctx.std, ctx.event, cfg.helpText); sendErr != nil {
					slog.Default().Warn("dispatch: command help send failed", "command", name, "error", sendErr)
				}
			}
			return true
		}

		ctx.setState(commandStateKey, parsed)
		return true
	}
	return m
}

const placeholderPrefix = "\x1fseg:"

// tokenize splits a message's rich-text segments into shell-style
// tokens: "text" segments are quote-aware word-split; every other
// segment becomes one opaque placeholder token, registered in the
// returned map so command argument fields that implement
// segmentValue can resolve it.
func tokenize(segs []event.MessageSegment) ([]string, map[string]event.MessageSegment) {
	placeholders := make(map[string]event.MessageSegment)
	var tokens []string
	n := 0
	for _, seg := range segs {
		if seg.Type == "text" {
			tokens = append(tokens, shellSplit(seg.Data["text"])...)
			continue
		}
		key := fmt.Sprintf("%s%d", placeholderPrefix, n)
		n++
		placeholders[key] = seg
		tokens = append(tokens, key)
	}
	return tokens, placeholders
}

// shellSplit splits s on whitespace, honoring single and double
// quotes as grouping (no escape-sequence support beyond that — the
// protocol's rich-text content semantics are out of scope).
func shellSplit(s string) []string {
	var tokens []string
	var cur strings.Builder
	var quote rune
	has := false

	flush := func() {
		if has {
			tokens = append(tokens, cur.String())
			cur.Reset()
			has = false
		}
	}

	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
				has = true
			}
		case r == '\'' || r == '"':
			quote = r
			has = true
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			cur.WriteRune(r)
			has = true
		}
	}
	flush()
	return tokens
}

// parseArgs positionally fills T's exported fields from tokens. The
// last field, if a plain string, absorbs every remaining token joined
// by spaces; every other field consumes exactly one token.
func parseArgs[T any](goCtx context.Context, tokens []string) (T, error) {
	var out T
	rv := reflect.ValueOf(&out).Elem()
	rt := rv.Type()
	if rt.Kind() != reflect.Struct {
		return out, fmt.Errorf("dispatch: command argument type must be a struct, got %s", rt.Kind())
	}

	idx := 0
	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		isLast := i == rt.NumField()-1

		if isLast && field.Kind() == reflect.String {
			if idx >= len(tokens) {
				return out, fmt.Errorf("dispatch: missing argument for field %s", rt.Field(i).Name)
			}
			field.SetString(resolveText(goCtx, strings.Join(tokens[idx:], " ")))
			idx = len(tokens)
			continue
		}

		if idx >= len(tokens) {
			return out, fmt.Errorf("dispatch: missing argument for field %s", rt.Field(i).Name)
		}
		if err := setField(goCtx, field, tokens[idx]); err != nil {
			return out, fmt.Errorf("dispatch: field %s: %w", rt.Field(i).Name, err)
		}
		idx++
	}
	return out, nil
}

// resolveText substitutes a lone placeholder token with the
// underlying segment's type name (e.g. "image" or "at"); non-placeholder
// text passes through unchanged.
func resolveText(goCtx context.Context, tok string) string {
	if !strings.HasPrefix(tok, placeholderPrefix) {
		return tok
	}
	seg, ok := placeholdersFrom(goCtx)[tok]
	if !ok {
		return tok
	}
	return seg.Type
}

func setField(goCtx context.Context, field reflect.Value, tok string) error {
	if field.CanAddr() {
		if sv, ok := field.Addr().Interface().(segmentValue); ok {
			seg, ok := placeholdersFrom(goCtx)[tok]
			if !ok {
				return fmt.Errorf("expected a message segment, got plain text %q", tok)
			}
			return sv.fromSegment(seg)
		}
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(resolveText(goCtx, tok))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(tok, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(tok)
		if err != nil {
			return err
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported argument field kind %s", field.Kind())
	}
	return nil
}
