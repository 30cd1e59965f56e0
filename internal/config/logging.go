package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace sits one tier below slog.LevelDebug and is reserved for
// dumping raw inbound/outbound OneBot JSON frames (§4.14). It is
// never on by default: a busy bridge can see thousands of frames a
// minute, and at Debug that would drown out everything else.
const LevelTrace = slog.Level(-8)

// ParseLogLevel maps the root config's top-level log_level string onto
// a slog.Level (the root config has no nested logging section). An empty string means Info, matching Config's other
// zero-value-is-a-sane-default fields. The level name is
// case-insensitive and tolerant of surrounding whitespace since it
// usually comes straight from a YAML scalar.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("config: unknown log level %q (want trace, debug, info, warn, or error)", level)
	}
}

// ReplaceLogLevelNames is a slog.HandlerOptions.ReplaceAttr hook that
// renders LevelTrace as "TRACE" instead of slog's default "DEBUG-8".
// Wired into the handler built by the runtime façade's logging setup.
func ReplaceLogLevelNames(_ []string, attr slog.Attr) slog.Attr {
	if attr.Key != slog.LevelKey {
		return attr
	}
	if level, ok := attr.Value.Any().(slog.Level); ok && level == LevelTrace {
		attr.Value = slog.StringValue("TRACE")
	}
	return attr
}
