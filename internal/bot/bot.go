// Package bot defines the Bot abstraction (B): an opaque identity
// plus the capability surface handlers call against. Concrete bots
// are constructed by an adapter; handlers reach them only through
// this interface or, via the Bot[T] extractor, a concrete downcast.
package bot

import (
	"context"
	"encoding/json"

	"github.com/alloyrt/alloy/internal/event"
)

// Bot is the capability object every protocol adapter's concrete bot
// type implements. It is created lazily on first identification of a
// bot-id and destroyed when the last session referencing that bot-id
// closes.
type Bot interface {
	// ID returns the opaque bot identity string.
	ID() string
	// Platform names the protocol this bot speaks, e.g. "onebot".
	Platform() string
	// CallAPI issues a raw action/params round trip and returns the
	// raw JSON response.
	CallAPI(ctx context.Context, action string, params json.RawMessage) (json.RawMessage, error)
	// Send delivers plain text in reply to ev and returns the
	// resulting message id. Adapters translate this into whatever
	// send_* action their protocol exposes.
	Send(ctx context.Context, ev event.Event, text string) (int64, error)
	// OnDisconnect is invoked once, when the bridge tears the bot
	// down entirely (not on a reconnect-preserving drop).
	OnDisconnect()
}
