// Package event implements the protocol event hierarchy (C8): a
// forest of named types where each non-root event embeds its
// immediate parent by composition, plus a runtime "downgrade"
// operation projecting a descendant event value to any ancestor type.
//
// Parsing is a single pass: the top-level discriminators (post_type,
// message_type, notice_type, request_type, meta_event_type, sub_type)
// select the most specific leaf type, and one json.Unmarshal fills
// every ancestor field at once because they are structurally
// contained in the leaf struct via embedding.
package event

import (
	"encoding/json"
	"fmt"
)

// Event is implemented by every node in the event forest, root and
// leaf alike.
type Event interface {
	// EventName returns the fully qualified, dot-separated name, e.g.
	// "onebot.message.group".
	EventName() string
	// Platform returns the protocol tag this event came from.
	Platform() string
	// RawJSON returns the original inbound payload, attached at the
	// root for reparsing by extractors that need fields the typed
	// struct does not expose.
	RawJSON() json.RawMessage
}

// rawSetter lets Parse attach the raw payload to the root Base field
// embedded (at any depth) in a concrete leaf type, via Go's method
// promotion through embedding.
type rawSetter interface {
	setRaw(json.RawMessage)
}

// Base is the root of every event tree: the fields present on every
// inbound frame regardless of kind.
type Base struct {
	Time     int64  `json:"time"`
	SelfID   int64  `json:"self_id"`
	PostType string `json:"post_type"`

	raw json.RawMessage
}

func (b Base) Platform() string            { return "onebot" }
func (b Base) RawJSON() json.RawMessage    { return b.raw }
func (b Base) EventName() string           { return "onebot" }
func (b *Base) setRaw(raw json.RawMessage) { b.raw = raw }

// Parse inspects the top-level discriminators in raw and deserializes
// into the most specific known leaf type. The raw payload is attached
// to the returned event's root Base for later reuse. An unrecognized
// post_type returns an error; unrecognized sub-discriminators fall
// back to the parent type (e.g. an unknown notice_type still parses
// as NoticeEvent).
func Parse(raw []byte) (Event, error) {
	var disc struct {
		PostType      string `json:"post_type"`
		MessageType   string `json:"message_type"`
		NoticeType    string `json:"notice_type"`
		RequestType   string `json:"request_type"`
		MetaEventType string `json:"meta_event_type"`
		SubType       string `json:"sub_type"`
	}
	if err := json.Unmarshal(raw, &disc); err != nil {
		return nil, fmt.Errorf("event: parse discriminators: %w", err)
	}

	switch disc.PostType {
	case "message":
		return parseMessage(raw, disc.MessageType)
	case "notice":
		return parseNotice(raw, disc.NoticeType, disc.SubType)
	case "request":
		return parseRequest(raw, disc.RequestType)
	case "meta_event":
		return parseMeta(raw, disc.MetaEventType)
	default:
		return nil, fmt.Errorf("event: unknown post_type %q", disc.PostType)
	}
}

// decodeInto unmarshals raw into dst and attaches raw to dst's Base
// via the promoted setRaw method.
func decodeInto(raw []byte, dst rawSetter) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("event: decode %T: %w", dst, err)
	}
	dst.setRaw(raw)
	return nil
}
