package event

import (
	"encoding/json"
	"reflect"
)

// MessageSegment is one element of a OneBot rich-text message array:
// a type tag plus type-specific data. Content semantics (CQ-code
// escaping, segment rendering) are out of scope; only enough
// structure survives for command parsing to locate image/mention
// segments.
type MessageSegment struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

// Sender describes the OneBot message sender block.
type Sender struct {
	UserID   int64  `json:"user_id,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	Sex      string `json:"sex,omitempty"`
	Age      int32  `json:"age,omitempty"`
	Card     string `json:"card,omitempty"`
	Role     string `json:"role,omitempty"`
}

// MessageEvent is the post_type=message parent shared by private and
// group messages.
type MessageEvent struct {
	Base
	MessageType string           `json:"message_type"`
	SubType     string           `json:"sub_type"`
	MessageID   int32            `json:"message_id"`
	UserID      int64            `json:"user_id"`
	Message     []MessageSegment `json:"message"`
	RawMessage  string           `json:"raw_message"`
	Font        int32            `json:"font"`
	Sender      Sender           `json:"sender"`
}

func (m MessageEvent) EventName() string { return "onebot.message" }

// PrivateMessageEvent is post_type=message, message_type=private.
type PrivateMessageEvent struct {
	MessageEvent
}

func (p PrivateMessageEvent) EventName() string { return "onebot.message.private" }

// GroupMessageEvent is post_type=message, message_type=group.
type GroupMessageEvent struct {
	MessageEvent
	GroupID   int64            `json:"group_id"`
	Anonymous *json.RawMessage `json:"anonymous,omitempty"`
}

func (g GroupMessageEvent) EventName() string { return "onebot.message.group" }

func parseMessage(raw []byte, messageType string) (Event, error) {
	switch messageType {
	case "private":
		var e PrivateMessageEvent
		if err := decodeInto(raw, &e); err != nil {
			return nil, err
		}
		return e, nil
	case "group":
		var e GroupMessageEvent
		if err := decodeInto(raw, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		var e MessageEvent
		if err := decodeInto(raw, &e); err != nil {
			return nil, err
		}
		return e, nil
	}
}

func init() {
	registerDowngrades(reflect.TypeOf(PrivateMessageEvent{}), downgradeSet{
		reflect.TypeOf(MessageEvent{}): func(e Event) Event { return e.(PrivateMessageEvent).MessageEvent },
		reflect.TypeOf(Base{}):         func(e Event) Event { return e.(PrivateMessageEvent).MessageEvent.Base },
	})
	registerDowngrades(reflect.TypeOf(GroupMessageEvent{}), downgradeSet{
		reflect.TypeOf(MessageEvent{}): func(e Event) Event { return e.(GroupMessageEvent).MessageEvent },
		reflect.TypeOf(Base{}):         func(e Event) Event { return e.(GroupMessageEvent).MessageEvent.Base },
	})
	registerDowngrades(reflect.TypeOf(MessageEvent{}), downgradeSet{
		reflect.TypeOf(Base{}): func(e Event) Event { return e.(MessageEvent).Base },
	})
}

// PlainText concatenates the "text" segments of a message, the
// minimal rendering needed by command parsing; full content semantics
// are out of scope.
func (m MessageEvent) PlainText() string {
	var out string
	for _, seg := range m.Message {
		if seg.Type == "text" {
			out += seg.Data["text"]
		}
	}
	return out
}
