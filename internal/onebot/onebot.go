// Package onebot implements the one protocol adapter this runtime
// ships with: the QQ-oriented JSON protocol (§6 of the spec) that
// carries message/notice/request/meta events and an action/params/
// echo API envelope. It supplies the bridge.Adapter implementation
// (bot-id identification, event parsing) and the concrete bot.Bot
// type handlers downcast to via Bot[*onebot.Bot].
package onebot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alloyrt/alloy/internal/apicaller"
	"github.com/alloyrt/alloy/internal/bot"
	"github.com/alloyrt/alloy/internal/conn"
	"github.com/alloyrt/alloy/internal/event"
)

var _ bot.Bot = (*Bot)(nil)

// selfIDHeader is the connection-metadata key adapters read to derive
// a bot-id: the lowercased "x-self-id" header (WS upgrade / HTTP POST)
// or the equivalent field name transports normalize into Info.Metadata.
const selfIDHeader = "x-self-id"

// Adapter implements bridge.Adapter for the OneBot-shaped wire
// protocol. It has no state of its own beyond its name; bot
// construction closes only over the caller it is handed.
type Adapter struct {
	name string
}

// New returns a OneBot protocol adapter named name (used only for
// logging/diagnostics; it is not part of the wire contract).
func New(name string) *Adapter {
	return &Adapter{name: name}
}

func (a *Adapter) Name() string { return a.name }

// IdentifyBot implements bridge.Adapter: reads x-self-id from
// connection metadata (already lowercased by the transport) and
// returns an error when it is absent or empty. http-client bots do not
// pass through here: the transport creates them under their configured
// bot_id.
func (a *Adapter) IdentifyBot(info conn.Info) (string, error) {
	if id, ok := info.Metadata[selfIDHeader]; ok && id != "" {
		return id, nil
	}
	return "", fmt.Errorf("onebot: missing %s header/metadata (remote %s)", selfIDHeader, info.RemoteAddr)
}

// ParseEvent implements bridge.Adapter.
func (a *Adapter) ParseEvent(raw []byte) (event.Event, error) {
	return event.Parse(raw)
}

// NewBot implements bridge.Adapter: wraps caller in the concrete
// OneBot bot type handlers can reach via Bot[*onebot.Bot].
func (a *Adapter) NewBot(botID string, caller apicaller.Caller) bot.Bot {
	return &Bot{id: botID, caller: caller}
}

// Bot is the OneBot-concrete bot.Bot implementation. It knows just
// enough about message-send parameter shapes to satisfy Bot.Send;
// everything else is generic CallAPI passthrough.
type Bot struct {
	id     string
	caller apicaller.Caller
}

func (b *Bot) ID() string       { return b.id }
func (b *Bot) Platform() string { return "onebot" }

func (b *Bot) CallAPI(ctx context.Context, action string, params json.RawMessage) (json.RawMessage, error) {
	return b.caller.Call(ctx, action, params)
}

// Send implements bot.Bot by picking send_private_msg or
// send_group_msg depending on the event ev replies to, matching
// OneBot's action naming. Other event kinds (notice/request/meta)
// have no reply target and return an error.
func (b *Bot) Send(ctx context.Context, ev event.Event, text string) (int64, error) {
	action, params, err := replyParams(ev, text)
	if err != nil {
		return 0, err
	}
	resp, err := b.caller.Call(ctx, action, params)
	if err != nil {
		return 0, err
	}
	var data struct {
		Data struct {
			MessageID int64 `json:"message_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &data); err != nil {
		return 0, fmt.Errorf("onebot: decode %s response: %w", action, err)
	}
	return data.Data.MessageID, nil
}

// OnDisconnect implements bot.Bot. The OneBot bot carries no
// per-connection state beyond the caller the bridge already tears
// down, so there is nothing further to release here.
func (b *Bot) OnDisconnect() {}

func replyParams(ev event.Event, text string) (action string, params json.RawMessage, err error) {
	switch e := ev.(type) {
	case event.PrivateMessageEvent:
		return marshalParams("send_private_msg", map[string]any{
			"user_id": e.UserID,
			"message": text,
		})
	case event.GroupMessageEvent:
		return marshalParams("send_group_msg", map[string]any{
			"group_id": e.GroupID,
			"message":  text,
		})
	case event.MessageEvent:
		if e.SubType == "group" {
			return marshalParams("send_group_msg", map[string]any{"message": text})
		}
		return marshalParams("send_private_msg", map[string]any{
			"user_id": e.UserID,
			"message": text,
		})
	default:
		return "", nil, fmt.Errorf("onebot: event %s has no reply target", strings.TrimPrefix(ev.EventName(), "onebot."))
	}
}

func marshalParams(action string, body map[string]any) (string, json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", nil, err
	}
	return action, data, nil
}
