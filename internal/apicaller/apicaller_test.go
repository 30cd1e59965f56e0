package apicaller

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alloyrt/alloy/internal/conn"
)

// fakeWire wires a WSCaller directly to itself: every Send is
// decoded back into an envelope and a scripted response is delivered
// to Resolve synchronously, mimicking a connection handle without a
// real socket.
type fakeWire struct {
	caller  *WSCaller
	respond func(echo, action string) (json.RawMessage, bool)
}

func (w *fakeWire) send(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	if w.respond == nil {
		return nil
	}
	result, ok := w.respond(env.Echo, env.Action)
	if !ok {
		return nil
	}
	go w.caller.Resolve(result)
	return nil
}

func TestWSCaller_RoundTrip(t *testing.T) {
	w := &fakeWire{}
	h := conn.NewHandle("bot1", conn.KindWS, w.send, nil)
	caller := NewWSCaller(h, time.Second)
	w.caller = caller
	w.respond = func(echo, action string) (json.RawMessage, bool) {
		return []byte(`{"status":"ok","retcode":0,"data":{"message_id":123},"echo":"` + echo + `"}`), true
	}

	resp, err := caller.Call(context.Background(), "send_private_msg", []byte(`{"user_id":10}`))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	var data struct {
		Data struct {
			MessageID int `json:"message_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &data); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if data.Data.MessageID != 123 {
		t.Errorf("message_id = %d, want 123", data.Data.MessageID)
	}

	caller.mu.Lock()
	n := len(caller.pending)
	caller.mu.Unlock()
	if n != 0 {
		t.Errorf("pending map should be empty after resolve, has %d entries", n)
	}
}

func TestWSCaller_ProtocolError(t *testing.T) {
	w := &fakeWire{}
	h := conn.NewHandle("bot1", conn.KindWS, w.send, nil)
	caller := NewWSCaller(h, time.Second)
	w.caller = caller
	w.respond = func(echo, action string) (json.RawMessage, bool) {
		return []byte(`{"status":"failed","retcode":100,"message":"bad request","echo":"` + echo + `"}`), true
	}

	_, err := caller.Call(context.Background(), "send_private_msg", []byte(`{}`))
	var ce *CallError
	if !errors.As(err, &ce) || ce.Kind != KindProtocolError || ce.Retcode != 100 {
		t.Fatalf("want ProtocolError{100}, got %v", err)
	}
}

func TestWSCaller_Timeout(t *testing.T) {
	w := &fakeWire{} // never responds
	h := conn.NewHandle("bot1", conn.KindWS, w.send, nil)
	caller := NewWSCaller(h, 20*time.Millisecond)
	w.caller = caller

	_, err := caller.Call(context.Background(), "get_status", []byte(`{}`))
	var ce *CallError
	if !errors.As(err, &ce) || ce.Kind != KindTimeout {
		t.Fatalf("want Timeout, got %v", err)
	}
}

func TestWSCaller_FailAllPending(t *testing.T) {
	w := &fakeWire{} // never responds
	h := conn.NewHandle("bot1", conn.KindWS, w.send, nil)
	caller := NewWSCaller(h, time.Second)
	w.caller = caller

	done := make(chan error, 1)
	go func() {
		_, err := caller.Call(context.Background(), "get_status", []byte(`{}`))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	caller.FailAllPending()

	select {
	case err := <-done:
		var ce *CallError
		if !errors.As(err, &ce) || ce.Kind != KindNotConnected {
			t.Fatalf("want NotConnected after FailAllPending, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Call did not return after FailAllPending")
	}
}

func TestEchoField(t *testing.T) {
	echo, ok := EchoField([]byte(`{"status":"ok","echo":"7"}`))
	if !ok || echo != "7" {
		t.Errorf("EchoField = %q,%v want 7,true", echo, ok)
	}
	_, ok = EchoField([]byte(`{"post_type":"message"}`))
	if ok {
		t.Error("EchoField should be false for an event payload")
	}
}

func TestHTTPCaller_RoundTrip(t *testing.T) {
	callAPI := func(ctx context.Context, body []byte) ([]byte, error) {
		return []byte(`{"status":"ok","retcode":0,"data":{"ok":true}}`), nil
	}
	h := conn.NewHandle("bot1", conn.KindHTTPClient, nil, callAPI)
	caller := NewHTTPCaller(h)

	resp, err := caller.Call(context.Background(), "get_status", []byte(`{}`))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(resp) != `{"status":"ok","retcode":0,"data":{"ok":true}}` {
		t.Errorf("unexpected response body: %s", resp)
	}
}

func TestHTTPCaller_MissingSession(t *testing.T) {
	h := conn.NewHandle("bot1", conn.KindHTTPServer, nil, nil)
	caller := NewHTTPCaller(h)

	_, err := caller.Call(context.Background(), "get_status", []byte(`{}`))
	var ce *CallError
	if !errors.As(err, &ce) || ce.Kind != KindMissingSession {
		t.Fatalf("want MissingSession, got %v", err)
	}
}
