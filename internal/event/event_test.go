package event

import (
	"reflect"
	"testing"
)

const privateMsgJSON = `{"time":1,"self_id":42,"post_type":"message","message_type":"private","message_id":7,"user_id":9,"message":[],"raw_message":"","font":0,"sender":{},"sub_type":"friend"}`

func TestParsePrivateMessage(t *testing.T) {
	e, err := Parse([]byte(privateMsgJSON))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	pm, ok := e.(PrivateMessageEvent)
	if !ok {
		t.Fatalf("got %T, want PrivateMessageEvent", e)
	}
	if pm.SelfID != 42 || pm.UserID != 9 || pm.MessageID != 7 {
		t.Errorf("unexpected fields: %+v", pm)
	}
	if pm.EventName() != "onebot.message.private" {
		t.Errorf("EventName = %q", pm.EventName())
	}
	if len(pm.RawJSON()) == 0 {
		t.Error("RawJSON should be populated")
	}
}

func TestDowngradeToAncestorSucceeds(t *testing.T) {
	e, _ := Parse([]byte(privateMsgJSON))

	msg, ok := Downgrade(e, reflect.TypeOf(MessageEvent{}))
	if !ok {
		t.Fatal("Downgrade to MessageEvent should succeed")
	}
	if _, ok := msg.(MessageEvent); !ok {
		t.Fatalf("got %T, want MessageEvent", msg)
	}

	base, ok := Downgrade(e, reflect.TypeOf(Base{}))
	if !ok || base.(Base).SelfID != 42 {
		t.Fatalf("Downgrade to Base failed: %v %v", base, ok)
	}
}

func TestDowngradeToUnrelatedTypeFails(t *testing.T) {
	e, _ := Parse([]byte(privateMsgJSON))
	_, ok := Downgrade(e, reflect.TypeOf(GroupMessageEvent{}))
	if ok {
		t.Fatal("Downgrade to an unrelated type should fail")
	}
}

func TestDowngradeIdentityReturnsSame(t *testing.T) {
	e, _ := Parse([]byte(privateMsgJSON))
	same, ok := Downgrade(e, reflect.TypeOf(PrivateMessageEvent{}))
	if !ok {
		t.Fatal("identity downgrade should succeed")
	}
	if same.(PrivateMessageEvent).UserID != e.(PrivateMessageEvent).UserID {
		t.Error("identity downgrade should preserve fields")
	}
}

func TestParseGroupMessage(t *testing.T) {
	raw := `{"time":1,"self_id":42,"post_type":"message","message_type":"group","message_id":8,"user_id":9,"group_id":555,"message":[{"type":"text","data":{"text":"hi"}}],"raw_message":"hi","font":0,"sender":{},"sub_type":"normal"}`
	e, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	gm, ok := e.(GroupMessageEvent)
	if !ok {
		t.Fatalf("got %T, want GroupMessageEvent", e)
	}
	if gm.GroupID != 555 || gm.PlainText() != "hi" {
		t.Errorf("unexpected: %+v", gm)
	}
}

func TestParseUnknownPostTypeErrors(t *testing.T) {
	_, err := Parse([]byte(`{"post_type":"unheard_of"}`))
	if err == nil {
		t.Fatal("expected error for unknown post_type")
	}
}

func TestParseHeartbeatMeta(t *testing.T) {
	raw := `{"time":1,"self_id":42,"post_type":"meta_event","meta_event_type":"heartbeat","interval":5000,"status":{"online":true}}`
	e, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	hb, ok := e.(HeartbeatEvent)
	if !ok {
		t.Fatalf("got %T, want HeartbeatEvent", e)
	}
	if hb.Interval != 5000 {
		t.Errorf("interval = %d", hb.Interval)
	}
}

func TestParsePokeNotify(t *testing.T) {
	raw := `{"time":1,"self_id":42,"post_type":"notice","notice_type":"notify","sub_type":"poke","group_id":1,"user_id":2,"target_id":42}`
	e, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	p, ok := e.(PokeNotifyEvent)
	if !ok {
		t.Fatalf("got %T, want PokeNotifyEvent", e)
	}
	if p.TargetID != 42 {
		t.Errorf("target_id = %d", p.TargetID)
	}
}
