package event

import "reflect"

// MetaEvent is the post_type=meta_event parent.
type MetaEvent struct {
	Base
	MetaEventType string `json:"meta_event_type"`
}

func (m MetaEvent) EventName() string { return "onebot.meta" }

// HeartbeatEvent is meta_event_type=heartbeat.
type HeartbeatEvent struct {
	MetaEvent
	Status   map[string]any `json:"status"`
	Interval int64          `json:"interval"`
}

func (h HeartbeatEvent) EventName() string { return "onebot.meta.heartbeat" }

// LifecycleEvent is meta_event_type=lifecycle.
type LifecycleEvent struct {
	MetaEvent
	SubType string `json:"sub_type"`
}

func (l LifecycleEvent) EventName() string { return "onebot.meta.lifecycle" }

func parseMeta(raw []byte, metaEventType string) (Event, error) {
	switch metaEventType {
	case "heartbeat":
		var e HeartbeatEvent
		if err := decodeInto(raw, &e); err != nil {
			return nil, err
		}
		return e, nil
	case "lifecycle":
		var e LifecycleEvent
		if err := decodeInto(raw, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		var e MetaEvent
		if err := decodeInto(raw, &e); err != nil {
			return nil, err
		}
		return e, nil
	}
}

func init() {
	registerDowngrades(reflect.TypeOf(HeartbeatEvent{}), downgradeSet{
		reflect.TypeOf(MetaEvent{}): func(e Event) Event { return e.(HeartbeatEvent).MetaEvent },
		reflect.TypeOf(Base{}):      func(e Event) Event { return e.(HeartbeatEvent).MetaEvent.Base },
	})
	registerDowngrades(reflect.TypeOf(LifecycleEvent{}), downgradeSet{
		reflect.TypeOf(MetaEvent{}): func(e Event) Event { return e.(LifecycleEvent).MetaEvent },
		reflect.TypeOf(Base{}):      func(e Event) Event { return e.(LifecycleEvent).MetaEvent.Base },
	})
	registerDowngrades(reflect.TypeOf(MetaEvent{}), downgradeSet{
		reflect.TypeOf(Base{}): func(e Event) Event { return e.(MetaEvent).Base },
	})
}
