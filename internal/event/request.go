package event

import "reflect"

// RequestEvent is the post_type=request parent.
type RequestEvent struct {
	Base
	RequestType string `json:"request_type"`
	UserID      int64  `json:"user_id"`
	Comment     string `json:"comment"`
	Flag        string `json:"flag"`
}

func (r RequestEvent) EventName() string { return "onebot.request" }

// FriendRequestEvent is request_type=friend.
type FriendRequestEvent struct {
	RequestEvent
}

func (f FriendRequestEvent) EventName() string { return "onebot.request.friend" }

// GroupRequestEvent is request_type=group.
type GroupRequestEvent struct {
	RequestEvent
	SubType string `json:"sub_type"`
	GroupID int64  `json:"group_id"`
}

func (g GroupRequestEvent) EventName() string { return "onebot.request.group" }

func parseRequest(raw []byte, requestType string) (Event, error) {
	switch requestType {
	case "friend":
		var e FriendRequestEvent
		if err := decodeInto(raw, &e); err != nil {
			return nil, err
		}
		return e, nil
	case "group":
		var e GroupRequestEvent
		if err := decodeInto(raw, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		var e RequestEvent
		if err := decodeInto(raw, &e); err != nil {
			return nil, err
		}
		return e, nil
	}
}

func init() {
	registerDowngrades(reflect.TypeOf(FriendRequestEvent{}), downgradeSet{
		reflect.TypeOf(RequestEvent{}): func(e Event) Event { return e.(FriendRequestEvent).RequestEvent },
		reflect.TypeOf(Base{}):         func(e Event) Event { return e.(FriendRequestEvent).RequestEvent.Base },
	})
	registerDowngrades(reflect.TypeOf(GroupRequestEvent{}), downgradeSet{
		reflect.TypeOf(RequestEvent{}): func(e Event) Event { return e.(GroupRequestEvent).RequestEvent },
		reflect.TypeOf(Base{}):         func(e Event) Event { return e.(GroupRequestEvent).RequestEvent.Base },
	})
	registerDowngrades(reflect.TypeOf(RequestEvent{}), downgradeSet{
		reflect.TypeOf(Base{}): func(e Event) Event { return e.(RequestEvent).Base },
	})
}
