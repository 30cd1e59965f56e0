package event

import "reflect"

// NoticeEvent is the post_type=notice parent.
type NoticeEvent struct {
	Base
	NoticeType string `json:"notice_type"`
	GroupID    int64  `json:"group_id,omitempty"`
	UserID     int64  `json:"user_id,omitempty"`
}

func (n NoticeEvent) EventName() string { return "onebot.notice" }

// GroupIncreaseNoticeEvent is notice_type=group_increase.
type GroupIncreaseNoticeEvent struct {
	NoticeEvent
	SubType    string `json:"sub_type"`
	OperatorID int64  `json:"operator_id"`
}

func (g GroupIncreaseNoticeEvent) EventName() string { return "onebot.notice.group_increase" }

// FriendAddNoticeEvent is notice_type=friend_add.
type FriendAddNoticeEvent struct {
	NoticeEvent
}

func (f FriendAddNoticeEvent) EventName() string { return "onebot.notice.friend_add" }

// PokeNotifyEvent is notice_type=notify, sub_type=poke.
type PokeNotifyEvent struct {
	NoticeEvent
	SubType  string `json:"sub_type"`
	TargetID int64  `json:"target_id"`
}

func (p PokeNotifyEvent) EventName() string { return "onebot.notice.notify.poke" }

func parseNotice(raw []byte, noticeType, subType string) (Event, error) {
	switch {
	case noticeType == "group_increase":
		var e GroupIncreaseNoticeEvent
		if err := decodeInto(raw, &e); err != nil {
			return nil, err
		}
		return e, nil
	case noticeType == "friend_add":
		var e FriendAddNoticeEvent
		if err := decodeInto(raw, &e); err != nil {
			return nil, err
		}
		return e, nil
	case noticeType == "notify" && subType == "poke":
		var e PokeNotifyEvent
		if err := decodeInto(raw, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		var e NoticeEvent
		if err := decodeInto(raw, &e); err != nil {
			return nil, err
		}
		return e, nil
	}
}

func init() {
	registerDowngrades(reflect.TypeOf(GroupIncreaseNoticeEvent{}), downgradeSet{
		reflect.TypeOf(NoticeEvent{}): func(e Event) Event { return e.(GroupIncreaseNoticeEvent).NoticeEvent },
		reflect.TypeOf(Base{}):        func(e Event) Event { return e.(GroupIncreaseNoticeEvent).NoticeEvent.Base },
	})
	registerDowngrades(reflect.TypeOf(FriendAddNoticeEvent{}), downgradeSet{
		reflect.TypeOf(NoticeEvent{}): func(e Event) Event { return e.(FriendAddNoticeEvent).NoticeEvent },
		reflect.TypeOf(Base{}):        func(e Event) Event { return e.(FriendAddNoticeEvent).NoticeEvent.Base },
	})
	registerDowngrades(reflect.TypeOf(PokeNotifyEvent{}), downgradeSet{
		reflect.TypeOf(NoticeEvent{}): func(e Event) Event { return e.(PokeNotifyEvent).NoticeEvent },
		reflect.TypeOf(Base{}):        func(e Event) Event { return e.(PokeNotifyEvent).NoticeEvent.Base },
	})
	registerDowngrades(reflect.TypeOf(NoticeEvent{}), downgradeSet{
		reflect.TypeOf(Base{}): func(e Event) Event { return e.(NoticeEvent).Base },
	})
}
