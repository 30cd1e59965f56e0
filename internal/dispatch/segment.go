package dispatch

import "github.com/alloyrt/alloy/internal/event"

// segmentValue is implemented by command-argument field types that
// resolve from an opaque message-segment placeholder rather than a
// plain string token (§4.10 step 2).
type segmentValue interface {
	fromSegment(seg event.MessageSegment) error
}

// AtSegment is a command argument bound to a mention (@user) message
// segment. A token that isn't a placeholder for an "at" segment fails
// to parse into this type.
type AtSegment struct {
	UserID string
}

func (a *AtSegment) fromSegment(seg event.MessageSegment) error {
	a.UserID = seg.Data["qq"]
	return nil
}

// ImageSegment is a command argument bound to an image message
// segment.
type ImageSegment struct {
	URL string
}

func (i *ImageSegment) fromSegment(seg event.MessageSegment) error {
	i.URL = seg.Data["url"]
	return nil
}
