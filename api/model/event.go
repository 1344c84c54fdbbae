package model

import (
	"errors"
	"fmt"

	"github.com/a-bouts/geo-anchor/tracking"
)

// Apply feeds the event to the session and returns the reply for it.
func (e Event) Apply(s *tracking.Session) Message {
	p, err := e.Pose.ToPose()
	if err != nil {
		return Message{Type: MessageError, Error: err.Error()}
	}

	switch e.Type {
	case EventAnchor:
		f := NewFrame(s.OnAnchorPoseUpdate(p))
		return Message{Type: MessageAnchor, Anchor: &f}
	case EventDevice:
		fix, err := s.OnDevicePoseUpdate(p)
		if errors.Is(err, tracking.ErrAnchorNotDetected) {
			return Message{Type: MessageWaiting}
		}
		if err != nil {
			return Message{Type: MessageError, Error: err.Error()}
		}
		return Message{Type: MessageFix, Fix: &fix}
	default:
		return Message{Type: MessageError, Error: fmt.Sprintf("unknown event type '%s'", e.Type)}
	}
}
