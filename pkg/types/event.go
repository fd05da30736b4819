package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

type EventKind string

const (
	EventRequest EventKind = "request"
	EventSent    EventKind = "sent"
	EventClicked EventKind = "clicked"
	EventFailed  EventKind = "failed"
	EventDropped EventKind = "dropped"
	EventClosed  EventKind = "closed"
)

// EventKinds lists every tracked kind in aggregate column order.
var EventKinds = []EventKind{EventRequest, EventSent, EventClicked, EventFailed, EventDropped, EventClosed}

var ErrInvalidEvent = errors.New("invalid lifecycle event")

func (k EventKind) Valid() bool {
	switch k {
	case EventRequest, EventSent, EventClicked, EventFailed, EventDropped, EventClosed:
		return true
	}
	return false
}

func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown event %q", ErrInvalidEvent, s)
	}
	return k, nil
}

// LifecycleEvent is one delivery outcome as carried on the event log.
type LifecycleEvent struct {
	ProjectID      string                 `json:"projectId"`
	Event          EventKind              `json:"event"`
	NotificationID string                 `json:"notificationId"`
	Timestamp      int64                  `json:"timestamp"`
	Metadata       map[string]interface{} `json:"metadata"`
}

func NewLifecycleEvent(projectID string, kind EventKind, notificationID string, metadata map[string]interface{}) LifecycleEvent {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return LifecycleEvent{
		ProjectID:      projectID,
		Event:          kind,
		NotificationID: notificationID,
		Timestamp:      time.Now().UnixMilli(),
		Metadata:       metadata,
	}
}

func (e LifecycleEvent) Validate() error {
	if err := ValidateProjectID(e.ProjectID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if len(e.NotificationID) > MaxIDLength {
		return fmt.Errorf("%w: notificationId longer than %d", ErrInvalidEvent, MaxIDLength)
	}
	if !e.Event.Valid() {
		return fmt.Errorf("%w: unknown event %q", ErrInvalidEvent, e.Event)
	}
	if e.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp must be epoch millis", ErrInvalidEvent)
	}
	return nil
}

func (e LifecycleEvent) OccurredAt() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

func (e LifecycleEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeLifecycleEvent parses and validates a wire payload.
func DecodeLifecycleEvent(raw []byte) (LifecycleEvent, error) {
	var e LifecycleEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		return LifecycleEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := e.Validate(); err != nil {
		return LifecycleEvent{}, err
	}
	return e, nil
}

// NewNotificationID returns a time ordered identifier for a dispatched notification.
func NewNotificationID() string {
	return ulid.Make().String()
}
