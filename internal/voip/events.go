package voip

import (
	"encoding/json"
	"maps"
)

// EventName is the outward event vocabulary.
type EventName string

const (
	EventRing         EventName = "Sip.Ring"
	EventUp           EventName = "Sip.Up"
	EventConnected    EventName = "Sip.Connected"
	EventPaused       EventName = "Sip.Paused"
	EventResuming     EventName = "Sip.Resuming"
	EventMissed       EventName = "Sip.Missed"
	EventHangup       EventName = "Sip.Hangup"
	EventError        EventName = "Sip.Error"
	EventReleased     EventName = "Sip.Released"
	EventPushReceive  EventName = "Sip.PushReceive"
	EventPushToken    EventName = "Sip.PushToken"
	EventRegistration EventName = "AccountRegistrationStateChanged"
)

// Event body keys.
const (
	KeyExtension         = "extension"
	KeyPhoneNumber       = "phoneNumber"
	KeyCallType          = "callType"
	KeyCallID            = "callId"
	KeyUUID              = "uuid"
	KeyDuration          = "duration"
	KeyRecordFile        = "recordFile"
	KeyMessage           = "message"
	KeyTotalMissed       = "totalMissed"
	KeyRegistrationState = "registrationState"
	KeyCallerID          = "callerId"
	KeyCallerName        = "callerName"
	KeyReason            = "reason"
	KeyToken             = "token"
)

// Event is one outward notification. It is immutable: the body is copied
// on construction and on access.
type Event struct {
	Name EventName
	body map[string]any
}

// NewEvent builds an event. Body values should be strings, integers or
// booleans.
func NewEvent(name EventName, body map[string]any) Event {
	return Event{Name: name, body: maps.Clone(body)}
}

// Body returns a copy of the event body, nil when the event has none.
func (e Event) Body() map[string]any {
	return maps.Clone(e.body)
}

// Get returns one body value.
func (e Event) Get(key string) (any, bool) {
	v, ok := e.body[key]
	return v, ok
}

// MarshalJSON encodes the event as {"event": name, "body": {...}}.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Event EventName      `json:"event"`
		Body  map[string]any `json:"body,omitempty"`
	}{e.Name, e.body})
}
