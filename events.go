package receiver

import (
	"go.uber.org/zap"
)

type EventType string

// Trigger events, raised by the host scene and the user control
const (
	EventTypeStart          EventType = "start"
	EventTypeToggle         EventType = "toggle"
	EventTypeImmersiveEnter EventType = "immersive.enter"
	EventTypeImmersiveExit  EventType = "immersive.exit"
)

// Fallback camera events
const (
	EventTypeFallbackAcquired EventType = "fallback.acquired"
	EventTypeFallbackFailed   EventType = "fallback.failed"
)

// Peer events, raised by the Receiver
const (
	EventTypeIdentityAssigned EventType = "peer.identity_assigned"
	EventTypeCallReceived     EventType = "peer.call_received"
	EventTypeStreamBound      EventType = "peer.stream_bound"
	EventTypeCallClosed       EventType = "peer.call_closed"
	EventTypeCallError        EventType = "peer.call_error"
	EventTypePeerError        EventType = "peer.error"
)

// Event is the single tagged message consumed by the manager loop. Only the
// fields relevant to Type are set.
type Event struct {
	Type     EventType
	Identity string
	CallID   string
	From     string
	Stream   Stream
	Err      error

	// generation of the fallback acquisition that produced the event
	gen uint64
}

func (e Event) IsPeerEvent() bool {
	switch e.Type {
	case EventTypeIdentityAssigned, EventTypeCallReceived, EventTypeStreamBound,
		EventTypeCallClosed, EventTypeCallError, EventTypePeerError:
		return true
	}
	return false
}

func (e Event) fields() []zap.Field {
	fields := []zap.Field{zap.String("event", string(e.Type))}
	if e.Identity != "" {
		fields = append(fields, zap.String("identity", e.Identity))
	}
	if e.CallID != "" {
		fields = append(fields, zap.String("call_id", e.CallID))
	}
	if e.From != "" {
		fields = append(fields, zap.String("from", e.From))
	}
	if e.Stream != nil {
		fields = append(fields, zap.String("stream_id", e.Stream.ID()))
	}
	if e.Err != nil {
		fields = append(fields, zap.NamedError("cause", e.Err))
	}
	return fields
}

func identityAssigned(id string) Event {
	return Event{Type: EventTypeIdentityAssigned, Identity: id}
}

func callReceived(callID, from string) Event {
	return Event{Type: EventTypeCallReceived, CallID: callID, From: from}
}

func streamBound(callID string, s Stream) Event {
	return Event{Type: EventTypeStreamBound, CallID: callID, Stream: s}
}

func callClosed(callID string) Event {
	return Event{Type: EventTypeCallClosed, CallID: callID}
}

func callError(callID string, err error) Event {
	return Event{Type: EventTypeCallError, CallID: callID, Err: err}
}

func peerError(err error) Event {
	return Event{Type: EventTypePeerError, Err: err}
}
