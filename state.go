package receiver

import "fmt"

// SessionState is the single source of truth for what the scene shows.
type SessionState int

const (
	SessionStateIdle SessionState = iota
	SessionStateFallbackActive
	SessionStateConnecting
	SessionStateConnected
	SessionStateError
)

func (s SessionState) String() string {
	switch s {
	case SessionStateIdle:
		return "idle"
	case SessionStateFallbackActive:
		return "fallback-active"
	case SessionStateConnecting:
		return "connecting"
	case SessionStateConnected:
		return "connected"
	case SessionStateError:
		return "error"
	default:
		return "unknown"
	}
}

func (s SessionState) MarshalYAML() (any, error) {
	return s.String(), nil
}

// sessionOpen is true once start has moved the state past the pre-session pair.
func (s SessionState) sessionOpen() bool {
	return s == SessionStateConnecting || s == SessionStateConnected || s == SessionStateError
}

// CallStatus tracks one inbound call.
type CallStatus int

const (
	CallStatusRinging CallStatus = iota
	CallStatusStreaming
	CallStatusClosed
	CallStatusFailed
)

func (s CallStatus) String() string {
	switch s {
	case CallStatusRinging:
		return "ringing"
	case CallStatusStreaming:
		return "streaming"
	case CallStatusClosed:
		return "closed"
	case CallStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s CallStatus) MarshalYAML() (any, error) {
	return s.String(), nil
}

// Active reports whether the call still occupies the receiver.
func (s CallStatus) Active() bool {
	return s == CallStatusRinging || s == CallStatusStreaming
}

// CallSession is the manager's view of the current inbound call.
type CallSession struct {
	ID       string     `yaml:"id"`
	From     string     `yaml:"from"`
	Status   CallStatus `yaml:"status"`
	StreamID string     `yaml:"stream_id,omitempty"`
}

// Snapshot is a copy of the manager state taken after the last event.
type Snapshot struct {
	State          SessionState `yaml:"state"`
	Started        bool         `yaml:"started"`
	Shown          bool         `yaml:"shown"`
	Immersive      bool         `yaml:"immersive"`
	FallbackActive bool         `yaml:"fallback_active"`
	RemoteBound    bool         `yaml:"remote_bound"`
	Planes         Planes       `yaml:"planes"`
	Identity       string       `yaml:"identity,omitempty"`
	Call           *CallSession `yaml:"call,omitempty"`
}

func (s Snapshot) String() string {
	return fmt.Sprintf("state=%s remote=%t fallback=%t identity=%q", s.State, s.Planes.Remote, s.Planes.Fallback, s.Identity)
}
