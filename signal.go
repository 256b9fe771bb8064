package receiver

import (
	"context"

	"github.com/pion/webrtc/v4"
)

type SignalType string

const (
	SignalTypeOffer     SignalType = "offer"
	SignalTypeAnswer    SignalType = "answer"
	SignalTypeCandidate SignalType = "candidate"
	SignalTypeHangup    SignalType = "hangup"
	SignalTypeError     SignalType = "error"
)

// Hangup reasons sent by the receiver
const (
	HangupReasonBusy   = "busy"
	HangupReasonFailed = "failed"
)

// SignalMessage is one frame on the signaling channel.
type SignalMessage struct {
	Type      SignalType               `json:"type"`
	CallID    string                   `json:"call_id,omitempty"`
	From      string                   `json:"from,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Reason    string                   `json:"reason,omitempty"`
}

// Signaling is the channel that assigns this receiver an identity and relays
// call setup. Messages is closed when the channel goes away.
type Signaling interface {
	Open(ctx context.Context) (identity string, err error)
	Messages() <-chan *SignalMessage
	Send(ctx context.Context, msg *SignalMessage) error
	Close() error
}
