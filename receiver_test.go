package receiver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bt-bridge/xr-receiver/shared"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type receiverFixture struct {
	r      *Receiver
	sig    *fakeSignaling
	peers  *fakePeers
	events chan Event
}

func newReceiverFixture(t *testing.T) *receiverFixture {
	t.Helper()
	f := &receiverFixture{
		sig:    newFakeSignaling("abc123"),
		peers:  newFakePeers(),
		events: make(chan Event, 32),
	}
	r, err := NewReceiver(
		context.Background(),
		shared.NewNopLogger(),
		f.sig,
		f.peers.factory,
		ReceiverConfig{OpenTimeout: time.Second, AnswerTimeout: time.Second},
		func(ev Event) { f.events <- ev },
	)
	require.NoError(t, err)
	f.r = r
	t.Cleanup(func() { _ = r.Close() })
	return f
}

func (f *receiverFixture) next(t *testing.T, want EventType) Event {
	t.Helper()
	select {
	case ev := <-f.events:
		require.Equal(t, want, ev.Type, "event %+v", ev)
		return ev
	case <-time.After(waitTimeout):
		t.Fatalf("no %s event", want)
		return Event{}
	}
}

func (f *receiverFixture) open(t *testing.T) {
	t.Helper()
	require.NoError(t, f.r.Open())
	ev := f.next(t, EventTypeIdentityAssigned)
	require.Equal(t, "abc123", ev.Identity)
}

func (f *receiverFixture) offer(callID string) {
	f.sig.msgs <- &SignalMessage{Type: SignalTypeOffer, CallID: callID, From: "sender", SDP: "offer-" + callID}
}

func TestNewReceiverRequiresSignaling(t *testing.T) {
	emit := func(Event) {}
	_, err := NewReceiver(context.Background(), shared.NewNopLogger(), nil, newFakePeers().factory, ReceiverConfig{}, emit)
	assert.ErrorIs(t, err, shared.ErrSignalingUnavailable)

	_, err = NewReceiver(context.Background(), shared.NewNopLogger(), newFakeSignaling("x"), nil, ReceiverConfig{}, emit)
	assert.ErrorIs(t, err, shared.ErrSignalingUnavailable)

	_, err = NewReceiver(context.Background(), nil, newFakeSignaling("x"), newFakePeers().factory, ReceiverConfig{}, emit)
	assert.ErrorIs(t, err, shared.ErrNoLogger)
}

func TestReceiverOpenOnce(t *testing.T) {
	f := newReceiverFixture(t)
	f.open(t)

	assert.Error(t, f.r.Open())
	assert.Equal(t, 1, f.sig.Opens())
	assert.Equal(t, "abc123", f.r.Identity())
	assert.Equal(t, "https://example.org/send?to=abc123", f.r.Link("https://example.org/send"))
}

func TestReceiverOpenFailure(t *testing.T) {
	f := newReceiverFixture(t)
	f.sig.openErr = errors.New("no route")

	require.NoError(t, f.r.Open())
	ev := f.next(t, EventTypePeerError)
	assert.ErrorContains(t, ev.Err, "no route")
	assert.Empty(t, f.r.Identity())
	assert.Empty(t, f.r.Link("https://example.org/send"))
}

func TestReceiverAnswersOffer(t *testing.T) {
	f := newReceiverFixture(t)
	f.open(t)

	f.offer("call-1")
	ev := f.next(t, EventTypeCallReceived)
	assert.Equal(t, "call-1", ev.CallID)
	assert.Equal(t, "sender", ev.From)

	peer := f.peers.next(t)
	answer := nextSent(t, f.sig)
	assert.Equal(t, SignalTypeAnswer, answer.Type)
	assert.Equal(t, "call-1", answer.CallID)
	assert.Equal(t, "answer-call-1", answer.SDP)

	stream := newFakeStream("remote-1")
	peer.h.OnStream(stream)
	ev = f.next(t, EventTypeStreamBound)
	assert.Equal(t, "call-1", ev.CallID)
	assert.Same(t, stream, ev.Stream)

	call, ok := f.r.Current()
	require.True(t, ok)
	assert.Equal(t, CallStatusStreaming, call.Status)
}

func TestReceiverOfferWithoutCallID(t *testing.T) {
	f := newReceiverFixture(t)
	f.open(t)

	f.sig.msgs <- &SignalMessage{Type: SignalTypeOffer, SDP: "offer"}
	ev := f.next(t, EventTypeCallReceived)
	assert.NotEmpty(t, ev.CallID)
	answer := nextSent(t, f.sig)
	assert.Equal(t, ev.CallID, answer.CallID)
}

func TestReceiverRejectsSecondCall(t *testing.T) {
	f := newReceiverFixture(t)
	f.open(t)

	f.offer("call-1")
	f.next(t, EventTypeCallReceived)
	first := f.peers.next(t)
	nextSent(t, f.sig)
	first.h.OnStream(newFakeStream("remote-1"))
	f.next(t, EventTypeStreamBound)

	f.offer("call-2")
	busy := nextSent(t, f.sig)
	assert.Equal(t, SignalTypeHangup, busy.Type)
	assert.Equal(t, "call-2", busy.CallID)
	assert.Equal(t, HangupReasonBusy, busy.Reason)

	call, _ := f.r.Current()
	assert.Equal(t, "call-1", call.ID)
	assert.False(t, first.Closed())
	select {
	case ev := <-f.events:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReceiverQueuesCandidatesUntilAnswered(t *testing.T) {
	f := newReceiverFixture(t)
	f.peers.block = make(chan struct{})
	f.open(t)

	f.offer("call-1")
	f.next(t, EventTypeCallReceived)
	peer := f.peers.next(t)

	mid := "0"
	for _, c := range []string{"candidate:1", "candidate:2"} {
		f.sig.msgs <- &SignalMessage{
			Type:      SignalTypeCandidate,
			CallID:    "call-1",
			Candidate: &webrtc.ICECandidateInit{Candidate: c, SDPMid: &mid},
		}
	}
	f.sig.msgs <- &SignalMessage{
		Type:      SignalTypeCandidate,
		CallID:    "other",
		Candidate: &webrtc.ICECandidateInit{Candidate: "candidate:9"},
	}

	assert.Never(t, func() bool { return len(peer.Candidates()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	close(f.peers.block)
	nextSent(t, f.sig)
	assert.Eventually(t, func() bool { return len(peer.Candidates()) == 2 }, waitTimeout, 10*time.Millisecond)

	f.sig.msgs <- &SignalMessage{
		Type:      SignalTypeCandidate,
		CallID:    "call-1",
		Candidate: &webrtc.ICECandidateInit{Candidate: "candidate:3"},
	}
	assert.Eventually(t, func() bool { return len(peer.Candidates()) == 3 }, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, "candidate:1", peer.Candidates()[0].Candidate)
}

func TestReceiverIgnoresStaleStream(t *testing.T) {
	f := newReceiverFixture(t)
	f.open(t)

	f.offer("call-1")
	f.next(t, EventTypeCallReceived)
	peer := f.peers.next(t)
	nextSent(t, f.sig)

	f.sig.msgs <- &SignalMessage{Type: SignalTypeHangup, CallID: "call-1"}
	f.next(t, EventTypeCallClosed)
	assert.True(t, peer.Closed())

	peer.h.OnStream(newFakeStream("late"))
	select {
	case ev := <-f.events:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReceiverCallErrorThenNewCall(t *testing.T) {
	f := newReceiverFixture(t)
	f.open(t)

	f.offer("call-1")
	f.next(t, EventTypeCallReceived)
	f.peers.next(t)
	nextSent(t, f.sig)

	f.sig.msgs <- &SignalMessage{Type: SignalTypeError, CallID: "call-1", Reason: "sender gone"}
	ev := f.next(t, EventTypeCallError)
	assert.ErrorContains(t, ev.Err, "sender gone")

	f.offer("call-2")
	ev = f.next(t, EventTypeCallReceived)
	assert.Equal(t, "call-2", ev.CallID)
}

func TestReceiverPeerFailure(t *testing.T) {
	f := newReceiverFixture(t)
	f.open(t)

	f.offer("call-1")
	f.next(t, EventTypeCallReceived)
	peer := f.peers.next(t)
	nextSent(t, f.sig)

	peer.h.OnState(webrtc.PeerConnectionStateDisconnected)
	peer.h.OnState(webrtc.PeerConnectionStateFailed)

	hangup := nextSent(t, f.sig)
	assert.Equal(t, SignalTypeHangup, hangup.Type)
	assert.Equal(t, HangupReasonFailed, hangup.Reason)
	f.next(t, EventTypeCallError)
	assert.True(t, peer.Closed())

	peer.h.OnState(webrtc.PeerConnectionStateClosed)
	select {
	case ev := <-f.events:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReceiverPeerFactoryError(t *testing.T) {
	f := newReceiverFixture(t)
	f.peers.err = errors.New("no codecs")
	f.open(t)

	f.offer("call-1")
	f.next(t, EventTypeCallReceived)
	ev := f.next(t, EventTypeCallError)
	assert.ErrorContains(t, ev.Err, "no codecs")
	hangup := nextSent(t, f.sig)
	assert.Equal(t, HangupReasonFailed, hangup.Reason)
}

func TestReceiverSignalingLost(t *testing.T) {
	f := newReceiverFixture(t)
	f.open(t)

	f.sig.msgs <- &SignalMessage{Type: SignalTypeError, Reason: "server restart"}
	ev := f.next(t, EventTypePeerError)
	assert.ErrorContains(t, ev.Err, "server restart")

	close(f.sig.msgs)
	ev = f.next(t, EventTypePeerError)
	assert.ErrorIs(t, ev.Err, shared.ErrSignalingClosed)
	select {
	case <-f.r.Done():
	case <-time.After(waitTimeout):
		t.Fatal("receiver still running")
	}
}

func TestReceiverClose(t *testing.T) {
	f := newReceiverFixture(t)
	f.open(t)
	f.offer("call-1")
	f.next(t, EventTypeCallReceived)
	peer := f.peers.next(t)
	nextSent(t, f.sig)

	require.NoError(t, f.r.Close())
	require.NoError(t, f.r.Close())
	assert.True(t, peer.Closed())
	assert.Error(t, f.r.Open())
	select {
	case <-f.r.Done():
	default:
		t.Fatal("run still active after close")
	}
}

func TestReceiverCallErrorPrecedesNextCall(t *testing.T) {
	f := newReceiverFixture(t)
	f.sig.sent = make(chan *SignalMessage)
	f.open(t)

	f.offer("call-1")
	f.next(t, EventTypeCallReceived)
	first := f.peers.next(t)
	nextSent(t, f.sig)

	// the failure hangup stays blocked on signaling until drained below
	go first.h.OnState(webrtc.PeerConnectionStateFailed)
	ev := f.next(t, EventTypeCallError)
	assert.Equal(t, "call-1", ev.CallID)

	f.offer("call-2")
	ev = f.next(t, EventTypeCallReceived)
	assert.Equal(t, "call-2", ev.CallID)
	second := f.peers.next(t)

	sent := map[SignalType]*SignalMessage{}
	for range 2 {
		msg := nextSent(t, f.sig)
		sent[msg.Type] = msg
	}
	require.Contains(t, sent, SignalTypeHangup)
	require.Contains(t, sent, SignalTypeAnswer)
	assert.Equal(t, "call-1", sent[SignalTypeHangup].CallID)
	assert.Equal(t, HangupReasonFailed, sent[SignalTypeHangup].Reason)
	assert.Equal(t, "call-2", sent[SignalTypeAnswer].CallID)
	assert.True(t, first.Closed())

	second.h.OnStream(newFakeStream("remote-2"))
	ev = f.next(t, EventTypeStreamBound)
	assert.Equal(t, "call-2", ev.CallID)

	call, ok := f.r.Current()
	require.True(t, ok)
	assert.Equal(t, "call-2", call.ID)
	assert.Equal(t, CallStatusStreaming, call.Status)
}
