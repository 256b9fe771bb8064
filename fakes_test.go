package receiver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bt-bridge/xr-receiver/shared"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

type fakeStream struct {
	id string

	mu     sync.Mutex
	closed bool
}

func newFakeStream(id string) *fakeStream { return &fakeStream{id: id} }

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeCamera struct {
	mu      sync.Mutex
	calls   int
	err     error
	block   chan struct{}
	streams []*fakeStream
}

func (c *fakeCamera) Acquire(ctx context.Context) (Stream, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	err := c.err
	block := c.block
	c.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	s := newFakeStream("camera-" + string(rune('0'+n)))
	c.mu.Lock()
	c.streams = append(c.streams, s)
	c.mu.Unlock()
	return s, nil
}

func (c *fakeCamera) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *fakeCamera) Last() *fakeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.streams) == 0 {
		return nil
	}
	return c.streams[len(c.streams)-1]
}

type fakeSignaling struct {
	identity string
	openErr  error

	msgs chan *SignalMessage
	sent chan *SignalMessage

	mu     sync.Mutex
	opens  int
	closed bool
}

func newFakeSignaling(identity string) *fakeSignaling {
	return &fakeSignaling{
		identity: identity,
		msgs:     make(chan *SignalMessage, 16),
		sent:     make(chan *SignalMessage, 16),
	}
}

func (s *fakeSignaling) Open(ctx context.Context) (string, error) {
	s.mu.Lock()
	s.opens++
	s.mu.Unlock()
	if s.openErr != nil {
		return "", s.openErr
	}
	return s.identity, nil
}

func (s *fakeSignaling) Messages() <-chan *SignalMessage { return s.msgs }

func (s *fakeSignaling) Send(ctx context.Context, msg *SignalMessage) error {
	select {
	case s.sent <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *fakeSignaling) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSignaling) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

type fakePeer struct {
	callID string
	h      PeerHandlers
	block  chan struct{}

	mu         sync.Mutex
	candidates []webrtc.ICECandidateInit
	closed     bool
}

func (p *fakePeer) Answer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + p.callID}, nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	p.candidates = append(p.candidates, c)
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) Candidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

func (p *fakePeer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakePeers struct {
	created chan *fakePeer
	block   chan struct{}
	err     error
}

func newFakePeers() *fakePeers {
	return &fakePeers{created: make(chan *fakePeer, 8)}
}

func (f *fakePeers) factory(callID string, h PeerHandlers) (MediaPeer, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := &fakePeer{callID: callID, h: h, block: f.block}
	f.created <- p
	return p, nil
}

func (f *fakePeers) next(t *testing.T) *fakePeer {
	t.Helper()
	select {
	case p := <-f.created:
		return p
	case <-time.After(waitTimeout):
		t.Fatal("no peer created")
		return nil
	}
}

type recordingReporter struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *recordingReporter) Publish(s Status) {
	r.mu.Lock()
	r.statuses = append(r.statuses, s)
	r.mu.Unlock()
}

func (r *recordingReporter) Last() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return Status{}
	}
	return r.statuses[len(r.statuses)-1]
}

func (r *recordingReporter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.statuses)
}

func nextSent(t *testing.T, sig *fakeSignaling) *SignalMessage {
	t.Helper()
	select {
	case msg := <-sig.sent:
		return msg
	case <-time.After(waitTimeout):
		t.Fatal("nothing sent on signaling")
		return nil
	}
}

var errNoCamera = errors.New("permission denied")

// harness wires a Manager to fakes and drives its loop by hand.
type harness struct {
	m        *Manager
	remote   *Plane
	fallback *Plane
	camera   *fakeCamera
	sig      *fakeSignaling
	peers    *fakePeers
	reporter *recordingReporter
}

func newHarness(t *testing.T, withSignaling bool) *harness {
	t.Helper()
	h := &harness{
		remote:   NewPlane("remote"),
		fallback: NewPlane("fallback"),
		camera:   &fakeCamera{},
		peers:    newFakePeers(),
		reporter: &recordingReporter{},
	}
	opts := ManagerOptions{
		Remote:   h.remote,
		Fallback: h.fallback,
		Camera:   h.camera,
		Reporter: h.reporter,
		Config: ManagerConfig{
			BaseURL:       "https://example.org/send",
			OpenTimeout:   time.Second,
			AnswerTimeout: time.Second,
		},
	}
	if withSignaling {
		h.sig = newFakeSignaling("abc123")
		opts.Signaling = h.sig
		opts.NewPeer = h.peers.factory
	}
	m, err := NewManager(shared.NewNopLogger(), opts)
	require.NoError(t, err)
	h.m = m
	t.Cleanup(m.shutdown)
	return h
}

// step handles the next queued event and returns it.
func (h *harness) step(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-h.m.events:
		h.m.handle(ev)
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("no event queued")
		return Event{}
	}
}

func (h *harness) stepType(t *testing.T, want EventType) Event {
	t.Helper()
	ev := h.step(t)
	require.Equal(t, want, ev.Type)
	return ev
}

// stepUntil handles queued events until one of type want has been handled.
func (h *harness) stepUntil(t *testing.T, want EventType) Event {
	t.Helper()
	for {
		if ev := h.step(t); ev.Type == want {
			return ev
		}
	}
}

// idle asserts that nothing is queued for the manager.
func (h *harness) idle(t *testing.T) {
	t.Helper()
	select {
	case ev := <-h.m.events:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

// boot runs the initial fallback acquisition to completion.
func (h *harness) boot(t *testing.T) {
	t.Helper()
	h.m.boot()
	h.step(t)
}

// connect drives start, identity, offer and stream until Connected.
func (h *harness) connect(t *testing.T) (*fakePeer, *fakeStream) {
	t.Helper()
	h.m.handle(Event{Type: EventTypeStart})
	h.stepType(t, EventTypeIdentityAssigned)
	h.sig.msgs <- &SignalMessage{Type: SignalTypeOffer, CallID: "call-1", From: "sender", SDP: "offer"}
	h.stepType(t, EventTypeCallReceived)
	peer := h.peers.next(t)
	answer := nextSent(t, h.sig)
	require.Equal(t, SignalTypeAnswer, answer.Type)
	stream := newFakeStream("remote-1")
	peer.h.OnStream(stream)
	h.stepType(t, EventTypeStreamBound)
	return peer, stream
}
