package receiver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bt-bridge/xr-receiver/shared"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

const (
	defaultOpenTimeout   = 10 * time.Second
	defaultAnswerTimeout = 15 * time.Second
)

type ReceiverConfig struct {
	OpenTimeout   time.Duration
	AnswerTimeout time.Duration
}

type inboundCall struct {
	id     string
	from   string
	status CallStatus

	peer     MediaPeer
	answered bool
	pending  []webrtc.ICECandidateInit
}

// Receiver owns the signaling channel and answers inbound calls receive-only.
// It tracks at most one current call; offers that arrive while that call is
// ringing or streaming are rejected as busy.
//
// Call events are emitted in the order the call slot changes hands; emit must
// not block indefinitely.
type Receiver struct {
	logger  shared.LoggerAdapter
	sig     Signaling
	newPeer PeerFactory
	cfg     ReceiverConfig
	emit    func(Event)

	// seq is held across a call state change and the event reporting it, so
	// the manager sees call events in the order the slot changed hands.
	seq sync.Mutex

	mu       sync.Mutex
	identity string
	current  *inboundCall
	opened   bool
	closed   bool

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
}

func NewReceiver(
	ctx context.Context,
	logger shared.LoggerAdapter,
	sig Signaling,
	newPeer PeerFactory,
	cfg ReceiverConfig,
	emit func(Event),
) (*Receiver, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if sig == nil || newPeer == nil {
		return nil, shared.ErrSignalingUnavailable
	}
	if emit == nil {
		return nil, errors.New("emit is required")
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultOpenTimeout
	}
	if cfg.AnswerTimeout <= 0 {
		cfg.AnswerTimeout = defaultAnswerTimeout
	}
	ctx, cancel := context.WithCancelCause(ctx)
	return &Receiver{
		logger:  logger,
		sig:     sig,
		newPeer: newPeer,
		cfg:     cfg,
		emit:    emit,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}, nil
}

// Open requests an identity and starts relaying signaling. It returns
// immediately; the outcome arrives as identityAssigned or peerError.
func (r *Receiver) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("receiver closed")
	}
	if r.opened {
		return errors.New("receiver already opened")
	}
	r.opened = true
	go r.run()
	return nil
}

func (r *Receiver) Identity() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identity
}

// Link is the share link for the assigned identity, "" until one exists.
func (r *Receiver) Link(baseURL string) string {
	return ShareLink(baseURL, r.Identity())
}

// Current returns a copy of the current call, if any.
func (r *Receiver) Current() (CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return CallSession{}, false
	}
	return CallSession{ID: r.current.id, From: r.current.from, Status: r.current.status}, true
}

func (r *Receiver) Done() <-chan struct{} {
	return r.done
}

func (r *Receiver) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	opened := r.opened
	var peer MediaPeer
	if r.current != nil && r.current.status.Active() {
		r.current.status = CallStatusClosed
		peer = r.current.peer
	}
	r.mu.Unlock()

	r.cancel(errors.New("receiver closed"))
	if peer != nil {
		if err := peer.Close(); err != nil {
			r.logger.Error("closing peer on shutdown", err)
		}
	}
	err := r.sig.Close()
	if opened {
		<-r.done
	}
	if err != nil {
		return fmt.Errorf("closing signaling: %w", err)
	}
	return nil
}

func (r *Receiver) run() {
	defer close(r.done)

	openCtx, cancel := context.WithTimeout(r.ctx, r.cfg.OpenTimeout)
	id, err := r.sig.Open(openCtx)
	cancel()
	if err != nil {
		r.logger.Error("opening signaling channel", err)
		r.emit(peerError(fmt.Errorf("opening signaling channel: %w", err)))
		return
	}
	if err := r.assignIdentity(id); err != nil {
		r.logger.Warn("identity not assigned", zap.String("identity", id), zap.Error(err))
	} else {
		r.logger.Info("identity assigned", zap.String("identity", id))
		r.emit(identityAssigned(id))
	}

	msgs := r.sig.Messages()
	for {
		select {
		case <-r.ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				if r.ctx.Err() == nil {
					r.emit(peerError(shared.ErrSignalingClosed))
				}
				return
			}
			if msg == nil {
				continue
			}
			r.handle(msg)
		}
	}
}

func (r *Receiver) assignIdentity(id string) error {
	if id == "" {
		return errors.New("empty identity")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.identity != "" {
		return shared.ErrIdentityAssigned
	}
	r.identity = id
	return nil
}

func (r *Receiver) handle(msg *SignalMessage) {
	switch msg.Type {
	case SignalTypeOffer:
		r.handleOffer(msg)
	case SignalTypeCandidate:
		r.handleCandidate(msg)
	case SignalTypeHangup:
		if r.finish(msg.CallID, CallStatusClosed, callClosed(msg.CallID)) {
			r.logger.Info("call closed by remote", zap.String("call_id", msg.CallID))
		}
	case SignalTypeError:
		reason := errors.New(msg.Reason)
		if msg.CallID == "" {
			r.emit(peerError(reason))
			return
		}
		r.finish(msg.CallID, CallStatusFailed, callError(msg.CallID, reason))
	default:
		r.logger.Warn("unexpected signal", zap.String("type", string(msg.Type)))
	}
}

func (r *Receiver) handleOffer(msg *SignalMessage) {
	callID := msg.CallID
	if callID == "" {
		callID = uuid.NewString()
	}
	r.seq.Lock()
	r.mu.Lock()
	if r.current != nil && r.current.status.Active() {
		busy := r.current.id
		r.mu.Unlock()
		r.seq.Unlock()
		r.logger.Info(
			"rejecting call",
			zap.String("call_id", callID),
			zap.String("active_call_id", busy),
			zap.Error(shared.ErrCallBusy),
		)
		r.send(&SignalMessage{Type: SignalTypeHangup, CallID: callID, Reason: HangupReasonBusy})
		return
	}
	call := &inboundCall{
		id:     callID,
		from:   msg.From,
		status: CallStatusRinging,
	}
	r.current = call
	r.mu.Unlock()

	// callReceived is queued before the peer exists, so streamBound for this
	// call can only follow it.
	r.emit(callReceived(call.id, call.from))
	r.seq.Unlock()
	go r.answer(call, msg.SDP)
}

func (r *Receiver) answer(call *inboundCall, sdp string) {
	logger := r.logger.With(zap.String("call_id", call.id))
	peer, err := r.newPeer(call.id, PeerHandlers{
		OnStream: func(s Stream) { r.onStream(call.id, s) },
		OnState:  func(state webrtc.PeerConnectionState) { r.onPeerState(call.id, state) },
	})
	if err != nil {
		r.fail(call.id, fmt.Errorf("creating peer: %w", err))
		return
	}

	r.mu.Lock()
	if r.current != call || !call.status.Active() {
		r.mu.Unlock()
		_ = peer.Close()
		return
	}
	call.peer = peer
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.AnswerTimeout)
	defer cancel()
	answer, err := peer.Answer(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
	if err != nil {
		r.fail(call.id, fmt.Errorf("answering call: %w", err))
		return
	}

	r.mu.Lock()
	call.answered = true
	pending := call.pending
	call.pending = nil
	r.mu.Unlock()
	for _, c := range pending {
		if err := peer.AddICECandidate(c); err != nil {
			logger.Error("adding queued ICE candidate", err)
		}
	}

	if err := r.sig.Send(ctx, &SignalMessage{Type: SignalTypeAnswer, CallID: call.id, SDP: answer.SDP}); err != nil {
		r.fail(call.id, fmt.Errorf("sending answer: %w", err))
		return
	}
	logger.Info("call answered receive-only")
}

func (r *Receiver) handleCandidate(msg *SignalMessage) {
	if msg.Candidate == nil {
		return
	}
	r.mu.Lock()
	c := r.current
	if c == nil || c.id != msg.CallID || !c.status.Active() {
		r.mu.Unlock()
		r.logger.Debug("dropping candidate for unknown call", zap.String("call_id", msg.CallID))
		return
	}
	if c.peer == nil || !c.answered {
		c.pending = append(c.pending, *msg.Candidate)
		r.mu.Unlock()
		return
	}
	peer := c.peer
	r.mu.Unlock()
	if err := peer.AddICECandidate(*msg.Candidate); err != nil {
		r.logger.Error("adding ICE candidate", err, zap.String("call_id", msg.CallID))
	}
}

func (r *Receiver) onStream(callID string, s Stream) {
	r.seq.Lock()
	defer r.seq.Unlock()
	r.mu.Lock()
	c := r.current
	if c == nil || c.id != callID || c.status != CallStatusRinging {
		r.mu.Unlock()
		r.logger.Warn("ignoring stream for inactive call", zap.String("call_id", callID))
		return
	}
	c.status = CallStatusStreaming
	r.mu.Unlock()
	r.emit(streamBound(callID, s))
}

func (r *Receiver) onPeerState(callID string, state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateFailed:
		r.fail(callID, errors.New("peer connection failed"))
	case webrtc.PeerConnectionStateClosed:
		r.finish(callID, CallStatusClosed, callClosed(callID))
	case webrtc.PeerConnectionStateDisconnected:
		r.logger.Warn("peer connection disconnected", zap.String("call_id", callID))
	}
}

func (r *Receiver) fail(callID string, err error) {
	if !r.finish(callID, CallStatusFailed, callError(callID, err)) {
		return
	}
	r.logger.Error("call failed", err, zap.String("call_id", callID))
	r.send(&SignalMessage{Type: SignalTypeHangup, CallID: callID, Reason: HangupReasonFailed})
}

// finish moves the current call to status and emits ev before the slot can be
// taken by another offer. The peer is closed afterwards. It reports false when
// callID is not the current active call.
func (r *Receiver) finish(callID string, status CallStatus, ev Event) bool {
	r.seq.Lock()
	r.mu.Lock()
	c := r.current
	if c == nil || c.id != callID || !c.status.Active() {
		r.mu.Unlock()
		r.seq.Unlock()
		return false
	}
	c.status = status
	peer := c.peer
	r.mu.Unlock()
	r.emit(ev)
	r.seq.Unlock()

	if peer != nil {
		if err := peer.Close(); err != nil {
			r.logger.Error("closing peer", err, zap.String("call_id", callID))
		}
	}
	return true
}

func (r *Receiver) send(msg *SignalMessage) {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.AnswerTimeout)
	defer cancel()
	if err := r.sig.Send(ctx, msg); err != nil {
		r.logger.Error("sending signal", err, zap.String("type", string(msg.Type)), zap.String("call_id", msg.CallID))
	}
}
