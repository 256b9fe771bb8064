package receiver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bt-bridge/xr-receiver/shared"
	"go.uber.org/zap"
)

const eventQueueSize = 64

// Hints published to the status reporter
const (
	HintGeneratingIdentity = "generating identity…"
	HintShareLink          = "open the link on the sending device"
	HintWaitingForStream   = "incoming call, waiting for video…"
	HintConnected          = "connected"
	HintCallEnded          = "call ended, waiting for a new call"
)

type ManagerConfig struct {
	// BaseURL is the sender page; the share link is BaseURL?to=<identity>.
	BaseURL        string
	OpenTimeout    time.Duration
	AnswerTimeout  time.Duration
	AcquireTimeout time.Duration
}

type ManagerOptions struct {
	Remote   Surface
	Fallback Surface
	// Camera may be nil, in which case no fallback is ever shown.
	Camera CameraSource
	// Signaling and NewPeer may be nil; Start then reports the session as
	// unavailable instead of creating a Receiver.
	Signaling Signaling
	NewPeer   PeerFactory
	Reporter  StatusReporter
	Config    ManagerConfig
}

// Manager is the session state machine. Every trigger and every Receiver
// callback is posted onto one event queue and handled by the Run loop, which
// is the only writer of session state and plane visibility.
type Manager struct {
	logger   shared.LoggerAdapter
	remote   Surface
	fallback *FallbackCamera
	sig      Signaling
	newPeer  PeerFactory
	reporter StatusReporter
	cfg      ManagerConfig

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	running   atomic.Bool

	// owned by the loop
	ctx          context.Context
	state        SessionState
	started      bool
	shown        bool
	immersive    bool
	remoteBound  bool
	remoteStream Stream
	receiver     *Receiver
	identity     string
	call         *CallSession
	planes       Planes
	status       Status

	snapMu sync.RWMutex
	snap   Snapshot
}

func NewManager(logger shared.LoggerAdapter, opts ManagerOptions) (*Manager, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if opts.Remote == nil || opts.Fallback == nil {
		return nil, shared.ErrNoSurface
	}
	if opts.Reporter == nil {
		return nil, shared.ErrNoReporter
	}
	m := &Manager{
		logger: logger,
		remote: opts.Remote,
		fallback: NewFallbackCamera(
			logger.With(zap.String("component", "fallback")),
			opts.Camera,
			opts.Fallback,
			opts.Config.AcquireTimeout,
		),
		sig:      opts.Signaling,
		newPeer:  opts.NewPeer,
		reporter: opts.Reporter,
		cfg:      opts.Config,
		events:   make(chan Event, eventQueueSize),
		done:     make(chan struct{}),
		ctx:      context.Background(),
		state:    SessionStateIdle,
		shown:    true,
	}
	m.apply()
	return m, nil
}

// Run acquires the initial fallback and processes events until ctx is done or
// Close is called.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("session manager already running")
	}
	m.ctx = ctx
	defer m.shutdown()

	m.boot()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return nil
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

func (m *Manager) Start() error { return m.trigger(EventTypeStart) }

func (m *Manager) Toggle() error { return m.trigger(EventTypeToggle) }

func (m *Manager) ImmersiveEnter() error { return m.trigger(EventTypeImmersiveEnter) }

func (m *Manager) ImmersiveExit() error { return m.trigger(EventTypeImmersiveExit) }

func (m *Manager) Done() <-chan struct{} { return m.done }

// Close stops the loop; Run releases the receiver and the camera on its way out.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

// Snapshot returns the state as of the last handled event.
func (m *Manager) Snapshot() Snapshot {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	s := m.snap
	if s.Call != nil {
		c := *s.Call
		s.Call = &c
	}
	return s
}

func (m *Manager) trigger(t EventType) error {
	if !m.post(Event{Type: t}) {
		return shared.ErrManagerClosed
	}
	return nil
}

func (m *Manager) post(ev Event) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case <-m.done:
		return false
	case m.events <- ev:
		return true
	}
}

func (m *Manager) emitPeer(ev Event) {
	if !m.post(ev) {
		m.logger.Debug("dropping peer event after close", ev.fields()...)
	}
}

func (m *Manager) boot() {
	m.acquireFallback()
	m.apply()
}

func (m *Manager) shutdown() {
	m.closeOnce.Do(func() { close(m.done) })
	if m.receiver != nil {
		if err := m.receiver.Close(); err != nil {
			m.logger.Error("closing receiver", err)
		}
	}
	m.fallback.Release()
	if m.remoteBound {
		m.remote.Bind(nil)
		m.remoteBound = false
		m.remoteStream = nil
	}
	m.apply()
	m.logger.Info("session manager stopped")
}

func (m *Manager) handle(ev Event) {
	m.logger.Debug("handling event", append(ev.fields(), zap.String("state", m.state.String()))...)
	switch ev.Type {
	case EventTypeStart:
		m.start()
	case EventTypeToggle:
		m.toggle()
	case EventTypeImmersiveEnter:
		m.immersiveEnter()
	case EventTypeImmersiveExit:
		m.immersiveExit()
	case EventTypeFallbackAcquired, EventTypeFallbackFailed:
		m.fallbackSettled(ev)
	default:
		if ev.IsPeerEvent() {
			m.onPeerEvent(ev)
		} else {
			m.logger.Warn("unknown event", ev.fields()...)
		}
	}
	m.apply()
}

func (m *Manager) start() {
	if m.started {
		m.logger.Info("session already started")
		return
	}
	r, err := NewReceiver(
		m.ctx,
		m.logger.With(zap.String("component", "receiver")),
		m.sig,
		m.newPeer,
		ReceiverConfig{OpenTimeout: m.cfg.OpenTimeout, AnswerTimeout: m.cfg.AnswerTimeout},
		m.emitPeer,
	)
	if err != nil {
		m.logger.Error("cannot start session", err)
		m.transition(SessionStateError)
		m.publish(Status{Identity: IdentityError, Hint: "error: " + err.Error()})
		return
	}
	m.started = true
	m.shown = true
	m.receiver = r
	m.transition(SessionStateConnecting)
	m.publish(Status{Identity: IdentityPending, Hint: HintGeneratingIdentity})
	if err := r.Open(); err != nil {
		m.onPeerEvent(peerError(err))
	}
}

func (m *Manager) toggle() {
	if !m.started {
		m.logger.Info("toggle before start ignored")
		return
	}
	m.shown = !m.shown
	m.logger.Info("planes toggled", zap.Bool("shown", m.shown))
}

func (m *Manager) immersiveEnter() {
	m.immersive = true
	m.fallback.Release()
}

func (m *Manager) immersiveExit() {
	m.immersive = false
	if m.remoteBound {
		m.logger.Info("remote stream bound, fallback stays off")
		return
	}
	m.acquireFallback()
}

func (m *Manager) acquireFallback() {
	m.fallback.Acquire(m.ctx, m.post)
}

func (m *Manager) fallbackSettled(ev Event) {
	active := m.fallback.Settle(ev)
	switch {
	case active && m.state == SessionStateIdle:
		m.transition(SessionStateFallbackActive)
	case !active && m.state == SessionStateFallbackActive:
		m.transition(SessionStateIdle)
	}
}

func (m *Manager) onPeerEvent(ev Event) {
	switch ev.Type {
	case EventTypeIdentityAssigned:
		if m.identity != "" {
			m.logger.Warn("identity already assigned", zap.String("identity", m.identity), zap.String("ignored", ev.Identity))
			return
		}
		m.identity = ev.Identity
		m.publish(Status{
			Identity: m.identity,
			Link:     ShareLink(m.cfg.BaseURL, m.identity),
			Hint:     HintShareLink,
		})

	case EventTypeCallReceived:
		if m.call != nil && m.call.ID == ev.CallID && m.call.Status.Active() {
			m.logger.Warn("duplicate call received", zap.String("call_id", ev.CallID))
			return
		}
		if m.call != nil && m.call.ID != ev.CallID {
			switch m.call.Status {
			case CallStatusStreaming:
				m.logger.Warn("call received while another is streaming", zap.String("call_id", ev.CallID), zap.String("active_call_id", m.call.ID))
				return
			case CallStatusRinging:
				// The receiver only hands out the slot once the old call is
				// gone, so a ringing call here never got further.
				m.logger.Info("ringing call superseded", zap.String("call_id", ev.CallID), zap.String("superseded_call_id", m.call.ID))
			}
		}
		m.call = &CallSession{ID: ev.CallID, From: ev.From, Status: CallStatusRinging}
		m.publishHint(HintWaitingForStream)

	case EventTypeStreamBound:
		if ev.Stream == nil || m.call == nil || m.call.ID != ev.CallID || m.call.Status != CallStatusRinging {
			m.logger.Warn("stream without a ringing call, not binding", ev.fields()...)
			return
		}
		m.call.Status = CallStatusStreaming
		m.call.StreamID = ev.Stream.ID()
		m.remoteStream = ev.Stream
		m.remote.Bind(ev.Stream)
		m.remoteBound = true
		m.fallback.Release()
		m.transition(SessionStateConnected)
		m.publishHint(HintConnected)

	case EventTypeCallClosed, EventTypeCallError:
		if m.call == nil || m.call.ID != ev.CallID || !m.call.Status.Active() {
			return
		}
		wasStreaming := m.call.Status == CallStatusStreaming
		if ev.Type == EventTypeCallError {
			m.call.Status = CallStatusFailed
			m.publishHint("call error: " + errString(ev.Err))
		} else {
			m.call.Status = CallStatusClosed
			m.publishHint(HintCallEnded)
		}
		if wasStreaming {
			m.remote.Bind(nil)
			m.remoteStream = nil
			m.remoteBound = false
			if m.state == SessionStateConnected {
				m.transition(SessionStateConnecting)
			}
			if !m.immersive {
				m.acquireFallback()
			}
		}

	case EventTypePeerError:
		// A streaming call keeps playing; the error is informational then.
		if m.call == nil || m.call.Status != CallStatusStreaming {
			m.transition(SessionStateError)
		}
		identity := m.identity
		if identity == "" {
			identity = IdentityError
		}
		m.publish(Status{
			Identity: identity,
			Link:     ShareLink(m.cfg.BaseURL, m.identity),
			Hint:     "error: " + errString(ev.Err),
		})
	}
}

func (m *Manager) transition(next SessionState) {
	if m.state == next {
		return
	}
	m.logger.Info("session state changed", zap.String("prev", m.state.String()), zap.String("new", next.String()))
	m.state = next
}

func (m *Manager) publish(s Status) {
	m.status = s
	m.reporter.Publish(s)
}

func (m *Manager) publishHint(hint string) {
	s := m.status
	s.Hint = hint
	m.publish(s)
}

// apply re-evaluates plane visibility from the current inputs and records a
// snapshot.
func (m *Manager) apply() {
	planes := Visibility(VisibilityInput{
		State:          m.state,
		Started:        m.started,
		Shown:          m.shown,
		FallbackActive: m.fallback.Active(),
		RemoteBound:    m.remoteBound,
	})
	if planes != m.planes {
		m.logger.Debug("planes changed", zap.Bool("remote", planes.Remote), zap.Bool("fallback", planes.Fallback))
	}
	m.planes = planes
	m.remote.SetVisible(planes.Remote)
	m.fallback.plane.SetVisible(planes.Fallback)

	snap := Snapshot{
		State:          m.state,
		Started:        m.started,
		Shown:          m.shown,
		Immersive:      m.immersive,
		FallbackActive: m.fallback.Active(),
		RemoteBound:    m.remoteBound,
		Planes:         planes,
		Identity:       m.identity,
	}
	if m.call != nil {
		c := *m.call
		snap.Call = &c
	}
	m.snapMu.Lock()
	m.snap = snap
	m.snapMu.Unlock()
}

func errString(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}
