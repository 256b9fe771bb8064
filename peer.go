package receiver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bt-bridge/xr-receiver/shared"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// MediaPeer answers one inbound call without sending media.
type MediaPeer interface {
	Answer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	AddICECandidate(c webrtc.ICECandidateInit) error
	Close() error
}

// PeerHandlers are registered before the offer is applied so no track is missed.
type PeerHandlers struct {
	OnStream func(s Stream)
	OnState  func(state webrtc.PeerConnectionState)
}

type PeerFactory func(callID string, h PeerHandlers) (MediaPeer, error)

// RemoteStream is the inbound video of an answered call.
type RemoteStream struct {
	callID string
	track  *webrtc.TrackRemote
}

var _ Stream = (*RemoteStream)(nil)

func (s *RemoteStream) ID() string {
	if id := s.track.StreamID(); id != "" {
		return id
	}
	return s.track.ID()
}

func (s *RemoteStream) CallID() string { return s.callID }

func (s *RemoteStream) Track() *webrtc.TrackRemote { return s.track }

// Close is a no-op; the peer connection that delivered the track owns it.
func (s *RemoteStream) Close() error { return nil }

// NewPeerFactory builds the pion API once and returns a factory that creates
// receive-only peer connections from it.
func NewPeerFactory(logger shared.LoggerAdapter, cfg shared.WebRTCConfig) (PeerFactory, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("registering default codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("registering default interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if disconnected, failed, keepAlive, set := iceTimeouts(cfg); set > 0 {
		if set < 3 {
			logger.Warn(
				"ICE timeouts partially configured, using pion defaults for the rest",
				zap.Duration("disconnected", disconnected),
				zap.Duration("failed", failed),
				zap.Duration("keepalive", keepAlive),
			)
		}
		se.SetICETimeouts(disconnected, failed, keepAlive)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	pcCfg := webrtc.Configuration{}
	if len(cfg.ICEServers) > 0 {
		pcCfg.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	return func(callID string, h PeerHandlers) (MediaPeer, error) {
		return newPionPeer(logger.With(zap.String("call_id", callID)), api, pcCfg, callID, h)
	}, nil
}

// pion ICE agent defaults
const (
	defaultICEDisconnectedTimeout = 5 * time.Second
	defaultICEFailedTimeout       = 25 * time.Second
	defaultICEKeepAliveInterval   = 2 * time.Second
)

// iceTimeouts fills unset fields with pion's defaults and reports how many
// fields cfg set.
func iceTimeouts(cfg shared.WebRTCConfig) (disconnected, failed, keepAlive time.Duration, set int) {
	pick := func(v shared.Duration, def time.Duration) time.Duration {
		if v > 0 {
			set++
			return v.Std()
		}
		return def
	}
	disconnected = pick(cfg.DisconnectedTimeout, defaultICEDisconnectedTimeout)
	failed = pick(cfg.FailedTimeout, defaultICEFailedTimeout)
	keepAlive = pick(cfg.KeepAliveInterval, defaultICEKeepAliveInterval)
	return disconnected, failed, keepAlive, set
}

type pionPeer struct {
	logger shared.LoggerAdapter
	callID string
	pc     *webrtc.PeerConnection
	h      PeerHandlers

	mu     sync.Mutex
	state  webrtc.PeerConnectionState
	bound  bool
	closed bool
}

func newPionPeer(logger shared.LoggerAdapter, api *webrtc.API, cfg webrtc.Configuration, callID string, h PeerHandlers) (*pionPeer, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}
	p := &pionPeer{
		logger: logger,
		callID: callID,
		pc:     pc,
		h:      h,
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.mu.Lock()
		prev := p.state
		p.state = state
		p.mu.Unlock()
		p.logger.Trace(
			"peer connection state changed",
			zap.String("prev", prev.String()),
			zap.String("new", state.String()),
		)
		if p.h.OnState != nil {
			p.h.OnState(state)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.logger.Info(
			"received remote track",
			zap.String("kind", track.Kind().String()),
			zap.String("codec", track.Codec().MimeType),
			zap.String("stream_id", track.StreamID()),
		)
		// Only video drives the remote plane; the remote audio is muted.
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		p.mu.Lock()
		if p.bound || p.closed {
			p.mu.Unlock()
			p.logger.Debug("ignoring extra video track", zap.String("track_id", track.ID()))
			return
		}
		p.bound = true
		p.mu.Unlock()
		if p.h.OnStream != nil {
			p.h.OnStream(&RemoteStream{callID: p.callID, track: track})
		}
	})
	return p, nil
}

// Answer applies offer and returns the answer once ICE gathering completes or
// ctx expires. No local tracks are added, so every m-line is answered recvonly.
func (p *pionPeer) Answer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if offer.Type != webrtc.SDPTypeOffer {
		return nil, fmt.Errorf("expected offer, got %s", offer.Type)
	}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("setting remote description: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("creating answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("setting local description: %w", err)
	}
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("gathering ICE candidates: %w", ctx.Err())
	case <-gatherComplete:
	}
	local := p.pc.LocalDescription()
	if local == nil {
		return nil, errors.New("no local description after gathering")
	}
	return local, nil
}

func (p *pionPeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

// Close is idempotent.
func (p *pionPeer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	if err := p.pc.Close(); err != nil {
		return fmt.Errorf("closing peer connection: %w", err)
	}
	return nil
}
