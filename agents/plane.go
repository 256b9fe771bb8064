package agents

import (
	"context"
	"sync"
	"sync/atomic"

	receiver "github.com/bt-bridge/xr-receiver"
	"github.com/bt-bridge/xr-receiver/shared"
	"github.com/bt-bridge/xr-receiver/tools"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
)

// VideoPlane is a headless display plane. A bound remote stream is drained
// and reassembled into frames so the call keeps flowing while nothing renders.
type VideoPlane struct {
	*receiver.Plane
	logger shared.LoggerAdapter
	ctx    context.Context

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	frames atomic.Int64
	bytes  atomic.Int64
}

var _ receiver.Surface = (*VideoPlane)(nil)

func NewVideoPlane(ctx context.Context, logger shared.LoggerAdapter, name string) *VideoPlane {
	return &VideoPlane{
		Plane:  receiver.NewPlane(name),
		logger: logger.With(zap.String("plane", name)),
		ctx:    ctx,
	}
}

func (p *VideoPlane) SetVisible(visible bool) {
	if p.Visible() != visible {
		p.logger.Debug("plane visibility changed", zap.Bool("visible", visible))
	}
	p.Plane.SetVisible(visible)
}

func (p *VideoPlane) Bind(s receiver.Stream) {
	p.Plane.Bind(s)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if s == nil {
		p.logger.Debug("plane detached")
		return
	}
	p.logger.Info("plane bound", zap.String("stream_id", s.ID()))
	rs, ok := s.(*receiver.RemoteStream)
	if !ok || rs.Track() == nil {
		return
	}
	ctx, cancel := context.WithCancel(p.ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		err := tools.ConsumeRemoteVideo(ctx, p.logger, rs.Track(), func(s media.Sample) {
			p.frames.Add(1)
			p.bytes.Add(int64(len(s.Data)))
		})
		if err != nil {
			p.logger.Error("consuming remote video", err, zap.String("call_id", rs.CallID()))
		}
	}()
}

// Frames is the number of frames reassembled since the plane was created.
func (p *VideoPlane) Frames() int64 { return p.frames.Load() }

func (p *VideoPlane) Bytes() int64 { return p.bytes.Load() }

// Close stops draining and waits for the reader to exit.
func (p *VideoPlane) Close() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
	p.wg.Wait()
}
