package receiver

import (
	"context"
	"time"

	"github.com/bt-bridge/xr-receiver/shared"
	"go.uber.org/zap"
)

const defaultAcquireTimeout = 10 * time.Second

// CameraSource opens the local camera. Implementations should prefer an
// environment-facing device.
type CameraSource interface {
	Acquire(ctx context.Context) (Stream, error)
}

// FallbackCamera keeps the local passthrough stream bound to the fallback
// plane. It is driven from the manager loop only; the acquisition itself runs
// on its own goroutine and reports back through deliver.
//
// Every Acquire and Release bumps a generation counter, so a result that
// arrives after the fallback was released is closed instead of bound.
type FallbackCamera struct {
	logger  shared.LoggerAdapter
	source  CameraSource
	plane   Surface
	timeout time.Duration

	gen     uint64
	pending bool
	stream  Stream
}

func NewFallbackCamera(logger shared.LoggerAdapter, source CameraSource, plane Surface, timeout time.Duration) *FallbackCamera {
	if timeout <= 0 {
		timeout = defaultAcquireTimeout
	}
	return &FallbackCamera{
		logger:  logger,
		source:  source,
		plane:   plane,
		timeout: timeout,
	}
}

func (f *FallbackCamera) Active() bool { return f.stream != nil }

func (f *FallbackCamera) Pending() bool { return f.pending }

// Acquire starts an acquisition unless one is active or in flight. deliver
// reports whether the manager accepted the result.
func (f *FallbackCamera) Acquire(ctx context.Context, deliver func(Event) bool) bool {
	if f.source == nil {
		f.logger.Info("no camera source, fallback disabled")
		return false
	}
	if f.stream != nil || f.pending {
		return false
	}
	f.gen++
	gen := f.gen
	f.pending = true
	timeout := f.timeout
	source := f.source
	go func() {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		s, err := source.Acquire(ctx)
		if err != nil {
			deliver(Event{Type: EventTypeFallbackFailed, Err: err, gen: gen})
			return
		}
		if !deliver(Event{Type: EventTypeFallbackAcquired, Stream: s, gen: gen}) {
			_ = s.Close()
		}
	}()
	return true
}

// Settle applies an acquisition result and reports whether the fallback is
// now active.
func (f *FallbackCamera) Settle(ev Event) bool {
	if ev.gen != f.gen || !f.pending {
		f.logger.Debug("discarding stale camera result", zap.Uint64("gen", ev.gen), zap.Uint64("current", f.gen))
		if ev.Stream != nil {
			if err := ev.Stream.Close(); err != nil {
				f.logger.Error("closing stale camera stream", err)
			}
		}
		return f.Active()
	}
	f.pending = false
	if ev.Type == EventTypeFallbackFailed {
		f.logger.Warn("no local camera, hiding fallback", zap.Error(ev.Err))
		return false
	}
	f.stream = ev.Stream
	f.plane.Bind(f.stream)
	f.logger.Info("local camera fallback active", zap.String("stream_id", f.stream.ID()))
	return true
}

// Release detaches and stops the local stream. It also invalidates any
// acquisition still in flight. Safe to call repeatedly.
func (f *FallbackCamera) Release() {
	f.gen++
	f.pending = false
	if f.stream == nil {
		return
	}
	s := f.stream
	f.stream = nil
	f.plane.Bind(nil)
	if err := s.Close(); err != nil {
		f.logger.Error("closing camera stream", err)
	}
	f.logger.Info("local camera fallback released", zap.String("stream_id", s.ID()))
}
