package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	receiver "github.com/bt-bridge/xr-receiver"
	"github.com/bt-bridge/xr-receiver/shared"
	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"go.uber.org/zap"
)

// Camera facing modes accepted in CameraConfig.Facing
const (
	FacingEnvironment = "environment"
	FacingUser        = "user"
)

var facingHints = map[string][]string{
	FacingEnvironment: {"back", "rear", "environment", "world"},
	FacingUser:        {"front", "user", "face"},
}

// PreferFacing picks the video input whose label matches facing, or the first
// video input when none does. ok is false when there is no video input at all.
func PreferFacing(devices []mediadevices.MediaDeviceInfo, facing string) (mediadevices.MediaDeviceInfo, bool) {
	var first *mediadevices.MediaDeviceInfo
	hints := facingHints[facing]
	for i := range devices {
		d := devices[i]
		if d.Kind != mediadevices.VideoInput {
			continue
		}
		if first == nil {
			first = &devices[i]
		}
		label := strings.ToLower(d.Label)
		for _, h := range hints {
			if strings.Contains(label, h) {
				return d, true
			}
		}
	}
	if first == nil {
		return mediadevices.MediaDeviceInfo{}, false
	}
	return *first, true
}

// CameraStream is a local capture bound to the fallback plane.
type CameraStream struct {
	id     string
	label  string
	tracks []mediadevices.Track

	once   sync.Once
	err    error
	closed atomic.Bool
}

var _ receiver.Stream = (*CameraStream)(nil)

func newCameraStream(label string, tracks []mediadevices.Track) *CameraStream {
	return &CameraStream{id: "camera-" + uuid.NewString(), label: label, tracks: tracks}
}

func (s *CameraStream) ID() string { return s.id }

func (s *CameraStream) Label() string { return s.label }

func (s *CameraStream) Tracks() []mediadevices.Track { return s.tracks }

// Close stops every track. Safe to call repeatedly.
func (s *CameraStream) Close() error {
	s.once.Do(func() {
		var errs []error
		for _, t := range s.tracks {
			if err := t.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.err = errors.Join(errs...)
		s.closed.Store(true)
	})
	return s.err
}

func (s *CameraStream) Closed() bool { return s.closed.Load() }

// Camera opens the local camera through pion/mediadevices.
type Camera struct {
	logger shared.LoggerAdapter
	cfg    shared.CameraConfig
	open   func(shared.CameraConfig) (*CameraStream, error)
}

var _ receiver.CameraSource = (*Camera)(nil)

func NewCamera(logger shared.LoggerAdapter, cfg shared.CameraConfig) (*Camera, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if cfg.Facing == "" {
		cfg.Facing = FacingEnvironment
	}
	if _, ok := facingHints[cfg.Facing]; !ok {
		return nil, fmt.Errorf("camera facing %q: want %s or %s", cfg.Facing, FacingEnvironment, FacingUser)
	}
	return &Camera{logger: logger, cfg: cfg, open: openCamera}, nil
}

// Acquire opens the camera. Device capture does not take a context, so a
// capture that completes after ctx is done is closed.
func (c *Camera) Acquire(ctx context.Context) (receiver.Stream, error) {
	type result struct {
		s   *CameraStream
		err error
	}
	resC := make(chan result, 1)
	go func() {
		s, err := c.open(c.cfg)
		resC <- result{s, err}
	}()
	select {
	case <-ctx.Done():
		go func() {
			if res := <-resC; res.s != nil {
				_ = res.s.Close()
			}
		}()
		return nil, fmt.Errorf("opening camera: %w", ctx.Err())
	case res := <-resC:
		if res.err != nil {
			return nil, fmt.Errorf("opening camera: %w", res.err)
		}
		c.logger.Info("camera opened", zap.String("stream_id", res.s.ID()), zap.String("label", res.s.Label()))
		return res.s, nil
	}
}
