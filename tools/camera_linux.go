//go:build linux

package tools

import (
	"fmt"

	"github.com/bt-bridge/xr-receiver/shared"
	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
)

func openCamera(cfg shared.CameraConfig) (*CameraStream, error) {
	device, ok := PreferFacing(mediadevices.EnumerateDevices(), cfg.Facing)
	if !ok {
		return nil, shared.ErrCameraUnavailable
	}
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.DeviceID = prop.String(device.DeviceID)
			// Raw formats only, some MJPEG nodes produce malformed frames.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
			}
			if cfg.Width > 0 {
				c.Width = prop.IntRanged{Max: cfg.Width}
			}
			if cfg.Height > 0 {
				c.Height = prop.IntRanged{Max: cfg.Height}
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", shared.ErrCameraUnavailable, device.Label, err)
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, shared.ErrCameraUnavailable
	}
	return newCameraStream(device.Label, tracks), nil
}
