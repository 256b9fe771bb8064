//go:build !linux

package tools

import "github.com/bt-bridge/xr-receiver/shared"

// Capture drivers are only wired for V4L2.
func openCamera(shared.CameraConfig) (*CameraStream, error) {
	return nil, shared.ErrCameraUnavailable
}
