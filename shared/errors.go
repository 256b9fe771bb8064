package shared

import "errors"

var (
	ErrNoLogger             = errors.New("no logger provided")
	ErrNoConfig             = errors.New("no config provided")
	ErrNoSurface            = errors.New("no display surface provided")
	ErrNoReporter           = errors.New("no status reporter provided")
	ErrSignalingUnavailable = errors.New("signaling library unavailable")
	ErrSignalingClosed      = errors.New("signaling channel closed")
	ErrSignalingNotOpen     = errors.New("signaling channel not open")
	ErrIdentityAssigned     = errors.New("identity already assigned")
	ErrCameraUnavailable    = errors.New("camera unavailable")
	ErrCallBusy             = errors.New("another call is active")
	ErrUnsupportedCodec     = errors.New("unsupported codec")
	ErrManagerClosed        = errors.New("session manager closed")
)
