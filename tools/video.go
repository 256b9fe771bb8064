package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bt-bridge/xr-receiver/shared"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
	"go.uber.org/zap"
)

const (
	maxLatePackets = 128
	videoClockRate = 90000
	statsLogPeriod = 5 * time.Second
)

// RTPReader is the read side of a remote track.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// DepacketizerFor returns the depacketizer for a video codec mime type.
func DepacketizerFor(mimeType string) (rtp.Depacketizer, error) {
	switch {
	case strings.EqualFold(mimeType, webrtc.MimeTypeVP8):
		return &codecs.VP8Packet{}, nil
	case strings.EqualFold(mimeType, webrtc.MimeTypeVP9):
		return &codecs.VP9Packet{}, nil
	case strings.EqualFold(mimeType, webrtc.MimeTypeH264):
		return &codecs.H264Packet{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", shared.ErrUnsupportedCodec, mimeType)
	}
}

// ConsumeRemoteVideo reassembles frames from a remote video track until the
// track ends or ctx is done.
func ConsumeRemoteVideo(ctx context.Context, logger shared.LoggerAdapter, track *webrtc.TrackRemote, onFrame func(media.Sample)) error {
	codec := track.Codec()
	clockRate := codec.ClockRate
	if clockRate == 0 {
		clockRate = videoClockRate
	}
	stop := context.AfterFunc(ctx, func() {
		_ = track.SetReadDeadline(time.Now())
	})
	defer stop()
	err := ReadFrames(ctx, logger, track, codec.MimeType, clockRate, onFrame)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// ReadFrames pushes packets from r through a sample builder and hands every
// complete frame to onFrame. io.EOF ends the stream cleanly.
func ReadFrames(ctx context.Context, logger shared.LoggerAdapter, r RTPReader, mimeType string, clockRate uint32, onFrame func(media.Sample)) error {
	depacketizer, err := DepacketizerFor(mimeType)
	if err != nil {
		return err
	}
	sb := samplebuilder.New(maxLatePackets, depacketizer, clockRate)

	var (
		frames, bytes int
		started       = time.Now()
		lastLog       = started
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		pkt, _, err := r.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Debug("remote video ended", zap.Int("frames", frames))
				return nil
			}
			return fmt.Errorf("reading rtp: %w", err)
		}
		sb.Push(pkt)
		for s := sb.Pop(); s != nil; s = sb.Pop() {
			frames++
			bytes += len(s.Data)
			onFrame(*s)
		}
		if now := time.Now(); now.Sub(lastLog) >= statsLogPeriod {
			elapsed := now.Sub(started)
			logger.Trace(
				"remote video",
				zap.Int("frames", frames),
				zap.Float64("fps", FrameRate(frames, elapsed)),
				zap.Float64("bps", Bitrate(bytes, elapsed)),
			)
			lastLog = now
		}
	}
}
