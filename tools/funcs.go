package tools

import "time"

// FrameRate is the average rate of frames received over elapsed.
func FrameRate(frames int, elapsed time.Duration) float64 {
	if frames <= 0 || elapsed <= 0 {
		return 0
	}
	return float64(frames) / elapsed.Seconds()
}

// Bitrate is bytes received over elapsed, in bits per second.
func Bitrate(bytes int, elapsed time.Duration) float64 {
	if bytes <= 0 || elapsed <= 0 {
		return 0
	}
	return float64(bytes) * 8 / elapsed.Seconds()
}
