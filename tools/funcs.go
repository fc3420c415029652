package tools

import "time"

// FrameDuration is the playback time of samples per-channel samples at rate.
func FrameDuration(samples, rate int) time.Duration {
	if rate <= 0 || samples <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(rate)
}
