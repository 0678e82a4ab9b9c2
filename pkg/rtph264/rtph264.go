// Package rtph264 contains a RTP/H264 encoder for frames.
package rtph264

const (
	// ClockRate is the clock rate of H264 RTP timestamps.
	ClockRate = 90000
)
