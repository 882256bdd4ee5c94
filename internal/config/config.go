// Package config holds the per-download configuration plus engine-wide
// settings.
package config

import "time"

// WriteMethod selects the pusher (C3) strategy.
type WriteMethod int

const (
	Mapped WriteMethod = iota
	Buffered
)

// Priority is a coarse scheduling/bandwidth-fairness hint.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// DownloadConfig is the immutable snapshot handed to an engine for the
// lifetime of one task run.
type DownloadConfig struct {
	Threads      int
	Proxy        string
	Headers      map[string]string
	MinChunkSize int64

	WriteBufferSize int
	WriteQueueCap   int
	WriteMethod     WriteMethod

	RetryGap   time.Duration
	RetryTimes int

	PullTimeout     time.Duration
	ChunkWindow     time.Duration
	MaxSpeculative  int
	AcceptInvalidCerts bool
	AcceptInvalidHostnames bool
	LocalAddresses []string

	// GlobalBandwidthLimit is bytes/sec across the whole engine; 0 means
	// unlimited.
	GlobalBandwidthLimit int
	Priority             Priority
}

// Default returns sane defaults for interactive use.
func Default() DownloadConfig {
	return DownloadConfig{
		Threads:                4,
		MinChunkSize:           1 << 20, // 1 MiB
		WriteBufferSize:        32 << 10,
		WriteQueueCap:          256,
		WriteMethod:            Mapped,
		RetryGap:               2 * time.Second,
		RetryTimes:             5,
		PullTimeout:            30 * time.Second,
		ChunkWindow:            2 * time.Second,
		MaxSpeculative:         2,
		GlobalBandwidthLimit:   0,
		Priority:               PriorityNormal,
	}
}
