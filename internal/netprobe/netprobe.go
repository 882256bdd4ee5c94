// Package netprobe runs a best-effort, one-shot network speed test to
// seed the congestion controller's starting concurrency ceiling instead of
// always cold-starting at one worker.
package netprobe

import (
	"context"
	"log/slog"
	"time"

	"github.com/showwin/speedtest-go/speedtest"
)

// Result summarizes what the probe learned.
type Result struct {
	DownloadMbps float64
	SuggestedConcurrency int
}

// Probe runs a bounded-time speed test. It never returns an error to the
// caller: any failure just means "no hint available," logged at debug
// level, so a flaky or offline speedtest.net never blocks a download.
func Probe(ctx context.Context, logger *slog.Logger, timeout time.Duration) (Result, bool) {
	done := make(chan Result, 1)

	go func() {
		client := speedtest.New()
		servers, err := client.FetchServers()
		if err != nil || len(servers) == 0 {
			return
		}
		target := servers[0]
		if err := target.DownloadTest(); err != nil {
			return
		}
		mbps := target.DLSpeed.Mbps()
		done <- Result{
			DownloadMbps:         mbps,
			SuggestedConcurrency: suggestConcurrency(mbps),
		}
	}()

	select {
	case r := <-done:
		return r, true
	case <-time.After(timeout):
		logger.Debug("netprobe: speed test timed out, skipping concurrency hint")
		return Result{}, false
	case <-ctx.Done():
		return Result{}, false
	}
}

// suggestConcurrency maps a rough download speed to a starting worker
// count: more bandwidth tolerates starting with more parallel ranges
// without immediately tripping the congestion controller's error-based
// backoff.
func suggestConcurrency(mbps float64) int {
	switch {
	case mbps >= 500:
		return 16
	case mbps >= 100:
		return 8
	case mbps >= 25:
		return 4
	default:
		return 2
	}
}
