// Package network provides global bandwidth pacing and per-host AIMD
// congestion control for the multi-range engine.
package network

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// BandwidthManager throttles aggregate throughput across all tasks with
// zero overhead when disabled, and gives Low-priority tasks a small yield
// delay so Normal/High priority tasks get first pick of the token bucket.
type BandwidthManager struct {
	limiter      *rate.Limiter
	enabled      atomic.Bool
	mu           sync.RWMutex
	priorities   map[string]int
}

// NewBandwidthManager returns a manager with no limit configured.
func NewBandwidthManager() *BandwidthManager {
	return &BandwidthManager{
		limiter:    rate.NewLimiter(rate.Inf, 0),
		priorities: make(map[string]int),
	}
}

// SetLimit sets the global ceiling in bytes/sec; 0 disables limiting.
func (bm *BandwidthManager) SetLimit(bytesPerSec int) {
	if bytesPerSec <= 0 {
		bm.enabled.Store(false)
		bm.limiter.SetLimit(rate.Inf)
		return
	}
	bm.enabled.Store(true)
	bm.limiter.SetLimit(rate.Limit(bytesPerSec))
	bm.limiter.SetBurst(bytesPerSec)
}

// SetTaskPriority records the priority tier (0=Low,1=Normal,2=High) used
// to decide whether a task should yield after drawing tokens.
func (bm *BandwidthManager) SetTaskPriority(taskID string, priority int) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.priorities[taskID] = priority
}

// ClearTask drops a finished task's priority entry.
func (bm *BandwidthManager) ClearTask(taskID string) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	delete(bm.priorities, taskID)
}

// Wait blocks until n bytes may be consumed under the global limit,
// returning immediately if limiting is disabled.
func (bm *BandwidthManager) Wait(ctx context.Context, taskID string, n int) error {
	if !bm.enabled.Load() {
		return nil
	}
	if err := bm.limiter.WaitN(ctx, n); err != nil {
		return err
	}

	bm.mu.RLock()
	priority := bm.priorities[taskID]
	bm.mu.RUnlock()
	if priority == 0 { // Low
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}
