package network

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBandwidthManagerDisabledByDefault(t *testing.T) {
	bm := NewBandwidthManager()
	start := time.Now()
	require.NoError(t, bm.Wait(context.Background(), "task", 10<<20))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestBandwidthManagerEnforcesLimitOnceSet(t *testing.T) {
	bm := NewBandwidthManager()
	bm.SetLimit(1024) // 1KB/s, tiny burst

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, bm.Wait(ctx, "task", 1024))
	require.NoError(t, bm.Wait(ctx, "task", 1024))
	require.Greater(t, time.Since(start), 100*time.Millisecond)
}

func TestBandwidthManagerSetLimitZeroDisables(t *testing.T) {
	bm := NewBandwidthManager()
	bm.SetLimit(1)
	bm.SetLimit(0)

	start := time.Now()
	require.NoError(t, bm.Wait(context.Background(), "task", 10<<20))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestBandwidthManagerClearTaskDropsPriority(t *testing.T) {
	bm := NewBandwidthManager()
	bm.SetTaskPriority("task", 0)
	bm.ClearTask("task")

	bm.mu.RLock()
	_, ok := bm.priorities["task"]
	bm.mu.RUnlock()
	require.False(t, ok)
}
