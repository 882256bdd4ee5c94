// Package progress implements the progress driver: it consumes one engine's
// event stream, maintains the on-disk coverage as a rangeset.Set, and
// derives an EWMA-smoothed speed/ETA for throttled UI emission.
package progress

import (
	"sync"
	"time"

	"github.com/tachyon-dl/tachyon-core/internal/events"
	"github.com/tachyon-dl/tachyon-core/internal/rangeset"
)

// emaAlpha is the smoothing factor for the speed EWMA.
const emaAlpha = 0.3

// emitInterval throttles Snapshot emission to at most once per second.
const emitInterval = time.Second

// Snapshot is one throttled progress update.
type Snapshot struct {
	Downloaded int64
	Total      int64
	SpeedBps   float64 // EWMA-smoothed instantaneous speed
	AvgBps     float64 // lifetime average speed
	ETA        time.Duration
	Done       bool
}

// Driver tracks one task's coverage and speed as engine events arrive.
type Driver struct {
	total        int64
	priorElapsed time.Duration

	mu         sync.Mutex
	covered    *rangeset.Set
	started    time.Time
	lastSample time.Time
	lastBytes  int64
	ema        float64
	haveEMA    bool
}

// New builds a Driver for a download of the given total size, seeded with
// any already-on-disk coverage and cumulative active time from a resumed
// task.
func New(total int64, resumed *rangeset.Set, priorElapsed time.Duration) *Driver {
	covered := rangeset.NewSet()
	if resumed != nil {
		for _, r := range resumed.Ranges() {
			covered.Merge(r)
		}
	}
	now := time.Now()
	return &Driver{
		total:        total,
		priorElapsed: priorElapsed,
		covered:      covered,
		started:      now,
		lastSample:   now,
		lastBytes:    covered.Total(),
	}
}

// Elapsed returns the cumulative active download time across this run and
// any prior runs it was resumed from.
func (d *Driver) Elapsed() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.priorElapsed + time.Since(d.started)
}

// Consume drains an engine's event channel, calling emit for every
// throttled Snapshot (at most once per second) until the channel closes,
// plus a final Snapshot with Done set once the channel is closed and all
// bytes have landed.
func (d *Driver) Consume(ch <-chan events.Event, emit func(Snapshot)) {
	ticker := time.NewTicker(emitInterval)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				emit(d.snapshot())
				return
			}
			d.apply(e)
		case <-ticker.C:
			emit(d.snapshot())
		}
	}
}

// apply folds one event into the driver's coverage/speed state.
func (d *Driver) apply(e events.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch e.Kind {
	case events.PushProgress:
		// A PushProgress carrying a range that starts at 0 signals the
		// single-stream engine restarting a retry from byte 0: clear
		// coverage so downloaded/ETA don't double-count the abandoned
		// attempt.
		if e.Range.Start == 0 {
			d.covered.Clear()
		}
		d.covered.Merge(e.Range)
	}
}

// snapshot computes the current Snapshot and advances the EWMA sampling
// window; safe to call from the ticker or the final drain.
func (d *Driver) snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	downloaded := d.covered.Total()
	elapsed := now.Sub(d.lastSample).Seconds()

	var instant float64
	if elapsed > 0 {
		instant = float64(downloaded-d.lastBytes) / elapsed
	}
	if !d.haveEMA {
		d.ema = instant
		d.haveEMA = true
	} else {
		d.ema = emaAlpha*instant + (1-emaAlpha)*d.ema
	}
	d.lastSample = now
	d.lastBytes = downloaded

	totalElapsed := now.Sub(d.started).Seconds()
	var avg float64
	if totalElapsed > 0 {
		avg = float64(downloaded) / totalElapsed
	}

	var eta time.Duration
	remaining := d.total - downloaded
	if d.ema > 0 && remaining > 0 {
		eta = time.Duration(float64(remaining)/d.ema) * time.Second
	}

	return Snapshot{
		Downloaded: downloaded,
		Total:      d.total,
		SpeedBps:   d.ema,
		AvgBps:     avg,
		ETA:        eta,
		Done:       d.total > 0 && downloaded >= d.total,
	}
}

// Covered returns a copy of the currently-known on-disk byte coverage, used
// by the task store to persist resumable progress.
func (d *Driver) Covered() []rangeset.Range {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.covered.Ranges()
}
