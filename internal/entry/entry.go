// Package entry implements the task entry point: it composes prefetch into
// the single- or multi-range engine into the progress driver for one task
// run, owning that task's cancellation scope end to end — probe, resolve
// resume path, validate file identity, spawn workers, drain, verify, mark
// complete.
package entry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/tachyon-dl/tachyon-core/internal/config"
	"github.com/tachyon-dl/tachyon-core/internal/engine"
	"github.com/tachyon-dl/tachyon-core/internal/events"
	"github.com/tachyon-dl/tachyon-core/internal/filesystem"
	"github.com/tachyon-dl/tachyon-core/internal/network"
	"github.com/tachyon-dl/tachyon-core/internal/prefetch"
	"github.com/tachyon-dl/tachyon-core/internal/progress"
	"github.com/tachyon-dl/tachyon-core/internal/puller"
	"github.com/tachyon-dl/tachyon-core/internal/pusher"
	"github.com/tachyon-dl/tachyon-core/internal/rangeset"
	"github.com/tachyon-dl/tachyon-core/internal/taskstore"
	"github.com/tachyon-dl/tachyon-core/internal/verifier"
)

// Deps bundles the shared, long-lived collaborators a task run needs but
// does not own.
type Deps struct {
	Store      *taskstore.Store
	Allocator  *filesystem.Allocator
	Bandwidth  *network.BandwidthManager
	Congestion *network.CongestionController
	SaveDir    string
}

// Result is what RunTask returns once the task has reached a terminal
// state: completed, cancelled, or fatally errored.
type Result struct {
	RecordID  string
	Cancelled bool
	Err       error
}

// engineRunner is the narrow contract both engine.Multi and engine.Single
// satisfy, letting drive() stay engine-agnostic.
type engineRunner interface {
	Run(ctx context.Context) <-chan events.Event
	Err() error
}

// RunTask composes prefetch -> (single|multi) engine -> progress driver
// for one URL. prior, if non-nil, is the persisted record to attempt to
// resume from; RunTask creates a fresh record when prior is nil or its
// file identity no longer matches the server's. emit, if non-nil, receives
// throttled progress snapshots as the task runs.
func RunTask(ctx context.Context, rawURL string, cfg config.DownloadConfig, deps Deps, prior *taskstore.Record, emit func(progress.Snapshot)) Result {
	recordID := uuid.NewString()
	if prior != nil {
		recordID = prior.ID
	}

	select {
	case <-ctx.Done():
		return Result{RecordID: recordID, Cancelled: true}
	default:
	}

	pullerOpts := puller.Options{
		Headers:                cfg.Headers,
		Proxy:                  cfg.Proxy,
		AcceptInvalidCerts:     cfg.AcceptInvalidCerts,
		AcceptInvalidHostnames: cfg.AcceptInvalidHostnames,
		LocalAddresses:         cfg.LocalAddresses,
	}
	client, err := puller.NewHTTPClient(pullerOpts)
	if err != nil {
		return Result{RecordID: recordID, Err: fmt.Errorf("entry: building http client: %w", err)}
	}

	prober := prefetch.NewProber(cfg.Headers, client)
	info, warm, err := prefetch.Do(ctx, prober, rawURL, cfg.RetryTimes, cfg.RetryGap)
	if err != nil {
		if ctx.Err() != nil {
			return Result{RecordID: recordID, Cancelled: true}
		}
		return Result{RecordID: recordID, Err: err}
	}

	record, _ := resolveRecord(recordID, rawURL, info, prior, deps.SaveDir)
	if deps.Store != nil {
		record.Status = taskstore.StatusDownloading
		if err := deps.Store.Put(record); err != nil {
			return Result{RecordID: record.ID, Err: fmt.Errorf("entry: persisting record: %w", err)}
		}
	}

	p, err := puller.New(info.FinalURL, pullerOpts, info.FileID)
	if err != nil {
		return finish(deps, record, Result{RecordID: record.ID, Err: fmt.Errorf("entry: building puller: %w", err)})
	}
	if warm != nil {
		p = p.WithWarmResponse(warm)
	}

	result := runEngine(ctx, cfg, info, p, record, deps, emit)
	return finish(deps, record, result)
}

// resolveRecord decides whether to reuse or recreate the task record: a
// prior record is only trusted if its file still exists on disk and the
// server's file identity still matches what was persisted.
func resolveRecord(recordID, rawURL string, info prefetch.Info, prior *taskstore.Record, saveDir string) (*taskstore.Record, bool) {
	if prior != nil {
		if _, err := os.Stat(prior.FilePath); err == nil {
			persisted := puller.FileID{ETag: prior.ETag, LastModified: prior.LastModified}
			if persisted.Equal(info.FileID) {
				prior.FileSize = info.Size
				return prior, true
			}
		}
	}

	path := filesystem.UniquePath(saveDir, info.RawName)
	record := &taskstore.Record{
		ID:           recordID,
		URL:          rawURL,
		FileName:     filepath.Base(path),
		FilePath:     path,
		FileSize:     info.Size,
		ETag:         info.FileID.ETag,
		LastModified: info.FileID.LastModified,
		Status:       taskstore.StatusPending,
	}
	if prior != nil {
		record.Priority = prior.Priority
		record.Host = prior.Host
		record.ExpectedHash = prior.ExpectedHash
		record.HashAlgorithm = prior.HashAlgorithm
		record.SetHeaders(prior.Headers())
	}
	return record, false
}

// runEngine builds the puller/pusher pair and branches to the single- or
// multi-range engine depending on info.FastDownload.
func runEngine(ctx context.Context, cfg config.DownloadConfig, info prefetch.Info, p *puller.Puller, record *taskstore.Record, deps Deps, emit func(progress.Snapshot)) Result {
	resumed := rangeset.NewSet(record.Progress()...)
	host := hostOf(info.FinalURL)

	if !info.FastDownload {
		seqPush, err := pusher.NewSeq(record.FilePath)
		if err != nil {
			return Result{RecordID: record.ID, Err: fmt.Errorf("entry: opening sequential file: %w", err)}
		}
		single := engine.NewSingle(p, seqPush, engine.SingleOptions{
			RetryGap:    cfg.RetryGap,
			RetryTimes:  cfg.RetryTimes,
			PullTimeout: cfg.PullTimeout,
		})
		driver, runErr := drive(ctx, single, info.Size, rangeset.NewSet(), record, deps, emit)
		record.SetProgress(driver.Covered())
		if ferr := seqPush.Finalize(); ferr != nil && runErr == nil {
			runErr = ferr
		}
		return conclude(ctx, record, runErr)
	}

	// Preflight and sparse-pre-extend before the random-access pusher is
	// constructed, so writes at arbitrary offsets never extend the file.
	alloc := deps.Allocator
	if alloc == nil {
		alloc = filesystem.NewAllocator()
	}
	if err := alloc.Allocate(record.FilePath, info.Size); err != nil {
		return Result{RecordID: record.ID, Err: err}
	}

	push, err := buildRandomPusher(cfg, record.FilePath, info.Size)
	if err != nil {
		return Result{RecordID: record.ID, Err: fmt.Errorf("entry: opening random-access file: %w", err)}
	}

	multiOpts := engine.MultiOptions{
		DownloadChunks: resumed.Invert(info.Size, cfg.MinChunkSize),
		Concurrent:     cfg.Threads,
		MinChunkSize:   cfg.MinChunkSize,
		RetryGap:       cfg.RetryGap,
		RetryTimes:     cfg.RetryTimes,
		PullTimeout:    cfg.PullTimeout,
		ChunkWindow:    cfg.ChunkWindow,
		MaxSpeculative: cfg.MaxSpeculative,
		Host:           host,
	}
	multi := engine.NewMulti(p, push, multiOpts, deps.Bandwidth, deps.Congestion, record.ID)
	driver, runErr := drive(ctx, multi, info.Size, resumed, record, deps, emit)
	record.SetProgress(driver.Covered())

	var dropped *engine.RangeDroppedFatalError
	if errors.As(runErr, &dropped) && dropped.AtStart {
		_ = push.Finalize()
		return runEngine(ctx, cfg, forceNoRange(info), p, record, deps, emit)
	}

	if ferr := push.Finalize(); ferr != nil && runErr == nil {
		runErr = ferr
	}
	return conclude(ctx, record, runErr)
}

// forceNoRange returns info with FastDownload cleared, used to re-enter
// runEngine on the single-stream downgrade path after a worker-0-at-start
// RangeDropped.
func forceNoRange(info prefetch.Info) prefetch.Info {
	info.FastDownload = false
	info.SupportsRange = false
	return info
}

// buildRandomPusher selects the random-access pusher variant per the
// task's WriteMethod.
func buildRandomPusher(cfg config.DownloadConfig, path string, size int64) (engine.Pusher, error) {
	if cfg.WriteMethod == config.Mapped {
		return pusher.NewMapped(path, size, cfg.WriteQueueCap)
	}
	return pusher.NewBuffered(path, size, cfg.WriteQueueCap)
}

// drive runs one engine to completion, persisting progress and elapsed
// time through deps' store (if any) at every throttled snapshot.
func drive(ctx context.Context, eng engineRunner, total int64, resumed *rangeset.Set, record *taskstore.Record, deps Deps, emit func(progress.Snapshot)) (*progress.Driver, error) {
	driver := progress.New(total, resumed, record.Elapsed())
	ch := eng.Run(ctx)
	driver.Consume(ch, func(snap progress.Snapshot) {
		if deps.Store != nil {
			record.SetProgress(driver.Covered())
			record.SetElapsed(driver.Elapsed())
			_ = deps.Store.Put(record)
		}
		if emit != nil {
			emit(snap)
		}
	})
	record.SetElapsed(driver.Elapsed())
	return driver, eng.Err()
}

// conclude turns one engine run's outcome into a Result, running the
// opt-in content-verification hook only on a clean, non-cancelled
// completion.
func conclude(ctx context.Context, record *taskstore.Record, runErr error) Result {
	if ctx.Err() != nil {
		return Result{RecordID: record.ID, Cancelled: true}
	}
	if runErr != nil {
		return Result{RecordID: record.ID, Err: runErr}
	}
	if record.ExpectedHash != "" {
		if err := verifier.Verify(record.FilePath, record.HashAlgorithm, record.ExpectedHash); err != nil {
			return Result{RecordID: record.ID, Err: err}
		}
	}
	return Result{RecordID: record.ID}
}

func finish(deps Deps, record *taskstore.Record, result Result) Result {
	if deps.Store == nil || record == nil {
		return result
	}
	switch {
	case result.Cancelled:
		record.Status = taskstore.StatusPaused
	case result.Err != nil:
		record.Status = taskstore.StatusError
		record.LastErr = result.Err.Error()
	default:
		record.Status = taskstore.StatusCompleted
	}
	_ = deps.Store.Put(record)
	return result
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}
