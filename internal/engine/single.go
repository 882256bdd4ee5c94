package engine

import (
	"context"
	"sync"
	"time"

	"github.com/tachyon-dl/tachyon-core/internal/events"
	"github.com/tachyon-dl/tachyon-core/internal/puller"
	"github.com/tachyon-dl/tachyon-core/internal/rangeset"
)

// SeqPusher is the narrow sink interface the single-stream engine writes
// through, satisfied by pusher.SeqPusher; Reset lets a retry restart the
// file from byte 0.
type SeqPusher interface {
	Push(r rangeset.Range, data []byte) error
	Reset() error
	Flush() error
	Finalize() error
}

// SingleOptions configures one run of the single-stream engine.
type SingleOptions struct {
	RetryGap    time.Duration
	RetryTimes  int
	PullTimeout time.Duration
}

// Single is the single-stream engine: a sequential pull for servers that do
// not support Range, retried from byte 0 on failure since there is no
// partial-resume contract without ranges.
type Single struct {
	puller *puller.Puller
	pusher SeqPusher
	opts   SingleOptions

	mu      sync.Mutex
	lastErr error
}

// NewSingle builds a single-stream engine.
func NewSingle(p *puller.Puller, push SeqPusher, opts SingleOptions) *Single {
	return &Single{puller: p, pusher: push, opts: opts}
}

// Err returns the error that ended the run, if any. Valid once the event
// channel returned by Run has closed.
func (s *Single) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Run starts the engine and returns its event stream, closed on
// completion, cancellation, or retry exhaustion.
func (s *Single) Run(ctx context.Context) <-chan events.Event {
	out := make(chan events.Event, 32)
	go func() {
		defer close(out)
		attempts := 0
		for {
			err := s.attempt(ctx, out)
			if err == nil {
				out <- events.Done(0)
				return
			}
			if ctx.Err() != nil {
				return
			}
			attempts++
			if attempts > s.opts.RetryTimes {
				s.mu.Lock()
				s.lastErr = err
				s.mu.Unlock()
				out <- events.PushErr(0, err)
				return
			}
			out <- events.PullErr(0, err)
			select {
			case <-time.After(s.opts.RetryGap):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (s *Single) attempt(ctx context.Context, out chan<- events.Event) error {
	if err := s.pusher.Reset(); err != nil {
		return err
	}
	out <- events.Pull(0)

	chunkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	activity := make(chan struct{}, 1)
	watchdogDone := make(chan struct{})
	if s.opts.PullTimeout > 0 {
		go func() {
			timer := time.NewTimer(s.opts.PullTimeout)
			defer timer.Stop()
			for {
				select {
				case <-watchdogDone:
					return
				case <-activity:
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(s.opts.PullTimeout)
				case <-timer.C:
					cancel()
					return
				}
			}
		}()
	}

	err := s.puller.PullSeq(chunkCtx, func(offset int64, data []byte) error {
		select {
		case activity <- struct{}{}:
		default:
		}
		end := offset + int64(len(data))
		out <- events.PullProg(0, rangeset.Range{Start: offset, End: end})
		if perr := s.pusher.Push(rangeset.Range{Start: offset, End: end}, data); perr != nil {
			return perr
		}
		out <- events.PushProg(0, rangeset.Range{Start: offset, End: end})
		return nil
	})
	close(watchdogDone)
	return err
}
