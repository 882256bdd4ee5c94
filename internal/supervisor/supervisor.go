// Package supervisor implements a keyed, bounded-concurrency job set with
// per-task cancellation, FIFO promotion, host-limit gating and
// scheduled-start eligibility.
package supervisor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type job struct {
	key       string
	priority  int
	host      string
	startAt   time.Time
	createdAt time.Time
	run       func(ctx context.Context) error
}

type runningJob struct {
	host   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor dispatches at most Concurrency jobs at a time, at most
// HostLimit per distinct host, honoring each job's StartAt eligibility and
// the optional daily active window.
type Supervisor struct {
	logger *slog.Logger

	mu          sync.Mutex
	concurrency int
	hostLimit   int
	queue       []*job
	running     map[string]*runningJob
	hostCounts  map[string]int
	scheduler   *Scheduler
	stop        chan struct{}
}

// eligibilityPoll bounds how long a scheduled-start job can sit past its
// StartAt before dispatch notices it, since nothing else wakes dispatch
// purely from the passage of time.
const eligibilityPoll = 250 * time.Millisecond

// New builds a Supervisor. concurrency bounds total simultaneous jobs;
// hostLimit bounds simultaneous jobs per Job.Host (0 disables the
// per-host limit).
func New(logger *slog.Logger, concurrency, hostLimit int) *Supervisor {
	if concurrency < 1 {
		concurrency = 1
	}
	s := &Supervisor{
		logger:      logger,
		concurrency: concurrency,
		hostLimit:   hostLimit,
		running:     make(map[string]*runningJob),
		hostCounts:  make(map[string]int),
		scheduler:   NewScheduler(logger),
		stop:        make(chan struct{}),
	}
	s.scheduler.Start()
	go s.pollEligibility()
	return s
}

// pollEligibility periodically re-runs dispatch so a job whose StartAt has
// just passed, or a daily window that just opened, gets promoted without
// waiting for an unrelated Add/completion to trigger it.
func (s *Supervisor) pollEligibility() {
	ticker := time.NewTicker(eligibilityPoll)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.dispatch()
		}
	}
}

// Close stops the background eligibility poller and the daily-window
// scheduler. Running jobs are left untouched; call CancelAll first if they
// should be stopped too.
func (s *Supervisor) Close() {
	close(s.stop)
	s.scheduler.Stop()
}

// EnableDailyWindow restricts dispatch to [startHour, stopHour) local time,
// starting from the next start or stop hour boundary.
func (s *Supervisor) EnableDailyWindow(startHour, stopHour int) error {
	return s.scheduler.SetDailyWindow(startHour, stopHour, func(active bool) {
		if active {
			s.dispatch()
		}
	})
}

// SetConcurrency changes the dispatch ceiling and immediately tries to
// promote queued jobs if it increased.
func (s *Supervisor) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	s.concurrency = n
	s.mu.Unlock()
	s.dispatch()
}

// Add enqueues a keyed job. startAt is the zero time for immediate
// eligibility, or a future time for a scheduled start. Re-adding an
// existing key replaces it, cancelling the previous occupant first if it
// was already running.
func (s *Supervisor) Add(key string, priority int, host string, startAt time.Time, run func(ctx context.Context) error) {
	s.mu.Lock()
	s.removeQueued(key)
	s.cancelRunningLocked(key)
	j := &job{key: key, priority: priority, host: host, startAt: startAt, createdAt: time.Now(), run: run}
	s.insert(j)
	s.mu.Unlock()
	s.dispatch()
}

// cancelRunningLocked cancels and evicts key's running occupant, if any,
// so a replacement job can take its slot immediately instead of waiting
// for the old one's own cleanup to run. Caller holds the lock.
func (s *Supervisor) cancelRunningLocked(key string) {
	r, ok := s.running[key]
	if !ok {
		return
	}
	r.cancel()
	delete(s.running, key)
	s.hostCounts[r.host]--
	if s.hostCounts[r.host] <= 0 {
		delete(s.hostCounts, r.host)
	}
}

// removeQueued drops key from the pending queue, if present. Caller holds
// the lock.
func (s *Supervisor) removeQueued(key string) {
	for i, j := range s.queue {
		if j.key == key {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// insert keeps the queue ordered by priority (desc), then CreatedAt (asc,
// FIFO tie-break). Caller holds the lock.
func (s *Supervisor) insert(j *job) {
	idx := sort.Search(len(s.queue), func(i int) bool {
		other := s.queue[i]
		if other.priority != j.priority {
			return other.priority < j.priority
		}
		return other.createdAt.After(j.createdAt)
	})
	s.queue = append(s.queue, nil)
	copy(s.queue[idx+1:], s.queue[idx:])
	s.queue[idx] = j
}

// dispatch promotes as many eligible queued jobs as the concurrency and
// host-limit ceilings allow.
func (s *Supervisor) dispatch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.scheduler.Active() {
		return
	}

	for len(s.running) < s.concurrency {
		idx := s.nextEligible()
		if idx < 0 {
			return
		}
		j := s.queue[idx]
		s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
		s.start(j)
	}
}

// nextEligible returns the index of the highest-priority, oldest,
// currently-eligible queued job, or -1. Caller holds the lock.
func (s *Supervisor) nextEligible() int {
	now := time.Now()
	for i, j := range s.queue {
		if !j.startAt.IsZero() && j.startAt.After(now) {
			continue
		}
		if s.hostLimit > 0 && s.hostCounts[j.host] >= s.hostLimit {
			continue
		}
		return i
	}
	return -1
}

// start launches j in its own goroutine. Caller holds the lock.
func (s *Supervisor) start(j *job) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	rj := &runningJob{host: j.host, cancel: cancel, done: done}
	s.running[j.key] = rj
	s.hostCounts[j.host]++

	go func() {
		defer close(done)
		if err := j.run(ctx); err != nil && s.logger != nil {
			s.logger.Error("supervisor: job failed", "key", j.key, "error", err)
		}

		s.mu.Lock()
		// Only clean up if this goroutine's own entry is still the one
		// registered: Add may already have cancelled and evicted it to
		// make room for a same-key replacement.
		if s.running[j.key] == rj {
			delete(s.running, j.key)
			s.hostCounts[j.host]--
			if s.hostCounts[j.host] <= 0 {
				delete(s.hostCounts, j.host)
			}
		}
		s.mu.Unlock()

		s.dispatch()
	}()
}

// Cancel stops key if running, or removes it from the queue if not yet
// started. Reports whether key was found in either state.
func (s *Supervisor) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, j := range s.queue {
		if j.key == key {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}
	if r, ok := s.running[key]; ok {
		r.cancel()
		return true
	}
	return false
}

// CancelAll clears the queue and cancels every running job.
func (s *Supervisor) CancelAll() {
	s.mu.Lock()
	s.queue = nil
	for _, r := range s.running {
		r.cancel()
	}
	s.mu.Unlock()
}

// Join blocks until every currently-running job has returned. Jobs added
// concurrently with Join are not guaranteed to be waited on.
func (s *Supervisor) Join() {
	s.mu.Lock()
	dones := make([]chan struct{}, 0, len(s.running))
	for _, r := range s.running {
		dones = append(dones, r.done)
	}
	s.mu.Unlock()

	for _, d := range dones {
		<-d
	}
}

// Stats reports the current running and queued counts.
func (s *Supervisor) Stats() (running, queued int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running), len(s.queue)
}
