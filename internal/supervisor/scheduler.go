package supervisor

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler gates Supervisor dispatch to a daily active window, built on
// robfig/cron/v3. A task whose StartAt falls outside the active window
// waits like any other future-scheduled job.
type Scheduler struct {
	mu     sync.RWMutex
	cron   *cron.Cron
	active bool

	startEntry cron.EntryID
	stopEntry  cron.EntryID

	logger   *slog.Logger
	onChange func(active bool)
}

// NewScheduler returns a Scheduler with no daily window configured, so it
// reports Active() == true until SetDailyWindow is called.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{cron: cron.New(), active: true, logger: logger}
}

// Start begins the underlying cron dispatcher.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the underlying cron dispatcher.
func (s *Scheduler) Stop() { s.cron.Stop() }

// Active reports whether downloads are currently allowed to run.
func (s *Scheduler) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetDailyWindow restricts dispatch to [startHour, stopHour) local time,
// both in [0,23]. onChange is invoked whenever the window opens or closes,
// so the caller (Supervisor) can re-run dispatch the moment it opens. The
// current time is not checked against the window: Active() keeps its
// present value until the next start or stop hour fires.
func (s *Scheduler) SetDailyWindow(startHour, stopHour int, onChange func(active bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.startEntry != 0 {
		s.cron.Remove(s.startEntry)
	}
	if s.stopEntry != 0 {
		s.cron.Remove(s.stopEntry)
	}
	s.onChange = onChange

	startID, err := s.cron.AddFunc(fmt.Sprintf("0 %d * * *", startHour), func() { s.setActive(true) })
	if err != nil {
		return fmt.Errorf("supervisor: scheduling start hour: %w", err)
	}
	stopID, err := s.cron.AddFunc(fmt.Sprintf("0 %d * * *", stopHour), func() { s.setActive(false) })
	if err != nil {
		s.cron.Remove(startID)
		return fmt.Errorf("supervisor: scheduling stop hour: %w", err)
	}
	s.startEntry, s.stopEntry = startID, stopID
	return nil
}

func (s *Scheduler) setActive(active bool) {
	s.mu.Lock()
	s.active = active
	cb := s.onChange
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("supervisor: daily window changed", "active", active)
	}
	if cb != nil {
		cb(active)
	}
}
