// Package scheduler triggers a job once a day at a fixed local wall-clock
// time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// State is where the trigger loop currently is.
type State int

const (
	Waiting State = iota
	Due
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Due:
		return "due"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Job is the work run at each trigger. It should return promptly once ctx
// is cancelled.
type Job func(ctx context.Context) error

// Scheduler runs a Job daily at hour:minute.
type Scheduler struct {
	hour   int
	minute int
	job    Job
	poll   time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	state State
	next  time.Time
	runs  int
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithPollInterval sets how often the loop checks whether the trigger is due.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.poll = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds a scheduler for a daily "HH:MM" trigger.
func New(at string, job Job, opts ...Option) (*Scheduler, error) {
	if job == nil {
		return nil, fmt.Errorf("scheduler: job is required")
	}
	hour, minute, err := ParseClock(at)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		hour:   hour,
		minute: minute,
		job:    job,
		poll:   60 * time.Second,
		now:    time.Now,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.next = NextRun(s.now(), hour, minute)
	return s, nil
}

// ParseClock parses a 24h "HH:MM" string.
func ParseClock(at string) (int, int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(at), ":")
	if !ok {
		return 0, 0, fmt.Errorf("scheduler: invalid time %q, want HH:MM", at)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("scheduler: invalid hour in %q", at)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 || len(m) != 2 {
		return 0, 0, fmt.Errorf("scheduler: invalid minute in %q", at)
	}
	return hour, minute, nil
}

// NextRun returns today at hour:minute in now's location if that is still
// ahead of now, otherwise the same time tomorrow.
func NextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// State reports the current loop state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Next reports when the job will run next.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Runs reports how many times the job has been started.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Run polls until ctx is done, running the job whenever the trigger is due.
// A failing job is logged and the loop keeps going.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		slog.String("at", fmt.Sprintf("%02d:%02d", s.hour, s.minute)),
		slog.Time("next_run", s.Next()),
		slog.Duration("poll", s.poll),
	)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		s.step(ctx)
		if s.State() == Stopped {
			s.logger.Info("scheduler stopped")
			return nil
		}

		select {
		case <-ctx.Done():
			s.setState(Stopped)
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// step advances the state machine by one poll.
func (s *Scheduler) step(ctx context.Context) {
	if ctx.Err() != nil {
		s.setState(Stopped)
		return
	}

	now := s.now()
	s.mu.Lock()
	if now.Before(s.next) {
		s.state = Waiting
		s.mu.Unlock()
		return
	}
	s.state = Due
	s.mu.Unlock()

	s.logger.Info("scheduled run due", slog.Time("scheduled_for", s.Next()))
	s.setState(Running)
	s.mu.Lock()
	s.runs++
	s.mu.Unlock()

	start := s.now()
	if err := s.job(ctx); err != nil {
		s.logger.Error("scheduled run failed", slog.Any("error", err))
	} else {
		s.logger.Info("scheduled run finished", slog.Duration("elapsed", s.now().Sub(start)))
	}

	if ctx.Err() != nil {
		s.setState(Stopped)
		return
	}

	s.mu.Lock()
	s.next = NextRun(s.now(), s.hour, s.minute)
	s.state = Waiting
	next := s.next
	s.mu.Unlock()
	s.logger.Info("next run scheduled", slog.Time("next_run", next))
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
