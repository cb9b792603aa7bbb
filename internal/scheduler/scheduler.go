// Package scheduler owns the periodic jobs: the monitor and notifier
// intervals plus the nightly cleanup and expire-positions crons. Every job
// runs with at-most-one instance in flight; fires that land while the
// previous run is still going are coalesced into a skip.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// JobFunc is one job body. Errors are logged, not fatal.
type JobFunc func(ctx context.Context) error

// JobStatus is the introspection snapshot for one job.
type JobStatus struct {
	Name      string    `json:"name"`
	Paused    bool      `json:"paused"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
	Runs      int       `json:"runs"`
	Skips     int       `json:"skips"`
}

type job struct {
	name string
	fn   JobFunc

	// interval jobs fire every interval; daily jobs fire at hour:minute
	// in loc.
	interval time.Duration
	atHour   int
	atMinute int
	daily    bool

	mu      sync.Mutex
	running bool
	paused  bool
	lastRun time.Time
	lastErr string
	nextRun time.Time
	runs    int
	skips   int
}

// Scheduler drives registered jobs until its context is cancelled.
type Scheduler struct {
	logger *logrus.Logger
	loc    *time.Location

	mu   sync.Mutex
	jobs map[string]*job
	wg   sync.WaitGroup
}

// New creates an empty scheduler. loc anchors the daily cron times.
func New(logger *logrus.Logger, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		logger: logger,
		loc:    loc,
		jobs:   make(map[string]*job),
	}
}

// AddIntervalJob registers a job fired every interval.
func (s *Scheduler) AddIntervalJob(name string, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	return s.add(&job{name: name, fn: fn, interval: interval})
}

// AddDailyJob registers a job fired once a day at hour:minute local time.
func (s *Scheduler) AddDailyJob(name string, hour, minute int, fn JobFunc) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("job %s: invalid time %02d:%02d", name, hour, minute)
	}
	return s.add(&job{name: name, fn: fn, daily: true, atHour: hour, atMinute: minute})
}

func (s *Scheduler) add(j *job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[j.name]; exists {
		return fmt.Errorf("job %s already registered", j.name)
	}
	s.jobs[j.name] = j
	return nil
}

// Start launches one goroutine per job and returns. Use Wait to block until
// every job loop exits after ctx cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.runLoop(ctx, j)
	}
	s.logger.WithField("jobs", len(s.jobs)).Info("Scheduler started")
}

// Wait blocks until all job loops have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, j *job) {
	defer s.wg.Done()

	for {
		delay := j.untilNext(s.loc)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.fire(ctx, j)
	}
}

// fire runs the job body once unless it is paused or still running from a
// previous fire (coalesce).
func (s *Scheduler) fire(ctx context.Context, j *job) {
	j.mu.Lock()
	if j.paused {
		j.mu.Unlock()
		return
	}
	if j.running {
		j.skips++
		j.mu.Unlock()
		s.logger.WithField("job", j.name).Warn("Previous run still in flight, coalescing")
		return
	}
	j.running = true
	j.mu.Unlock()

	start := time.Now()
	err := j.fn(ctx)

	j.mu.Lock()
	j.running = false
	j.lastRun = start
	j.runs++
	if err != nil {
		j.lastErr = err.Error()
	} else {
		j.lastErr = ""
	}
	j.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		s.logger.WithError(err).WithField("job", j.name).Error("Job failed")
	}
}

// untilNext computes the delay to the job's next fire and records it.
func (j *job) untilNext(loc *time.Location) time.Duration {
	now := time.Now()
	var next time.Time
	if j.daily {
		local := now.In(loc)
		next = time.Date(local.Year(), local.Month(), local.Day(),
			j.atHour, j.atMinute, 0, 0, loc)
		if !next.After(local) {
			next = next.AddDate(0, 0, 1)
		}
	} else {
		next = now.Add(j.interval)
	}

	j.mu.Lock()
	j.nextRun = next
	j.mu.Unlock()
	return time.Until(next)
}

// Trigger runs a job immediately, subject to the same single-instance and
// pause gates as a scheduled fire.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	j, err := s.get(name)
	if err != nil {
		return err
	}
	s.fire(ctx, j)
	return nil
}

// Pause stops future fires of a job; an in-flight run completes.
func (s *Scheduler) Pause(name string) error {
	j, err := s.get(name)
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.paused = true
	j.mu.Unlock()
	s.logger.WithField("job", name).Info("Job paused")
	return nil
}

// Resume re-enables a paused job.
func (s *Scheduler) Resume(name string) error {
	j, err := s.get(name)
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.paused = false
	j.mu.Unlock()
	s.logger.WithField("job", name).Info("Job resumed")
	return nil
}

// Status snapshots every job, keyed by name.
func (s *Scheduler) Status() map[string]JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]JobStatus, len(s.jobs))
	for name, j := range s.jobs {
		j.mu.Lock()
		out[name] = JobStatus{
			Name:      name,
			Paused:    j.paused,
			Running:   j.running,
			LastRun:   j.lastRun,
			LastError: j.lastErr,
			NextRun:   j.nextRun,
			Runs:      j.runs,
			Skips:     j.skips,
		}
		j.mu.Unlock()
	}
	return out
}

func (s *Scheduler) get(name string) (*job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("unknown job %s", name)
	}
	return j, nil
}
