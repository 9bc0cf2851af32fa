// Package scheduler runs one recurring tutorial job per user.
//
// STATE MACHINE (per email):
//
//	absent ──SetSchedule──▶ active(cadence, language)
//	active ──SetSchedule──▶ active(new cadence, new language)   old job cancelled first
//	active ──CancelSchedule▶ absent
//	absent ──CancelSchedule▶ absent                              no-op
//
// WHY A SINGLE MUTEX?
// Replace must be atomic: "cancel the old job, install the new one" has to
// happen without another SetSchedule for the same email slipping in between,
// or two jobs would end up running for one user. One mutex over the whole
// table is enough at this scale; the lock is never held during a firing.
//
// Jobs live only in memory. The desired schedule is stored on the user
// record, and Rearm rebuilds the table from it at startup.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/code-inbox/internal/apperror"
	"github.com/sakif/code-inbox/internal/metrics"
	"github.com/sakif/code-inbox/internal/model"
)

// ErrStopped is returned by SetSchedule after Stop.
var ErrStopped = errors.New("scheduler: stopped")

// Sender delivers one tutorial.
type Sender interface {
	SendTutorial(ctx context.Context, to, language string) error
}

// Job describes an installed schedule.
type Job struct {
	ID        string
	Email     string
	Language  string
	Cadence   model.Cadence
	Interval  time.Duration
	StartedAt time.Time
}

// Options configures a Scheduler.
type Options struct {
	// FireTimeout bounds one firing (generation + send). Default 2m.
	FireTimeout time.Duration
	// Intervals overrides Cadence.Interval (tests use milliseconds).
	Intervals map[model.Cadence]time.Duration
}

type entry struct {
	job    Job
	cancel context.CancelFunc
}

// Scheduler owns the job table. The zero value is not usable; call New.
type Scheduler struct {
	sender Sender
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*entry
	stopped bool

	wg sync.WaitGroup
}

// New returns an empty scheduler that fires jobs through sender. A zero
// FireTimeout means two minutes.
func New(sender Sender, opts Options, logger *slog.Logger) *Scheduler {
	if opts.FireTimeout <= 0 {
		opts.FireTimeout = 2 * time.Minute
	}
	return &Scheduler{
		sender: sender,
		opts:   opts,
		logger: logger,
		jobs:   make(map[string]*entry),
	}
}

// SetSchedule installs (or replaces) the job for email.
func (s *Scheduler) SetSchedule(email, language string, cadence model.Cadence) (Job, error) {
	email = model.NormalizeEmail(email)
	if email == "" {
		return Job{}, apperror.ValidationFailed("email", "email is required")
	}
	cadence = cadence.OrDefault()
	interval := s.interval(cadence)
	if interval <= 0 {
		return Job{}, apperror.ValidationFailed("notification_schedule",
			fmt.Sprintf("unsupported schedule %q", cadence))
	}
	if language == "" {
		language = model.DefaultLanguage
	}

	job := Job{
		ID:        xid.New().String(),
		Email:     email,
		Language:  language,
		Cadence:   cadence,
		Interval:  interval,
		StartedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return Job{}, ErrStopped
	}

	replaced := false
	if old, ok := s.jobs[email]; ok {
		old.cancel()
		replaced = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.jobs[email] = &entry{job: job, cancel: cancel}
	metrics.ScheduledJobs.Set(float64(len(s.jobs)))

	s.wg.Add(1)
	go s.run(ctx, job)

	s.logger.Info("tutorial schedule installed",
		slog.String("email", email),
		slog.String("cadence", string(cadence)),
		slog.String("language", language),
		slog.String("job_id", job.ID),
		slog.Bool("replaced", replaced),
	)
	return job, nil
}

// CancelSchedule removes the job for email. It reports whether one existed.
func (s *Scheduler) CancelSchedule(email string) bool {
	email = model.NormalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[email]
	if !ok {
		return false
	}
	e.cancel()
	delete(s.jobs, email)
	metrics.ScheduledJobs.Set(float64(len(s.jobs)))

	s.logger.Info("tutorial schedule cancelled",
		slog.String("email", email),
		slog.String("job_id", e.job.ID),
	)
	return true
}

// Active returns the installed job for email.
func (s *Scheduler) Active(email string) (Job, bool) {
	email = model.NormalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[email]
	if !ok {
		return Job{}, false
	}
	return e.job, true
}

// Len is the number of installed jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Rearm installs jobs for the persisted schedules of users. Users without a
// recurring cadence are skipped. It returns the number of jobs installed.
func (s *Scheduler) Rearm(ctx context.Context, users []model.User) (int, error) {
	n := 0
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if u.Status != model.UserActive || !u.NotificationSchedule.Recurring() {
			continue
		}
		if _, err := s.SetSchedule(u.Email, u.Language(), u.NotificationSchedule); err != nil {
			if errors.Is(err, ErrStopped) {
				return n, err
			}
			s.logger.Warn("skipping unschedulable user",
				slog.String("email", u.Email),
				slog.String("error", err.Error()),
			)
			continue
		}
		n++
	}
	return n, nil
}

// Stop cancels every job and waits for in-flight firings to return, or for
// ctx to end. SetSchedule fails with ErrStopped afterwards.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	for email, e := range s.jobs {
		e.cancel()
		delete(s.jobs, email)
	}
	metrics.ScheduledJobs.Set(0)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: waiting for firings: %w", ctx.Err())
	}
}

func (s *Scheduler) interval(c model.Cadence) time.Duration {
	if d, ok := s.opts.Intervals[c]; ok {
		return d
	}
	return c.Interval()
}

// run is the goroutine behind one job. It exits when ctx is cancelled.
func (s *Scheduler) run(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A cancel racing with the tick must win.
			if ctx.Err() != nil {
				return
			}
			s.fire(ctx, job)
		}
	}
}

// fire runs one delivery. Failures and panics are logged and counted; the
// job stays installed either way.
func (s *Scheduler) fire(parent context.Context, job Job) {
	ctx, cancel := context.WithTimeout(parent, s.opts.FireTimeout)
	defer cancel()

	start := time.Now()
	err := s.safeSend(ctx, job)
	metrics.TutorialFiringsTotal.WithLabelValues(metrics.Result(err)).Inc()

	if err != nil {
		s.logger.Error("tutorial firing failed",
			slog.String("email", job.Email),
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Debug("tutorial firing done",
		slog.String("email", job.Email),
		slog.String("job_id", job.ID),
		slog.Duration("took", time.Since(start)),
	)
}

func (s *Scheduler) safeSend(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: panic in firing: %v", r)
		}
	}()
	return s.sender.SendTutorial(ctx, job.Email, job.Language)
}
