package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrJobRunning = errors.New("job is already running")
)

type entry struct {
	job      Job
	interval time.Duration
	// daily jobs fire once per date at hour:minute.
	daily       bool
	hour        int
	minute      int
	lastRunDate string
	running     atomic.Bool
}

// Scheduler runs each registered job on its own ticker.
type Scheduler struct {
	location      *time.Location
	checkInterval time.Duration
	now           func() time.Time
	logger        *zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(location *time.Location, logger *zerolog.Logger) *Scheduler {
	if location == nil {
		location = time.UTC
	}
	l := logger.With().Str("component", "lifecycle").Logger()
	return &Scheduler{
		location:      location,
		checkInterval: time.Minute,
		now:           time.Now,
		logger:        &l,
		entries:       make(map[string]*entry),
	}
}

// Every registers job to run each interval.
func (s *Scheduler) Every(job Job, interval time.Duration) {
	s.add(&entry{job: job, interval: interval})
}

// Daily registers job to run once a day at hour:minute in the scheduler's location.
func (s *Scheduler) Daily(job Job, hour, minute int) {
	s.add(&entry{job: job, interval: s.checkInterval, daily: true, hour: hour, minute: minute})
}

func (s *Scheduler) add(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.job.Name()] = e
}

// Jobs lists the registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start launches one loop per job. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	for _, e := range s.entries {
		s.wg.Add(1)
		go s.loop(ctx, e, s.stopCh)

		ev := s.logger.Info().Str("job", e.job.Name())
		if e.daily {
			ev = ev.Str("daily_time", fmt.Sprintf("%02d:%02d", e.hour, e.minute))
		} else {
			ev = ev.Dur("interval", e.interval)
		}
		ev.Msg("job scheduled")
	}
}

// Stop ends all loops and waits for runs in flight.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("lifecycle scheduler stopped")
}

// IsRunning returns whether the loops are running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, e *entry, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if e.daily && !s.dueToday(e) {
				continue
			}
			if _, err := s.run(ctx, e); err != nil && !errors.Is(err, ErrJobRunning) {
				s.logger.Error().Err(err).Str("job", e.job.Name()).Msg("job failed")
			}
		}
	}
}

// dueToday is the check-and-mark step for daily jobs.
func (s *Scheduler) dueToday(e *entry) bool {
	now := s.now().In(s.location)
	today := now.Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()
	if e.lastRunDate == today {
		return false
	}
	if now.Hour() != e.hour || now.Minute() != e.minute {
		return false
	}
	e.lastRunDate = today
	return true
}

// RunNow runs a job immediately and returns its report.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*Report, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	s.logger.Info().Str("job", name).Msg("manual job run triggered")
	return s.run(ctx, e)
}

func (s *Scheduler) run(ctx context.Context, e *entry) (*Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrJobRunning
	}
	defer e.running.Store(false)

	report, err := e.job.Run(ctx)
	if report != nil {
		s.logger.Info().
			Str("job", report.Job).
			Int("total", report.Total).
			Int("succeeded", report.Succeeded).
			Int("failed", report.Failed).
			Int("skipped", report.Skipped).
			Dur("duration", report.Duration).
			Msg("job finished")
	}
	return report, err
}

// DayBoundary returns the start of the scheduling day containing t. Hours before boundaryHour
// belong to the previous day.
func DayBoundary(t time.Time, loc *time.Location, boundaryHour int) time.Time {
	t = t.In(loc)
	b := time.Date(t.Year(), t.Month(), t.Day(), boundaryHour, 0, 0, 0, loc)
	if t.Before(b) {
		b = b.AddDate(0, 0, -1)
	}
	return b
}

// NextDayBoundary returns the first boundary strictly after t.
func NextDayBoundary(t time.Time, loc *time.Location, boundaryHour int) time.Time {
	return DayBoundary(t, loc, boundaryHour).AddDate(0, 0, 1)
}

// DailyTriggerTime is one minute before the boundary, so the closing run still falls on the
// day it closes.
func DailyTriggerTime(boundaryHour int) (hour, minute int) {
	if boundaryHour == 0 {
		return 23, 59
	}
	return boundaryHour - 1, 59
}
