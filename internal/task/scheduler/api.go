package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"repeatjob/internal/eventbus"
	"repeatjob/internal/task/timer"
	logx "repeatjob/pkg/logx"
)

// AddJob registers job id to fire at start and then every interval.
// A start in the past fires immediately.
//
// Re-adding a registered id fails with ErrDuplicateJob; use ReplaceJob to
// supersede a running job.
func (s *Service) AddJob(id JobID, start time.Time, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("job %d: %w", id, ErrInvalidInterval)
	}
	spec := fmt.Sprintf("@every %s", interval)
	return s.add(id, start, timer.Every(start, interval), spec, interval, false)
}

// AddSchedule registers job id with a schedule string: a cron expression
// ("*/5 * * * *", "@hourly", "@every 90s"), a Go duration ("3s") or an HH:MM
// interval. Cron schedules use the configured timezone.
func (s *Service) AddSchedule(id JobID, schedule string) error {
	s.mu.Lock()
	loc := s.loc
	s.mu.Unlock()
	if loc == nil {
		loc = time.Local
	}

	now := time.Now()
	ps, err := timer.ParseSchedule(schedule, now, loc)
	if err != nil {
		return fmt.Errorf("job %d: %w", id, err)
	}
	first := ps.Schedule.Next(now)
	if first.IsZero() {
		return fmt.Errorf("job %d: schedule %q never fires", id, schedule)
	}
	return s.add(id, first, ps.Schedule, schedule, ps.Every, false)
}

// ReplaceJob stops and joins the timer registered under id (if any) and
// installs a new one in its place. Instance numbering restarts at 1.
func (s *Service) ReplaceJob(ctx context.Context, id JobID, start time.Time, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("job %d: %w", id, ErrInvalidInterval)
	}
	if err := s.RemoveJob(ctx, id); err != nil && !isNotFound(err) {
		return err
	}
	spec := fmt.Sprintf("@every %s", interval)
	return s.add(id, start, timer.Every(start, interval), spec, interval, true)
}

func (s *Service) add(id JobID, first time.Time, sched cron.Schedule, spec string, interval time.Duration, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.stopped:
		return fmt.Errorf("job %d: %w", id, ErrStopped)
	case s.sup == nil:
		return fmt.Errorf("job %d: %w", id, ErrNotStarted)
	}
	if _, ok := s.jobs[id]; ok {
		// ReplaceJob lost a race with another AddJob for the same id.
		return fmt.Errorf("job %d: %w", id, ErrDuplicateJob)
	}

	t := timer.New(
		timer.Config{JobID: id, First: first, Schedule: sched},
		s.q,
		s.log.With(logx.String("comp", "timer")),
		s.bus,
		s.m,
	)
	now := time.Now()
	s.jobs[id] = &job{t: t, spec: spec, start: first, interval: interval, addedAt: now}
	t.Start(s.sup.Context(), s.sup)
	s.m.SetActiveJobs(len(s.jobs))

	s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobAdded, Time: now, Data: id})
	s.log.Info("job added",
		logx.Int("job", int(id)),
		logx.String("spec", spec),
		logx.Time("first", first),
		logx.Bool("replace", replace),
	)
	return nil
}

// RemoveJob cancels job id and waits (up to Config.StopGrace, or ctx) for
// its timer goroutine to exit. Once it returns nil no further event for the
// job will be enqueued; events already queued are still dispatched.
//
// An unknown id fails with ErrJobNotFound and changes nothing.
func (s *Service) RemoveJob(ctx context.Context, id JobID) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %d: %w", id, ErrJobNotFound)
	}
	delete(s.jobs, id)
	n := len(s.jobs)
	grace := s.cfg.StopGrace
	s.mu.Unlock()

	s.m.SetActiveJobs(n)

	stopCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	err := j.t.Stop(stopCtx)

	s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobRemoved, Data: id})
	if err != nil {
		s.log.Error("job timer did not stop", logx.Int("job", int(id)), logx.Err(err))
		return err
	}
	s.log.Info("job removed", logx.Int("job", int(id)), logx.Uint64("instances", j.t.Instances()))
	return nil
}

// Jobs returns the registered ids in ascending order.
func (s *Service) Jobs() []JobID {
	s.mu.Lock()
	ids := make([]JobID, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}
