package app

import (
	"context"
	"time"

	"repeatjob/internal/task/scheduler"
	logx "repeatjob/pkg/logx"
)

// runPlan adds jobs 0..n-1 insert_interval apart, lets them run until
// full_run_time after the first addition, then removes them insert_interval
// apart.
func (a *App) runPlan(ctx context.Context) error {
	p := a.plan
	a.log.Info("plan",
		logx.Int("jobs", p.JobNum),
		logx.Duration("insert_interval", p.InsertInterval),
		logx.Duration("launch_delay", p.LaunchDelay),
		logx.Duration("launch_interval", p.LaunchInterval),
		logx.Duration("full_run_time", p.FullRunTime),
	)

	var firstAdd time.Time
	for k := 0; k < p.JobNum; k++ {
		if k > 0 {
			if err := sleepCtx(ctx, p.InsertInterval); err != nil {
				return err
			}
		}
		now := time.Now()
		if k == 0 {
			firstAdd = now
		}
		if err := a.sched.AddJob(scheduler.JobID(k), now.Add(p.LaunchDelay), p.LaunchInterval); err != nil {
			return err
		}
	}
	if firstAdd.IsZero() {
		firstAdd = time.Now()
	}

	if err := sleepCtx(ctx, time.Until(firstAdd.Add(p.FullRunTime))); err != nil {
		return err
	}

	for k := 0; k < p.JobNum; k++ {
		if k > 0 {
			if err := sleepCtx(ctx, p.InsertInterval); err != nil {
				return err
			}
		}
		if err := a.sched.RemoveJob(ctx, scheduler.JobID(k)); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
