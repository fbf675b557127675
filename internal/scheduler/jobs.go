package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/pauljones0/ticker-monitor/internal/config"
	"github.com/pauljones0/ticker-monitor/internal/processor"
)

// LifecycleJobs builds the harvest, check, analyze and report jobs in priority order.
func LifecycleJobs(p *processor.Processor, cfg *config.Config) ([]Job, error) {
	sc := cfg.Schedule
	jobs := []Job{
		{
			Name:            "harvest",
			Interval:        sc.HarvestInterval,
			FailureCooldown: sc.FailureCooldown,
			Run: func(ctx context.Context, store processor.ThreadStore) error {
				_, err := p.Harvest(ctx, store)
				return err
			},
		},
		{
			Name:            "check",
			Interval:        sc.CheckInterval,
			FailureCooldown: sc.FailureCooldown,
			Run: func(ctx context.Context, store processor.ThreadStore) error {
				_, err := p.CheckRemovals(ctx, store)
				return err
			},
		},
		{
			Name:            "analyze",
			Interval:        sc.AnalyzeInterval,
			FailureCooldown: sc.FailureCooldown,
			Run: func(ctx context.Context, store processor.ThreadStore) error {
				_, err := p.Analyze(ctx, store)
				return err
			},
		},
	}

	for _, rc := range cfg.Reports {
		job := Job{
			Name:            "report:" + rc.Name,
			Interval:        rc.Interval,
			FailureCooldown: sc.FailureCooldown,
			Run: func(ctx context.Context, store processor.ThreadStore) error {
				_, err := p.Report(ctx, store, rc.Name, rc.Window)
				return err
			},
		}
		if rc.Cron != "" {
			sched, err := cron.ParseStandard(rc.Cron)
			if err != nil {
				return nil, fmt.Errorf("report %s: parse cron %q: %w", rc.Name, rc.Cron, err)
			}
			job.Schedule = sched
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
