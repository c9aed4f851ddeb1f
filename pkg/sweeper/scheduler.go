package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/market-alerts/pkg/metrics"
)

// Job is one named periodic cycle. Timeout caps a single cycle; when zero the
// interval is used, so a hung cycle gives way before the next tick is due.
type Job struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// TriggerJob adapts a TriggerSweeper to the scheduler.
func TriggerJob(s *TriggerSweeper, interval time.Duration) Job {
	return Job{Name: s.Name(), Interval: interval, Run: func(ctx context.Context) error {
		_, err := s.Sweep(ctx)
		return err
	}}
}

// ExpiryJob adapts an ExpirySweeper to the scheduler.
func ExpiryJob(s *ExpirySweeper, interval time.Duration) Job {
	return Job{Name: s.Name(), Interval: interval, Run: func(ctx context.Context) error {
		_, err := s.Sweep(ctx)
		return err
	}}
}

// Scheduler runs each job immediately and then on its interval until the context ends.
// Cycles of one job run one after another, each under its own deadline. A failing,
// panicking or timed-out cycle is logged and the next one runs as usual.
type Scheduler struct {
	jobs   []Job
	logger *zap.Logger
}

func NewScheduler(logger *zap.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs, logger: logger}
}

// Run blocks until ctx is done and every in-flight cycle has returned.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.loop(ctx, job)
		}(job)
	}
	s.logger.Info("Scheduler Started", zap.Int("jobs", len(s.jobs)))
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	s.RunOnce(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx, job)
		}
	}
}

// RunOnce runs a single cycle of job, isolating its failures.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) (err error) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = job.Interval
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s sweep: %v", job.Name, r)
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
			s.logger.Error("Sweep failed", zap.String("sweeper", job.Name), zap.Error(err))
		} else {
			s.logger.Debug("Sweep done", zap.String("sweeper", job.Name), zap.Duration("took", time.Since(start)))
		}
		metrics.SweepsTotal.WithLabelValues(job.Name, outcome).Inc()
	}()
	return job.Run(ctx)
}
