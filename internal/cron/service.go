package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/vodstream/vod-backend/pkg/logger"
	"github.com/vodstream/vod-backend/pkg/metrics"
)

const (
	defaultInterval = time.Hour
	releaseTimeout  = 5 * time.Second
)

type lockHolder interface {
	Holder(ctx context.Context) (string, error)
}

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service runs the entitlement maintenance jobs (subscription reconcile, outbox
// retention) on a fixed cadence. Each cycle holds the cluster-wide lock, so only
// one cron-worker replica re-applies provider state at a time.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
	}, nil
}

// Run executes a cycle immediately and then once per interval until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.cycle(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron.service.stopped")
			return ctx.Err()
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// RunOnce executes a single cycle and returns the aggregated job failures.
func (s *Service) RunOnce(ctx context.Context) error {
	return s.runCycle(ctx)
}

func (s *Service) cycle(ctx context.Context) {
	if err := s.runCycle(ctx); err != nil {
		s.logg.Error(ctx, "cron.cycle.failed", err)
	}
}

// runCycle runs every registered job even when an earlier one fails.
func (s *Service) runCycle(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		skipCtx := ctx
		if h, ok := s.lock.(lockHolder); ok {
			if holder, err := h.Holder(ctx); err == nil && holder != "" {
				skipCtx = s.logg.WithField(ctx, "lock_holder", holder)
			}
		}
		s.logg.Info(skipCtx, "cron.cycle.skipped_locked")
		return nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if relErr := s.lock.Release(releaseCtx); relErr != nil {
			s.logg.Error(ctx, "cron.lock.release_failed", relErr)
		}
	}()

	jobs := s.registry.Jobs()
	cycleCtx := s.logg.WithField(ctx, "jobs", len(jobs))
	s.logg.Info(cycleCtx, "cron.cycle.start")
	var errs error
	for _, job := range jobs {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		if err := s.runJob(ctx, job); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", job.Name(), err))
		}
	}
	cycleCtx = s.logg.WithField(cycleCtx, "failed", len(multierr.Errors(errs)))
	s.logg.Info(cycleCtx, "cron.cycle.complete")
	return errs
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	jobCtx := s.logg.WithFields(ctx, map[string]any{
		"job":   job.Name(),
		"event": "cron.job",
	})
	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	err := job.Run(jobCtx)
	duration := time.Since(start)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if s.metrics != nil {
		s.metrics.ObserveDuration(job.Name(), duration)
	}
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		if s.metrics != nil {
			s.metrics.IncFailure(job.Name())
		}
		return err
	}
	s.logg.Info(jobCtx, "job completed")
	if s.metrics != nil {
		s.metrics.IncSuccess(job.Name())
	}
	return nil
}
