package cron

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vodstream/vod-backend/pkg/logger"
	"github.com/vodstream/vod-backend/pkg/metrics"
)

type fakeLock struct {
	acquired   bool
	held       bool
	releaseErr error
	releases   int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.acquired || f.held {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Release(ctx context.Context) error {
	f.releases++
	f.releaseErr = ctx.Err()
	f.acquired = false
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
	hook func()
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	if t.hook != nil {
		t.hook()
	}
	return t.err
}

func newCronService(t *testing.T, lock Lock, reg prometheus.Registerer, jobs ...Job) *Service {
	t.Helper()
	params := ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test"}),
		Registry: NewRegistry(jobs...),
		Lock:     lock,
	}
	if reg != nil {
		params.Metrics = metrics.NewCronJobMetrics(reg)
	}
	service, err := NewService(params)
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service
}

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	success := &testJob{name: "subscription-reconcile"}
	failure := &testJob{name: "outbox-retention", err: errors.New("boom")}
	reg := prometheus.NewRegistry()
	service := newCronService(t, &fakeLock{}, reg, failure, success)

	err := service.RunOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "outbox-retention: boom") {
		t.Fatalf("expected aggregated job failure, got %v", err)
	}
	if success.runs != 1 || failure.runs != 1 {
		t.Fatalf("expected both jobs to run once, got success=%d failure=%d", success.runs, failure.runs)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatalf("expected cron metrics to be recorded")
	}
}

func TestServiceSkipsCycleWhenLockHeld(t *testing.T) {
	job := &testJob{name: "subscription-reconcile"}
	lock := &fakeLock{held: true}
	service := newCronService(t, lock, nil, job)

	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected skipped cycle to succeed, got %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("expected no job runs while lock held, got %d", job.runs)
	}
	if lock.releases != 0 {
		t.Fatalf("expected no release for an unacquired lock")
	}
}

func TestServiceReleasesLockAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := &testJob{name: "subscription-reconcile", hook: cancel}
	second := &testJob{name: "outbox-retention"}
	lock := &fakeLock{}
	service := newCronService(t, lock, nil, first, second)

	err := service.RunOnce(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to be reported, got %v", err)
	}
	if second.runs != 0 {
		t.Fatalf("expected remaining jobs skipped after shutdown")
	}
	if lock.releases != 1 || lock.releaseErr != nil {
		t.Fatalf("expected release on a live context, releases=%d err=%v", lock.releases, lock.releaseErr)
	}
}
