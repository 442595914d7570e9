// Package pipeline runs the background jobs that drive envelopes through
// their lifecycle.
package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/monitoring"
)

var log = logrus.WithField("prefix", "pipeline")

// Job is one schedulable pass of pipeline work. RunOnce owns its own error
// handling per item; a returned error means the whole pass could not run.
type Job interface {
	Name() string
	RunOnce(ctx context.Context) error
}

// Scheduler drives a Job with a fixed delay between passes: the next pass
// starts interval after the previous one finished, so slow passes never
// stack.
type Scheduler struct {
	job      Job
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewScheduler builds a stopped scheduler.
func NewScheduler(job Job, interval time.Duration) *Scheduler {
	return &Scheduler{
		job:      job,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the run loop. The first pass runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop signals the loop and waits for any in-flight pass to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)
	log.WithFields(logrus.Fields{
		"job":      s.job.Name(),
		"interval": s.interval.String(),
	}).Info("job scheduler started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			s.tick(ctx)
			timer.Reset(s.interval)
		case <-s.stopCh:
			log.WithField("job", s.job.Name()).Info("job scheduler stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	if err := s.job.RunOnce(ctx); err != nil {
		log.WithError(err).WithField("job", s.job.Name()).Error("job pass failed")
	}
	monitoring.ObserveTick(s.job.Name(), time.Since(start))
}
