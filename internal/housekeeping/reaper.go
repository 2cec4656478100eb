// Package housekeeping runs the periodic sweeps the core needs that
// don't belong on any single request path: today, reaping
// managed-subscribe topics whose provider has stopped answering.
package housekeeping

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sdv-edge/dtcore/dtlog"
)

// TopicReaper is the subset of managedsubscribe.Bridge the reaper needs,
// kept as a narrow interface so housekeeping doesn't import the bridge's
// broker/provider wiring.
type TopicReaper interface {
	Reap(ctx context.Context) int
}

// Scheduler wraps a robfig/cron instance, running the stale-topic sweep
// on a fixed schedule. It generalizes the reference implementation's
// blocking retry-around-provider-callback pattern into an out-of-band
// sweep, so the interception path never blocks on provider liveness.
type Scheduler struct {
	cron   *cron.Cron
	reaper TopicReaper
	logger dtlog.Logger
}

// NewScheduler builds a Scheduler that has not started yet.
func NewScheduler(reaper TopicReaper, logger dtlog.Logger) *Scheduler {
	if logger == nil {
		logger = dtlog.Nop{}
	}
	return &Scheduler{cron: cron.New(), reaper: reaper, logger: logger}
}

// Start registers the stale-topic sweep on spec and starts the
// underlying cron scheduler. spec is a standard five-field cron
// expression or a descriptor; callers typically use "@every 30s" for
// this sweep.
func (s *Scheduler) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		reaped := s.reaper.Reap(ctx)
		if reaped > 0 {
			s.logger.Info("housekeeping: reaped stale managed-subscribe topics", "count", reaped)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
