package restock

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultSchedule fires every four hours on the hour.
	DefaultSchedule = "0 0 */4 * * *"
	DefaultTimezone = "Europe/Moscow"
)

// Scheduler runs a job on a cron schedule. Runs never overlap: a run that
// fires while the previous one is still in progress is skipped.
type Scheduler struct {
	cron   *cron.Cron
	entry  cron.EntryID
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler parses schedule (six fields, seconds first, descriptors allowed)
// in the given location.
func NewScheduler(schedule string, location *time.Location, job func(ctx context.Context)) (*Scheduler, error) {
	logger := cron.PrintfLogger(log.StandardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(location),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ctx:    ctx,
		cancel: cancel,
	}

	entry, err := s.cron.AddFunc(schedule, func() { job(s.ctx) })
	if err != nil {
		cancel()
		return nil, errors.Wrapf(err, "parse schedule %q", schedule)
	}

	s.entry = entry
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.WithField("next", s.Next()).Info("scheduler started")
}

// Next returns the next scheduled run time, zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// RunNow triggers an out-of-schedule run, subject to the same overlap rule.
func (s *Scheduler) RunNow() {
	job := s.cron.Entry(s.entry).WrappedJob
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		job.Run()
	}()
}

// Stop prevents new runs and waits for the current one. If ctx expires
// first, the run's context is cancelled and Stop still waits for it to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.wg.Wait()
		close(done)
	}()

	defer s.cancel()
	select {
	case <-done:
		log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
