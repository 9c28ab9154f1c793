package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Popie52/jobscheduler/internal/metrics"
	"github.com/Popie52/jobscheduler/internal/store"
)

// Scheduler polls the store on a fixed interval and dispatches as many
// eligible jobs as there are free slots.
type Scheduler struct {
	store      store.JobStore
	dispatcher *Dispatcher
	interval   time.Duration
	metrics    metrics.MetricsFn
	log        *zap.Logger
}

func NewScheduler(st store.JobStore, d *Dispatcher, interval time.Duration, log *zap.Logger, m metrics.MetricsFn) *Scheduler {
	return &Scheduler{
		store:      st,
		dispatcher: d,
		interval:   interval,
		metrics:    m,
		log:        log,
	}
}

// Run ticks until ctx is done or the dispatcher starts draining. A tick
// never waits for the jobs it dispatched.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.dispatcher.Draining() {
				return nil
			}
			s.Tick(ctx)
		}
	}
}

func (s *Scheduler) Tick(ctx context.Context) {
	if s.dispatcher.Draining() {
		return
	}

	capacity := s.dispatcher.Capacity()
	if capacity <= 0 {
		return
	}

	jobs, err := s.store.FetchEligible(ctx, capacity)
	if err != nil {
		s.log.Error("fetch eligible jobs failed", zap.Error(err))
		return
	}
	if len(jobs) == 0 {
		return
	}
	s.metrics.IncJobsFetched(len(jobs))

	for _, job := range jobs {
		if !s.dispatcher.Dispatch(ctx, job) {
			s.log.Debug("no free slot, leaving job for a later tick", zap.String("job_id", job.ID))
			break
		}
	}
}

func (s *Scheduler) Running() int { return s.dispatcher.Running() }

func (s *Scheduler) Draining() bool { return s.dispatcher.Draining() }
