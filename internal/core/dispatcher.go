package core

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Popie52/jobscheduler/internal/metrics"
	"github.com/Popie52/jobscheduler/internal/model"
	"github.com/Popie52/jobscheduler/internal/store"
)

// Runner executes one claimed job to its final status write.
type Runner interface {
	Run(ctx context.Context, job *model.Job)
}

// Dispatcher owns the concurrency slots. A slot is reserved before the
// claim is attempted and released when the job finishes or the claim is
// lost, so reserved slots never exceed maxConcurrency.
type Dispatcher struct {
	store   store.JobStore
	runner  Runner
	metrics metrics.MetricsFn
	log     *zap.Logger

	maxConcurrency int64
	running        atomic.Int64
	draining       atomic.Bool

	// mu orders wg.Add against Drain so Idle never races a late Dispatch.
	mu sync.Mutex
	wg sync.WaitGroup
}

func NewDispatcher(st store.JobStore, r Runner, maxConcurrency int, log *zap.Logger, m metrics.MetricsFn) *Dispatcher {
	return &Dispatcher{
		store:          st,
		runner:         r,
		metrics:        m,
		log:            log,
		maxConcurrency: int64(maxConcurrency),
	}
}

func (d *Dispatcher) Running() int { return int(d.running.Load()) }

func (d *Dispatcher) Draining() bool { return d.draining.Load() }

// Capacity is the number of slots free right now.
func (d *Dispatcher) Capacity() int {
	return int(d.maxConcurrency - d.running.Load())
}

// Dispatch reserves a slot and hands the job to a goroutine that claims and
// runs it. It returns false without doing anything when no slot is free or
// the dispatcher is draining.
func (d *Dispatcher) Dispatch(ctx context.Context, job *model.Job) bool {
	d.mu.Lock()
	if d.draining.Load() || !d.reserve() {
		d.mu.Unlock()
		return false
	}
	d.wg.Add(1)
	d.mu.Unlock()

	// jobs are never cancelled once handed off
	jobCtx := context.WithoutCancel(ctx)

	go func() {
		defer d.wg.Done()
		defer d.release()

		claimed, err := d.store.Claim(jobCtx, job.ID)
		if err != nil {
			d.log.Error("claim failed", zap.String("job_id", job.ID), zap.Error(err))
			return
		}
		if !claimed {
			d.metrics.IncClaimConflicts()
			d.log.Debug("job claimed elsewhere", zap.String("job_id", job.ID))
			return
		}

		d.metrics.IncJobsClaimed()
		d.runner.Run(jobCtx, job)
	}()

	return true
}

// Drain stops Dispatch from accepting new jobs.
func (d *Dispatcher) Drain() {
	d.mu.Lock()
	d.draining.Store(true)
	d.mu.Unlock()
}

// Idle returns a channel closed once every dispatched job has finished.
// Call it after Drain.
func (d *Dispatcher) Idle() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	return done
}

func (d *Dispatcher) reserve() bool {
	for {
		cur := d.running.Load()
		if cur >= d.maxConcurrency {
			return false
		}
		if d.running.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (d *Dispatcher) release() {
	d.running.Add(-1)
}
