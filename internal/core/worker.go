package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Popie52/jobscheduler/internal/metrics"
	"github.com/Popie52/jobscheduler/internal/model"
	"github.com/Popie52/jobscheduler/internal/store"
)

// Worker runs a claimed job through the processor and writes its final
// status. Nothing it does returns an error to the caller.
type Worker struct {
	processor *Processor
	store     store.JobStore
	metrics   metrics.MetricsFn
	log       *zap.Logger
	now       func() time.Time
}

func NewWorker(p *Processor, st store.JobStore, log *zap.Logger, m metrics.MetricsFn) *Worker {
	return &Worker{
		processor: p,
		store:     st,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

func (w *Worker) Run(ctx context.Context, job *model.Job) {
	w.metrics.IncInflight()
	defer w.metrics.DecInflight()

	start := w.now()
	log := w.log.With(zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	log.Info("processing job", zap.Int("attempt", job.Attempts+1))

	outcome := w.process(ctx, job)

	if err := w.store.RecordOutcome(ctx, job.ID, outcome); err != nil {
		log.Error("failed to record job outcome",
			zap.String("status", string(outcome.Status)),
			zap.Error(err))
	}

	duration := w.now().Sub(start)
	w.metrics.ObserveJobDuration(string(job.Type), duration)

	if outcome.Status == model.StatusCompleted {
		w.metrics.IncJobsCompleted()
		log.Info("job completed", zap.Duration("duration", duration))
		return
	}
	w.metrics.IncJobsFailed()
	log.Warn("job failed",
		zap.Duration("duration", duration),
		zap.String("error", outcome.ErrorMessage))
}

func (w *Worker) process(ctx context.Context, job *model.Job) (outcome model.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = model.Failed(fmt.Sprintf("panic: %v", r))
		}
	}()

	result, err := w.processor.Process(ctx, job)
	if err != nil {
		return model.Failed(err.Error())
	}
	return model.Completed(result)
}
