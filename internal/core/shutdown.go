package core

import (
	"time"

	"go.uber.org/zap"
)

// Coordinator drains the dispatcher on shutdown.
type Coordinator struct {
	dispatcher *Dispatcher
	timeout    time.Duration
	progress   time.Duration
	log        *zap.Logger
}

func NewCoordinator(d *Dispatcher, timeout time.Duration, log *zap.Logger) *Coordinator {
	return &Coordinator{
		dispatcher: d,
		timeout:    timeout,
		progress:   time.Second,
		log:        log,
	}
}

// Shutdown stops new work and waits up to the timeout for in-flight jobs.
// It reports whether every job finished. Jobs still running at the deadline
// are abandoned, not cancelled.
func (c *Coordinator) Shutdown() bool {
	c.log.Info("shutdown signal received, waiting for jobs to complete",
		zap.Int("running", c.dispatcher.Running()))
	c.dispatcher.Drain()

	idle := c.dispatcher.Idle()
	deadline := time.NewTimer(c.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.progress)
	defer ticker.Stop()

	for {
		select {
		case <-idle:
			c.log.Info("all jobs completed, shutting down gracefully")
			return true
		case <-ticker.C:
			c.log.Info("waiting for jobs to complete", zap.Int("running", c.dispatcher.Running()))
		case <-deadline.C:
			c.log.Warn("forced shutdown with jobs still running",
				zap.Int("running", c.dispatcher.Running()))
			return false
		}
	}
}
