package core

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/Popie52/jobscheduler/internal/metrics"
	"github.com/Popie52/jobscheduler/internal/model"
	"github.com/Popie52/jobscheduler/internal/store"
)

// stubCompleter records prompts and optionally blocks until release is closed.
type stubCompleter struct {
	text    string
	err     error
	release chan struct{}

	mu      sync.Mutex
	prompts []string

	calls     atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32
}

func (s *stubCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()

	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		m := s.maxActive.Load()
		if n <= m || s.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	if s.release != nil {
		<-s.release
	}
	return s.text, s.err
}

func (s *stubCompleter) lastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prompts) == 0 {
		return ""
	}
	return s.prompts[len(s.prompts)-1]
}

func newFileStore(t *testing.T) *store.FileJobStore {
	t.Helper()
	st, err := store.NewFileJobStore("", 3)
	require.NoError(t, err)
	return st
}

func enqueueJob(t *testing.T, st *store.FileJobStore, id string, typ model.JobType, payload string) *model.Job {
	t.Helper()
	job := &model.Job{
		ID:        id,
		Type:      typ,
		Payload:   json.RawMessage(payload),
		CreatedAt: time.Now(),
	}
	require.NoError(t, st.Enqueue(context.Background(), job))
	return job
}

type harness struct {
	store       *store.FileJobStore
	dispatcher  *Dispatcher
	scheduler   *Scheduler
	coordinator *Coordinator
}

func newHarness(t *testing.T, st *store.FileJobStore, llm Completer, maxConcurrency int, log *zap.Logger) *harness {
	t.Helper()
	if log == nil {
		log = zaptest.NewLogger(t)
	}
	m := metrics.Nop{}

	worker := NewWorker(NewProcessor(st, llm), st, log, m)
	d := NewDispatcher(st, worker, maxConcurrency, log, m)

	h := &harness{
		store:       st,
		dispatcher:  d,
		scheduler:   NewScheduler(st, d, 10*time.Millisecond, log, m),
		coordinator: NewCoordinator(d, time.Second, log),
	}
	t.Cleanup(func() { h.settle(t) })
	return h
}

// settle waits for dispatched jobs so none of them logs after the test ends.
func (h *harness) settle(t *testing.T) {
	h.dispatcher.Drain()
	select {
	case <-h.dispatcher.Idle():
	case <-time.After(5 * time.Second):
		t.Error("dispatched jobs did not finish")
	}
}

func (h *harness) status(t *testing.T, id string) model.Status {
	t.Helper()
	job, ok := h.store.Get(id)
	require.True(t, ok, "job %s missing", id)
	return job.Status
}
