package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Popie52/jobscheduler/internal/model"
)

func newTestStore(t *testing.T) *FileJobStore {
	t.Helper()
	s, err := NewFileJobStore("", 3)
	require.NoError(t, err)
	return s
}

func enqueue(t *testing.T, s Admin, j *model.Job) {
	t.Helper()
	if j.Type == "" {
		j.Type = model.TypeContentAnalysis
	}
	require.NoError(t, s.Enqueue(context.Background(), j))
}

func TestFileStore_FetchOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	enqueue(t, s, &model.Job{ID: "C", Priority: 2, CreatedAt: t0})
	enqueue(t, s, &model.Job{ID: "B", Priority: 1, CreatedAt: t0.Add(2 * time.Second)})
	enqueue(t, s, &model.Job{ID: "A", Priority: 1, CreatedAt: t0.Add(time.Second)})

	jobs, err := s.FetchEligible(ctx, 3)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "A", jobs[0].ID)
	assert.Equal(t, "B", jobs[1].ID)
	assert.Equal(t, "C", jobs[2].ID)

	jobs, err = s.FetchEligible(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "A", jobs[0].ID)
}

func TestFileStore_EligibilityFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	enqueue(t, s, &model.Job{ID: "exhausted", Attempts: 3})
	enqueue(t, s, &model.Job{ID: "running", Status: model.StatusRunning})
	enqueue(t, s, &model.Job{ID: "ok", Attempts: 2})

	jobs, err := s.FetchEligible(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "ok", jobs[0].ID)

	won, err := s.Claim(ctx, "exhausted")
	require.NoError(t, err)
	assert.False(t, won)
}

func TestFileStore_FetchDoesNotMutate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	enqueue(t, s, &model.Job{ID: "j1"})

	jobs, err := s.FetchEligible(ctx, 1)
	require.NoError(t, err)
	jobs[0].Status = model.StatusFailed

	stored, ok := s.Get("j1")
	require.True(t, ok)
	assert.Equal(t, model.StatusQueued, stored.Status)
	assert.Equal(t, 0, stored.Attempts)
}

func TestFileStore_ClaimExclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	enqueue(t, s, &model.Job{ID: "contended"})

	var (
		wins  int64
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			won, err := s.Claim(ctx, "contended")
			assert.NoError(t, err)
			if won {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), wins)
	j, _ := s.Get("contended")
	assert.Equal(t, model.StatusRunning, j.Status)
	assert.Equal(t, 1, j.Attempts)
}

func TestFileStore_ClaimUnknown(t *testing.T) {
	s := newTestStore(t)
	won, err := s.Claim(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, won)
}

func TestFileStore_RecordOutcome(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	enqueue(t, s, &model.Job{ID: "ok"})
	enqueue(t, s, &model.Job{ID: "bad"})

	_, err := s.Claim(ctx, "ok")
	require.NoError(t, err)
	_, err = s.Claim(ctx, "bad")
	require.NoError(t, err)

	require.NoError(t, s.RecordOutcome(ctx, "ok", model.Completed(model.ContentResult{Analysis: "fine"})))
	require.NoError(t, s.RecordOutcome(ctx, "bad", model.Failed("boom")))

	ok, _ := s.Get("ok")
	assert.Equal(t, model.StatusCompleted, ok.Status)
	var res model.ContentResult
	require.NoError(t, json.Unmarshal(ok.Result, &res))
	assert.Equal(t, "fine", res.Analysis)
	assert.Empty(t, ok.ErrorMessage)

	bad, _ := s.Get("bad")
	assert.Equal(t, model.StatusFailed, bad.Status)
	assert.Equal(t, "boom", bad.ErrorMessage)
	assert.Nil(t, bad.Result)

	// terminal jobs are never eligible again
	jobs, err := s.FetchEligible(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	err = s.RecordOutcome(ctx, "nope", model.Failed("x"))
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestFileStore_Datasets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetDataset(ctx, "ds-1")
	assert.ErrorIs(t, err, ErrDatasetNotFound)

	require.NoError(t, s.PutDataset(&model.Dataset{ID: "ds-1", Content: json.RawMessage(`{"rows":[1,2]}`)}))
	d, err := s.GetDataset(ctx, "ds-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"rows":[1,2]}`, string(d.Content))
}

func TestFileStore_CountStaleRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return t0 }

	enqueue(t, s, &model.Job{ID: "j1"})
	enqueue(t, s, &model.Job{ID: "j2"})
	_, err := s.Claim(ctx, "j1")
	require.NoError(t, err)

	n, err := s.CountStaleRunning(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountStaleRunning(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFileStore_Snapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	ctx := context.Background()

	s, err := NewFileJobStore(path, 3)
	require.NoError(t, err)
	enqueue(t, s, &model.Job{ID: "persisted", Priority: 4})
	_, err = s.Claim(ctx, "persisted")
	require.NoError(t, err)
	require.NoError(t, s.PutDataset(&model.Dataset{ID: "ds", Content: json.RawMessage(`[]`)}))

	reopened, err := NewFileJobStore(path, 3)
	require.NoError(t, err)
	j, ok := reopened.Get("persisted")
	require.True(t, ok)
	assert.Equal(t, model.StatusRunning, j.Status)
	assert.Equal(t, 1, j.Attempts)
	assert.Equal(t, 4, j.Priority)

	_, err = reopened.GetDataset(ctx, "ds")
	assert.NoError(t, err)
}

func TestFileStore_EnqueueDuplicate(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, &model.Job{ID: "dup"})
	err := s.Enqueue(context.Background(), &model.Job{ID: "dup", Type: model.TypeStoryGeneration})
	assert.ErrorIs(t, err, ErrJobExists)
}
