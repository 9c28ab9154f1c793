package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Popie52/jobscheduler/internal/model"
	"github.com/Popie52/jobscheduler/internal/queue"
)

// FileJobStore keeps jobs in memory behind one mutex and, when a path is
// set, snapshots them to disk after every write. The mutex is the claim's
// exclusivity boundary, so it is only safe within a single process.
type FileJobStore struct {
	path       string
	maxRetries int
	now        func() time.Time

	mu       sync.Mutex
	jobs     map[string]*model.Job
	datasets map[string]*model.Dataset
}

type snapshot struct {
	Jobs     []*model.Job     `json:"jobs"`
	Datasets []*model.Dataset `json:"datasets"`
}

func NewFileJobStore(path string, maxRetries int) (*FileJobStore, error) {
	s := &FileJobStore{
		path:       path,
		maxRetries: maxRetries,
		now:        time.Now,
		jobs:       make(map[string]*model.Job),
		datasets:   make(map[string]*model.Dataset),
	}

	if path == "" {
		return s, nil
	}

	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	for _, j := range snap.Jobs {
		s.jobs[j.ID] = j
	}
	for _, d := range snap.Datasets {
		s.datasets[d.ID] = d
	}
	return s, nil
}

func (s *FileJobStore) FetchEligible(_ context.Context, limit int) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var eligible []*model.Job
	for _, j := range s.jobs {
		if j.Eligible(s.maxRetries) {
			eligible = append(eligible, cloneJob(j))
		}
	}
	return queue.Select(eligible, limit), nil
}

func (s *FileJobStore) Claim(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || !j.Eligible(s.maxRetries) {
		return false, nil
	}

	prev := *j
	j.Status = model.StatusRunning
	j.Attempts++
	j.UpdatedAt = s.now()

	if err := s.persist(); err != nil {
		*j = prev
		return false, err
	}
	return true, nil
}

func (s *FileJobStore) RecordOutcome(_ context.Context, jobID string, outcome model.Outcome) error {
	result, err := outcome.ResultJSON()
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	j.Status = outcome.Status
	j.Result = result
	j.ErrorMessage = outcome.ErrorMessage
	j.UpdatedAt = s.now()
	return s.persist()
}

func (s *FileJobStore) Ping(context.Context) error { return nil }

func (s *FileJobStore) GetDataset(_ context.Context, id string) (*model.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.datasets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, id)
	}
	cp := *d
	return &cp, nil
}

func (s *FileJobStore) PutDataset(d *model.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *d
	s.datasets[d.ID] = &cp
	return s.persist()
}

func (s *FileJobStore) Enqueue(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	prepareEnqueue(job, s.now())
	s.jobs[job.ID] = cloneJob(job)
	return s.persist()
}

func (s *FileJobStore) CountStaleRunning(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, j := range s.jobs {
		if j.Status == model.StatusRunning && j.UpdatedAt.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

// Get returns a copy of the stored job.
func (s *FileJobStore) Get(jobID string) (*model.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, false
	}
	return cloneJob(j), true
}

func (s *FileJobStore) Close() error { return nil }

// persist must be called with mu held.
func (s *FileJobStore) persist() error {
	if s.path == "" {
		return nil
	}

	snap := snapshot{
		Jobs:     make([]*model.Job, 0, len(s.jobs)),
		Datasets: make([]*model.Dataset, 0, len(s.datasets)),
	}
	for _, j := range s.jobs {
		snap.Jobs = append(snap.Jobs, j)
	}
	for _, d := range s.datasets {
		snap.Datasets = append(snap.Datasets, d)
	}
	return writeSnapshot(s.path, snap)
}

func cloneJob(j *model.Job) *model.Job {
	cp := *j
	return &cp
}

// Helpers
func readSnapshot(path string) (snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return snapshot{}, nil
		}
		return snapshot{}, err
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return snapshot{}, err
	}

	return snap, nil
}

func writeSnapshot(path string, snap snapshot) error {
	data, err := json.MarshalIndent(snap, "", " ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
