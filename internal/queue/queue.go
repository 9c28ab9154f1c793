package queue

import (
	"container/heap"

	"github.com/Popie52/jobscheduler/internal/model"
)

// index to track
type jobItem struct {
	job   *model.Job
	index int
}

// actual container
type priorityQueue []*jobItem

func (pq priorityQueue) Len() int           { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool { return Before(pq[i].job, pq[j].job) }

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(newJob any) {
	item := newJob.(*jobItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)

	item := old[n-1]
	old[n-1] = nil

	*pq = old[:n-1]
	return item
}

// Before orders jobs by priority (lower first), then by age (older first).
func Before(a, b *model.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Select returns at most limit jobs in pick order without reordering the input.
func Select(jobs []*model.Job, limit int) []*model.Job {
	if limit <= 0 || len(jobs) == 0 {
		return nil
	}

	pq := make(priorityQueue, 0, len(jobs))
	for _, j := range jobs {
		pq = append(pq, &jobItem{job: j, index: len(pq)})
	}
	heap.Init(&pq)

	if limit > pq.Len() {
		limit = pq.Len()
	}
	out := make([]*model.Job, 0, limit)
	for len(out) < limit {
		item := heap.Pop(&pq).(*jobItem)
		out = append(out, item.job)
	}
	return out
}
