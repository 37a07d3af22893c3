package jobs

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Queue manages OCR jobs with a concurrent-safe map and processing channel.
type Queue struct {
	jobs    map[string]*Job
	pending chan *Job
	closed  bool
	mu      sync.RWMutex

	subscribers map[string][]chan ProgressUpdate
	subMu       sync.RWMutex
}

// NewQueue creates a new job queue holding up to size pending jobs.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 100
	}
	return &Queue{
		jobs:        make(map[string]*Job),
		pending:     make(chan *Job, size),
		subscribers: make(map[string][]chan ProgressUpdate),
	}
}

// Submit adds a new job to the queue.
func (q *Queue) Submit(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("job queue is closed")
	}
	if _, exists := q.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}

	select {
	case q.pending <- job:
	default:
		return fmt.Errorf("job queue is full")
	}

	q.jobs[job.ID] = job
	slog.Info("job submitted", "job_id", job.ID, "filename", job.Filename)

	go q.forwardProgress(job)
	return nil
}

// Get returns a job by ID.
func (q *Queue) Get(id string) (*Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.jobs[id]
	return job, ok
}

// List returns all jobs, oldest first.
func (q *Queue) List() []*Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]*Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		result = append(result, job)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result
}

// Counts returns the number of jobs per status and the total.
func (q *Queue) Counts() (map[JobStatus]int, int) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	counts := make(map[JobStatus]int)
	for _, job := range q.jobs {
		counts[job.GetStatus()]++
	}
	return counts, len(q.jobs)
}

// Pending returns the channel of pending jobs for workers.
func (q *Queue) Pending() <-chan *Job {
	return q.pending
}

// Close stops accepting work; workers drain and exit.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.pending)
	}
}

// Cancel cancels a job by ID.
func (q *Queue) Cancel(id string) error {
	q.mu.RLock()
	job, ok := q.jobs[id]
	q.mu.RUnlock()

	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	if job.GetStatus().Finished() {
		return fmt.Errorf("job %s already %s", id, job.GetStatus())
	}

	job.Cancel()
	job.SendProgress(ProgressUpdate{
		Type:    "cancelled",
		Status:  string(StatusCancelled),
		Message: "Job cancelled",
	})
	slog.Info("job cancelled", "job_id", id)
	return nil
}

// Subscribe creates a channel to receive progress updates for a specific job.
func (q *Queue) Subscribe(jobID string) chan ProgressUpdate {
	q.subMu.Lock()
	defer q.subMu.Unlock()

	ch := make(chan ProgressUpdate, 50)
	q.subscribers[jobID] = append(q.subscribers[jobID], ch)
	return ch
}

// Unsubscribe removes a subscriber channel.
func (q *Queue) Unsubscribe(jobID string, ch chan ProgressUpdate) {
	q.subMu.Lock()
	defer q.subMu.Unlock()

	subs := q.subscribers[jobID]
	for i, sub := range subs {
		if sub == ch {
			q.subscribers[jobID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (q *Queue) forwardProgress(job *Job) {
	for update := range job.ProgressChan() {
		q.subMu.RLock()
		for _, ch := range q.subscribers[job.ID] {
			select {
			case ch <- update:
			default:
				// Subscriber slow, drop update
			}
		}
		q.subMu.RUnlock()
	}
}

// Remove deletes a job from the queue.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	delete(q.jobs, id)
	q.mu.Unlock()

	if ok {
		job.closeProgress()
	}

	q.subMu.Lock()
	defer q.subMu.Unlock()
	if subs, ok := q.subscribers[id]; ok {
		for _, ch := range subs {
			close(ch)
		}
		delete(q.subscribers, id)
	}
}
