package jobs

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of an OCR job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Finished reports whether the status is terminal.
func (s JobStatus) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is one uploaded document being made searchable.
type Job struct {
	ID        string    `json:"id"`
	Status    JobStatus `json:"status"`
	Filename  string    `json:"filename"`
	Options   Options   `json:"options"`
	Progress  int       `json:"progress"`
	Pages     []Page    `json:"pages,omitempty"`
	Summary   *Summary  `json:"summary,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// InputPath and OutputPath live in the server's data directory.
	InputPath  string `json:"-"`
	OutputPath string `json:"-"`

	mu       sync.RWMutex
	cancel   context.CancelFunc
	progress chan ProgressUpdate
	closed   bool
}

// Options are the per-job OCR settings. Zero values fall back to the server
// defaults.
type Options struct {
	Profile       string   `json:"profile,omitempty"`
	Engine        string   `json:"engine,omitempty"`
	Language      string   `json:"language,omitempty"`
	CheckLanguage bool     `json:"check_language,omitempty"`
	DPI           int      `json:"dpi,omitempty"`
	Preprocess    string   `json:"preprocess,omitempty"`
	Deliver       []string `json:"deliver,omitempty"`
}

// Page is the outcome of one page of a job.
type Page struct {
	Number   int    `json:"number"`
	State    string `json:"state"`
	Stage    string `json:"stage,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
	Words    int    `json:"words,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Summary describes the finished document.
type Summary struct {
	Engine    string `json:"engine"`
	Total     int    `json:"total"`
	Produced  int    `json:"produced"`
	Fallbacks int    `json:"fallbacks"`
	Skipped   int    `json:"skipped"`
	Title     string `json:"title,omitempty"`
	Size      int64  `json:"size"`
	Duration  string `json:"duration"`

	Delivered     []string `json:"delivered,omitempty"`
	DeliveryError string   `json:"delivery_error,omitempty"`
}

// ProgressUpdate is sent via WebSocket to report job progress.
type ProgressUpdate struct {
	Type     string `json:"type"`
	JobID    string `json:"job_id"`
	Status   string `json:"status,omitempty"`
	Page     int    `json:"page,omitempty"`
	Total    int    `json:"total,omitempty"`
	Stage    string `json:"stage,omitempty"`
	Progress int    `json:"progress,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Document represents a finished document ready for delivery.
type Document struct {
	Filename string
	Title    string
	Reader   io.Reader
	Size     int64
}

// NewJob creates a new pending job.
func NewJob(filename string, opts Options) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.New().String(),
		Status:    StatusPending,
		Filename:  filename,
		Options:   opts,
		CreatedAt: now,
		UpdatedAt: now,
		progress:  make(chan ProgressUpdate, 100),
	}
}

// jobJSON has Job's fields without its methods.
type jobJSON Job

// MarshalJSON encodes the job under its read lock.
func (j *Job) MarshalJSON() ([]byte, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return json.Marshal((*jobJSON)(j))
}

// GetStatus returns the status thread-safely.
func (j *Job) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// SetStatus updates the job status thread-safely.
func (j *Job) SetStatus(status JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.UpdatedAt = time.Now()
}

// SetError marks the job as failed with an error message.
func (j *Job) SetError(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = StatusFailed
	j.Error = err.Error()
	j.UpdatedAt = time.Now()
}

// GetError returns the failure message, if any.
func (j *Job) GetError() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Error
}

// GetSummary returns the outcome of a completed job.
func (j *Job) GetSummary() *Summary {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Summary
}

// SetProgress records the completion percentage.
func (j *Job) SetProgress(percent int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress = percent
	j.UpdatedAt = time.Now()
}

// RaiseProgress sets the completion percentage unless it is already higher
// and returns the stored value.
func (j *Job) RaiseProgress(percent int) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	if percent > j.Progress {
		j.Progress = percent
		j.UpdatedAt = time.Now()
	}
	return j.Progress
}

// GetProgress returns the completion percentage.
func (j *Job) GetProgress() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Progress
}

// Complete stores the outcome of a successful run.
func (j *Job) Complete(pages []Page, summary *Summary) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Pages = pages
	j.Summary = summary
	j.Status = StatusCompleted
	j.Progress = 100
	j.UpdatedAt = time.Now()
}

// SetPages stores per-page outcomes, also for failed runs.
func (j *Job) SetPages(pages []Page) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Pages = pages
	j.UpdatedAt = time.Now()
}

// SetCancel stores the cancel function for the job context.
func (j *Job) SetCancel(cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel = cancel
}

// Cancel cancels the job.
func (j *Job) Cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		j.cancel()
	}
	j.Status = StatusCancelled
	j.UpdatedAt = time.Now()
}

// SendProgress sends a progress update for this job. An update carrying a
// terminal status is the last one; the channel is closed after it.
func (j *Job) SendProgress(update ProgressUpdate) {
	update.JobID = j.ID

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.progress <- update:
	default:
		// Channel full, drop update
	}
	if JobStatus(update.Status).Finished() {
		j.closed = true
		close(j.progress)
	}
}

// ProgressChan returns the progress channel for this job.
func (j *Job) ProgressChan() <-chan ProgressUpdate {
	return j.progress
}

func (j *Job) closeProgress() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.closed {
		j.closed = true
		close(j.progress)
	}
}
