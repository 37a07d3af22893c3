package client

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/thoscut/pdfocr/internal/jobs"
)

// pollInterval is the delay between status requests when no websocket is
// available.
var pollInterval = time.Second

// ConnectWebSocket establishes a WebSocket connection for live updates of
// one job, or of every job when jobID is empty.
func (c *Client) ConnectWebSocket(ctx context.Context, jobID string) (<-chan jobs.ProgressUpdate, error) {
	q := url.Values{}
	if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}
	if jobID != "" {
		q.Set("job", jobID)
	}
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/api/v1/ws"
	if len(q) > 0 {
		wsURL += "?" + q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}

	updates := make(chan jobs.ProgressUpdate, 100)

	go func() {
		defer close(updates)
		defer conn.Close()

		// Close connection when context is done
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		defer stop()

		for {
			var update jobs.ProgressUpdate
			if err := conn.ReadJSON(&update); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("websocket error", "error", err)
				}
				return
			}
			select {
			case updates <- update:
			case <-ctx.Done():
				return
			}
		}
	}()

	return updates, nil
}

// WaitForJob follows a job until it reaches a terminal state. Updates come
// from the websocket stream; when that is unavailable or drops, the job is
// polled instead.
func (c *Client) WaitForJob(ctx context.Context, jobID string, onUpdate func(jobs.ProgressUpdate)) (*Job, error) {
	// The job may already be done before the stream is up.
	job, err := c.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Finished() {
		return job, nil
	}

	updates, err := c.ConnectWebSocket(ctx, jobID)
	if err == nil {
		for update := range updates {
			if update.JobID != jobID {
				continue
			}
			if onUpdate != nil {
				onUpdate(update)
			}
			if update.Type != "job_update" && update.Type != "completed" && update.Type != "failed" {
				continue
			}

			job, err := c.GetJob(ctx, jobID)
			if err != nil {
				continue
			}
			if job.Finished() {
				return job, nil
			}
		}
	} else {
		slog.Debug("websocket unavailable, polling", "error", err)
	}

	// Fallback to polling
	return c.pollJob(ctx, jobID, onUpdate)
}

func (c *Client) pollJob(ctx context.Context, jobID string, onUpdate func(jobs.ProgressUpdate)) (*Job, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	last := -1
	for {
		job, err := c.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}

		if onUpdate != nil && job.Progress != last {
			last = job.Progress
			onUpdate(jobs.ProgressUpdate{
				Type:     "job_update",
				JobID:    job.ID,
				Status:   job.Status,
				Progress: job.Progress,
				Error:    job.Error,
			})
		}

		if job.Finished() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
