package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/thoscut/pdfocr/internal/jobs"
)

// Client communicates with a pdfocr server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a new API client. Request lifetimes are bounded by the
// contexts passed to each call, since uploads and downloads of large
// documents outlast any fixed timeout.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{},
	}
}

// SubmitOptions are the OCR settings sent with an upload. Zero values leave
// the server defaults in place.
type SubmitOptions struct {
	Profile       string
	Engine        string
	Language      string
	CheckLanguage bool
	DPI           int
	Preprocess    string
	Deliver       []string
}

// Job is a job as reported by the server.
type Job struct {
	ID        string        `json:"id"`
	Status    string        `json:"status"`
	Filename  string        `json:"filename"`
	Progress  int           `json:"progress"`
	Pages     []jobs.Page   `json:"pages"`
	Summary   *jobs.Summary `json:"summary,omitempty"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Finished reports whether the job reached a terminal state.
func (j *Job) Finished() bool {
	return jobs.JobStatus(j.Status).Finished()
}

// ServerStatus contains the server status response.
type ServerStatus struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Workers     int    `json:"workers"`
	ActiveJobs  int    `json:"active_jobs"`
	PendingJobs int    `json:"pending_jobs"`
	TotalJobs   int    `json:"total_jobs"`
}

// Engine describes an OCR engine on the server.
type Engine struct {
	Name      string   `json:"name"`
	Installed bool     `json:"installed"`
	Languages []string `json:"languages,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Health checks the server health endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.doRequest(ctx, "GET", "/api/v1/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// Status returns the server status.
func (c *Client) Status(ctx context.Context) (*ServerStatus, error) {
	var status ServerStatus
	if err := c.getJSON(ctx, "/api/v1/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Engines returns the OCR engines known to the server.
func (c *Client) Engines(ctx context.Context) ([]Engine, error) {
	var result struct {
		Engines []Engine `json:"engines"`
	}
	if err := c.getJSON(ctx, "/api/v1/engines", &result); err != nil {
		return nil, err
	}
	return result.Engines, nil
}

// Submit uploads the PDF at path and returns the queued job. The file is
// streamed, not buffered.
func (c *Client) Submit(ctx context.Context, path string, opts SubmitOptions) (*Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeUpload(mw, f, filepath.Base(path), opts))
	}()

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/jobs", pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.send(req)
	if err != nil {
		pr.Close()
		return nil, err
	}
	defer resp.Body.Close()

	var job Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &job, nil
}

func writeUpload(mw *multipart.Writer, src io.Reader, filename string, opts SubmitOptions) error {
	fields := [][2]string{
		{"profile", opts.Profile},
		{"engine", opts.Engine},
		{"language", opts.Language},
		{"preprocess", opts.Preprocess},
	}
	if opts.CheckLanguage {
		fields = append(fields, [2]string{"check_language", "true"})
	}
	if opts.DPI > 0 {
		fields = append(fields, [2]string{"dpi", strconv.Itoa(opts.DPI)})
	}
	for _, t := range opts.Deliver {
		fields = append(fields, [2]string{"deliver", t})
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}

	part, err := mw.CreateFormFile("document", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	return mw.Close()
}

// GetJob returns the current state of a job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := c.getJSON(ctx, "/api/v1/jobs/"+url.PathEscape(jobID), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns all jobs known to the server.
func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	var result struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.getJSON(ctx, "/api/v1/jobs", &result); err != nil {
		return nil, err
	}
	return result.Jobs, nil
}

// CancelJob cancels a pending or running job, or deletes a finished one.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	resp, err := c.doRequest(ctx, "DELETE", "/api/v1/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Send asks the server to deliver a finished document to target.
func (c *Client) Send(ctx context.Context, jobID, target string) error {
	resp, err := c.doRequest(ctx, "POST", "/api/v1/jobs/"+url.PathEscape(jobID)+"/send",
		map[string]string{"target": target})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Download saves the result of a completed job to dest. An existing dest is
// never overwritten, and dest never holds a partial download.
func (c *Client) Download(ctx context.Context, jobID, dest string) (int64, error) {
	resp, err := c.doRequest(ctx, "GET", "/api/v1/jobs/"+url.PathEscape(jobID)+"/result", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if _, err := os.Lstat(dest); err == nil {
		return 0, fmt.Errorf("%s: %w", dest, fs.ErrExist)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".pdfocr-download-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("download result: %w", err)
	}

	if err := os.Link(tmp.Name(), dest); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return 0, fmt.Errorf("%s: %w", dest, err)
		}
		// No hard links on this filesystem.
		if _, serr := os.Lstat(dest); serr == nil {
			return 0, fmt.Errorf("%s: %w", dest, fs.ErrExist)
		}
		if err := os.Rename(tmp.Name(), dest); err != nil {
			return 0, fmt.Errorf("move download into place: %w", err)
		}
	}
	return n, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.doRequest(ctx, "GET", path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req)
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var errResp struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error != "" {
			return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("server error: %d", resp.StatusCode)
	}

	return resp, nil
}
