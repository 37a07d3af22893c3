package output

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/thoscut/pdfocr/internal/config"
	"github.com/thoscut/pdfocr/internal/jobs"
)

// PaperlessHandler uploads documents to Paperless-NGX via its REST API.
type PaperlessHandler struct {
	baseURL string
	token   string
	tags    []int
	client  *http.Client
}

// NewPaperlessHandler creates a new Paperless-NGX output handler.
func NewPaperlessHandler(cfg config.PaperlessConfig) *PaperlessHandler {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &PaperlessHandler{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		token:   cfg.Token,
		tags:    cfg.Tags,
		client: &http.Client{
			Transport: transport,
			Timeout:   5 * time.Minute,
		},
	}
}

func (h *PaperlessHandler) Name() string { return "paperless" }

func (h *PaperlessHandler) Available() bool {
	return h.baseURL != "" && h.token != ""
}

// Send uploads a document to Paperless-NGX and returns once the upload has
// been accepted for consumption.
func (h *PaperlessHandler) Send(ctx context.Context, doc *jobs.Document) error {
	_, err := h.Upload(ctx, doc)
	return err
}

// Upload posts the document and returns the Paperless task ID.
func (h *PaperlessHandler) Upload(ctx context.Context, doc *jobs.Document) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("document", doc.Filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, doc.Reader); err != nil {
		return "", fmt.Errorf("copy document data: %w", err)
	}

	if doc.Title != "" {
		writer.WriteField("title", doc.Title)
	}
	for _, tag := range h.tags {
		writer.WriteField("tags", strconv.Itoa(tag))
	}

	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		h.baseURL+"/api/documents/post_document/", body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+h.token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("paperless upload: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paperless error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return parseTaskID(respBody), nil
}

// parseTaskID accepts both the bare JSON string newer Paperless versions
// return and the older {"task_id": ...} object.
func parseTaskID(body []byte) string {
	var id string
	if err := json.Unmarshal(body, &id); err == nil {
		return id
	}
	var obj struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(body, &obj); err == nil {
		return obj.TaskID
	}
	return ""
}

// GetTaskStatus queries the status of a Paperless background task.
func (h *PaperlessHandler) GetTaskStatus(ctx context.Context, taskID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		h.baseURL+"/api/tasks/?task_id="+taskID, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Token "+h.token)

	resp, err := h.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var tasks []struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		return "", fmt.Errorf("decode tasks: %w", err)
	}

	if len(tasks) > 0 {
		return tasks[0].Status, nil
	}
	return "unknown", nil
}
