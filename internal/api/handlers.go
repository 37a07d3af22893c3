package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/thoscut/pdfocr/internal/config"
	"github.com/thoscut/pdfocr/internal/jobs"
	"github.com/thoscut/pdfocr/internal/processor"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

// Server status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, total := s.jobQueue.Counts()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"version":      s.version,
		"workers":      s.workerCount(),
		"active_jobs":  counts[jobs.StatusProcessing],
		"pending_jobs": counts[jobs.StatusPending],
		"total_jobs":   total,
		"tools":        s.processor.Tools(),
	})
}

type engineInfo struct {
	Name      string   `json:"name"`
	Installed bool     `json:"installed"`
	Languages []string `json:"languages,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// OCR engines and their installed languages
func (s *Server) handleEngines(w http.ResponseWriter, r *http.Request) {
	var engines []engineInfo
	for _, e := range processor.Engines() {
		info := engineInfo{Name: e.String()}
		if _, err := s.processor.ResolveEngine(e); err == nil {
			info.Installed = true
			if _, langs, err := s.processor.Languages(r.Context(), e); err != nil {
				info.Error = err.Error()
			} else {
				info.Languages = langs
			}
		}
		engines = append(engines, info)
	}

	resp := map[string]any{"engines": engines}
	if e, err := s.processor.ResolveEngine(processor.EngineAuto); err == nil {
		resp["default"] = e.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

type profileEntry struct {
	Name string `json:"name"`
	*config.Profile
}

// Profiles
func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	names := s.profiles.Names()
	list := make([]profileEntry, 0, len(names))
	for _, name := range names {
		p, _ := s.profiles.Get(name)
		list = append(list, profileEntry{Name: name, Profile: p})
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": list})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	p, ok := s.profiles.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, profileEntry{Name: name, Profile: p})
}

// Output targets
func (s *Server) handleListOutputs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"outputs": s.outputs.ListTargets(),
	})
}

// Jobs
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Server.MaxUploadMB > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadMB<<20)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("document")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing document file")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		writeError(w, http.StatusBadRequest, "document must be a .pdf file")
		return
	}

	opts, err := s.parseJobOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := jobs.NewJob(filename, opts)
	dir := s.jobDir(job.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "create job directory: "+err.Error())
		return
	}
	job.InputPath = filepath.Join(dir, "input.pdf")
	job.OutputPath = filepath.Join(dir, "output.pdf")

	if err := saveUpload(file, job.InputPath); err != nil {
		os.RemoveAll(dir)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.jobQueue.Submit(job); err != nil {
		os.RemoveAll(dir)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	slog.Info("document submitted via API", "job_id", job.ID, "filename", filename)
	writeJSON(w, http.StatusAccepted, job)
}

// parseJobOptions reads the OCR options sent alongside an upload and checks
// them against what the server knows.
func (s *Server) parseJobOptions(r *http.Request) (jobs.Options, error) {
	opts := jobs.Options{
		Profile:    r.FormValue("profile"),
		Engine:     r.FormValue("engine"),
		Language:   r.FormValue("language"),
		Preprocess: r.FormValue("preprocess"),
	}

	if v := r.FormValue("dpi"); v != "" {
		dpi, err := strconv.Atoi(v)
		if err != nil || dpi <= 0 {
			return opts, fmt.Errorf("invalid dpi %q", v)
		}
		opts.DPI = dpi
	}
	if v := r.FormValue("check_language"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("invalid check_language %q", v)
		}
		opts.CheckLanguage = b
	}
	for _, v := range r.MultipartForm.Value["deliver"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				opts.Deliver = append(opts.Deliver, t)
			}
		}
	}

	if opts.Profile != "" {
		if _, ok := s.profiles.Get(opts.Profile); !ok {
			return opts, fmt.Errorf("unknown profile: %s", opts.Profile)
		}
	}
	if _, err := processor.ParseEngine(opts.Engine); err != nil {
		return opts, err
	}
	if _, err := processor.ParsePreprocess(opts.Preprocess); err != nil {
		return opts, err
	}
	if err := s.outputs.Check(opts.Deliver); err != nil {
		return opts, err
	}
	return opts, nil
}

func saveUpload(src io.Reader, path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("store upload: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return fmt.Errorf("store upload: %w", err)
	}
	return f.Close()
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs": s.jobQueue.List(),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobQueue.Get(chi.URLParam(r, "jobID"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleDeleteJob cancels a job that is still pending or running, and
// removes a finished one together with its files.
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, ok := s.jobQueue.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	if !job.GetStatus().Finished() {
		if err := s.jobQueue.Cancel(jobID); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.broadcastJobUpdate(job)
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
		return
	}

	s.jobQueue.Remove(jobID)
	if err := os.RemoveAll(s.jobDir(jobID)); err != nil {
		slog.Warn("failed to remove job files", "job_id", jobID, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) completedJob(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	job, ok := s.jobQueue.Get(chi.URLParam(r, "jobID"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	if status := job.GetStatus(); status != jobs.StatusCompleted {
		writeError(w, http.StatusConflict, "job is "+string(status))
		return nil, false
	}
	return job, true
}

// handleGetResult downloads the searchable PDF.
func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	job, ok := s.completedJob(w, r)
	if !ok {
		return
	}

	f, err := os.Open(job.OutputPath)
	if err != nil {
		writeError(w, http.StatusGone, "result no longer available")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", job.Filename))
	http.ServeContent(w, r, job.Filename, info.ModTime(), f)
}

type sendRequest struct {
	Target string `json:"target"`
}

// handleSendOutput delivers a finished document to a configured target.
func (s *Server) handleSendOutput(w http.ResponseWriter, r *http.Request) {
	job, ok := s.completedJob(w, r)
	if !ok {
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Target == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.outputs.Check([]string{req.Target}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	title := ""
	if summary := job.GetSummary(); summary != nil {
		title = summary.Title
	}
	if err := s.outputs.Deliver(r.Context(), job.OutputPath, job.Filename, title, []string{req.Target}); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "sent",
		"target": req.Target,
	})
}
