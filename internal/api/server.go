package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/thoscut/pdfocr/internal/config"
	"github.com/thoscut/pdfocr/internal/jobs"
	"github.com/thoscut/pdfocr/internal/output"
	"github.com/thoscut/pdfocr/internal/processor"
)

// Server is the HTTP API server. Uploaded documents are queued as jobs and
// run through the same Processor the command line uses.
type Server struct {
	cfg       *config.Config
	version   string
	router    chi.Router
	jobQueue  *jobs.Queue
	profiles  *config.ProfileStore
	processor *processor.Processor
	outputs   *output.Manager
	wsHub     *WebSocketHub
	server    *http.Server

	ctx     context.Context
	stop    context.CancelFunc
	workers sync.WaitGroup
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, version string, q *jobs.Queue, profiles *config.ProfileStore, proc *processor.Processor, outputs *output.Manager) *Server {
	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		version:   version,
		jobQueue:  q,
		profiles:  profiles,
		processor: proc,
		outputs:   outputs,
		wsHub:     NewWebSocketHub(),
		ctx:       ctx,
		stop:      stop,
	}

	s.setupRouter()
	return s
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware())

	// Health check (no auth required)
	r.Get("/api/v1/health", s.handleHealth)

	// API routes (with auth)
	r.Group(func(r chi.Router) {
		if s.cfg.Server.Auth.Enabled {
			r.Use(AuthMiddleware(s.cfg.Server.Auth))
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			// System
			r.Get("/api/v1/status", s.handleStatus)
			r.Get("/api/v1/engines", s.handleEngines)

			// Profiles
			r.Get("/api/v1/profiles", s.handleListProfiles)
			r.Get("/api/v1/profiles/{name}", s.handleGetProfile)

			// Output
			r.Get("/api/v1/outputs", s.handleListOutputs)

			// Jobs
			r.Get("/api/v1/jobs", s.handleListJobs)
			r.Get("/api/v1/jobs/{jobID}", s.handleGetJob)
			r.Delete("/api/v1/jobs/{jobID}", s.handleDeleteJob)
		})

		// Uploads, downloads and delivery may outlast the request timeout.
		r.Post("/api/v1/jobs", s.handleSubmitJob)
		r.Get("/api/v1/jobs/{jobID}/result", s.handleGetResult)
		r.Post("/api/v1/jobs/{jobID}/send", s.handleSendOutput)

		// WebSocket
		r.Get("/api/v1/ws", s.handleWebSocket)
	})

	s.router = r
}

// Start begins listening for HTTP connections and starts the job workers.
func (s *Server) Start() error {
	if err := os.MkdirAll(s.dataDir(), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start WebSocket hub
	go s.wsHub.Run(s.ctx)

	s.StartWorkers()

	slog.Info("API server starting", "addr", addr, "workers", s.workerCount())

	var err error
	if s.cfg.Server.TLS.Enabled {
		err = s.server.ListenAndServeTLS(
			s.cfg.Server.TLS.CertFile,
			s.cfg.Server.TLS.KeyFile,
		)
	} else {
		err = s.server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, cancels running jobs and waits for the
// workers to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("API server shutting down")

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	s.jobQueue.Close()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

func (s *Server) workerCount() int {
	if s.cfg.Server.MaxConcurrentJobs < 1 {
		return 1
	}
	return s.cfg.Server.MaxConcurrentJobs
}

// StartWorkers launches the job workers. Start calls it; tests that drive
// the router directly call it themselves.
func (s *Server) StartWorkers() {
	for i := 0; i < s.workerCount(); i++ {
		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			s.jobWorker()
		}()
	}
}

func (s *Server) dataDir() string {
	return s.cfg.Server.DataDirectory
}

func (s *Server) jobDir(id string) string {
	return filepath.Join(s.dataDir(), "jobs", id)
}

// jobWorker processes jobs from the queue.
func (s *Server) jobWorker() {
	for job := range s.jobQueue.Pending() {
		s.processJob(job)
	}
}

func (s *Server) processJob(job *jobs.Job) {
	if job.GetStatus() == jobs.StatusCancelled {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	job.SetCancel(cancel)
	defer cancel()

	log := slog.With("job_id", job.ID)
	log.Info("processing job", "filename", job.Filename, "profile", job.Options.Profile)

	job.SetStatus(jobs.StatusProcessing)
	s.broadcastJobUpdate(job)

	defaults, err := s.jobDefaults(job.Options)
	if err != nil {
		s.failJob(job, err)
		return
	}
	rc, err := processor.NewRunConfig(defaults, job.InputPath, job.OutputPath)
	if err != nil {
		s.failJob(job, err)
		return
	}

	res, err := s.processor.ProcessWithProgress(ctx, rc, func(u processor.Update) {
		s.jobProgress(job, u)
	})
	if err != nil {
		if job.GetStatus() == jobs.StatusCancelled {
			log.Info("job cancelled while processing")
			s.broadcastJobUpdate(job)
			return
		}
		if res != nil {
			job.SetPages(pageSummaries(res.Pages))
		}
		s.failJob(job, fmt.Errorf("processing failed: %w", err))
		return
	}

	summary := &jobs.Summary{
		Engine:    res.Engine,
		Total:     res.Total,
		Produced:  res.Produced,
		Fallbacks: res.Fallbacks,
		Skipped:   res.Skipped,
		Title:     res.Title,
		Duration:  res.Duration.Round(time.Millisecond).String(),
	}
	if info, err := os.Stat(res.Output); err == nil {
		summary.Size = info.Size()
	}

	if len(defaults.Deliver) > 0 {
		if err := s.outputs.Deliver(ctx, res.Output, deliveryName(job, res), res.Title, defaults.Deliver); err != nil {
			summary.DeliveryError = err.Error()
		} else {
			summary.Delivered = defaults.Deliver
		}
	}

	job.Complete(pageSummaries(res.Pages), summary)
	job.SendProgress(jobs.ProgressUpdate{
		Type:     "completed",
		Status:   string(jobs.StatusCompleted),
		Total:    res.Total,
		Progress: 100,
		Message:  "Document processed",
	})
	s.broadcastJobUpdate(job)
	log.Info("job completed", "pages", res.Produced, "skipped", res.Skipped)
}

// jobDefaults layers server defaults, the job's profile and the job's own
// options. Runs always use a private temporary workspace.
func (s *Server) jobDefaults(o jobs.Options) (config.DefaultsConfig, error) {
	d, err := s.profiles.Resolve(s.cfg.Defaults, o.Profile)
	if err != nil {
		return d, err
	}
	if o.Engine != "" {
		d.Engine = o.Engine
	}
	if o.Language != "" {
		d.Language = o.Language
		d.CheckLanguage = o.CheckLanguage
	}
	if o.DPI > 0 {
		d.DPI = o.DPI
	}
	if o.Preprocess != "" {
		d.Preprocess = o.Preprocess
	}
	if len(o.Deliver) > 0 {
		d.Deliver = o.Deliver
	}
	d.WorkingDir = ""
	d.Keep = false
	return d, nil
}

func (s *Server) jobProgress(job *jobs.Job, u processor.Update) {
	// Stage updates carry no completion count; progress never goes back.
	var percent int
	if u.Total > 0 {
		// Leave the last percent for assembly.
		percent = u.Completed * 99 / u.Total
	}
	percent = job.RaiseProgress(percent)

	update := jobs.ProgressUpdate{
		Type:     "progress",
		JobID:    job.ID,
		Status:   string(jobs.StatusProcessing),
		Page:     u.Page,
		Total:    u.Total,
		Stage:    string(u.Stage),
		Progress: percent,
		Message:  u.Message,
	}
	job.SendProgress(update)
	s.wsHub.Broadcast(update)
}

func (s *Server) failJob(job *jobs.Job, err error) {
	slog.Error("job failed", "job_id", job.ID, "error", err)
	job.SetError(err)
	job.SendProgress(jobs.ProgressUpdate{
		Type:   "failed",
		Status: string(jobs.StatusFailed),
		Error:  err.Error(),
	})
	s.broadcastJobUpdate(job)
}

func (s *Server) broadcastJobUpdate(job *jobs.Job) {
	status := job.GetStatus()
	update := jobs.ProgressUpdate{
		Type:     "job_update",
		JobID:    job.ID,
		Status:   string(status),
		Progress: job.GetProgress(),
		Message:  string(status),
	}
	if status == jobs.StatusFailed {
		update.Error = job.GetError()
	}
	s.wsHub.Broadcast(update)
}

func pageSummaries(pages []*processor.Page) []jobs.Page {
	result := make([]jobs.Page, 0, len(pages))
	for _, pg := range pages {
		p := jobs.Page{
			Number:   pg.Number,
			State:    string(pg.State),
			Stage:    string(pg.FailedStage),
			Fallback: pg.Fallback,
			Words:    pg.Words,
		}
		if pg.Err != nil {
			p.Error = pg.Err.Error()
		}
		result = append(result, p)
	}
	return result
}

// deliveryName prefers the uploaded file name over the generic output name.
func deliveryName(job *jobs.Job, res *processor.Result) string {
	if res.Title != "" {
		return res.Filename()
	}
	if job.Filename != "" {
		return filepath.Base(job.Filename)
	}
	return res.Filename()
}
