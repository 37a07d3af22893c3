package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/thoscut/pdfocr/internal/config"
	"github.com/thoscut/pdfocr/internal/jobs"
)

// Handler is the interface for all delivery targets.
type Handler interface {
	Name() string
	Send(ctx context.Context, doc *jobs.Document) error
	Available() bool
}

// Target describes a configured delivery target.
type Target struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Enabled   bool   `json:"enabled"`
	Available bool   `json:"available"`
}

// Manager routes finished documents to the configured delivery targets.
type Manager struct {
	handlers map[string]Handler
}

// NewManager creates a new output manager from the configuration. Only
// enabled targets are registered.
func NewManager(cfg config.OutputConfig) *Manager {
	m := &Manager{
		handlers: make(map[string]Handler),
	}

	if cfg.Filesystem.Enabled {
		m.Register(NewFilesystemHandler(cfg.Filesystem.Directory))
	}

	if cfg.Paperless.Enabled {
		m.Register(NewPaperlessHandler(cfg.Paperless))
	}

	if cfg.SMB.Enabled {
		m.Register(NewSMBHandler(cfg.SMB))
	}

	if cfg.PaperlessConsume.Enabled {
		m.Register(NewPaperlessConsumeHandler(cfg.PaperlessConsume))
	}

	if cfg.Email.Enabled {
		m.Register(NewEmailHandler(cfg.Email))
	}

	slog.Debug("output handlers initialized", "count", len(m.handlers))
	return m
}

// Register adds or replaces a handler under its name.
func (m *Manager) Register(h Handler) {
	m.handlers[h.Name()] = h
}

// Send routes a document to the specified target.
func (m *Manager) Send(ctx context.Context, target string, doc *jobs.Document) error {
	handler, ok := m.handlers[target]
	if !ok {
		return fmt.Errorf("unknown output target: %s", target)
	}
	if !handler.Available() {
		return fmt.Errorf("output target %s is not available", target)
	}

	slog.Info("sending document to output",
		"target", target,
		"filename", doc.Filename,
		"size", doc.Size)

	if err := handler.Send(ctx, doc); err != nil {
		return fmt.Errorf("output %s: %w", target, err)
	}

	slog.Info("document sent successfully", "target", target)
	return nil
}

// Check reports the first target name that is not configured.
func (m *Manager) Check(targets []string) error {
	for _, t := range targets {
		if _, ok := m.handlers[t]; !ok {
			return fmt.Errorf("unknown output target: %s", t)
		}
	}
	return nil
}

// Deliver sends the PDF at path to every named target. The file is reopened
// for each target; all targets are attempted and their errors joined.
func (m *Manager) Deliver(ctx context.Context, path, filename, title string, targets []string) error {
	if filename == "" {
		filename = filepath.Base(path)
	}

	var errs []error
	for _, target := range targets {
		if err := m.deliverOne(ctx, path, filename, title, target); err != nil {
			slog.Error("delivery failed", "target", target, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) deliverOne(ctx context.Context, path, filename, title, target string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat document: %w", err)
	}

	return m.Send(ctx, target, &jobs.Document{
		Filename: filename,
		Title:    title,
		Reader:   f,
		Size:     info.Size(),
	})
}

// ListTargets returns all configured targets sorted by name.
func (m *Manager) ListTargets() []Target {
	targets := make([]Target, 0, len(m.handlers))
	for name, h := range m.handlers {
		targets = append(targets, Target{
			Name:      name,
			Type:      h.Name(),
			Enabled:   true,
			Available: h.Available(),
		})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Name < targets[j].Name })
	return targets
}
