package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/thoscut/pdfocr/internal/config"
	"github.com/thoscut/pdfocr/internal/jobs"
)

// PaperlessConsumeHandler places documents in the Paperless-NGX consume folder.
// Paperless watches this folder and automatically imports new files.
type PaperlessConsumeHandler struct {
	consumePath string
	now         func() time.Time
}

// NewPaperlessConsumeHandler creates a new consume folder output handler.
func NewPaperlessConsumeHandler(cfg config.PaperlessConsumeConfig) *PaperlessConsumeHandler {
	return &PaperlessConsumeHandler{
		consumePath: cfg.Path,
		now:         time.Now,
	}
}

func (h *PaperlessConsumeHandler) Name() string { return "paperless_consume" }

func (h *PaperlessConsumeHandler) Available() bool {
	if h.consumePath == "" {
		return false
	}
	info, err := os.Stat(h.consumePath)
	return err == nil && info.IsDir()
}

// Send places a document in the Paperless consume folder. The file is written
// under a dot name first so Paperless never picks up a partial upload.
func (h *PaperlessConsumeHandler) Send(_ context.Context, doc *jobs.Document) error {
	filename := h.buildFilename(doc)

	tmp, err := os.CreateTemp(h.consumePath, ".pdfocr-*.part")
	if err != nil {
		return fmt.Errorf("create file in consume folder: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, doc.Reader); err != nil {
		tmp.Close()
		return fmt.Errorf("write to consume folder: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write to consume folder: %w", err)
	}

	f, err := createUnique(h.consumePath, filename)
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()

	if err := os.Rename(tmp.Name(), name); err != nil {
		os.Remove(name)
		return fmt.Errorf("move into consume folder: %w", err)
	}
	return nil
}

// buildFilename uses the title when known, otherwise the original name.
func (h *PaperlessConsumeHandler) buildFilename(doc *jobs.Document) string {
	name := doc.Title
	if name == "" {
		name = strings.TrimSuffix(doc.Filename, ".pdf")
	}
	if name == "" {
		name = fmt.Sprintf("ocr_%s", h.now().Format("20060102_150405"))
	}

	// Sanitize
	result := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '_' || c == ' ' || c == '.' {
			result = append(result, c)
		}
	}
	if len(strings.Trim(string(result), " .")) == 0 {
		result = []byte(fmt.Sprintf("ocr_%s", h.now().Format("20060102_150405")))
	}

	return string(result) + ".pdf"
}
