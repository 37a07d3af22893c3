package output

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/thoscut/pdfocr/internal/jobs"
)

// FilesystemHandler archives documents in a local directory.
type FilesystemHandler struct {
	directory string
}

// NewFilesystemHandler creates a new filesystem output handler.
func NewFilesystemHandler(dir string) *FilesystemHandler {
	return &FilesystemHandler{directory: dir}
}

func (h *FilesystemHandler) Name() string { return "filesystem" }

func (h *FilesystemHandler) Available() bool {
	return h.directory != ""
}

// Send copies a document into the archive directory. An existing file with the
// same name is kept and a numbered name is chosen instead.
func (h *FilesystemHandler) Send(_ context.Context, doc *jobs.Document) error {
	if err := os.MkdirAll(h.directory, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	f, err := createUnique(h.directory, doc.Filename)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, doc.Reader); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("write file: %w", err)
	}

	return f.Close()
}

// createUnique exclusively creates name in dir, trying name_1, name_2, ...
// when it is taken.
func createUnique(dir, name string) (*os.File, error) {
	name = filepath.Base(name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < 1000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		f, err := os.OpenFile(filepath.Join(dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create file: %w", err)
		}
	}
	return nil, fmt.Errorf("create file: no free name for %s in %s", name, dir)
}
