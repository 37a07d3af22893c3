package processor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/thoscut/pdfocr/internal/config"
)

var (
	ErrConfig              = errors.New("invalid configuration")
	ErrToolMissing         = errors.New("required tool not found")
	ErrNoEngine            = errors.New("no OCR engine found")
	ErrUnsupportedLanguage = errors.New("language not supported by OCR engine")
	ErrPageCount           = errors.New("could not determine page count")
	ErrAssembly            = errors.New("assembling output failed")
)

// Preprocess selects the raster cleanup applied before recognition.
type Preprocess string

const (
	PreprocessNone    Preprocess = "none"
	PreprocessUnpaper Preprocess = "unpaper"
	PreprocessBuiltin Preprocess = "builtin"
)

// ParsePreprocess accepts the names used on the command line and in config
// files. An empty string means none.
func ParsePreprocess(s string) (Preprocess, error) {
	switch Preprocess(strings.ToLower(s)) {
	case "", PreprocessNone:
		return PreprocessNone, nil
	case PreprocessUnpaper:
		return PreprocessUnpaper, nil
	case PreprocessBuiltin:
		return PreprocessBuiltin, nil
	}
	return "", fmt.Errorf("%w: unknown preprocessor %q", ErrConfig, s)
}

// RunConfig is everything a single run needs. It is built once and not
// modified afterwards.
type RunConfig struct {
	Input         string
	Output        string
	DPI           int
	Language      string
	CheckLanguage bool
	Engine        Engine
	Preprocess    Preprocess
	CropBox       bool
	WorkingDir    string
	Keep          bool
	Jobs          int
}

// Validate checks the configuration and returns a copy with absolute paths
// and defaults filled in. It has no side effects.
func (c RunConfig) Validate() (RunConfig, error) {
	if c.Input == "" {
		return c, fmt.Errorf("%w: no input file given", ErrConfig)
	}
	if c.Output == "" {
		return c, fmt.Errorf("%w: no output file given", ErrConfig)
	}
	if !hasPDFExt(c.Input) {
		return c, fmt.Errorf("%w: input %s does not have a .pdf extension", ErrConfig, c.Input)
	}
	if !hasPDFExt(c.Output) {
		return c, fmt.Errorf("%w: output %s does not have a .pdf extension", ErrConfig, c.Output)
	}

	in, err := filepath.Abs(c.Input)
	if err != nil {
		return c, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	out, err := filepath.Abs(c.Output)
	if err != nil {
		return c, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if in == out {
		return c, fmt.Errorf("%w: input and output are the same file", ErrConfig)
	}

	info, err := os.Stat(in)
	if err != nil {
		return c, fmt.Errorf("%w: input %s: %v", ErrConfig, c.Input, err)
	}
	if info.IsDir() {
		return c, fmt.Errorf("%w: input %s is a directory", ErrConfig, c.Input)
	}
	if _, err := os.Lstat(out); err == nil {
		return c, fmt.Errorf("%w: output %s already exists", ErrConfig, c.Output)
	}
	parent, err := os.Stat(filepath.Dir(out))
	if err != nil {
		return c, fmt.Errorf("%w: output directory: %v", ErrConfig, err)
	}
	if !parent.IsDir() {
		return c, fmt.Errorf("%w: output directory %s is not a directory", ErrConfig, filepath.Dir(out))
	}

	if strings.TrimSpace(c.Language) == "" {
		return c, fmt.Errorf("%w: empty language", ErrConfig)
	}
	if c.DPI <= 0 {
		return c, fmt.Errorf("%w: dpi must be positive, got %d", ErrConfig, c.DPI)
	}
	if c.Jobs < 1 {
		c.Jobs = 1
	}
	if c.Preprocess == "" {
		c.Preprocess = PreprocessNone
	}
	if _, err := ParsePreprocess(string(c.Preprocess)); err != nil {
		return c, err
	}

	c.Input = in
	c.Output = out
	return c, nil
}

// NewRunConfig builds a run from configured defaults. Engine and
// preprocessor names are parsed here; everything else is checked by Validate.
func NewRunConfig(d config.DefaultsConfig, input, output string) (RunConfig, error) {
	engine, err := ParseEngine(d.Engine)
	if err != nil {
		return RunConfig{}, err
	}
	pre, err := ParsePreprocess(d.Preprocess)
	if err != nil {
		return RunConfig{}, err
	}
	return RunConfig{
		Input:         input,
		Output:        output,
		DPI:           d.DPI,
		Language:      d.Language,
		CheckLanguage: d.CheckLanguage,
		Engine:        engine,
		Preprocess:    pre,
		CropBox:       d.CropBox,
		WorkingDir:    d.WorkingDir,
		Keep:          d.Keep,
		Jobs:          d.Jobs,
	}, nil
}

func hasPDFExt(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}
