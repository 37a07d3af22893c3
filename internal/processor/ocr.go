package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/thoscut/pdfocr/internal/runner"
)

// Engine selects the OCR tool.
type Engine int

const (
	EngineAuto Engine = iota
	EngineTesseract
	EngineCuneiform
	EngineOcropus
)

// probeOrder is the order engines are tried in when none is chosen.
var probeOrder = []Engine{EngineTesseract, EngineCuneiform, EngineOcropus}

// Engines returns the concrete engines in probe order.
func Engines() []Engine {
	return append([]Engine(nil), probeOrder...)
}

func (e Engine) String() string {
	switch e {
	case EngineTesseract:
		return "tesseract"
	case EngineCuneiform:
		return "cuneiform"
	case EngineOcropus:
		return "ocropus"
	default:
		return "auto"
	}
}

// ParseEngine maps an engine name to an Engine.
func ParseEngine(s string) (Engine, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return EngineAuto, nil
	case "tesseract":
		return EngineTesseract, nil
	case "cuneiform":
		return EngineCuneiform, nil
	case "ocropus", "ocroscript":
		return EngineOcropus, nil
	}
	return EngineAuto, fmt.Errorf("%w: unknown OCR engine %q", ErrConfig, s)
}

// OutputKind is what an adapter produces for a page.
type OutputKind int

const (
	// KindPDF adapters write the finished page PDF themselves.
	KindPDF OutputKind = iota
	// KindText adapters write hOCR that still has to be embedded.
	KindText
)

// Adapter runs one OCR engine on a single page raster.
type Adapter interface {
	Engine() Engine
	Kind() OutputKind
	// Recognize reads page.Raster and writes page.OutputPDF (KindPDF) or
	// page.Text (KindText).
	Recognize(ctx context.Context, page *Page, lang string, dpi int) error
	// Languages lists the language codes the engine has installed.
	Languages(ctx context.Context) ([]string, error)
}

var errNoLanguageList = errors.New("engine cannot list languages")

type tesseractAdapter struct {
	bin string
	run runner.Runner
}

func (a *tesseractAdapter) Engine() Engine   { return EngineTesseract }
func (a *tesseractAdapter) Kind() OutputKind { return KindPDF }

func (a *tesseractAdapter) Recognize(ctx context.Context, page *Page, lang string, dpi int) error {
	// tesseract appends the extension to the output base itself.
	outBase := strings.TrimSuffix(page.OutputPDF, ".pdf")
	_, err := a.run.Run(ctx, runner.Command{
		Name:   a.bin,
		Args:   []string{"--dpi", strconv.Itoa(dpi), "-l", lang, page.Raster, outBase, "pdf"},
		Prefix: pagePrefix(page),
	})
	if err != nil {
		return fmt.Errorf("tesseract failed: %w", err)
	}
	return requireFile(page.OutputPDF)
}

func (a *tesseractAdapter) Languages(ctx context.Context) ([]string, error) {
	res, err := a.run.Run(ctx, runner.Command{Name: a.bin, Args: []string{"--list-langs"}})
	if err != nil {
		return nil, fmt.Errorf("list tesseract languages: %w", err)
	}
	return parseTesseractLanguages(res.Output), nil
}

type cuneiformAdapter struct {
	bin string
	run runner.Runner
}

func (a *cuneiformAdapter) Engine() Engine   { return EngineCuneiform }
func (a *cuneiformAdapter) Kind() OutputKind { return KindText }

func (a *cuneiformAdapter) Recognize(ctx context.Context, page *Page, lang string, dpi int) error {
	_, err := a.run.Run(ctx, runner.Command{
		Name:   a.bin,
		Args:   []string{"-l", lang, "-f", "hocr", "-o", page.Text, page.Raster},
		Prefix: pagePrefix(page),
	})
	if err != nil {
		return fmt.Errorf("cuneiform failed: %w", err)
	}
	return requireFile(page.Text)
}

func (a *cuneiformAdapter) Languages(ctx context.Context) ([]string, error) {
	res, err := a.run.Run(ctx, runner.Command{Name: a.bin, Args: []string{"-l"}})
	if err != nil {
		return nil, fmt.Errorf("list cuneiform languages: %w", err)
	}
	return parseCuneiformLanguages(res.Output), nil
}

// ocropusAdapter drives ocroscript, which prints hOCR on stdout and picks
// its language models itself.
type ocropusAdapter struct {
	bin string
	run runner.Runner
}

func (a *ocropusAdapter) Engine() Engine   { return EngineOcropus }
func (a *ocropusAdapter) Kind() OutputKind { return KindText }

func (a *ocropusAdapter) Recognize(ctx context.Context, page *Page, lang string, dpi int) error {
	f, err := os.Create(page.Text)
	if err != nil {
		return fmt.Errorf("create hocr file: %w", err)
	}
	defer f.Close()

	_, err = a.run.Run(ctx, runner.Command{
		Name:   a.bin,
		Args:   []string{"recognize", page.Raster},
		Stdout: f,
		Prefix: pagePrefix(page),
	})
	if err != nil {
		return fmt.Errorf("ocroscript failed: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write hocr file: %w", err)
	}
	return requireFile(page.Text)
}

func (a *ocropusAdapter) Languages(ctx context.Context) ([]string, error) {
	return nil, errNoLanguageList
}

// parseTesseractLanguages reads `tesseract --list-langs` output. The first
// line is a header.
func parseTesseractLanguages(out string) []string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return nil
	}
	var langs []string
	for _, l := range lines[1:] {
		if l = strings.TrimSpace(l); l != "" {
			langs = append(langs, l)
		}
	}
	return langs
}

// parseCuneiformLanguages reads `cuneiform -l` output, whose last line is
// "Supported languages: eng ger fra ... tur."
func parseCuneiformLanguages(out string) []string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	last := lines[len(lines)-1]
	_, list, ok := strings.Cut(last, ":")
	if !ok {
		return nil
	}
	return strings.Fields(strings.ReplaceAll(list, ".", ""))
}

// cuneiformLanguages maps ISO 639-2/T codes, as used by tesseract, onto the
// names cuneiform expects.
var cuneiformLanguages = map[string]string{
	"deu": "ger",
	"nld": "dut",
	"ces": "cze",
	"ron": "rum",
	"slk": "slo",
}

// normalizeLanguage adapts a language code to what engine understands.
func normalizeLanguage(engine Engine, lang string) string {
	lang = strings.TrimSpace(lang)
	if engine == EngineCuneiform {
		if mapped, ok := cuneiformLanguages[lang]; ok {
			return mapped
		}
	}
	return lang
}

// checkLanguage verifies every '+'-joined part of lang is installed. When the
// engine cannot produce a list the run proceeds unchecked.
func checkLanguage(ctx context.Context, a Adapter, lang string) error {
	available, err := a.Languages(ctx)
	if err != nil {
		slog.Warn("could not list OCR languages, skipping check", "engine", a.Engine().String(), "error", err)
		return nil
	}
	if len(available) == 0 {
		slog.Warn("OCR engine reported no languages, skipping check", "engine", a.Engine().String())
		return nil
	}

	for _, part := range strings.Split(lang, "+") {
		if !slices.Contains(available, part) {
			return fmt.Errorf("%w: %s does not support %q (available: %s)",
				ErrUnsupportedLanguage, a.Engine(), part, strings.Join(available, ", "))
		}
	}
	return nil
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("expected output missing: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("expected output %s is empty", path)
	}
	return nil
}

func pagePrefix(page *Page) string {
	return "[page " + page.Base + "]"
}
