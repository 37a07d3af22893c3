package processor

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/thoscut/pdfocr/internal/config"
	"github.com/thoscut/pdfocr/internal/runner"
	"github.com/thoscut/pdfocr/internal/workspace"
)

// Update reports progress of a run.
type Update struct {
	Page      int       `json:"page,omitempty"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Stage     Stage     `json:"stage,omitempty"`
	State     PageState `json:"state,omitempty"`
	Message   string    `json:"message"`
}

// Result describes a finished run.
type Result struct {
	RunID     string        `json:"run_id"`
	Engine    string        `json:"engine"`
	Pages     []*Page       `json:"pages"`
	Total     int           `json:"total"`
	Produced  int           `json:"produced"`
	Fallbacks int           `json:"fallbacks"`
	Skipped   int           `json:"skipped"`
	Title     string        `json:"title,omitempty"`
	Output    string        `json:"output"`
	Workspace string        `json:"workspace,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Filename returns a name for delivering the result: the document title if
// it has one, otherwise the output file name.
func (r *Result) Filename() string {
	if r.Title != "" {
		return sanitizeFilename(r.Title) + ".pdf"
	}
	return filepath.Base(r.Output)
}

// Processor turns scanned PDFs into searchable PDFs using external tools.
// It holds no per-run state and may be shared between goroutines.
type Processor struct {
	tools    config.ToolsConfig
	run      runner.Runner
	lookPath func(string) (string, error)
	progress func(Update)
}

// Option configures a Processor.
type Option func(*Processor)

// WithLookPath replaces exec.LookPath for tool discovery.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(p *Processor) { p.lookPath = fn }
}

// WithProgress registers a callback receiving every progress update.
func WithProgress(fn func(Update)) Option {
	return func(p *Processor) { p.progress = fn }
}

// New creates a Processor that runs tools through r.
func New(tools config.ToolsConfig, r runner.Runner, opts ...Option) *Processor {
	p := &Processor{
		tools:    tools,
		run:      r,
		lookPath: exec.LookPath,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs the whole pipeline for one document.
func (p *Processor) Process(ctx context.Context, cfg RunConfig) (*Result, error) {
	return p.process(ctx, cfg, p.progress)
}

// ProcessWithProgress is Process with a per-call progress callback, used
// when several runs share one Processor.
func (p *Processor) ProcessWithProgress(ctx context.Context, cfg RunConfig, progress func(Update)) (*Result, error) {
	return p.process(ctx, cfg, progress)
}

func (p *Processor) process(ctx context.Context, cfg RunConfig, progress func(Update)) (res *Result, err error) {
	start := time.Now()

	cfg, err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	engine, err := p.ResolveEngine(cfg.Engine)
	if err != nil {
		return nil, err
	}
	adapter := p.adapter(engine)
	if err := p.CheckTools(cfg, adapter.Kind()); err != nil {
		return nil, err
	}

	ws, err := workspace.Acquire(cfg.WorkingDir)
	if err != nil {
		return nil, err
	}

	res = &Result{
		RunID:  uuid.NewString(),
		Engine: engine.String(),
		Output: cfg.Output,
	}
	if cfg.Keep {
		res.Workspace = ws.Dir
	}
	log := slog.With("run_id", res.RunID)

	defer func() {
		if rerr := ws.Release(cfg.Keep); rerr != nil {
			log.Error("workspace cleanup failed", "dir", ws.Dir, "error", rerr)
			if err == nil {
				err = rerr
			}
		}
	}()

	lang := normalizeLanguage(engine, cfg.Language)
	if cfg.CheckLanguage {
		if err := checkLanguage(ctx, adapter, lang); err != nil {
			return res, err
		}
	}

	doc, err := p.inspect(ctx, cfg.Input, ws)
	if err != nil {
		return res, err
	}
	res.Total = doc.Pages
	res.Title = doc.Title

	log.Info("processing document",
		"input", cfg.Input,
		"pages", doc.Pages,
		"engine", engine.String(),
		"language", lang,
		"dpi", cfg.DPI,
		"preprocess", string(cfg.Preprocess),
		"jobs", cfg.Jobs,
		"workspace", ws.Dir)

	pages := newPages(ws.Dir, doc.Pages, rasterExt(cfg.Preprocess))
	res.Pages = pages

	if err := p.runPages(ctx, cfg, adapter, lang, pages, progress); err != nil {
		return res, err
	}

	var outputs []string
	for _, pg := range pages {
		switch pg.State {
		case StateDone:
			res.Produced++
			if pg.Fallback {
				res.Fallbacks++
			}
			outputs = append(outputs, pg.OutputPDF)
		case StateSkipped:
			res.Skipped++
		}
	}

	notify(progress, Update{Total: doc.Pages, Completed: doc.Pages, Message: "Merging pages..."})
	final, err := p.assemble(ctx, ws, doc, outputs)
	if err != nil {
		return res, err
	}
	if err := publish(final, cfg.Output); err != nil {
		return res, fmt.Errorf("%w: %v", ErrAssembly, err)
	}

	res.Duration = time.Since(start)
	notify(progress, Update{Total: doc.Pages, Completed: doc.Pages, Message: "Document ready"})
	log.Info("document processed",
		"output", cfg.Output,
		"pages", res.Produced,
		"fallbacks", res.Fallbacks,
		"skipped", res.Skipped,
		"duration", res.Duration.Round(time.Millisecond))

	return res, nil
}

// runPages processes every page, cfg.Jobs at a time. Pages never fail the
// run; only cancellation does.
func (p *Processor) runPages(ctx context.Context, cfg RunConfig, adapter Adapter, lang string, pages []*Page, progress func(Update)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Jobs)

	var completed atomic.Int32
	cleaner := p.cleaner(cfg.Preprocess)
	for _, pg := range pages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p.processPage(gctx, cfg, adapter, cleaner, lang, pg, len(pages), progress)
			n := int(completed.Add(1))
			notify(progress, Update{
				Page:      pg.Number,
				Total:     len(pages),
				Completed: n,
				State:     pg.State,
				Stage:     pg.FailedStage,
				Message:   fmt.Sprintf("Page %d of %d %s", pg.Number, len(pages), pg.State),
			})
			return gctx.Err()
		})
	}
	return g.Wait()
}

func (p *Processor) processPage(ctx context.Context, cfg RunConfig, adapter Adapter, cleaner Cleaner, lang string, pg *Page, total int, progress func(Update)) {
	log := slog.With("page", pg.Number, "total", total)

	step := func(stage Stage) {
		log.Info("page stage", "stage", string(stage))
		notify(progress, Update{Page: pg.Number, Total: total, Stage: stage, State: pg.State,
			Message: fmt.Sprintf("Page %d of %d: %s", pg.Number, total, stage)})
	}
	skip := func(stage Stage, err error) {
		pg.skip(stage, err)
		log.Warn("page skipped", "stage", string(stage), "error", err)
	}

	step(StageExtract)
	if err := p.extractPage(ctx, cfg.Input, pg); err != nil {
		skip(StageExtract, err)
		return
	}
	pg.State = StateExtracted

	step(StageRasterize)
	if err := p.rasterize(ctx, cfg, pg); err != nil {
		skip(StageRasterize, err)
		return
	}
	pg.State = StateRasterized

	if cleaner != nil {
		step(StagePreprocess)
		if err := cleaner.Clean(ctx, pg); err != nil {
			skip(StagePreprocess, err)
			return
		}
		pg.State = StateCleaned
	}

	step(StageRecognize)
	if err := adapter.Recognize(ctx, pg, lang, cfg.DPI); err != nil {
		if adapter.Kind() != KindPDF || ctx.Err() != nil {
			skip(StageRecognize, err)
			return
		}
		// The page keeps its place in the output, without a text layer.
		log.Warn("OCR failed, using page without OCR", "error", err)
		if err := copyFile(pg.SourcePDF, pg.OutputPDF); err != nil {
			skip(StageRecognize, err)
			return
		}
		pg.Fallback = true
		pg.State = StateReady
	} else {
		pg.State = StateRecognized
	}

	if pg.State == StateRecognized && adapter.Kind() == KindText {
		if stats, err := inspectHOCR(pg.Text); err != nil {
			log.Warn("could not inspect hocr", "error", err)
		} else {
			pg.Words = stats.Words
			log.Debug("recognized text", "lines", stats.Lines, "words", stats.Words)
			if stats.Words == 0 {
				log.Warn("no text recognized")
			}
		}

		step(StageEmbed)
		if err := p.embed(ctx, cfg, pg); err != nil {
			skip(StageEmbed, err)
			return
		}
		pg.State = StateReady
	}
	pg.State = StateDone
}

func notify(progress func(Update), u Update) {
	if progress != nil {
		progress(u)
	}
}

// adapter returns the Adapter for a resolved engine.
func (p *Processor) adapter(e Engine) Adapter {
	switch e {
	case EngineCuneiform:
		return &cuneiformAdapter{bin: p.tools.Cuneiform, run: p.run}
	case EngineOcropus:
		return &ocropusAdapter{bin: p.tools.Ocroscript, run: p.run}
	default:
		return &tesseractAdapter{bin: p.tools.Tesseract, run: p.run}
	}
}

func (p *Processor) engineBinary(e Engine) string {
	switch e {
	case EngineTesseract:
		return p.tools.Tesseract
	case EngineCuneiform:
		return p.tools.Cuneiform
	case EngineOcropus:
		return p.tools.Ocroscript
	}
	return ""
}

// ResolveEngine turns EngineAuto into the first installed engine, in the
// order tesseract, cuneiform, ocropus. An explicit choice must be installed.
func (p *Processor) ResolveEngine(e Engine) (Engine, error) {
	if e != EngineAuto {
		if _, err := p.lookPath(p.engineBinary(e)); err != nil {
			return e, fmt.Errorf("%w: %s (%s)", ErrToolMissing, p.engineBinary(e), e)
		}
		return e, nil
	}

	for _, candidate := range probeOrder {
		if _, err := p.lookPath(p.engineBinary(candidate)); err == nil {
			slog.Debug("selected OCR engine", "engine", candidate.String())
			return candidate, nil
		}
	}
	return EngineAuto, fmt.Errorf("%w: install tesseract, cuneiform or ocropus", ErrNoEngine)
}

// CheckTools verifies the supporting tools a run needs are installed.
func (p *Processor) CheckTools(cfg RunConfig, kind OutputKind) error {
	required := []string{p.tools.PDFtk, p.tools.PDFToPPM}
	if kind == KindText {
		required = append(required, p.tools.HOCR2PDF)
	}
	if cfg.Preprocess == PreprocessUnpaper {
		required = append(required, p.tools.Unpaper)
	}

	var missing []string
	for _, bin := range required {
		if _, err := p.lookPath(bin); err != nil {
			missing = append(missing, bin)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrToolMissing, strings.Join(missing, ", "))
	}
	return nil
}

// ToolStatus reports whether an external tool is installed.
type ToolStatus struct {
	Name   string `json:"name"`
	Binary string `json:"binary"`
	Path   string `json:"path,omitempty"`
	Found  bool   `json:"found"`
}

// Tools reports every external tool pdfocr can use.
func (p *Processor) Tools() []ToolStatus {
	tools := []struct{ name, bin string }{
		{"pdftk", p.tools.PDFtk},
		{"pdftoppm", p.tools.PDFToPPM},
		{"tesseract", p.tools.Tesseract},
		{"cuneiform", p.tools.Cuneiform},
		{"ocropus", p.tools.Ocroscript},
		{"hocr2pdf", p.tools.HOCR2PDF},
		{"unpaper", p.tools.Unpaper},
	}

	result := make([]ToolStatus, 0, len(tools))
	for _, t := range tools {
		st := ToolStatus{Name: t.name, Binary: t.bin}
		if path, err := p.lookPath(t.bin); err == nil {
			st.Path = path
			st.Found = true
		}
		result = append(result, st)
	}
	return result
}

// Languages lists the languages installed for an engine. EngineAuto is
// resolved first.
func (p *Processor) Languages(ctx context.Context, e Engine) (Engine, []string, error) {
	e, err := p.ResolveEngine(e)
	if err != nil {
		return e, nil, err
	}
	langs, err := p.adapter(e).Languages(ctx)
	return e, langs, err
}

func sanitizeFilename(name string) string {
	result := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '_' || c == '.' {
			result = append(result, c)
		} else if c == ' ' {
			result = append(result, '_')
		}
	}
	if len(result) == 0 {
		return "document"
	}
	return string(result)
}
