package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/thoscut/pdfocr/internal/workspace"
)

// testRun prepares an input file and a working directory and returns a
// RunConfig pointing at them.
func testRun(t *testing.T, engine Engine) RunConfig {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "scan.PDF")
	if err := os.WriteFile(input, []byte("%PDF-1.4 scanned"), 0o644); err != nil {
		t.Fatal(err)
	}
	work := filepath.Join(dir, "work")
	if err := os.Mkdir(work, 0o755); err != nil {
		t.Fatal(err)
	}
	return RunConfig{
		Input:      input,
		Output:     filepath.Join(dir, "out.pdf"),
		DPI:        300,
		Language:   "eng",
		Engine:     engine,
		CropBox:    true,
		WorkingDir: work,
		Jobs:       1,
	}
}

func outputPages(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	return strings.Split(string(data), "\n")
}

func assertWorkspaceRemoved(t *testing.T, cfg RunConfig) {
	t.Helper()
	if _, err := os.Stat(filepath.Join(cfg.WorkingDir, workspace.ChildName)); !os.IsNotExist(err) {
		t.Errorf("workspace was not removed: %v", err)
	}
	if _, err := os.Stat(cfg.WorkingDir); err != nil {
		t.Errorf("working directory must survive: %v", err)
	}
}

func TestProcessTesseract(t *testing.T) {
	f := newFakeRunner(12)
	p := newTestProcessor(f, installed(allTools...))
	cfg := testRun(t, EngineAuto)

	res, err := p.Process(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if res.Engine != "tesseract" {
		t.Errorf("expected tesseract, got %s", res.Engine)
	}
	if res.Total != 12 || res.Produced != 12 || res.Skipped != 0 || res.Fallbacks != 0 {
		t.Errorf("unexpected counts: %+v", res)
	}
	if res.Title != "Quarterly Report" {
		t.Errorf("unexpected title %q", res.Title)
	}

	pages := outputPages(t, cfg.Output)
	if len(pages) != 12 {
		t.Fatalf("expected 12 pages, got %d", len(pages))
	}
	if pages[0] != "ocr:raster:page 1" || pages[11] != "ocr:raster:page 12" {
		t.Errorf("unexpected page content: %q ... %q", pages[0], pages[11])
	}

	var names []string
	for _, in := range f.merged {
		names = append(names, filepath.Base(in))
	}
	if names[0] != "01-ocr.pdf" || names[9] != "10-ocr.pdf" || names[11] != "12-ocr.pdf" {
		t.Errorf("unexpected merge order: %v", names)
	}

	if string(f.updateInfo) != f.dump {
		t.Errorf("metadata was not restored verbatim:\n%s", f.updateInfo)
	}

	calls := f.toolCalls("tesseract")
	if len(calls) != 12 {
		t.Fatalf("expected 12 tesseract calls, got %d", len(calls))
	}
	if got := calls[0].Args[:4]; !slices.Equal(got, []string{"--dpi", "300", "-l", "eng"}) {
		t.Errorf("unexpected tesseract args %v", got)
	}
	if !slices.Contains(f.toolCalls("pdftoppm")[0].Args, "-cropbox") {
		t.Error("expected crop box rasterization")
	}

	assertWorkspaceRemoved(t, cfg)
}

func TestProcessTesseractFailureKeepsPage(t *testing.T) {
	f := newFakeRunner(5)
	f.failOn("tesseract", 3)
	p := newTestProcessor(f, installed(allTools...))
	cfg := testRun(t, EngineTesseract)

	res, err := p.Process(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	pages := outputPages(t, cfg.Output)
	if len(pages) != 5 {
		t.Fatalf("expected 5 pages, got %d", len(pages))
	}
	if pages[2] != "page 3" {
		t.Errorf("page 3 should be the extracted page, got %q", pages[2])
	}
	if pages[3] != "ocr:raster:page 4" {
		t.Errorf("unexpected page 4 content %q", pages[3])
	}
	if res.Fallbacks != 1 || res.Produced != 5 {
		t.Errorf("unexpected counts: %+v", res)
	}
	if !res.Pages[2].Fallback || res.Pages[2].State != StateDone {
		t.Errorf("page 3 not marked as fallback: %+v", res.Pages[2])
	}
}

func TestProcessCuneiformEmbedFailureDropsPage(t *testing.T) {
	f := newFakeRunner(5)
	f.failOn("hocr2pdf", 2)
	p := newTestProcessor(f, installed(allTools...))
	cfg := testRun(t, EngineCuneiform)
	cfg.Language = "deu"

	res, err := p.Process(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	pages := outputPages(t, cfg.Output)
	if len(pages) != 4 {
		t.Fatalf("expected 4 pages, got %d", len(pages))
	}
	if pages[1] != "embedded:raster:page 3" {
		t.Errorf("page 2 should be gone, got %q", pages[1])
	}
	if res.Skipped != 1 || res.Pages[1].FailedStage != StageEmbed {
		t.Errorf("unexpected skip record: %+v", res.Pages[1])
	}
	var stageErr *StageError
	if !errors.As(res.Pages[1].Err, &stageErr) || stageErr.Page != 2 {
		t.Errorf("expected StageError for page 2, got %v", res.Pages[1].Err)
	}

	if lang := f.toolCalls("cuneiform")[0].Args[1]; lang != "ger" {
		t.Errorf("expected normalized language ger, got %s", lang)
	}
	if res.Pages[0].Words != 4 {
		t.Errorf("expected 4 words on page 1, got %d", res.Pages[0].Words)
	}
}

func TestProcessCuneiformRecognizeFailureDropsPage(t *testing.T) {
	f := newFakeRunner(3)
	f.failOn("cuneiform", 1)
	p := newTestProcessor(f, installed(allTools...))
	cfg := testRun(t, EngineCuneiform)

	res, err := p.Process(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Produced != 2 || res.Pages[0].FailedStage != StageRecognize {
		t.Errorf("unexpected result: %+v", res.Pages[0])
	}
	if len(f.toolCalls("hocr2pdf")) != 2 {
		t.Error("embedder should not run for a failed page")
	}
}

func TestProcessOcropus(t *testing.T) {
	f := newFakeRunner(2)
	p := newTestProcessor(f, installed("pdftk", "pdftoppm", "ocroscript", "hocr2pdf"))
	cfg := testRun(t, EngineAuto)

	res, err := p.Process(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Engine != "ocropus" {
		t.Fatalf("expected ocropus, got %s", res.Engine)
	}
	if res.Produced != 2 || res.Pages[1].Words != 2 {
		t.Errorf("unexpected result: %+v %+v", res, res.Pages[1])
	}
}

func TestProcessStageFailuresSkip(t *testing.T) {
	tests := []struct {
		tool       string
		preprocess Preprocess
		stage      Stage
	}{
		{"extract", PreprocessNone, StageExtract},
		{"pdftoppm", PreprocessNone, StageRasterize},
		{"unpaper", PreprocessUnpaper, StagePreprocess},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			f := newFakeRunner(4)
			f.failOn(tt.tool, 4)
			p := newTestProcessor(f, installed(allTools...))
			cfg := testRun(t, EngineTesseract)
			cfg.Preprocess = tt.preprocess

			res, err := p.Process(context.Background(), cfg)
			if err != nil {
				t.Fatalf("Process failed: %v", err)
			}
			if res.Produced != 3 || res.Skipped != 1 || res.Fallbacks != 0 {
				t.Errorf("unexpected counts: %+v", res)
			}
			if res.Pages[3].FailedStage != tt.stage {
				t.Errorf("expected stage %s, got %s", tt.stage, res.Pages[3].FailedStage)
			}
			if n := len(outputPages(t, cfg.Output)); n != 3 {
				t.Errorf("expected 3 pages, got %d", n)
			}
		})
	}
}

func TestProcessUnpaper(t *testing.T) {
	f := newFakeRunner(2)
	p := newTestProcessor(f, installed(allTools...))
	cfg := testRun(t, EngineTesseract)
	cfg.Preprocess = PreprocessUnpaper

	if _, err := p.Process(context.Background(), cfg); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	pages := outputPages(t, cfg.Output)
	if pages[0] != "ocr:raster:page 1+clean" {
		t.Errorf("recognizer should see the cleaned raster, got %q", pages[0])
	}
}

func TestProcessBuiltinCleaner(t *testing.T) {
	f := newFakeRunner(2)
	p := newTestProcessor(f, installed(allTools...))
	cfg := testRun(t, EngineTesseract)
	cfg.Preprocess = PreprocessBuiltin
	cfg.Keep = true

	res, err := p.Process(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Produced != 2 {
		t.Fatalf("expected 2 pages, got %d", res.Produced)
	}
	if !slices.Contains(f.toolCalls("pdftoppm")[0].Args, "-png") {
		t.Error("builtin cleaner needs png rasters")
	}
	if _, err := os.Stat(filepath.Join(res.Workspace, PageBase(1, 2)+".png")); err != nil {
		t.Errorf("cleaned raster missing: %v", err)
	}
}

func TestProcessParallelKeepsOrder(t *testing.T) {
	f := newFakeRunner(23)
	f.failOn("tesseract", 7)
	f.failOn("extract", 15)

	var mu sync.Mutex
	var updates []Update
	p := newTestProcessor(f, installed(allTools...), WithProgress(func(u Update) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	}))
	cfg := testRun(t, EngineTesseract)
	cfg.Jobs = 4

	res, err := p.Process(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if !slices.IsSorted(f.merged) {
		t.Errorf("merge inputs out of order: %v", f.merged)
	}
	if len(f.merged) != 22 {
		t.Errorf("expected 22 merged pages, got %d", len(f.merged))
	}
	pages := outputPages(t, cfg.Output)
	if pages[6] != "page 7" {
		t.Errorf("expected fallback page 7 in place, got %q", pages[6])
	}
	if res.Fallbacks != 1 || res.Skipped != 1 {
		t.Errorf("unexpected counts: %+v", res)
	}

	final := updates[len(updates)-1]
	if final.Completed != 23 || final.Message != "Document ready" {
		t.Errorf("unexpected final update %+v", final)
	}
}

func TestProcessKeepWorkspace(t *testing.T) {
	f := newFakeRunner(3)
	p := newTestProcessor(f, installed(allTools...))
	cfg := testRun(t, EngineTesseract)
	cfg.Keep = true

	res, err := p.Process(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Workspace != filepath.Join(cfg.WorkingDir, workspace.ChildName) {
		t.Fatalf("unexpected workspace %s", res.Workspace)
	}
	for _, name := range []string{"pdfinfo.txt", "1.pdf", "1.ppm", "1-ocr.pdf", "merged.pdf"} {
		if _, err := os.Stat(filepath.Join(res.Workspace, name)); err != nil {
			t.Errorf("expected %s to be kept: %v", name, err)
		}
	}
}

func TestProcessNoPagesProduced(t *testing.T) {
	f := newFakeRunner(3)
	f.failOn("pdftoppm", 0)
	p := newTestProcessor(f, installed(allTools...))
	cfg := testRun(t, EngineTesseract)

	res, err := p.Process(context.Background(), cfg)
	if !errors.Is(err, ErrAssembly) {
		t.Fatalf("expected ErrAssembly, got %v", err)
	}
	if res.Skipped != 3 {
		t.Errorf("expected 3 skipped pages, got %d", res.Skipped)
	}
	if _, err := os.Stat(cfg.Output); !os.IsNotExist(err) {
		t.Error("no output file may be written")
	}
	assertWorkspaceRemoved(t, cfg)
}

func TestProcessAssemblyFailures(t *testing.T) {
	for _, tool := range []string{"merge", "update"} {
		t.Run(tool, func(t *testing.T) {
			f := newFakeRunner(2)
			f.failOn(tool, 0)
			p := newTestProcessor(f, installed(allTools...))
			cfg := testRun(t, EngineTesseract)

			_, err := p.Process(context.Background(), cfg)
			if !errors.Is(err, ErrAssembly) {
				t.Fatalf("expected ErrAssembly, got %v", err)
			}
			if _, err := os.Stat(cfg.Output); !os.IsNotExist(err) {
				t.Error("no output file may be written")
			}
			assertWorkspaceRemoved(t, cfg)
		})
	}
}

func TestProcessPageCountMissing(t *testing.T) {
	f := newFakeRunner(3)
	f.dump = "InfoBegin\nInfoKey: Producer\nInfoValue: scanner\n"
	p := newTestProcessor(f, installed(allTools...))
	cfg := testRun(t, EngineTesseract)

	if _, err := p.Process(context.Background(), cfg); !errors.Is(err, ErrPageCount) {
		t.Fatalf("expected ErrPageCount, got %v", err)
	}
	assertWorkspaceRemoved(t, cfg)
}

func TestProcessLanguageCheck(t *testing.T) {
	f := newFakeRunner(1)
	p := newTestProcessor(f, installed(allTools...))
	cfg := testRun(t, EngineTesseract)
	cfg.Language = "fra"
	cfg.CheckLanguage = true

	_, err := p.Process(context.Background(), cfg)
	if !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("expected ErrUnsupportedLanguage, got %v", err)
	}
	if len(f.toolCalls("pdftk")) != 0 {
		t.Error("no page work may start after a language error")
	}
	assertWorkspaceRemoved(t, cfg)

	// Unchecked, the same language goes straight to the engine.
	cfg = testRun(t, EngineTesseract)
	cfg.Language = "fra"
	if _, err := p.Process(context.Background(), cfg); err != nil {
		t.Fatalf("unchecked language should pass: %v", err)
	}
}

func TestProcessLanguageCheckCombined(t *testing.T) {
	f := newFakeRunner(1)
	p := newTestProcessor(f, installed(allTools...))
	cfg := testRun(t, EngineTesseract)
	cfg.Language = "deu+eng"
	cfg.CheckLanguage = true

	if _, err := p.Process(context.Background(), cfg); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
}

func TestProcessMissingTools(t *testing.T) {
	tests := []struct {
		name      string
		engine    Engine
		installed []string
		want      error
	}{
		{"no engine", EngineAuto, []string{"pdftk", "pdftoppm", "hocr2pdf"}, ErrNoEngine},
		{"explicit engine missing", EngineCuneiform, []string{"pdftk", "pdftoppm", "tesseract", "hocr2pdf"}, ErrToolMissing},
		{"no embedder", EngineCuneiform, []string{"pdftk", "pdftoppm", "cuneiform"}, ErrToolMissing},
		{"no pdftk", EngineTesseract, []string{"pdftoppm", "tesseract"}, ErrToolMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeRunner(1)
			p := newTestProcessor(f, installed(tt.installed...))
			cfg := testRun(t, tt.engine)

			if _, err := p.Process(context.Background(), cfg); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if _, err := os.Stat(filepath.Join(cfg.WorkingDir, workspace.ChildName)); !os.IsNotExist(err) {
				t.Error("workspace must not be created before tools are verified")
			}
		})
	}
}

func TestProcessUnpaperRequired(t *testing.T) {
	f := newFakeRunner(1)
	p := newTestProcessor(f, installed("pdftk", "pdftoppm", "tesseract"))
	cfg := testRun(t, EngineTesseract)
	cfg.Preprocess = PreprocessUnpaper

	if _, err := p.Process(context.Background(), cfg); !errors.Is(err, ErrToolMissing) {
		t.Fatalf("expected ErrToolMissing, got %v", err)
	}
}

func TestProcessWorkspaceCollision(t *testing.T) {
	f := newFakeRunner(1)
	p := newTestProcessor(f, installed(allTools...))
	cfg := testRun(t, EngineTesseract)
	os.Mkdir(filepath.Join(cfg.WorkingDir, workspace.ChildName), 0o755)

	if _, err := p.Process(context.Background(), cfg); !errors.Is(err, workspace.ErrExists) {
		t.Fatalf("expected workspace.ErrExists, got %v", err)
	}
}

func TestProcessCancelled(t *testing.T) {
	f := newFakeRunner(3)
	p := newTestProcessor(f, installed(allTools...))
	cfg := testRun(t, EngineTesseract)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Process(ctx, cfg); !errors.Is(err, context.Canceled) && !errors.Is(err, ErrPageCount) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if _, err := os.Stat(cfg.Output); !os.IsNotExist(err) {
		t.Error("no output file may be written")
	}
	assertWorkspaceRemoved(t, cfg)
}

func TestResolveEngine(t *testing.T) {
	tests := []struct {
		installed []string
		want      Engine
	}{
		{[]string{"tesseract", "cuneiform", "ocroscript"}, EngineTesseract},
		{[]string{"cuneiform", "ocroscript"}, EngineCuneiform},
		{[]string{"ocroscript"}, EngineOcropus},
	}

	for _, tt := range tests {
		p := newTestProcessor(newFakeRunner(1), installed(tt.installed...))
		got, err := p.ResolveEngine(EngineAuto)
		if err != nil {
			t.Fatalf("ResolveEngine(%v): %v", tt.installed, err)
		}
		if got != tt.want {
			t.Errorf("ResolveEngine(%v) = %s, want %s", tt.installed, got, tt.want)
		}
	}

	p := newTestProcessor(newFakeRunner(1), installed("tesseract", "cuneiform"))
	if got, _ := p.ResolveEngine(EngineCuneiform); got != EngineCuneiform {
		t.Errorf("explicit choice must win over probe order, got %s", got)
	}
}

func TestToolsReport(t *testing.T) {
	p := newTestProcessor(newFakeRunner(1), installed("pdftk", "tesseract"))

	found := map[string]bool{}
	for _, st := range p.Tools() {
		found[st.Name] = st.Found
	}
	if !found["pdftk"] || !found["tesseract"] || found["hocr2pdf"] {
		t.Fatalf("unexpected report %v", found)
	}
}

func TestLanguages(t *testing.T) {
	p := newTestProcessor(newFakeRunner(1), installed("cuneiform"))

	engine, langs, err := p.Languages(context.Background(), EngineAuto)
	if err != nil {
		t.Fatalf("Languages: %v", err)
	}
	if engine != EngineCuneiform || !slices.Equal(langs, []string{"eng", "ger", "fra"}) {
		t.Fatalf("unexpected languages %s %v", engine, langs)
	}
}

func TestResultFilename(t *testing.T) {
	r := &Result{Title: "Quarterly Report: Q3", Output: "/tmp/out.pdf"}
	if got := r.Filename(); got != "Quarterly_Report_Q3.pdf" {
		t.Errorf("Filename() = %q", got)
	}
	r.Title = ""
	if got := r.Filename(); got != "out.pdf" {
		t.Errorf("Filename() = %q", got)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Normal Name", "Normal_Name"},
		{"file.pdf", "file.pdf"},
		{"Hello World!", "Hello_World"},
		{"", "document"},
		{"test-file_123", "test-file_123"},
	}

	for _, tt := range tests {
		if got := sanitizeFilename(tt.input); got != tt.expected {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
