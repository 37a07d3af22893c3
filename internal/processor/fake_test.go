package processor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/thoscut/pdfocr/internal/config"
	"github.com/thoscut/pdfocr/internal/runner"
)

// fakeRunner stands in for the external tools. Each tool writes small text
// artifacts derived from its inputs, so tests can trace which page ended up
// where. Failures are injected per tool and page number.
type fakeRunner struct {
	pages    int
	dump     string
	tessList string

	mu         sync.Mutex
	fail       map[string]bool
	calls      []runner.Command
	merged     []string
	updateInfo []byte
}

func newFakeRunner(pages int) *fakeRunner {
	return &fakeRunner{
		pages: pages,
		dump: fmt.Sprintf("InfoBegin\nInfoKey: Title\nInfoValue: Quarterly Report\n"+
			"InfoBegin\nInfoKey: Author\nInfoValue: Jörg Müller\nNumberOfPages: %d\n", pages),
		tessList: "List of available languages (3):\neng\ndeu\nosd\n",
		fail:     map[string]bool{},
	}
}

// failOn makes tool fail for the given page; page 0 fails every page.
func (f *fakeRunner) failOn(tool string, page int) {
	f.fail[tool+":"+strconv.Itoa(page)] = true
}

func (f *fakeRunner) shouldFail(tool string, page int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail[tool+":0"] || f.fail[tool+":"+strconv.Itoa(page)]
}

func (f *fakeRunner) toolCalls(tool string) []runner.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []runner.Command
	for _, c := range f.calls {
		if c.Name == tool {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeRunner) Run(ctx context.Context, c runner.Command) (*runner.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return &runner.Result{}, err
	}

	exitErr := &runner.ExitError{Command: c.Name, Code: 1}
	a := c.Args

	switch c.Name {
	case "pdftk":
		return f.pdftk(a)

	case "pdftoppm":
		src, root := a[len(a)-2], a[len(a)-1]
		if f.shouldFail("pdftoppm", pageOf(src)) {
			return &runner.Result{}, exitErr
		}
		if slices.Contains(a, "-png") {
			return &runner.Result{}, writePNG(root+".png", pageOf(src))
		}
		return &runner.Result{}, os.WriteFile(root+".ppm", []byte("raster:"+read(src)), 0o644)

	case "unpaper":
		in, out := a[0], a[1]
		if f.shouldFail("unpaper", pageOf(in)) {
			return &runner.Result{}, exitErr
		}
		return &runner.Result{}, os.WriteFile(out, []byte(read(in)+"+clean"), 0o644)

	case "tesseract":
		if slices.Contains(a, "--list-langs") {
			return &runner.Result{Output: f.tessList}, nil
		}
		raster, outBase := a[4], a[5]
		if f.shouldFail("tesseract", pageOf(raster)) {
			return &runner.Result{Output: "Error during processing."}, exitErr
		}
		return &runner.Result{}, os.WriteFile(outBase+".pdf", []byte("ocr:"+read(raster)), 0o644)

	case "cuneiform":
		if len(a) == 1 && a[0] == "-l" {
			return &runner.Result{Output: "Cuneiform for Linux 1.1.0\nSupported languages: eng ger fra.\n"}, nil
		}
		out, raster := a[5], a[6]
		if f.shouldFail("cuneiform", pageOf(raster)) {
			return &runner.Result{}, exitErr
		}
		hocr := fmt.Sprintf(`<html><body><div class="ocr_page"><span class="ocr_line">Hello world page %d</span></div></body></html>`, pageOf(raster))
		return &runner.Result{}, os.WriteFile(out, []byte(hocr), 0o644)

	case "ocroscript":
		raster := a[1]
		if f.shouldFail("ocroscript", pageOf(raster)) {
			return &runner.Result{}, exitErr
		}
		_, err := io.WriteString(c.Stdout, `<html><body><div class="ocr_page"><span class="ocr_line">`+
			`<span class="ocrx_word">Hello</span> <span class="ocrx_word">there</span></span></div></body></html>`)
		return &runner.Result{}, err

	case "hocr2pdf":
		raster, out := a[3], a[5]
		hocr, _ := io.ReadAll(c.Stdin)
		if f.shouldFail("hocr2pdf", pageOf(raster)) || !strings.Contains(string(hocr), "ocr_page") {
			return &runner.Result{}, exitErr
		}
		return &runner.Result{}, os.WriteFile(out, []byte("embedded:"+read(raster)), 0o644)
	}

	return &runner.Result{}, fmt.Errorf("run %s: executable file not found", c.Name)
}

func (f *fakeRunner) pdftk(a []string) (*runner.Result, error) {
	exitErr := &runner.ExitError{Command: "pdftk", Code: 1}

	switch {
	case len(a) == 4 && a[1] == "dump_data_utf8":
		if f.shouldFail("dump", 0) {
			return &runner.Result{}, exitErr
		}
		return &runner.Result{}, os.WriteFile(a[3], []byte(f.dump), 0o644)

	case len(a) == 5 && a[1] == "cat":
		n, _ := strconv.Atoi(a[2])
		if f.shouldFail("extract", n) {
			return &runner.Result{}, exitErr
		}
		return &runner.Result{}, os.WriteFile(a[4], []byte("page "+a[2]), 0o644)

	case len(a) == 5 && a[1] == "update_info_utf8":
		info, err := os.ReadFile(a[2])
		if err != nil {
			return &runner.Result{}, err
		}
		f.mu.Lock()
		f.updateInfo = info
		f.mu.Unlock()
		if f.shouldFail("update", 0) {
			return &runner.Result{}, exitErr
		}
		return &runner.Result{}, os.WriteFile(a[4], []byte(read(a[0])), 0o644)
	}

	idx := slices.Index(a, "cat")
	inputs, out := a[:idx], a[idx+2]
	if f.shouldFail("merge", 0) {
		return &runner.Result{}, exitErr
	}

	var parts []string
	for _, in := range inputs {
		parts = append(parts, read(in))
	}
	f.mu.Lock()
	f.merged = append([]string{}, inputs...)
	f.mu.Unlock()
	return &runner.Result{}, os.WriteFile(out, []byte(strings.Join(parts, "\n")), 0o644)
}

// pageOf reads the page number from an artifact name like 07_unpaper.ppm.
func pageOf(path string) int {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.TrimSuffix(base, "-ocr")
	base = strings.TrimSuffix(base, "_unpaper")
	n, _ := strconv.Atoi(base)
	return n
}

func read(path string) string {
	data, _ := os.ReadFile(path)
	return string(data)
}

func writePNG(path string, page int) error {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			if (x+y+page)%3 == 0 {
				img.Set(x, y, color.Black)
			} else {
				img.Set(x, y, color.White)
			}
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

// installed returns a lookPath that finds exactly the named binaries.
func installed(bins ...string) func(string) (string, error) {
	return func(name string) (string, error) {
		if slices.Contains(bins, name) {
			return "/usr/bin/" + name, nil
		}
		return "", fmt.Errorf("exec: %q: executable file not found in $PATH", name)
	}
}

var allTools = []string{"pdftk", "pdftoppm", "tesseract", "cuneiform", "ocroscript", "hocr2pdf", "unpaper"}

func newTestProcessor(f *fakeRunner, lookPath func(string) (string, error), opts ...Option) *Processor {
	opts = append([]Option{WithLookPath(lookPath)}, opts...)
	return New(config.DefaultConfig().Tools, f, opts...)
}
