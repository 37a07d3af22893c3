package processor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/thoscut/pdfocr/internal/runner"
	"github.com/thoscut/pdfocr/internal/workspace"
)

// Document describes the input PDF.
type Document struct {
	Path  string
	Pages int
	Title string

	// Metadata is the verbatim pdftk dump, restored onto the output.
	Metadata     []byte
	MetadataPath string
}

var pageCountRe = regexp.MustCompile(`(?m)^NumberOfPages:\s*(\d+)`)

// inspect dumps the document metadata into the workspace and reads the page
// count from it.
func (p *Processor) inspect(ctx context.Context, input string, ws *workspace.Workspace) (*Document, error) {
	infoPath := ws.Path("pdfinfo.txt")

	_, err := p.run.Run(ctx, runner.Command{
		Name: p.tools.PDFtk,
		Args: []string{input, "dump_data_utf8", "output", infoPath},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: pdftk dump_data: %v", ErrPageCount, err)
	}

	data, err := os.ReadFile(infoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read metadata: %v", ErrPageCount, err)
	}

	n, err := parsePageCount(data)
	if err != nil {
		return nil, err
	}

	return &Document{
		Path:         input,
		Pages:        n,
		Title:        parseInfoValue(data, "Title"),
		Metadata:     data,
		MetadataPath: infoPath,
	}, nil
}

func parsePageCount(dump []byte) (int, error) {
	m := pageCountRe.FindSubmatch(dump)
	if m == nil {
		return 0, fmt.Errorf("%w: no NumberOfPages field", ErrPageCount)
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPageCount, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: document has no pages", ErrPageCount)
	}
	return n, nil
}

// parseInfoValue returns the InfoValue following "InfoKey: key".
func parseInfoValue(dump []byte, key string) string {
	sc := bufio.NewScanner(bytes.NewReader(dump))
	matched := false
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "InfoKey: "):
			matched = strings.TrimPrefix(line, "InfoKey: ") == key
		case matched && strings.HasPrefix(line, "InfoValue: "):
			return strings.TrimPrefix(line, "InfoValue: ")
		}
	}
	return ""
}

// extractPage writes page n of input into page.SourcePDF.
func (p *Processor) extractPage(ctx context.Context, input string, page *Page) error {
	_, err := p.run.Run(ctx, runner.Command{
		Name:   p.tools.PDFtk,
		Args:   []string{input, "cat", strconv.Itoa(page.Number), "output", page.SourcePDF},
		Prefix: pagePrefix(page),
	})
	if err != nil {
		return fmt.Errorf("pdftk cat failed: %w", err)
	}
	return requireFile(page.SourcePDF)
}

// embed lays page.Text over page.Raster with hocr2pdf.
func (p *Processor) embed(ctx context.Context, cfg RunConfig, page *Page) error {
	f, err := os.Open(page.Text)
	if err != nil {
		return fmt.Errorf("open hocr: %w", err)
	}
	defer f.Close()

	_, err = p.run.Run(ctx, runner.Command{
		Name:   p.tools.HOCR2PDF,
		Args:   []string{"-r", strconv.Itoa(cfg.DPI), "-i", page.Raster, "-o", page.OutputPDF},
		Stdin:  f,
		Prefix: pagePrefix(page),
	})
	if err != nil {
		return fmt.Errorf("hocr2pdf failed: %w", err)
	}
	return requireFile(page.OutputPDF)
}

// assemble merges the page PDFs in the given order and restores the
// original metadata. It returns the path of the finished document inside the
// workspace.
func (p *Processor) assemble(ctx context.Context, ws *workspace.Workspace, doc *Document, pagePDFs []string) (string, error) {
	if len(pagePDFs) == 0 {
		return "", fmt.Errorf("%w: no pages were produced", ErrAssembly)
	}

	merged := ws.Path("merged.pdf")
	args := append(append([]string{}, pagePDFs...), "cat", "output", merged)
	if _, err := p.run.Run(ctx, runner.Command{Name: p.tools.PDFtk, Args: args}); err != nil {
		return "", fmt.Errorf("%w: merge: %v", ErrAssembly, err)
	}
	if err := requireFile(merged); err != nil {
		return "", fmt.Errorf("%w: merge: %v", ErrAssembly, err)
	}

	final := ws.Path("final.pdf")
	_, err := p.run.Run(ctx, runner.Command{
		Name: p.tools.PDFtk,
		Args: []string{merged, "update_info_utf8", doc.MetadataPath, "output", final},
	})
	if err != nil {
		return "", fmt.Errorf("%w: update metadata: %v", ErrAssembly, err)
	}
	if err := requireFile(final); err != nil {
		return "", fmt.Errorf("%w: update metadata: %v", ErrAssembly, err)
	}
	return final, nil
}

// publish copies src to dst without ever leaving a partial file at dst or
// replacing a file that appeared there in the meantime.
func publish(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".pdfocr-*.pdf")
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("write output: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}

	// A hard link fails if dst exists, which a rename would silently replace.
	err = os.Link(tmpName, dst)
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("output %s appeared while processing", dst)
	}
	if _, statErr := os.Lstat(dst); statErr == nil {
		return fmt.Errorf("output %s appeared while processing", dst)
	}
	return os.Rename(tmpName, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
