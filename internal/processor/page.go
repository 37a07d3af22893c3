package processor

import (
	"fmt"
	"path/filepath"
	"strconv"
)

// Stage names a step of the per-page pipeline.
type Stage string

const (
	StageExtract    Stage = "extract"
	StageRasterize  Stage = "rasterize"
	StagePreprocess Stage = "preprocess"
	StageRecognize  Stage = "recognize"
	StageEmbed      Stage = "embed"
)

// PageState tracks how far a page has progressed.
type PageState string

const (
	StatePending    PageState = "pending"
	StateExtracted  PageState = "extracted"
	StateRasterized PageState = "rasterized"
	StateCleaned    PageState = "cleaned"
	StateRecognized PageState = "recognized"
	StateReady      PageState = "ready"
	StateDone       PageState = "done"
	StateSkipped    PageState = "skipped"
)

// StageError records why a page was skipped.
type StageError struct {
	Page  int
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("page %d: %s: %v", e.Page, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Page is one page of the input document and the artifacts derived from it.
// All artifact names share the zero-padded base, so lexical order of the
// file names equals page order.
type Page struct {
	Number int    `json:"number"`
	Base   string `json:"base"`

	SourcePDF string `json:"-"`
	Raster    string `json:"-"`
	Text      string `json:"-"`
	OutputPDF string `json:"-"`

	State       PageState `json:"state"`
	FailedStage Stage     `json:"failed_stage,omitempty"`
	Fallback    bool      `json:"fallback,omitempty"`
	Words       int       `json:"words,omitempty"`
	Err         error     `json:"-"`
}

// PadWidth returns the number of digits in total, the width every page
// number is padded to.
func PadWidth(total int) int {
	if total < 1 {
		return 1
	}
	return len(strconv.Itoa(total))
}

// PageBase returns the zero-padded base name of page n out of total.
func PageBase(n, total int) string {
	return fmt.Sprintf("%0*d", PadWidth(total), n)
}

// newPages lays out the artifacts of total pages inside dir. rasterExt is
// the raster file extension including the dot.
func newPages(dir string, total int, rasterExt string) []*Page {
	pages := make([]*Page, total)
	for i := range pages {
		n := i + 1
		base := PageBase(n, total)
		pages[i] = &Page{
			Number:    n,
			Base:      base,
			SourcePDF: filepath.Join(dir, base+".pdf"),
			Raster:    filepath.Join(dir, base+rasterExt),
			Text:      filepath.Join(dir, base+".hocr"),
			OutputPDF: filepath.Join(dir, base+"-ocr.pdf"),
			State:     StatePending,
		}
	}
	return pages
}

func (pg *Page) skip(stage Stage, err error) {
	pg.State = StateSkipped
	pg.FailedStage = stage
	pg.Err = &StageError{Page: pg.Number, Stage: stage, Err: err}
}

// Failure returns the message of a skipped page, or "".
func (pg *Page) Failure() string {
	if pg.Err == nil {
		return ""
	}
	return pg.Err.Error()
}
