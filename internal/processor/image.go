package processor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/thoscut/pdfocr/internal/runner"
)

// rasterExt returns the raster file extension for a preprocessor. The
// builtin cleaner decodes PNG; everything else works on PPM.
func rasterExt(mode Preprocess) string {
	if mode == PreprocessBuiltin {
		return ".png"
	}
	return ".ppm"
}

// rasterize renders page.SourcePDF into page.Raster at the configured dpi.
func (p *Processor) rasterize(ctx context.Context, cfg RunConfig, page *Page) error {
	ext := filepath.Ext(page.Raster)

	args := []string{"-r", strconv.Itoa(cfg.DPI)}
	if cfg.CropBox {
		args = append([]string{"-cropbox"}, args...)
	}
	if ext == ".png" {
		args = append(args, "-png")
	}
	args = append(args, "-singlefile", page.SourcePDF, strings.TrimSuffix(page.Raster, ext))

	_, err := p.run.Run(ctx, runner.Command{Name: p.tools.PDFToPPM, Args: args, Prefix: pagePrefix(page)})
	if err != nil {
		return fmt.Errorf("pdftoppm failed: %w", err)
	}
	return requireFile(page.Raster)
}

// Cleaner improves a page raster in place before recognition.
type Cleaner interface {
	Clean(ctx context.Context, page *Page) error
}

// cleaner returns the Cleaner for mode, or nil when no cleanup is wanted.
func (p *Processor) cleaner(mode Preprocess) Cleaner {
	switch mode {
	case PreprocessUnpaper:
		return &unpaperCleaner{bin: p.tools.Unpaper, run: p.run}
	case PreprocessBuiltin:
		return &builtinCleaner{blankThreshold: 0.99}
	}
	return nil
}

// unpaperCleaner deskews and despeckles with unpaper, which refuses to
// overwrite its input, so the result is renamed over the raster afterwards.
type unpaperCleaner struct {
	bin string
	run runner.Runner
}

func (c *unpaperCleaner) Clean(ctx context.Context, page *Page) error {
	ext := filepath.Ext(page.Raster)
	cleaned := strings.TrimSuffix(page.Raster, ext) + "_unpaper" + ext

	_, err := c.run.Run(ctx, runner.Command{
		Name:   c.bin,
		Args:   []string{page.Raster, cleaned},
		Prefix: pagePrefix(page),
	})
	if err != nil {
		return fmt.Errorf("unpaper failed: %w", err)
	}
	if err := requireFile(cleaned); err != nil {
		return err
	}
	if err := os.Rename(cleaned, page.Raster); err != nil {
		return fmt.Errorf("replace raster: %w", err)
	}
	return nil
}

// builtinCleaner converts the raster to grayscale, stretches its contrast
// and sharpens it without any external tool.
type builtinCleaner struct {
	blankThreshold float64
}

func (c *builtinCleaner) Clean(ctx context.Context, page *Page) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	img, err := imaging.Open(page.Raster)
	if err != nil {
		return fmt.Errorf("open raster: %w", err)
	}

	gray := imaging.Grayscale(img)
	if isBlankPage(gray, c.blankThreshold) {
		slog.Info("page looks blank", "page", page.Number)
	}

	out := imaging.Sharpen(imaging.AdjustContrast(gray, 20), 1.0)
	if err := imaging.Save(out, page.Raster); err != nil {
		return fmt.Errorf("save raster: %w", err)
	}
	return nil
}

// isBlankPage reports whether at least threshold of the sampled pixels are
// near white.
func isBlankPage(img image.Image, threshold float64) bool {
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return true
	}

	white, sampled := 0, 0
	// every 4th pixel in each direction
	for y := bounds.Min.Y; y < bounds.Max.Y; y += 4 {
		for x := bounds.Min.X; x < bounds.Max.X; x += 4 {
			sampled++
			if color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y > 240 {
				white++
			}
		}
	}

	return float64(white)/float64(sampled) >= threshold
}
