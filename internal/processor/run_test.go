package processor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/thoscut/pdfocr/internal/config"
)

func TestRunConfigValidate(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.pdf")
	os.WriteFile(input, []byte("%PDF"), 0o644)
	upper := filepath.Join(dir, "SCAN.PDF")
	os.WriteFile(upper, []byte("%PDF"), 0o644)
	text := filepath.Join(dir, "notes.txt")
	os.WriteFile(text, nil, 0o644)
	existing := filepath.Join(dir, "existing.pdf")
	os.WriteFile(existing, nil, 0o644)
	folder := filepath.Join(dir, "folder.pdf")
	os.Mkdir(folder, 0o755)
	out := filepath.Join(dir, "out.pdf")

	base := RunConfig{Input: input, Output: out, DPI: 300, Language: "eng"}

	tests := []struct {
		name   string
		modify func(*RunConfig)
		ok     bool
	}{
		{"valid", func(c *RunConfig) {}, true},
		{"uppercase extension", func(c *RunConfig) { c.Input = upper }, true},
		{"uppercase output extension", func(c *RunConfig) { c.Output = filepath.Join(dir, "OUT.Pdf") }, true},
		{"no input", func(c *RunConfig) { c.Input = "" }, false},
		{"no output", func(c *RunConfig) { c.Output = "" }, false},
		{"input not pdf", func(c *RunConfig) { c.Input = text }, false},
		{"output not pdf", func(c *RunConfig) { c.Output = filepath.Join(dir, "out.txt") }, false},
		{"input missing", func(c *RunConfig) { c.Input = filepath.Join(dir, "missing.pdf") }, false},
		{"input is directory", func(c *RunConfig) { c.Input = folder }, false},
		{"output exists", func(c *RunConfig) { c.Output = existing }, false},
		{"output directory missing", func(c *RunConfig) { c.Output = filepath.Join(dir, "nope", "out.pdf") }, false},
		{"output parent is a file", func(c *RunConfig) { c.Output = filepath.Join(text, "out.pdf") }, false},
		{"same file", func(c *RunConfig) { c.Output = input }, false},
		{"empty language", func(c *RunConfig) { c.Language = " " }, false},
		{"zero dpi", func(c *RunConfig) { c.DPI = 0 }, false},
		{"bad preprocess", func(c *RunConfig) { c.Preprocess = "magic" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.modify(&cfg)
			_, err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestRunConfigValidateDefaults(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.pdf")
	os.WriteFile(input, []byte("%PDF"), 0o644)

	cfg, err := RunConfig{Input: input, Output: filepath.Join(dir, "o.pdf"), DPI: 150, Language: "eng"}.Validate()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Jobs != 1 {
		t.Errorf("expected 1 job, got %d", cfg.Jobs)
	}
	if cfg.Preprocess != PreprocessNone {
		t.Errorf("expected no preprocessing, got %s", cfg.Preprocess)
	}
	if !filepath.IsAbs(cfg.Output) {
		t.Errorf("output should be absolute: %s", cfg.Output)
	}
}

func TestParsePreprocess(t *testing.T) {
	tests := []struct {
		input string
		want  Preprocess
		ok    bool
	}{
		{"", PreprocessNone, true},
		{"none", PreprocessNone, true},
		{"Unpaper", PreprocessUnpaper, true},
		{"builtin", PreprocessBuiltin, true},
		{"deskew", "", false},
	}

	for _, tt := range tests {
		got, err := ParsePreprocess(tt.input)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParsePreprocess(%q) = %q, %v", tt.input, got, err)
		}
	}
}

func TestNewRunConfig(t *testing.T) {
	d := config.DefaultConfig().Defaults
	d.Engine = "ocroscript"
	d.Preprocess = "builtin"
	d.Jobs = 3

	rc, err := NewRunConfig(d, "in.pdf", "out.pdf")
	if err != nil {
		t.Fatalf("NewRunConfig: %v", err)
	}
	if rc.Engine != EngineOcropus || rc.Preprocess != PreprocessBuiltin || rc.Jobs != 3 {
		t.Fatalf("unexpected run config %+v", rc)
	}
	if rc.DPI != 300 || rc.Language != "eng" || !rc.CropBox {
		t.Fatalf("defaults not carried over: %+v", rc)
	}

	d.Engine = "gocr"
	if _, err := NewRunConfig(d, "in.pdf", "out.pdf"); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for unknown engine, got %v", err)
	}
}
