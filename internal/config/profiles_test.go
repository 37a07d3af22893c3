package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestProfileStore(t *testing.T) {
	store, err := NewProfileStore("")
	if err != nil {
		t.Fatalf("create profile store: %v", err)
	}

	names := store.Names()
	if len(names) != 3 {
		t.Fatalf("expected 3 built-in profiles, got %v", names)
	}

	p, ok := store.Get("archive")
	if !ok {
		t.Fatal("archive profile not found")
	}
	if p.OCR.DPI != 400 || p.OCR.Preprocess != "unpaper" {
		t.Fatalf("unexpected archive profile: %+v", p.OCR)
	}

	if _, ok := store.Get("nonexistent"); ok {
		t.Fatal("should not find nonexistent profile")
	}
}

func TestProfileStoreFromDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	profileContent := `
[profile]
name = "German letters"

[ocr]
engine = "tesseract"
language = "deu"
check_language = true
crop_box = false
`
	if err := os.WriteFile(filepath.Join(tmpDir, "letters.toml"), []byte(profileContent), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	os.WriteFile(filepath.Join(tmpDir, "README.md"), []byte("ignored"), 0o644)

	store, err := NewProfileStore(tmpDir)
	if err != nil {
		t.Fatalf("create profile store: %v", err)
	}

	p, ok := store.Get("letters")
	if !ok {
		t.Fatal("letters profile not loaded")
	}
	if p.Profile.Name != "German letters" {
		t.Fatalf("unexpected name %q", p.Profile.Name)
	}
	if len(store.Names()) != 4 {
		t.Fatalf("expected 4 profiles, got %v", store.Names())
	}

	d := DefaultConfig().Defaults
	p.Apply(&d)
	if d.Engine != "tesseract" || d.Language != "deu" || !d.CheckLanguage {
		t.Fatalf("profile not applied: %+v", d)
	}
	if d.CropBox {
		t.Fatal("expected crop box disabled by profile")
	}
	if d.DPI != 300 {
		t.Fatalf("unset dpi should be kept, got %d", d.DPI)
	}
}

func TestProfileStoreInvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, "broken.toml"), []byte("[ocr\n"), 0o644)

	if _, err := NewProfileStore(tmpDir); err == nil {
		t.Fatal("expected error for broken profile")
	}
}

func TestProfileStoreResolve(t *testing.T) {
	store, _ := NewProfileStore("")
	d := DefaultConfig().Defaults

	got, err := store.Resolve(d, "")
	if err != nil || got.DPI != d.DPI || got.Profile != "" {
		t.Fatalf("no profile should leave defaults alone: %+v, %v", got, err)
	}

	got, err = store.Resolve(d, "archive")
	if err != nil {
		t.Fatalf("resolve archive: %v", err)
	}
	if got.DPI != 400 || got.Preprocess != "unpaper" || got.Profile != "archive" {
		t.Fatalf("archive not applied: %+v", got)
	}
	if d.DPI != 300 {
		t.Fatal("input defaults must not be modified")
	}

	d.Profile = "fast"
	got, _ = store.Resolve(d, "")
	if got.DPI != 150 {
		t.Fatalf("configured default profile not applied: %+v", got)
	}

	if _, err := store.Resolve(d, "nope"); err == nil {
		t.Fatal("expected error for unknown profile")
	}
}
