package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Profile is a named OCR preset. Zero-valued fields leave the underlying
// configuration untouched.
type Profile struct {
	Profile ProfileInfo `toml:"profile" json:"profile"`
	OCR     ProfileOCR  `toml:"ocr" json:"ocr"`
}

type ProfileInfo struct {
	Name        string `toml:"name" json:"name,omitempty"`
	Description string `toml:"description" json:"description,omitempty"`
}

type ProfileOCR struct {
	Engine        string   `toml:"engine" json:"engine,omitempty"`
	Language      string   `toml:"language" json:"language,omitempty"`
	CheckLanguage *bool    `toml:"check_language" json:"check_language,omitempty"`
	DPI           int      `toml:"dpi" json:"dpi,omitempty"`
	Preprocess    string   `toml:"preprocess" json:"preprocess,omitempty"`
	CropBox       *bool    `toml:"crop_box" json:"crop_box,omitempty"`
	Jobs          int      `toml:"jobs" json:"jobs,omitempty"`
	Deliver       []string `toml:"deliver" json:"deliver,omitempty"`
}

// Apply overlays the profile onto d.
func (p *Profile) Apply(d *DefaultsConfig) {
	o := p.OCR
	if o.Engine != "" {
		d.Engine = o.Engine
	}
	if o.Language != "" {
		d.Language = o.Language
	}
	if o.CheckLanguage != nil {
		d.CheckLanguage = *o.CheckLanguage
	}
	if o.DPI > 0 {
		d.DPI = o.DPI
	}
	if o.Preprocess != "" {
		d.Preprocess = o.Preprocess
	}
	if o.CropBox != nil {
		d.CropBox = *o.CropBox
	}
	if o.Jobs > 0 {
		d.Jobs = o.Jobs
	}
	if len(o.Deliver) > 0 {
		d.Deliver = o.Deliver
	}
}

// ProfileStore manages profiles loaded from TOML files.
type ProfileStore struct {
	profiles map[string]*Profile
}

// ProfilesDir returns the default directory for user profiles.
func ProfilesDir() string {
	return filepath.Join(Dir(), "profiles")
}

// NewProfileStore creates a profile store with the built-in profiles and
// those found in dir.
func NewProfileStore(dir string) (*ProfileStore, error) {
	store := &ProfileStore{
		profiles: make(map[string]*Profile),
	}

	store.profiles["standard"] = defaultStandardProfile()
	store.profiles["fast"] = defaultFastProfile()
	store.profiles["archive"] = defaultArchiveProfile()

	if dir != "" {
		if err := store.loadFromDirectory(dir); err != nil {
			return nil, err
		}
	}

	return store, nil
}

// Get returns a profile by name.
func (s *ProfileStore) Get(name string) (*Profile, bool) {
	p, ok := s.profiles[name]
	return p, ok
}

// Names returns all profile names in sorted order.
func (s *ProfileStore) Names() []string {
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve applies the named profile to a copy of d. An empty name falls back
// to d.Profile; when both are empty d is returned unchanged.
func (s *ProfileStore) Resolve(d DefaultsConfig, name string) (DefaultsConfig, error) {
	if name == "" {
		name = d.Profile
	}
	if name == "" {
		return d, nil
	}
	p, ok := s.Get(name)
	if !ok {
		return d, fmt.Errorf("profile %q not found", name)
	}
	p.Apply(&d)
	d.Profile = name
	return d, nil
}

// Set adds or updates a profile.
func (s *ProfileStore) Set(name string, p *Profile) {
	s.profiles[name] = p
}

func (s *ProfileStore) loadFromDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read profiles directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read profile %s: %w", entry.Name(), err)
		}

		var profile Profile
		if err := toml.Unmarshal(data, &profile); err != nil {
			return fmt.Errorf("parse profile %s: %w", entry.Name(), err)
		}

		s.profiles[strings.TrimSuffix(entry.Name(), ".toml")] = &profile
	}

	return nil
}

func defaultStandardProfile() *Profile {
	return &Profile{
		Profile: ProfileInfo{
			Name:        "Standard",
			Description: "300 DPI, automatic engine, no cleanup",
		},
		OCR: ProfileOCR{
			DPI:        300,
			Preprocess: "none",
		},
	}
}

func defaultFastProfile() *Profile {
	return &Profile{
		Profile: ProfileInfo{
			Name:        "Fast",
			Description: "150 DPI drafts, pages in parallel",
		},
		OCR: ProfileOCR{
			DPI:        150,
			Preprocess: "none",
			Jobs:       4,
		},
	}
}

func defaultArchiveProfile() *Profile {
	return &Profile{
		Profile: ProfileInfo{
			Name:        "Archive",
			Description: "400 DPI with unpaper cleanup for scanned paper",
		},
		OCR: ProfileOCR{
			DPI:        400,
			Preprocess: "unpaper",
		},
	}
}
