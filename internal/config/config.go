package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config holds the complete pdfocr configuration.
type Config struct {
	Defaults DefaultsConfig `toml:"defaults"`
	Tools    ToolsConfig    `toml:"tools"`
	Server   ServerConfig   `toml:"server"`
	Remote   RemoteConfig   `toml:"remote"`
	Output   OutputConfig   `toml:"output"`
	Logging  LoggingConfig  `toml:"logging"`
}

// DefaultsConfig holds the values a run starts from before profiles and
// command-line flags are applied.
type DefaultsConfig struct {
	Language      string   `toml:"language"`
	CheckLanguage bool     `toml:"check_language"`
	DPI           int      `toml:"dpi"`
	Engine        string   `toml:"engine"`
	Preprocess    string   `toml:"preprocess"`
	CropBox       bool     `toml:"crop_box"`
	Jobs          int      `toml:"jobs"`
	WorkingDir    string   `toml:"working_dir"`
	Keep          bool     `toml:"keep"`
	ToolTimeout   Duration `toml:"tool_timeout"`
	Profile       string   `toml:"profile"`
	Deliver       []string `toml:"deliver"`
}

// ToolsConfig names the external binaries. Bare names are looked up in PATH.
type ToolsConfig struct {
	PDFtk      string `toml:"pdftk"`
	PDFToPPM   string `toml:"pdftoppm"`
	Tesseract  string `toml:"tesseract"`
	Cuneiform  string `toml:"cuneiform"`
	Ocroscript string `toml:"ocroscript"`
	HOCR2PDF   string `toml:"hocr2pdf"`
	Unpaper    string `toml:"unpaper"`
}

type ServerConfig struct {
	Host              string     `toml:"host"`
	Port              int        `toml:"port"`
	DataDirectory     string     `toml:"data_directory"`
	MaxConcurrentJobs int        `toml:"max_concurrent_jobs"`
	MaxUploadMB       int64      `toml:"max_upload_mb"`
	Auth              AuthConfig `toml:"auth"`
	TLS               TLSConfig  `toml:"tls"`
}

type AuthConfig struct {
	Enabled           bool     `toml:"enabled"`
	APIKeys           []string `toml:"api_keys"`
	BasicAuthUser     string   `toml:"basic_auth_user"`
	BasicAuthPassHash string   `toml:"basic_auth_password_hash"`
}

type TLSConfig struct {
	Enabled  bool   `toml:"enabled"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

// RemoteConfig points the submit command at a pdfocr server.
type RemoteConfig struct {
	URL        string `toml:"url"`
	APIKey     string `toml:"api_key"`
	APIKeyFile string `toml:"api_key_file"`
}

type OutputConfig struct {
	Filesystem       FilesystemConfig       `toml:"filesystem"`
	Paperless        PaperlessConfig        `toml:"paperless"`
	SMB              SMBConfig              `toml:"smb"`
	PaperlessConsume PaperlessConsumeConfig `toml:"paperless_consume"`
	Email            EmailConfig            `toml:"email"`
}

type FilesystemConfig struct {
	Enabled   bool   `toml:"enabled"`
	Directory string `toml:"directory"`
}

type PaperlessConfig struct {
	Enabled   bool   `toml:"enabled"`
	URL       string `toml:"url"`
	TokenFile string `toml:"token_file"`
	Token     string `toml:"token"`
	VerifySSL bool   `toml:"verify_ssl"`
	Tags      []int  `toml:"tags"`
}

type SMBConfig struct {
	Enabled      bool   `toml:"enabled"`
	Server       string `toml:"server"`
	Share        string `toml:"share"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	PasswordFile string `toml:"password_file"`
	Directory    string `toml:"directory"`
}

type PaperlessConsumeConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type EmailConfig struct {
	Enabled          bool   `toml:"enabled"`
	SMTPHost         string `toml:"smtp_host"`
	SMTPPort         int    `toml:"smtp_port"`
	SMTPUser         string `toml:"smtp_user"`
	SMTPPassword     string `toml:"smtp_password"`
	SMTPPasswordFile string `toml:"smtp_password_file"`
	FromAddress      string `toml:"from_address"`
	DefaultRecipient string `toml:"default_recipient"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration wraps time.Duration for TOML (un)marshaling.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Dir returns the directory holding config.toml and the profiles directory.
func Dir() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(configDir, "pdfocr")
}

// DefaultPath returns the location Load reads from.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// Load reads the configuration from the default location.
func Load() (*Config, error) {
	return LoadFrom(DefaultPath())
}

// LoadFrom reads the configuration from path. A missing file yields the
// defaults. Environment overrides from .env and PDFOCR_* variables are
// applied on top.
func LoadFrom(path string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env", "error", err)
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if err := cfg.loadSecrets(); err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}

	return cfg, nil
}

// ReadFile parses the file at path over the defaults, without environment
// overrides or secret files. A missing file yields the defaults.
func ReadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns the configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Defaults: DefaultsConfig{
			Language:   "eng",
			DPI:        300,
			Engine:     "auto",
			Preprocess: "none",
			CropBox:    true,
			Jobs:       1,
		},
		Tools: ToolsConfig{
			PDFtk:      "pdftk",
			PDFToPPM:   "pdftoppm",
			Tesseract:  "tesseract",
			Cuneiform:  "cuneiform",
			Ocroscript: "ocroscript",
			HOCR2PDF:   "hocr2pdf",
			Unpaper:    "unpaper",
		},
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			DataDirectory:     filepath.Join(os.TempDir(), "pdfocr-server"),
			MaxConcurrentJobs: 2,
			MaxUploadMB:       200,
		},
		Remote: RemoteConfig{
			URL: "http://localhost:8080",
		},
		Output: OutputConfig{
			Paperless: PaperlessConfig{
				VerifySSL: true,
			},
			Email: EmailConfig{
				SMTPPort: 587,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Save writes the configuration to path, creating its directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// envBindings maps environment variables onto dotted config keys.
var envBindings = []struct {
	env string
	key string
}{
	{"PDFOCR_LANGUAGE", "defaults.language"},
	{"PDFOCR_DPI", "defaults.dpi"},
	{"PDFOCR_ENGINE", "defaults.engine"},
	{"PDFOCR_PREPROCESS", "defaults.preprocess"},
	{"PDFOCR_JOBS", "defaults.jobs"},
	{"PDFOCR_WORKINGDIR", "defaults.working_dir"},
	{"PDFOCR_PROFILE", "defaults.profile"},
	{"PDFOCR_TOOL_TIMEOUT", "defaults.tool_timeout"},
	{"PDFOCR_LOG_LEVEL", "logging.level"},
	{"PDFOCR_LOG_FORMAT", "logging.format"},
	{"PDFOCR_SERVER_URL", "remote.url"},
	{"PDFOCR_API_KEY", "remote.api_key"},
}

func (c *Config) applyEnv(getenv func(string) string) error {
	for _, b := range envBindings {
		v := getenv(b.env)
		if v == "" {
			continue
		}
		if err := c.Set(b.key, v); err != nil {
			return fmt.Errorf("%s: %w", b.env, err)
		}
	}
	return nil
}

// Set updates a configuration value by dotted key path.
func (c *Config) Set(key, value string) error {
	switch key {
	case "defaults.language":
		c.Defaults.Language = value
	case "defaults.check_language":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", value)
		}
		c.Defaults.CheckLanguage = b
	case "defaults.dpi":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid dpi %q", value)
		}
		c.Defaults.DPI = n
	case "defaults.engine":
		c.Defaults.Engine = value
	case "defaults.preprocess":
		c.Defaults.Preprocess = value
	case "defaults.jobs":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid job count %q", value)
		}
		c.Defaults.Jobs = n
	case "defaults.working_dir":
		c.Defaults.WorkingDir = value
	case "defaults.profile":
		c.Defaults.Profile = value
	case "defaults.tool_timeout":
		return c.Defaults.ToolTimeout.UnmarshalText([]byte(value))
	case "logging.level":
		c.Logging.Level = value
	case "logging.format":
		c.Logging.Format = value
	case "remote.url":
		c.Remote.URL = value
	case "remote.api_key":
		c.Remote.APIKey = value
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}

// Get returns a configuration value by dotted key path.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "defaults.language":
		return c.Defaults.Language, nil
	case "defaults.check_language":
		return strconv.FormatBool(c.Defaults.CheckLanguage), nil
	case "defaults.dpi":
		return strconv.Itoa(c.Defaults.DPI), nil
	case "defaults.engine":
		return c.Defaults.Engine, nil
	case "defaults.preprocess":
		return c.Defaults.Preprocess, nil
	case "defaults.jobs":
		return strconv.Itoa(c.Defaults.Jobs), nil
	case "defaults.working_dir":
		return c.Defaults.WorkingDir, nil
	case "defaults.profile":
		return c.Defaults.Profile, nil
	case "defaults.tool_timeout":
		return c.Defaults.ToolTimeout.Duration().String(), nil
	case "logging.level":
		return c.Logging.Level, nil
	case "logging.format":
		return c.Logging.Format, nil
	case "remote.url":
		return c.Remote.URL, nil
	case "remote.api_key":
		return c.Remote.APIKey, nil
	default:
		return "", fmt.Errorf("unknown config key: %s", key)
	}
}

// loadSecrets reads secret values from files.
func (c *Config) loadSecrets() error {
	secrets := []struct {
		name    string
		file    string
		value   *string
		enabled bool
	}{
		{"paperless token", c.Output.Paperless.TokenFile, &c.Output.Paperless.Token, c.Output.Paperless.Enabled},
		{"smb password", c.Output.SMB.PasswordFile, &c.Output.SMB.Password, c.Output.SMB.Enabled},
		{"smtp password", c.Output.Email.SMTPPasswordFile, &c.Output.Email.SMTPPassword, c.Output.Email.Enabled},
		{"api key", c.Remote.APIKeyFile, &c.Remote.APIKey, true},
	}

	for _, s := range secrets {
		if s.file == "" || *s.value != "" {
			continue
		}
		v, err := readSecretFile(s.file)
		if err != nil {
			if s.enabled {
				return fmt.Errorf("%s: %w", s.name, err)
			}
			continue
		}
		*s.value = v
	}
	return nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(expandPath(path))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
