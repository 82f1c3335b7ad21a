package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Config represents the main configuration for pdrb.
type Config struct {
	SiteURL  string `toml:"site_url" validate:"omitempty,url"`
	BaseDir  string `toml:"base_dir"`
	LogDir   string `toml:"log_dir"`
	LogLevel string `toml:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	TimeZone string `toml:"time_zone,omitempty"` // IANA name of the store's time zone; empty means local
	// AllowedUsers are the OS users permitted to run commands; empty allows everyone.
	AllowedUsers []string       `toml:"allowed_users,omitempty"`
	Database     DatabaseConfig `toml:"database"`
	Archive      ArchiveConfig  `toml:"archive"`
	Import       ImportConfig   `toml:"import"`
	Mail         MailConfig     `toml:"mail"`
	Mirror       MirrorConfig   `toml:"mirror"`
	Metrics      MetricsConfig  `toml:"metrics"`
}

// DatabaseConfig represents configuration for the request store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type" validate:"oneof=sqlite memory"`
	DataDir string `toml:"data_dir,omitempty" validate:"required_if=Type sqlite"`
}

// ArchiveConfig describes where exported archives are written.
type ArchiveConfig struct {
	Dir       string `toml:"dir" validate:"required"`
	BaseURL   string `toml:"base_url,omitempty" validate:"omitempty,url"`
	Container string `toml:"container,omitempty"` // "" or "none" for plain .json, "zip"
}

// ImportConfig tunes restores.
type ImportConfig struct {
	Policy       string `toml:"policy,omitempty" validate:"omitempty,oneof=best-effort abort-on-first-failure"`
	StoreTimeout string `toml:"store_timeout,omitempty"` // Go duration, e.g. "30s"
}

// Timeout parses StoreTimeout. Empty returns zero.
func (c ImportConfig) Timeout() (time.Duration, error) {
	if c.StoreTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.StoreTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid store_timeout %q: %w", c.StoreTimeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("store_timeout must be positive, got %s", d)
	}
	return d, nil
}

// MailConfig holds SMTP settings for sending archives.
type MailConfig struct {
	Host     string `toml:"smtp_host"`
	Port     int    `toml:"smtp_port" validate:"omitempty,min=1,max=65535"`
	Username string `toml:"smtp_username,omitempty"`
	Password string `toml:"smtp_password,omitempty"`
	From     string `toml:"from" validate:"omitempty,email"`
	FromName string `toml:"from_name,omitempty"`
	UseTLS   bool   `toml:"use_tls"`
}

// MirrorConfig represents configuration for the off-site archive mirror.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type MirrorConfig struct {
	Type string `toml:"type" validate:"omitempty,oneof=none s3"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket string `toml:"s3_bucket,omitempty" validate:"required_if=Type s3"`
	S3Prefix string `toml:"s3_prefix,omitempty"`
	S3Region string `toml:"s3_region,omitempty"`
	// S3Endpoint selects an S3-compatible service instead of AWS.
	S3Endpoint        string `toml:"s3_endpoint,omitempty" validate:"omitempty,url"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty" validate:"required_with=S3AccessKeyID"`
}

// MetricsConfig controls the Prometheus endpoint served by `pdrb run`.
type MetricsConfig struct {
	Listen string `toml:"listen,omitempty"` // e.g. "127.0.0.1:9464"; empty disables
}

// NewConfig creates a new Config with defaults rooted at baseDir.
func NewConfig(siteURL, baseDir string) *Config {
	return &Config{
		SiteURL: siteURL,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Archive: ArchiveConfig{
			Dir: filepath.Join(baseDir, "backups"),
		},
		Import: ImportConfig{
			Policy:       "best-effort",
			StoreTimeout: "30s",
		},
		Mail: MailConfig{
			Host: "localhost",
			Port: 25,
		},
		Mirror: MirrorConfig{Type: "none"},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Import.Timeout(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Location returns the configured store time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("loading time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may hold SMTP credentials.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
