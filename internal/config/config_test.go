package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		SiteURL:      "https://example.com",
		BaseDir:      "/home/user/.local/share/pdrb",
		LogDir:       "/home/user/.local/share/pdrb/log",
		TimeZone:     "Europe/Berlin",
		AllowedUsers: []string{"admin", "root"},
		Database:     DatabaseConfig{Type: "sqlite", DataDir: "/home/user/.local/share/pdrb/db"},
		Archive:      ArchiveConfig{Dir: "/srv/backups", BaseURL: "https://example.com/backups", Container: "zip"},
		Import:       ImportConfig{Policy: "abort-on-first-failure", StoreTimeout: "5s"},
		Mail:         MailConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p", From: "noreply@example.com", UseTLS: true},
		Mirror:       MirrorConfig{Type: "s3", S3Bucket: "archive-bucket", S3Prefix: "pdr", S3Region: "eu-central-1"},
		Metrics:      MetricsConfig{Listen: "127.0.0.1:9464"},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.SiteURL != original.SiteURL {
		t.Errorf("SiteURL = %q, want %q", got.SiteURL, original.SiteURL)
	}
	if got.TimeZone != "Europe/Berlin" {
		t.Errorf("TimeZone = %q, want %q", got.TimeZone, "Europe/Berlin")
	}
	if len(got.AllowedUsers) != 2 {
		t.Fatalf("len(AllowedUsers) = %d, want 2", len(got.AllowedUsers))
	}
	if got.Database != original.Database {
		t.Errorf("Database = %+v, want %+v", got.Database, original.Database)
	}
	if got.Archive != original.Archive {
		t.Errorf("Archive = %+v, want %+v", got.Archive, original.Archive)
	}
	if got.Import != original.Import {
		t.Errorf("Import = %+v, want %+v", got.Import, original.Import)
	}
	if got.Mail != original.Mail {
		t.Errorf("Mail = %+v, want %+v", got.Mail, original.Mail)
	}
	if got.Mirror != original.Mirror {
		t.Errorf("Mirror = %+v, want %+v", got.Mirror, original.Mirror)
	}
	if got.Metrics.Listen != "127.0.0.1:9464" {
		t.Errorf("Metrics.Listen = %q", got.Metrics.Listen)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("https://example.com", "/data/pdrb")

	if cfg.LogDir != "/data/pdrb/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/pdrb/log")
	}
	if cfg.Database.DataDir != "/data/pdrb/db" {
		t.Errorf("Database.DataDir = %q, want %q", cfg.Database.DataDir, "/data/pdrb/db")
	}
	if cfg.Archive.Dir != "/data/pdrb/backups" {
		t.Errorf("Archive.Dir = %q, want %q", cfg.Archive.Dir, "/data/pdrb/backups")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults error = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"memory database needs no data dir", func(c *Config) { c.Database = DatabaseConfig{Type: "memory"} }, ""},
		{"unknown database type", func(c *Config) { c.Database.Type = "postgres" }, "Database.Type"},
		{"sqlite without data dir", func(c *Config) { c.Database.DataDir = "" }, "Database.DataDir"},
		{"missing archive dir", func(c *Config) { c.Archive.Dir = "" }, "Archive.Dir"},
		{"bad site url", func(c *Config) { c.SiteURL = "not a url" }, "SiteURL"},
		{"bad import policy", func(c *Config) { c.Import.Policy = "sometimes" }, "Import.Policy"},
		{"bad store timeout", func(c *Config) { c.Import.StoreTimeout = "soon" }, "store_timeout"},
		{"negative store timeout", func(c *Config) { c.Import.StoreTimeout = "-1s" }, "store_timeout"},
		{"bad from address", func(c *Config) { c.Mail.From = "nobody" }, "Mail.From"},
		{"s3 mirror without bucket", func(c *Config) { c.Mirror.Type = "s3" }, "Mirror.S3Bucket"},
		{"unknown mirror", func(c *Config) { c.Mirror.Type = "ftp" }, "Mirror.Type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("https://example.com", "/data/pdrb")
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error mentioning %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want mention of %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestImportConfig_Timeout(t *testing.T) {
	d, err := ImportConfig{}.Timeout()
	if err != nil || d != 0 {
		t.Errorf("empty Timeout() = %v, %v, want 0, nil", d, err)
	}

	d, err = ImportConfig{StoreTimeout: "1m30s"}.Timeout()
	if err != nil {
		t.Fatalf("Timeout() error = %v", err)
	}
	if d != 90*time.Second {
		t.Errorf("Timeout() = %v, want 1m30s", d)
	}
}

func TestConfig_Location(t *testing.T) {
	cfg := &Config{}
	loc, err := cfg.Location()
	if err != nil || loc != time.Local {
		t.Errorf("Location() = %v, %v, want Local", loc, err)
	}

	cfg.TimeZone = "UTC"
	loc, err = cfg.Location()
	if err != nil || loc.String() != "UTC" {
		t.Errorf("Location() = %v, %v, want UTC", loc, err)
	}

	cfg.TimeZone = "Mars/Olympus_Mons"
	if _, err := cfg.Location(); err == nil {
		t.Error("Location() expected error for unknown zone")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "pdrb.toml")

		if err := Init(path, NewConfig("", dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("config file not created: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("config file mode = %o, want 0600", perm)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "pdrb.toml")
		cfg := NewConfig("", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}
		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "pdrb.toml")
		cfg := NewConfig("https://read-test.example", dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.SiteURL != "https://read-test.example" {
			t.Errorf("SiteURL = %q, want %q", got.SiteURL, "https://read-test.example")
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want memory", got.Database.Type)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/pdrb.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
