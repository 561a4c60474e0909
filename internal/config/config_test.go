package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := NewConfig("/home/user/.local/share/dms")
	original.Auth = AuthConfig{Secret: "s3cret", Issuer: "https://id.example.com/", EmailClaim: "https://example.com/email"}
	original.Database = DatabaseConfig{Type: "postgres", DSN: "postgres://dms@localhost/dms?sslmode=disable"}
	original.Mail = MailConfig{Type: "smtp", From: "dms@example.com", SMTPHost: "smtp.example.com", SMTPPort: 2525, RatePerSec: 2}
	original.Archive = ArchiveConfig{Type: "s3", S3Bucket: "archive", S3Prefix: "sent", S3Region: "eu-west-1"}
	original.Security.CodePepper = "pepper"

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if got.Auth.EmailClaim != "https://example.com/email" {
		t.Errorf("Auth.EmailClaim = %q", got.Auth.EmailClaim)
	}
	if got.Auth.Issuer != original.Auth.Issuer {
		t.Errorf("Auth.Issuer = %q, want %q", got.Auth.Issuer, original.Auth.Issuer)
	}
	if got.Database.Type != "postgres" || got.Database.DSN != original.Database.DSN {
		t.Errorf("Database = %+v, want %+v", got.Database, original.Database)
	}
	if got.Mail.SMTPPort != 2525 || got.Mail.SMTPHost != "smtp.example.com" {
		t.Errorf("Mail = %+v", got.Mail)
	}
	if got.Archive.S3Bucket != "archive" || got.Archive.S3Region != "eu-west-1" {
		t.Errorf("Archive = %+v", got.Archive)
	}
	if got.Security.CodePepper != "pepper" {
		t.Errorf("Security.CodePepper = %q, want pepper", got.Security.CodePepper)
	}
	if got.Scheduler.Schedule != "@every 30s" {
		t.Errorf("Scheduler.Schedule = %q", got.Scheduler.Schedule)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/dms")

	if cfg.BaseDir != "/data/dms" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/dms")
	}
	if cfg.LogDir != "/data/dms/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/dms/log")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.Database.DataDir != "/data/dms/db" {
		t.Errorf("Database.DataDir = %q, want %q", cfg.Database.DataDir, "/data/dms/db")
	}
	if cfg.Encryption.PublicKeyPath != "/data/dms/keys/dms.pub" {
		t.Errorf("Encryption.PublicKeyPath = %q", cfg.Encryption.PublicKeyPath)
	}
	if cfg.Archive.FSRoot != "/data/dms/archive" {
		t.Errorf("Archive.FSRoot = %q", cfg.Archive.FSRoot)
	}
	if cfg.Client.ProbeTimeout != "2s" || cfg.Client.ProbeInitialDelay != "5s" || cfg.Client.ProbePollInterval != "1s" {
		t.Errorf("Client probe defaults = %+v", cfg.Client)
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file readable only by owner", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "dms.toml")

		if err := Init(path, NewConfig(dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("config file not created: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("config file mode = %o, want 600", perm)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "dms.toml")
		cfg := NewConfig(dir)

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
		path := filepath.Join(dir, "dms.toml")
		cfg := NewConfig(dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want %q", got.Database.Type, "memory")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/dms.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}

func TestParseDurationOrDefault(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		def     time.Duration
		want    time.Duration
		wantErr bool
	}{
		{name: "empty uses default", raw: "", def: 5 * time.Second, want: 5 * time.Second},
		{name: "zero uses default", raw: "0s", def: time.Second, want: time.Second},
		{name: "explicit", raw: " 250ms ", def: time.Second, want: 250 * time.Millisecond},
		{name: "negative", raw: "-1s", def: time.Second, wantErr: true},
		{name: "garbage", raw: "soon", def: time.Second, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationOrDefault("client.probe_timeout", tt.raw, tt.def)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDurationOrDefault(%q) expected error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDurationOrDefault(%q) error = %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("ParseDurationOrDefault(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}
