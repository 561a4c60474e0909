package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for dms.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level"` // debug, info, warn or error
	Server     ServerConfig     `toml:"server"`
	Auth       AuthConfig       `toml:"auth"`
	Database   DatabaseConfig   `toml:"database"`
	Mail       MailConfig       `toml:"mail"`
	Archive    ArchiveConfig    `toml:"archive"`
	Encryption EncryptionConfig `toml:"encryption"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Security   SecurityConfig   `toml:"security"`
	Client     ClientConfig     `toml:"client"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen          string `toml:"listen"`
	ReadTimeout     string `toml:"read_timeout"`
	WriteTimeout    string `toml:"write_timeout"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// AuthConfig describes the bearer tokens issued by the identity provider.
// Tokens are HS256 JWTs signed with Secret.
type AuthConfig struct {
	Secret     string `toml:"secret"`
	Issuer     string `toml:"issuer,omitempty"`
	Audience   string `toml:"audience,omitempty"`
	EmailClaim string `toml:"email_claim"` // claim holding the account email, default "email"
}

// DatabaseConfig represents configuration for the record store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite", "memory" or "postgres"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
	DSN     string `toml:"dsn,omitempty"`      // only used for type=postgres
}

// MailConfig represents configuration for outbound mail.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type MailConfig struct {
	Type       string `toml:"type"` // "smtp", "log" or "memory"
	From       string `toml:"from"`
	RatePerSec int    `toml:"rate_per_sec"` // outbound messages per second, default 5

	// SMTP-specific fields (only used when Type == "smtp")
	SMTPHost     string `toml:"smtp_host,omitempty"`
	SMTPPort     int    `toml:"smtp_port,omitempty"`
	SMTPUsername string `toml:"smtp_username,omitempty"`
	SMTPPassword string `toml:"smtp_password,omitempty"`
	SMTPSSL      bool   `toml:"smtp_ssl,omitempty"`
}

// ArchiveConfig represents configuration for the sent-message archive.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ArchiveConfig struct {
	Type    string `toml:"type"`    // "none", "memory", "filesystem" or "s3"
	Encrypt bool   `toml:"encrypt"` // seal archived messages with the encryption public key

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used to seal the archive.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// SchedulerConfig configures the background sweep.
type SchedulerConfig struct {
	Schedule string `toml:"schedule"` // cron spec or descriptor, default "@every 30s"
	Timezone string `toml:"timezone"` // location for cron specs, default UTC
}

// SecurityConfig holds secrets and abuse limits.
type SecurityConfig struct {
	CodePepper     string `toml:"code_pepper"`
	CodeRatePerMin int    `toml:"code_rate_per_min"` // unlock and check-in attempts per user, default 30
	CodeBurst      int    `toml:"code_burst"`        // default 10
}

// ClientConfig configures the CLI client commands.
type ClientConfig struct {
	ServerURL         string `toml:"server_url"`
	Token             string `toml:"token,omitempty"`
	RequestTimeout    string `toml:"request_timeout"`
	ProbeInitialDelay string `toml:"probe_initial_delay"`
	ProbePollInterval string `toml:"probe_poll_interval"`
	ProbeTimeout      string `toml:"probe_timeout"`
}

// NewConfig creates a new Config with defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Server: ServerConfig{
			Listen:          "127.0.0.1:8080",
			ReadTimeout:     "10s",
			WriteTimeout:    "10s",
			ShutdownTimeout: "15s",
		},
		Auth: AuthConfig{EmailClaim: "email"},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Mail: MailConfig{
			Type:       "log",
			From:       "dms@localhost",
			RatePerSec: 5,
			SMTPPort:   587,
		},
		Archive: ArchiveConfig{
			Type:    "filesystem",
			Encrypt: true,
			FSRoot:  filepath.Join(baseDir, "archive"),
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "dms.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "dms.key"),
		},
		Scheduler: SchedulerConfig{
			Schedule: "@every 30s",
			Timezone: "UTC",
		},
		Security: SecurityConfig{
			CodeRatePerMin: 30,
			CodeBurst:      10,
		},
		Client: ClientConfig{
			ServerURL:         "http://127.0.0.1:8080",
			RequestTimeout:    "10s",
			ProbeInitialDelay: "5s",
			ProbePollInterval: "1s",
			ProbeTimeout:      "2s",
		},
	}
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

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file holds the token secret and the code pepper.
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
