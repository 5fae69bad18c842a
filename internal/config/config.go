package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for gliderdac.
type Config struct {
	BaseDir         string `toml:"base_dir"`
	LogDir          string `toml:"log_dir"`
	LogLevel        string `toml:"log_level"` // "debug", "info" (default), "warn" or "error"
	DataRoot        string `toml:"data_root"`
	PublicDataRoot  string `toml:"public_data_root"`
	ThreddsDataRoot string `toml:"thredds_data_root"`
	NoData          bool   `toml:"no_data"`

	URLs       URLsConfig       `toml:"urls"`
	Database   DatabaseConfig   `toml:"database"`
	Jobs       JobsConfig       `toml:"jobs"`
	Compliance ComplianceConfig `toml:"compliance"`
	Watcher    WatcherConfig    `toml:"watcher"`
	Mail       MailConfig       `toml:"mail"`
	Archive    ArchiveConfig    `toml:"archive"`
}

// URLsConfig names the public hosts deployment URLs are built from.
type URLsConfig struct {
	Thredds      string `toml:"thredds"`
	PublicErddap string `toml:"public_erddap"`
}

// DatabaseConfig represents configuration for the deployment record store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// JobsConfig represents configuration for the deferred job queue and its worker.
type JobsConfig struct {
	Type         string   `toml:"type"` // "sqlite" (shares the record database) or "memory"
	PollInterval Duration `toml:"poll_interval"`
	ResultTTL    Duration `toml:"result_ttl"`
	StaleGrace   Duration `toml:"stale_grace"` // started jobs this far past their timeout are requeued
}

// ComplianceConfig configures the deferred compliance check.
type ComplianceConfig struct {
	Delay      Duration `toml:"delay"`
	Timeout    Duration `toml:"timeout"`
	Recipients []string `toml:"recipients"`
}

// WatcherConfig configures the mission-directory watcher.
type WatcherConfig struct {
	BaseDir string   `toml:"base_dir"`
	Timeout Duration `toml:"timeout"`
}

// MailConfig configures outgoing notification mail. An empty Host selects
// the log-only sender.
type MailConfig struct {
	Host     string   `toml:"host"`
	Port     int      `toml:"port"`
	Username string   `toml:"username"`
	Password string   `toml:"password,omitempty"`
	From     string   `toml:"from"`
	To       []string `toml:"to"`
	CC       string   `toml:"cc,omitempty"`
}

// ArchiveConfig represents configuration for the archive backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ArchiveConfig struct {
	Type string `toml:"type"` // "", "memory", "filesystem" or "s3"; empty disables archiving

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // S3-compatible stores (MinIO)

	// Static credentials; the default AWS credential chain is used when empty.
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`
}

// Duration is a time.Duration that encodes as a Go duration string ("30m").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		DataRoot: filepath.Join(baseDir, "data"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Jobs: JobsConfig{
			Type:         "sqlite",
			PollInterval: Duration{5 * time.Second},
			ResultTTL:    Duration{500 * time.Second},
			StaleGrace:   Duration{time.Minute},
		},
		Compliance: ComplianceConfig{
			Delay:   Duration{30 * time.Minute},
			Timeout: Duration{800 * time.Second},
		},
		Watcher: WatcherConfig{
			BaseDir: filepath.Join(baseDir, "data"),
			Timeout: Duration{60 * time.Second},
		},
		Mail: MailConfig{Port: 587},
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

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may carry a mail password.
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
