package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for walrecover.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Source     SourceConfig     `toml:"source"`
	Store      StoreConfig      `toml:"store"`
	Recovery   RecoveryConfig   `toml:"recovery"`
	Encryption EncryptionConfig `toml:"encryption"`
	Journal    JournalConfig    `toml:"journal"`
}

// SourceConfig describes the object store log artifacts are fetched from.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type SourceConfig struct {
	Type   string `toml:"type"`   // "s3", "filesystem", or "memory"
	Bucket string `toml:"bucket"` // default bucket; --bucket overrides

	// S3-specific fields (only used when Type == "s3")
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"` // custom endpoint for S3-compatible stores
	S3PathStyle       bool   `toml:"s3_path_style,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"` // empty: default AWS credential chain
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

// StoreConfig locates the local store being recovered.
type StoreConfig struct {
	Path          string `toml:"path"`
	ReplayLogPath string `toml:"replay_log_path,omitempty"` // default: <path>.replay.sql
}

// RecoveryConfig tunes the recovery session.
type RecoveryConfig struct {
	Strategy        string   `toml:"strategy"`         // "checkpoint" (default) or "replay"
	FetchAttempts   int      `toml:"fetch_attempts"`   // default 1
	RetryBackoff    string   `toml:"retry_backoff"`    // Go duration, e.g. "1s"
	SettleDelay     string   `toml:"settle_delay"`     // Go duration; empty disables
	FileMode        string   `toml:"file_mode"`        // octal, default "0644"
	AmbiguousPolicy string   `toml:"ambiguous_policy"` // "discard" (default) or "keep"
	SkipVerify      bool     `toml:"skip_verify"`
	SanityQueries   []string `toml:"sanity_queries,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for encrypted artifacts.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "" (plaintext), "age", or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
	Armor          bool   `toml:"armor,omitempty"` // PEM-armor archived ciphertext
}

// Enabled reports whether artifacts are encrypted.
func (e EncryptionConfig) Enabled() bool { return e.Type != "" }

// JournalConfig represents configuration for the session journal.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type JournalConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// NewConfig creates a new Config with defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Source:  SourceConfig{Type: "s3"},
		Recovery: RecoveryConfig{
			Strategy:        "checkpoint",
			FetchAttempts:   1,
			RetryBackoff:    "1s",
			FileMode:        "0644",
			AmbiguousPolicy: "discard",
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "walrecover.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "walrecover.key"),
		},
		Journal: JournalConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "journal")},
	}
}

// RetryBackoffDuration parses RetryBackoff. Empty means no backoff.
func (r RecoveryConfig) RetryBackoffDuration() (time.Duration, error) {
	return parseDuration("retry_backoff", r.RetryBackoff)
}

// SettleDelayDuration parses SettleDelay. Empty means no delay.
func (r RecoveryConfig) SettleDelayDuration() (time.Duration, error) {
	return parseDuration("settle_delay", r.SettleDelay)
}

// Mode parses FileMode as an octal permission. Empty means 0644.
func (r RecoveryConfig) Mode() (os.FileMode, error) {
	if r.FileMode == "" {
		return 0o644, nil
	}
	v, err := strconv.ParseUint(r.FileMode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid file_mode %q: %w", r.FileMode, err)
	}
	if v > 0o777 || v == 0 {
		return 0, fmt.Errorf("invalid file_mode %q: must be a permission between 0001 and 0777", r.FileMode)
	}
	return os.FileMode(v), nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", field, s)
	}
	return d, nil
}

// Validate checks the settings every recovery needs.
func (c *Config) Validate() error {
	var errs []error
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.Recovery.FetchAttempts < 0 {
		errs = append(errs, errors.New("recovery.fetch_attempts must not be negative"))
	}
	if _, err := c.Recovery.RetryBackoffDuration(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Recovery.SettleDelayDuration(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Recovery.Mode(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config keys: %v", undecoded)
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

// writeToFile writes cfg to path, creating the parent directory.
func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// 0600: the file may hold S3 credentials.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
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

// Init writes cfg to a new config file at path. It refuses to overwrite.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
