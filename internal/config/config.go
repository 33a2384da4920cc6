package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for pocketcloud.
type Config struct {
	DeviceName  string            `toml:"device_name"`
	BaseDir     string            `toml:"base_dir"`
	StorageRoot string            `toml:"storage_root"` // Per-user encrypted file trees live here
	DataDir     string            `toml:"data_dir"`     // Record store database directory
	IdentityPath string           `toml:"identity_path"`
	StagingDir  string            `toml:"staging_dir"` // Private working area for backup/restore
	LogDir      string            `toml:"log_dir"`
	Crypto      CryptoConfig      `toml:"crypto"`
	Destination DestinationConfig `toml:"destination"`
}

// DatabasePath returns the record store database file location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "pocketcloud.db")
}

// CryptoConfig holds paths to the age key pair used for payload encryption.
type CryptoConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// DestinationConfig represents configuration for an archive destination.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DestinationConfig struct {
	Type string `toml:"type"` // "filesystem", "s3", or "memory"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket string `toml:"s3_bucket,omitempty"`
	S3Prefix string `toml:"s3_prefix,omitempty"`
	S3Region string `toml:"s3_region,omitempty"`
	// Optional static credentials. When empty, the default AWS credential
	// chain (env, shared config, instance role) is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
	// Optional custom endpoint for S3-compatible servers such as MinIO.
	S3Endpoint string `toml:"s3_endpoint,omitempty"`

	// Filesystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(deviceName, baseDir string) *Config {
	return &Config{
		DeviceName:   deviceName,
		BaseDir:      baseDir,
		StorageRoot:  filepath.Join(baseDir, "files"),
		DataDir:      filepath.Join(baseDir, "data"),
		IdentityPath: filepath.Join(baseDir, "identity.json"),
		StagingDir:   filepath.Join(baseDir, "staging"),
		LogDir:       filepath.Join(baseDir, "log"),
		Crypto: CryptoConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "pocketcloud.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "pocketcloud.key"),
		},
		Destination: DestinationConfig{
			Type:   "filesystem",
			Name:   "local",
			FSRoot: filepath.Join(baseDir, "archives"),
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
// This is an internal helper and should not be exported.
func writeToFile(path string, cfg *Config) error {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
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
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
