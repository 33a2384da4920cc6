package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		DeviceName:   "test-device",
		BaseDir:      "/home/user/.local/share/pocketcloud",
		StorageRoot:  "/home/user/.local/share/pocketcloud/files",
		DataDir:      "/home/user/.local/share/pocketcloud/data",
		IdentityPath: "/home/user/.local/share/pocketcloud/identity.json",
		StagingDir:   "/home/user/.local/share/pocketcloud/staging",
		LogDir:       "/home/user/.local/share/pocketcloud/log",
		Crypto: CryptoConfig{
			PublicKeyPath:  "/home/user/.local/share/pocketcloud/keys/pocketcloud.pub",
			PrivateKeyPath: "/home/user/.local/share/pocketcloud/keys/pocketcloud.key",
		},
		Destination: DestinationConfig{Type: "s3", Name: "offsite", S3Bucket: "pc-backups", S3Region: "eu-west-1"},
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

	if got.DeviceName != original.DeviceName {
		t.Errorf("DeviceName = %q, want %q", got.DeviceName, original.DeviceName)
	}
	if got.StorageRoot != original.StorageRoot {
		t.Errorf("StorageRoot = %q, want %q", got.StorageRoot, original.StorageRoot)
	}
	if got.IdentityPath != original.IdentityPath {
		t.Errorf("IdentityPath = %q, want %q", got.IdentityPath, original.IdentityPath)
	}
	if got.StagingDir != original.StagingDir {
		t.Errorf("StagingDir = %q, want %q", got.StagingDir, original.StagingDir)
	}
	if got.Crypto.PublicKeyPath != original.Crypto.PublicKeyPath {
		t.Errorf("Crypto.PublicKeyPath = %q, want %q", got.Crypto.PublicKeyPath, original.Crypto.PublicKeyPath)
	}
	if got.Destination.Type != "s3" {
		t.Errorf("Destination.Type = %q, want %q", got.Destination.Type, "s3")
	}
	if got.Destination.S3Bucket != "pc-backups" {
		t.Errorf("Destination.S3Bucket = %q, want %q", got.Destination.S3Bucket, "pc-backups")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("laptop", "/data/pocketcloud")

	if cfg.DeviceName != "laptop" {
		t.Errorf("DeviceName = %q, want %q", cfg.DeviceName, "laptop")
	}
	if cfg.BaseDir != "/data/pocketcloud" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/pocketcloud")
	}
	if cfg.StorageRoot != "/data/pocketcloud/files" {
		t.Errorf("StorageRoot = %q, want %q", cfg.StorageRoot, "/data/pocketcloud/files")
	}
	if cfg.IdentityPath != "/data/pocketcloud/identity.json" {
		t.Errorf("IdentityPath = %q, want %q", cfg.IdentityPath, "/data/pocketcloud/identity.json")
	}
	if cfg.Crypto.PublicKeyPath != "/data/pocketcloud/keys/pocketcloud.pub" {
		t.Errorf("Crypto.PublicKeyPath = %q, want %q", cfg.Crypto.PublicKeyPath, "/data/pocketcloud/keys/pocketcloud.pub")
	}
	if cfg.Destination.Type != "filesystem" {
		t.Errorf("Destination.Type = %q, want %q", cfg.Destination.Type, "filesystem")
	}
	if cfg.DatabasePath() != "/data/pocketcloud/data/pocketcloud.db" {
		t.Errorf("DatabasePath() = %q, want %q", cfg.DatabasePath(), "/data/pocketcloud/data/pocketcloud.db")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "pocketcloud.toml")
		cfg := NewConfig("d1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "pocketcloud.toml")
		cfg := NewConfig("d1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "pocketcloud.toml")
		cfg := NewConfig("read-test", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.DeviceName != "read-test" {
			t.Errorf("DeviceName = %q, want %q", got.DeviceName, "read-test")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/pocketcloud.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
