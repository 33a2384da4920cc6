// Package identity manages the device-identity file (identity.json): a small
// JSON document naming the device, its snapshot format version, and the last
// successful backup. It also supplies the snapshot-format compatibility rule
// consumed by the restore validator.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CurrentFormatVersion is the snapshot format version this build produces.
// Format is "MAJOR.MINOR"; compatibility is decided on the major part only.
const CurrentFormatVersion = "1.0"

// Identity is the device-identity document.
type Identity struct {
	DeviceID      string     `json:"device_id"`
	DeviceName    string     `json:"device_name"`
	FormatVersion string     `json:"format_version"`
	CreatedAt     time.Time  `json:"created_at"`
	LastBackupAt  *time.Time `json:"last_backup_at,omitempty"`
}

// New creates a fresh identity for this device.
func New(deviceName string) *Identity {
	return &Identity{
		DeviceID:      uuid.New().String(),
		DeviceName:    deviceName,
		FormatVersion: CurrentFormatVersion,
		CreatedAt:     time.Now().UTC(),
	}
}

// Load reads an identity file. Returns nil (no error) if the file does not
// exist - the identity file is optional.
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading identity file: %w", err)
	}

	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("parsing identity file: %w", err)
	}
	return &id, nil
}

// Save writes the identity file atomically (temp file + rename).
func (id *Identity) Save(path string) error {
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding identity: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating identity directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".identity-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing identity: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming identity file: %w", err)
	}
	return nil
}

// RecordBackup stamps the last-backup time.
func (id *Identity) RecordBackup(at time.Time) {
	t := at.UTC()
	id.LastBackupAt = &t
}

// Compatibility classifies a candidate snapshot format version against the
// current one.
type Compatibility int

const (
	// Compatible means same major version; restore directly.
	Compatible Compatibility = iota
	// MigrationRequired means older major version; restore is allowed but a
	// migration step is flagged to the operator.
	MigrationRequired
	// TooNew means newer major version; restore is rejected outright.
	TooNew
)

// CheckVersion applies the compatibility rule: same major accepted, older
// major accepted with a migration flag, newer major rejected.
func CheckVersion(current, candidate string) (Compatibility, error) {
	curMajor, err := majorOf(current)
	if err != nil {
		return TooNew, fmt.Errorf("parsing current version: %w", err)
	}
	candMajor, err := majorOf(candidate)
	if err != nil {
		return TooNew, fmt.Errorf("parsing candidate version: %w", err)
	}

	switch {
	case candMajor == curMajor:
		return Compatible, nil
	case candMajor < curMajor:
		return MigrationRequired, nil
	default:
		return TooNew, nil
	}
}

// majorOf extracts the major component of a "MAJOR.MINOR" version string.
func majorOf(version string) (int, error) {
	major, _, _ := strings.Cut(version, ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return 0, fmt.Errorf("invalid format version %q", version)
	}
	return n, nil
}
