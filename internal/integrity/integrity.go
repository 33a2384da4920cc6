// Package integrity implements the per-file plausibility checks and
// content-hash deduplication over stored files: classifying blobs as
// corrupted without decrypting them, recording append-only corruption
// evidence, and grouping byte-identical files per user.
package integrity

import (
	"fmt"
	"time"

	"pocketcloud/internal/model"
)

// RecordStore is the contract the integrity subsystem needs from the record
// store. Unlike the snapshot subsystem it reads and writes structured rows.
type RecordStore interface {
	ListUsers() ([]*model.User, error)
	FindUser(id string) (*model.User, error)
	FindFileRecord(id string) (*model.FileRecord, error)
	ListActiveFiles(userID string) ([]*model.FileRecord, error)
	SetContentHash(fileID, hash string) error
	MarkTrashed(fileID string, at time.Time) error
	InsertCorruptionRecord(fileID, reason string, at time.Time) (*model.CorruptionRecord, error)
	ListCorruptionRecords() ([]*model.CorruptionRecord, error)
	PurgeFile(fileID string) error
}

// PathResolver maps a file record to its blob location on disk.
type PathResolver interface {
	FilePath(directory, storedName string) string
}

// Logger follows slog conventions: alternating key/value args.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Clock abstracts time retrieval for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IntegrityError reports corruption detected in a single stored file.
// It is recorded as evidence and is not necessarily fatal to the operation
// that discovered it.
type IntegrityError struct {
	FileID string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation in file %s: %s", e.FileID, e.Reason)
}
