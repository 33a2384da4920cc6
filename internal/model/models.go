package model

import "time"

// User represents an account on this device. Each user owns one directory
// of encrypted payload files under the storage root.
type User struct {
	ID        string // UUID
	Name      string
	Directory string // Directory name under the storage root
	CreatedAt time.Time
}

// FileRecord represents one stored file owned by a user.
// The record never holds file content; it describes the blob on disk.
type FileRecord struct {
	ID           string // UUID
	UserID       string // Foreign key to User
	OriginalName string // Name the file was uploaded as
	StoredName   string // Blob name on disk, ends in ".enc" for encrypted payloads
	Size         int64  // Plaintext size in bytes as recorded at upload
	Encrypted    bool
	ContentHash  string // SHA-256 of the plaintext; empty until computed
	UploadedAt   time.Time
	Deleted      bool       // Soft-delete (trash) flag
	TrashedAt    *time.Time // When the file was moved to trash, if ever
}

// CorruptionRecord is append-only evidence that a stored file failed the
// size-plausibility check. The original file record is never mutated by
// detection; records are removed only by an explicit operator purge.
type CorruptionRecord struct {
	ID         int64
	FileID     string
	Reason     string
	DetectedAt time.Time
}

// Corruption reasons recorded by the integrity checker.
const (
	ReasonMissing  = "missing from disk"
	ReasonTooSmall = "smaller than recorded size"
	ReasonTooLarge = "larger than recorded size plus overhead"
	ReasonMismatch = "size does not match recorded size"
)

// DuplicateGroup is a derived view of active files sharing a content hash
// within one user. It is recomputed on demand and never persisted.
type DuplicateGroup struct {
	ContentHash string
	FileIDs     []string
	PerFileSize int64
	WastedSpace int64 // (len(FileIDs)-1) * PerFileSize
}

// Manifest describes one backup snapshot. It is created once per backup,
// embedded in the archive as manifest.json, and never mutated.
type Manifest struct {
	FormatVersion        string    `json:"format_version"`   // "MAJOR.MINOR"
	ProducerVersion      string    `json:"producer_version"` // pocketcloud release that wrote the archive
	CreatedAt            time.Time `json:"created_at"`
	FileCount            int       `json:"file_count"`
	TotalEncryptedSize   int64     `json:"total_encrypted_size"`
	EstimatedArchiveSize int64     `json:"estimated_archive_size"` // UI estimate only, never validated
	Checksum             string    `json:"checksum"`               // Tree checksum of the archive contents
}

// RestoreOutcome summarizes a completed restore for the caller.
type RestoreOutcome struct {
	FilesRestored     int
	MigrationRequired bool
	Manifest          *Manifest
}
