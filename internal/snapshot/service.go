// Package snapshot implements the data-integrity and disaster-recovery core:
// producing checksum-verified backup archives of all stored state, validating
// candidate archives, and restoring them atomically with rollback on failure.
package snapshot

// RecordStore is the minimal contract the snapshot subsystem needs from the
// record store: the subsystem copies and replaces the on-disk database file
// as an opaque blob and never opens it as a structured store.
type RecordStore interface {
	// Path returns the on-disk database file path.
	Path() string

	// Checkpoint flushes pending writes so the file at Path() is a
	// consistent copy source.
	Checkpoint() error
}

// StorageManager supplies the storage root and the whole-file and whole-tree
// copy operations used to stage, snapshot, and swap stored state.
type StorageManager interface {
	// Root returns the storage root containing per-user file trees.
	Root() string

	// CopyFile copies a single file; a partial copy never appears at dst.
	CopyFile(src, dst string) error

	// CopyTree mirrors a directory tree, preserving relative structure.
	CopyTree(src, dst string) error

	// ReplaceTree removes the live tree and moves src into its place.
	// Not atomic at the OS level; callers hold a rollback snapshot first.
	ReplaceTree(src, live string) error

	// TreeSize returns the total size of regular files under root.
	TreeSize(root string) (int64, error)
}

// Service orchestrates backup production, archive validation, and restore.
type Service struct {
	store         RecordStore
	storage       StorageManager
	identityPath  string
	stagingDir    string
	formatVersion string // current snapshot format version ("MAJOR.MINOR")
	guard         *Guard
	logger        Logger
	clock         Clock
}

// NewService creates a Service with the provided dependencies.
// formatVersion is the snapshot format version this device produces and
// accepts (normally identity.CurrentFormatVersion).
func NewService(store RecordStore, storage StorageManager, identityPath, stagingDir, formatVersion string, logger Logger, clock Clock) *Service {
	return &Service{
		store:         store,
		storage:       storage,
		identityPath:  identityPath,
		stagingDir:    stagingDir,
		formatVersion: formatVersion,
		guard:         NewGuard(),
		logger:        logger,
		clock:         clock,
	}
}
