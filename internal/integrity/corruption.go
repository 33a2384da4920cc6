package integrity

import (
	"fmt"
	"os"

	"pocketcloud/internal/crypto"
	"pocketcloud/internal/model"
)

// Checker classifies stored files as plausible or corrupted using only their
// on-disk size against the size recorded at upload. Content is never read or
// decrypted.
type Checker struct {
	store   RecordStore
	storage PathResolver
	logger  Logger
	clock   Clock
}

func NewChecker(store RecordStore, storage PathResolver, logger Logger, clock Clock) *Checker {
	return &Checker{store: store, storage: storage, logger: logger, clock: clock}
}

// ScanReport summarizes one background integrity scan.
type ScanReport struct {
	FilesChecked int
	Corrupted    []*model.CorruptionRecord
}

// classify returns the corruption reason for a file record, or "" when the
// blob size is plausible.
//
// Encrypted blobs carry header, nonce, and authentication overhead, so their
// on-disk size may exceed the recorded plaintext size by up to
// crypto.MaxOverhead bytes; the upper bound is inclusive on the healthy
// side. Unencrypted blobs must match the recorded size exactly. A missing
// blob is always corrupted.
func classify(rec *model.FileRecord, path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return model.ReasonMissing
	}
	diskSize := info.Size()

	if rec.Encrypted {
		switch {
		case diskSize < rec.Size:
			return model.ReasonTooSmall
		case diskSize > rec.Size+crypto.MaxOverhead:
			return model.ReasonTooLarge
		}
		return ""
	}

	if diskSize != rec.Size {
		return model.ReasonMismatch
	}
	return ""
}

// CheckUpload validates a freshly written blob. Corruption detected here is
// failed fast: the evidence row is recorded, the bad blob is deleted from
// disk immediately so it is never relied upon, and an *IntegrityError is
// returned. The file record itself is left for the caller to handle.
func (c *Checker) CheckUpload(rec *model.FileRecord, userDirectory string) error {
	path := c.storage.FilePath(userDirectory, rec.StoredName)
	reason := classify(rec, path)
	if reason == "" {
		return nil
	}

	if _, err := c.store.InsertCorruptionRecord(rec.ID, reason, c.clock.Now()); err != nil {
		return fmt.Errorf("recording corruption: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("could not remove corrupted upload", "file_id", rec.ID, "path", path, "error", err)
	}

	c.logger.Warn("corrupted upload rejected", "file_id", rec.ID, "reason", reason)
	return &IntegrityError{FileID: rec.ID, Reason: reason}
}

// Scan walks every user's active files and records a CorruptionRecord for
// each implausible blob. Unlike CheckUpload the blob is left in place so an
// operator can inspect it before deciding to purge.
func (c *Checker) Scan() (*ScanReport, error) {
	users, err := c.store.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	report := &ScanReport{}
	for _, user := range users {
		files, err := c.store.ListActiveFiles(user.ID)
		if err != nil {
			return nil, fmt.Errorf("listing files for user %s: %w", user.ID, err)
		}

		for _, rec := range files {
			report.FilesChecked++
			reason := classify(rec, c.storage.FilePath(user.Directory, rec.StoredName))
			if reason == "" {
				continue
			}

			corruption, err := c.store.InsertCorruptionRecord(rec.ID, reason, c.clock.Now())
			if err != nil {
				return nil, fmt.Errorf("recording corruption: %w", err)
			}
			report.Corrupted = append(report.Corrupted, corruption)
			c.logger.Warn("corruption detected",
				"file_id", rec.ID, "name", rec.OriginalName, "reason", reason)
		}
	}

	c.logger.Info("integrity scan finished",
		"files_checked", report.FilesChecked, "corrupted", len(report.Corrupted))
	return report, nil
}

// Records returns all recorded corruption evidence.
func (c *Checker) Records() ([]*model.CorruptionRecord, error) {
	return c.store.ListCorruptionRecords()
}

// Purge removes a corrupted file entirely: the blob on disk, its file
// record, and all corruption evidence for it. This is the explicit operator
// action that ends a corruption record's lifecycle.
func (c *Checker) Purge(fileID string) error {
	rec, err := c.store.FindFileRecord(fileID)
	if err != nil {
		return fmt.Errorf("looking up file %s: %w", fileID, err)
	}
	if rec == nil {
		return fmt.Errorf("no file record with id %s", fileID)
	}
	user, err := c.store.FindUser(rec.UserID)
	if err != nil {
		return fmt.Errorf("looking up owner of %s: %w", fileID, err)
	}
	if user == nil {
		return fmt.Errorf("file %s has no owner", fileID)
	}

	path := c.storage.FilePath(user.Directory, rec.StoredName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing blob: %w", err)
	}
	if err := c.store.PurgeFile(fileID); err != nil {
		return fmt.Errorf("purging records: %w", err)
	}

	c.logger.Info("purged corrupted file", "file_id", fileID, "name", rec.OriginalName)
	return nil
}
