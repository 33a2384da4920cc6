package snapshot

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"pocketcloud/internal/archive"
	"pocketcloud/internal/identity"
	"pocketcloud/internal/model"
	"pocketcloud/internal/storage"
)

// ValidationResult summarizes a successfully validated archive.
type ValidationResult struct {
	Manifest           *model.Manifest
	MigrationRequired  bool // archive has an older major format version
	EncryptedFileCount int
}

// ValidateArchive determines whether the archive at archivePath is safe to
// restore, without mutating any live state. All work happens in an isolated
// temp directory that is removed regardless of outcome.
func (s *Service) ValidateArchive(archivePath string) (*ValidationResult, error) {
	extracted, err := s.extractArchive(archivePath, "validate-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(extracted)

	return s.validateExtracted(extracted)
}

// extractArchive unpacks an archive file into a fresh staging directory.
// The caller owns the returned directory and must remove it.
func (s *Service) extractArchive(archivePath, prefix string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", &IOError{Op: "opening archive", Err: err}
	}
	defer f.Close()

	dir, err := s.newStagingDir(prefix)
	if err != nil {
		return "", err
	}

	if err := archive.Extract(f, dir); err != nil {
		os.RemoveAll(dir)
		return "", &ValidationError{Reason: "archive is not extractable", Err: err}
	}
	return dir, nil
}

// validateExtracted runs the full validation sequence over an extracted
// archive tree: manifest presence, format version gate, checksum match,
// required members. Never mutates live storage.
func (s *Service) validateExtracted(dir string) (*ValidationResult, error) {
	manifest, err := readManifest(dir)
	if err != nil {
		return nil, err
	}

	compat, err := identity.CheckVersion(s.formatVersion, manifest.FormatVersion)
	if err != nil {
		return nil, &ValidationError{Reason: "manifest format version is invalid", Err: err}
	}
	if compat == identity.TooNew {
		return nil, &ValidationError{Reason: fmt.Sprintf(
			"backup format %s is newer than supported %s; update pocketcloud before restoring",
			manifest.FormatVersion, s.formatVersion)}
	}

	// Any mismatch is a hard integrity failure, never a warning.
	checksum, err := TreeChecksum(dir, archive.ManifestName)
	if err != nil {
		return nil, err
	}
	if checksum != manifest.Checksum {
		return nil, &ValidationError{Reason: fmt.Sprintf(
			"checksum mismatch: archive contents hash to %s but manifest records %s",
			checksum, manifest.Checksum)}
	}

	dbPath := filepath.Join(dir, archive.DatabaseName)
	info, err := os.Stat(dbPath)
	if err != nil {
		return nil, &ValidationError{Reason: "archive has no record store copy"}
	}
	if info.Size() == 0 {
		return nil, &ValidationError{Reason: "archive record store copy is empty"}
	}

	filesDir := filepath.Join(dir, archive.FilesDirName)
	filesInfo, err := os.Stat(filesDir)
	if err != nil || !filesInfo.IsDir() {
		return nil, &ValidationError{Reason: "archive has no files directory"}
	}

	count := 0
	err = filepath.WalkDir(filesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && storage.IsEncryptedPayload(d.Name()) {
			count++
		}
		return nil
	})
	if err != nil {
		return nil, &IOError{Op: "counting archived files", Err: err}
	}

	s.logger.Debug("archive validated",
		"format_version", manifest.FormatVersion,
		"files", count,
		"migration_required", compat == identity.MigrationRequired)

	return &ValidationResult{
		Manifest:           manifest,
		MigrationRequired:  compat == identity.MigrationRequired,
		EncryptedFileCount: count,
	}, nil
}
