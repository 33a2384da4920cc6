package snapshot

import (
	"io"
	"os"
	"path/filepath"

	"pocketcloud/internal/archive"
	"pocketcloud/internal/model"
)

// ProduceBackup stages a full snapshot of stored state, builds its manifest,
// and streams it to w as an uncompressed archive. The returned manifest
// describes the archive that was written.
//
// The staging directory is removed exactly once whether the stream completes
// or errors; a consumer abort surfaces as a write error on w and takes the
// same cleanup path. The archive is not encrypted as a container: individual
// payload files inside it remain ciphertext, but the manifest and record
// store copy are plaintext, so the operator chooses a trusted destination.
func (s *Service) ProduceBackup(w io.Writer) (*model.Manifest, error) {
	if err := s.guard.Acquire("backup"); err != nil {
		return nil, err
	}
	defer s.guard.Release()

	return s.produceBackup(w)
}

func (s *Service) produceBackup(w io.Writer) (*model.Manifest, error) {
	staging, err := s.newStagingDir("backup-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	s.logger.Debug("backup staging created", "dir", staging)

	// Record store copy. Checkpoint first so the on-disk file is a
	// consistent snapshot rather than a torn write-ahead state.
	if err := s.store.Checkpoint(); err != nil {
		return nil, &IOError{Op: "checkpointing record store", Err: err}
	}
	dbCopy := filepath.Join(staging, archive.DatabaseName)
	if err := s.storage.CopyFile(s.store.Path(), dbCopy); err != nil {
		return nil, &IOError{Op: "copying record store", Err: err}
	}

	// Device identity, if present.
	identityCopy := filepath.Join(staging, archive.IdentityName)
	if _, err := os.Stat(s.identityPath); err == nil {
		if err := s.storage.CopyFile(s.identityPath, identityCopy); err != nil {
			return nil, &IOError{Op: "copying identity file", Err: err}
		}
	}

	// Every user's encrypted file tree, preserving relative structure.
	filesCopy := filepath.Join(staging, archive.FilesDirName)
	if err := s.storage.CopyTree(s.storage.Root(), filesCopy); err != nil {
		return nil, &IOError{Op: "copying storage tree", Err: err}
	}

	checksum, err := TreeChecksum(staging)
	if err != nil {
		return nil, err
	}

	manifest, err := s.buildManifestFrom(filesCopy, dbCopy, identityCopy)
	if err != nil {
		return nil, err
	}
	manifest.Checksum = checksum

	if err := writeManifest(staging, manifest); err != nil {
		return nil, err
	}

	if err := archive.Pack(staging, w); err != nil {
		return nil, &IOError{Op: "streaming archive", Err: err}
	}

	s.logger.Info("backup produced",
		"files", manifest.FileCount,
		"encrypted_bytes", manifest.TotalEncryptedSize,
		"checksum", manifest.Checksum)
	return manifest, nil
}

// newStagingDir creates a private working directory under the configured
// staging area.
func (s *Service) newStagingDir(prefix string) (string, error) {
	if err := os.MkdirAll(s.stagingDir, 0755); err != nil {
		return "", &IOError{Op: "creating staging area", Err: err}
	}
	dir, err := os.MkdirTemp(s.stagingDir, prefix+"*")
	if err != nil {
		return "", &IOError{Op: "creating staging directory", Err: err}
	}
	return dir, nil
}
