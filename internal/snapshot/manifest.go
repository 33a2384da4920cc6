package snapshot

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"pocketcloud/internal/archive"
	"pocketcloud/internal/model"
	"pocketcloud/internal/storage"
)

// ProducerVersion identifies the pocketcloud release that wrote an archive.
const ProducerVersion = "0.4.0"

// archiveOverheadPercent is the fixed allowance added to the summed content
// size when estimating the final archive size. The estimate feeds UI
// progress display only; validation never consults it.
const archiveOverheadPercent = 5

// BuildManifest assembles a Manifest describing the current storage state:
// the count and total size of encrypted payload files under the storage
// root, plus the record store and identity file sizes. Zero stored files is
// valid and produces FileCount 0. The Checksum field is left empty; the
// backup producer fills it after staging.
func (s *Service) BuildManifest() (*model.Manifest, error) {
	return s.buildManifestFrom(s.storage.Root(), s.store.Path(), s.identityPath)
}

// buildManifestFrom builds a manifest from explicit locations so the backup
// producer can describe its staged copy rather than racing live uploads.
func (s *Service) buildManifestFrom(filesRoot, dbPath, identityPath string) (*model.Manifest, error) {
	count, totalSize, err := countEncryptedPayloads(filesRoot)
	if err != nil {
		return nil, &IOError{Op: "scanning storage root", Err: err}
	}

	contentSize := totalSize
	if info, err := os.Stat(dbPath); err == nil {
		contentSize += info.Size()
	} else if !os.IsNotExist(err) {
		return nil, &IOError{Op: "stat record store", Err: err}
	}
	if info, err := os.Stat(identityPath); err == nil {
		contentSize += info.Size()
	}

	return &model.Manifest{
		FormatVersion:        s.formatVersion,
		ProducerVersion:      ProducerVersion,
		CreatedAt:            s.clock.Now().UTC(),
		FileCount:            count,
		TotalEncryptedSize:   totalSize,
		EstimatedArchiveSize: contentSize + contentSize*archiveOverheadPercent/100,
	}, nil
}

// countEncryptedPayloads counts files with the encrypted payload suffix under
// root and sums their on-disk sizes. A missing root counts as empty.
func countEncryptedPayloads(root string) (int, int64, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return 0, 0, nil
	}

	var count int
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !storage.IsEncryptedPayload(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		count++
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return count, total, nil
}

// writeManifest serializes a manifest into the staging directory.
func writeManifest(stagingDir string, m *model.Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(stagingDir, archive.ManifestName), data, 0644); err != nil {
		return &IOError{Op: "writing manifest", Err: err}
	}
	return nil
}

// readManifest loads and parses the manifest from an extracted archive tree.
func readManifest(dir string) (*model.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, archive.ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ValidationError{Reason: "archive has no manifest"}
		}
		return nil, &IOError{Op: "reading manifest", Err: err}
	}

	var m model.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ValidationError{Reason: "manifest is not parseable", Err: err}
	}
	return &m, nil
}
