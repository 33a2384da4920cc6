package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
)

// TreeChecksum computes a single deterministic digest over the directory
// tree at root. Entries are visited in bytewise path order at every
// directory level; for each regular file the hash consumes the relative
// slash-separated path string followed by the file's raw bytes. Filesystem
// enumeration order is not guaranteed, so the sort is what makes the digest
// deterministic.
//
// skip lists root-relative names to exclude (the manifest excludes itself).
// Any unreadable file aborts the computation; no partial digest is returned.
func TreeChecksum(root string, skip ...string) (string, error) {
	h := sha256.New()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("enumerating %s: %w", path, err)
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("calculating relative path: %w", err)
		}
		rel = filepath.ToSlash(rel)
		if slices.Contains(skip, rel) {
			return nil
		}

		if _, err := io.WriteString(h, rel); err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", rel, err)
		}
		defer f.Close()

		if _, err := io.Copy(h, f); err != nil {
			return fmt.Errorf("hashing %s: %w", rel, err)
		}
		return nil
	})
	if err != nil {
		return "", &IOError{Op: "computing tree checksum", Err: err}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileChecksum streams a single file through SHA-256 and returns the digest
// as a lowercase hex string.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &IOError{Op: "opening file for checksum", Err: err}
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", &IOError{Op: "hashing file", Err: err}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
