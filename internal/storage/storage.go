// Package storage manages the on-disk layout of stored files: a storage root
// containing one directory per user, holding that user's encrypted payload
// blobs. The snapshot subsystem copies and replaces whole directories under
// the root and never interprets file contents.
package storage

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// EncryptedSuffix marks a blob as an encrypted payload file.
const EncryptedSuffix = ".enc"

// Manager resolves paths under the storage root and performs the whole-file
// and whole-tree copy operations the snapshot subsystem needs.
type Manager struct {
	root string
}

// NewManager creates a Manager rooted at the given path, creating the root
// if it does not exist.
func NewManager(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}
	return &Manager{root: root}, nil
}

// Root returns the storage root path.
func (m *Manager) Root() string {
	return m.root
}

// UserDir returns the directory for a user's files, creating it if needed.
func (m *Manager) UserDir(directory string) (string, error) {
	dir := filepath.Join(m.root, directory)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating user directory: %w", err)
	}
	return dir, nil
}

// FilePath returns the blob path for a stored file name within a user directory.
func (m *Manager) FilePath(directory, storedName string) string {
	return filepath.Join(m.root, directory, storedName)
}

// IsEncryptedPayload reports whether a stored name is an encrypted payload blob.
func IsEncryptedPayload(name string) bool {
	return strings.HasSuffix(name, EncryptedSuffix)
}

// CopyFile copies src to dst using a temp file and rename so a partial write
// never appears at dst.
func (m *Manager) CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("copying data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}

// CopyTree mirrors the directory tree at src into dst, preserving relative
// structure. dst is created if missing. Only regular files are copied.
func (m *Manager) CopyTree(src, dst string) error {
	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("creating destination tree: %w", err)
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walking %s: %w", path, err)
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("calculating relative path: %w", err)
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return m.CopyFile(path, target)
	})
}

// ReplaceTree removes the tree at live and moves src into its place.
// A rename is attempted first; if src is on another filesystem the tree is
// copied instead. Not atomic at the OS level - callers must hold a rollback
// snapshot before invoking this.
func (m *Manager) ReplaceTree(src, live string) error {
	if err := os.RemoveAll(live); err != nil {
		return fmt.Errorf("removing live tree: %w", err)
	}

	if err := os.Rename(src, live); err == nil {
		return nil
	}

	// Cross-device rename fails; fall back to a copy.
	if err := m.CopyTree(src, live); err != nil {
		return fmt.Errorf("copying replacement tree: %w", err)
	}
	return nil
}

// TreeSize returns the total size in bytes of regular files under root.
func (m *Manager) TreeSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sizing tree: %w", err)
	}
	return total, nil
}
