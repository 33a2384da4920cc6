package destination

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileSystemDestination stores archives as plain files under a root
// directory. Writes go through a temp file and rename so a partially
// written archive is never visible under its final name.
type FileSystemDestination struct {
	name string
	root string
}

// NewFileSystemDestination creates a destination rooted at the given path.
func NewFileSystemDestination(name, root string) (*FileSystemDestination, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create destination root: %w", err)
	}
	return &FileSystemDestination{name: name, root: root}, nil
}

func (d *FileSystemDestination) archivePath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid archive name: %q", name)
	}
	return filepath.Join(d.root, name), nil
}

// Put stores an archive under name, replacing any previous one atomically.
func (d *FileSystemDestination) Put(ctx context.Context, name string, r io.Reader) error {
	dest, err := d.archivePath(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(d.root, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	success := false
	defer func() {
		tmp.Close()
		if !success {
			os.Remove(tmp.Name())
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	success = true
	return nil
}

// Get streams the named archive to w.
func (d *FileSystemDestination) Get(ctx context.Context, name string, w io.Writer) error {
	src, err := d.archivePath(name)
	if err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("archive not found: %s", name)
		}
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	return nil
}

// List returns stored archives, newest first. Temp files from in-progress
// uploads are hidden.
func (d *FileSystemDestination) List(ctx context.Context) ([]ArchiveInfo, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read destination root: %w", err)
	}

	var archives []ArchiveInfo
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", entry.Name(), err)
		}
		archives = append(archives, ArchiveInfo{
			Name:         entry.Name(),
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].LastModified.After(archives[j].LastModified)
	})
	return archives, nil
}

// ValidateSetup verifies the root exists and is writable.
func (d *FileSystemDestination) ValidateSetup(ctx context.Context) error {
	info, err := os.Stat(d.root)
	if err != nil {
		return fmt.Errorf("destination root does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("destination root is not a directory: %s", d.root)
	}

	probe, err := os.CreateTemp(d.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("destination root is not writable: %w", err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}

// Compile-time check that FileSystemDestination implements Destination
var _ Destination = (*FileSystemDestination)(nil)
