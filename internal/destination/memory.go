package destination

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// MemoryDestination keeps archives in memory. It is useful for testing.
// This implementation is safe for concurrent use.
type MemoryDestination struct {
	name     string
	mu       sync.RWMutex
	archives map[string]memoryArchive
}

type memoryArchive struct {
	data     []byte
	storedAt time.Time
}

// NewMemoryDestination creates a new in-memory destination with the given name.
func NewMemoryDestination(name string) *MemoryDestination {
	return &MemoryDestination{
		name:     name,
		archives: make(map[string]memoryArchive),
	}
}

// Put stores an archive. Storing the same name again replaces it.
func (d *MemoryDestination) Put(ctx context.Context, name string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.archives[name] = memoryArchive{data: data, storedAt: time.Now()}
	return nil
}

// Get streams the named archive to w.
func (d *MemoryDestination) Get(ctx context.Context, name string, w io.Writer) error {
	d.mu.RLock()
	archive, ok := d.archives[name]
	d.mu.RUnlock()

	if !ok {
		return fmt.Errorf("archive not found: %s", name)
	}
	if _, err := io.Copy(w, bytes.NewReader(archive.data)); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	return nil
}

// List returns stored archives, newest first.
func (d *MemoryDestination) List(ctx context.Context) ([]ArchiveInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	archives := make([]ArchiveInfo, 0, len(d.archives))
	for name, archive := range d.archives {
		archives = append(archives, ArchiveInfo{
			Name:         name,
			Size:         int64(len(archive.data)),
			LastModified: archive.storedAt,
		})
	}
	sort.Slice(archives, func(i, j int) bool {
		return archives[i].LastModified.After(archives[j].LastModified)
	})
	return archives, nil
}

// ValidateSetup always succeeds for the in-memory destination.
func (d *MemoryDestination) ValidateSetup(ctx context.Context) error {
	return nil
}

// Compile-time check that MemoryDestination implements Destination
var _ Destination = (*MemoryDestination)(nil)
