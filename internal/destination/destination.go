// Package destination implements pluggable archive destinations: places a
// produced backup archive can be pushed to and later pulled back from for a
// restore. Archives are opaque named blobs at this layer.
package destination

import (
	"context"
	"fmt"
	"io"
	"time"

	"pocketcloud/internal/config"
)

// ArchiveInfo describes one stored archive at a destination.
type ArchiveInfo struct {
	Name         string
	Size         int64
	LastModified time.Time
}

// Destination stores and retrieves backup archives by name.
type Destination interface {
	// Put stores the archive streamed from r under the given name,
	// overwriting any existing archive with that name.
	Put(ctx context.Context, name string, r io.Reader) error

	// Get streams the named archive to w.
	Get(ctx context.Context, name string, w io.Writer) error

	// List returns the stored archives, newest first.
	List(ctx context.Context) ([]ArchiveInfo, error)

	// ValidateSetup verifies the destination is reachable and writable
	// enough to accept archives.
	ValidateSetup(ctx context.Context) error
}

// NewFromConfig creates a Destination implementation based on the
// destination config type.
func NewFromConfig(ctx context.Context, cfg config.DestinationConfig) (Destination, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryDestination(cfg.Name), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 destination requires s3_bucket to be set")
		}
		return NewS3Destination(ctx, cfg)
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem destination requires fs_root to be set")
		}
		return NewFileSystemDestination(cfg.Name, cfg.FSRoot)
	default:
		return nil, fmt.Errorf("unknown destination type: %s", cfg.Type)
	}
}
