package integrity

import (
	"fmt"
	"sort"

	"pocketcloud/internal/model"
	"pocketcloud/internal/snapshot"
)

// Strategy selects which copy survives when a duplicate group is resolved.
type Strategy string

const (
	KeepOldest Strategy = "keep-oldest" // by upload timestamp
	KeepNewest Strategy = "keep-newest"
)

// Deduper finds active files with byte-identical content within one user.
// Grouping is purely hash-based: names play no part.
type Deduper struct {
	store   RecordStore
	storage PathResolver
	logger  Logger
	clock   Clock
}

func NewDeduper(store RecordStore, storage PathResolver, logger Logger, clock Clock) *Deduper {
	return &Deduper{store: store, storage: storage, logger: logger, clock: clock}
}

// FindDuplicates groups a user's active files by content hash and returns
// the groups holding more than one file, ordered by wasted space descending.
//
// Records with no stored hash are hashed lazily here: unencrypted blobs are
// streamed through the digest and the result is persisted on the record.
// Encrypted blobs cannot be hashed without decryption, so records uploaded
// before hashing existed stay out of grouping until re-uploaded.
func (d *Deduper) FindDuplicates(userID string) ([]*model.DuplicateGroup, error) {
	user, err := d.store.FindUser(userID)
	if err != nil {
		return nil, fmt.Errorf("looking up user %s: %w", userID, err)
	}
	if user == nil {
		return nil, fmt.Errorf("no user with id %s", userID)
	}

	files, err := d.store.ListActiveFiles(userID)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}

	byHash := make(map[string][]*model.FileRecord)
	for _, rec := range files {
		if rec.ContentHash == "" {
			if rec.Encrypted {
				d.logger.Debug("skipping unhashed encrypted file", "file_id", rec.ID)
				continue
			}
			hash, err := snapshot.FileChecksum(d.storage.FilePath(user.Directory, rec.StoredName))
			if err != nil {
				return nil, fmt.Errorf("hashing %s: %w", rec.OriginalName, err)
			}
			if err := d.store.SetContentHash(rec.ID, hash); err != nil {
				return nil, fmt.Errorf("storing hash for %s: %w", rec.ID, err)
			}
			rec.ContentHash = hash
		}
		byHash[rec.ContentHash] = append(byHash[rec.ContentHash], rec)
	}

	var groups []*model.DuplicateGroup
	for hash, members := range byHash {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool {
			return members[i].UploadedAt.Before(members[j].UploadedAt)
		})

		ids := make([]string, len(members))
		for i, rec := range members {
			ids[i] = rec.ID
		}
		size := members[0].Size
		groups = append(groups, &model.DuplicateGroup{
			ContentHash: hash,
			FileIDs:     ids,
			PerFileSize: size,
			WastedSpace: int64(len(members)-1) * size,
		})
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].WastedSpace != groups[j].WastedSpace {
			return groups[i].WastedSpace > groups[j].WastedSpace
		}
		return groups[i].ContentHash < groups[j].ContentHash
	})
	return groups, nil
}

// Resolve trashes redundant copies in every duplicate group of the user,
// keeping one file per group according to strategy. Duplicates are
// soft-deleted, never removed from disk, so the operation is reversible
// through trash restore. Returns the number of files trashed.
func (d *Deduper) Resolve(userID string, strategy Strategy) (int, error) {
	if strategy != KeepOldest && strategy != KeepNewest {
		return 0, fmt.Errorf("unknown strategy %q", strategy)
	}

	groups, err := d.FindDuplicates(userID)
	if err != nil {
		return 0, err
	}

	trashed := 0
	now := d.clock.Now()
	for _, group := range groups {
		// FileIDs are ordered oldest first.
		redundant := group.FileIDs[1:]
		if strategy == KeepNewest {
			redundant = group.FileIDs[:len(group.FileIDs)-1]
		}
		for _, id := range redundant {
			if err := d.store.MarkTrashed(id, now); err != nil {
				return trashed, fmt.Errorf("trashing %s: %w", id, err)
			}
			trashed++
		}
		d.logger.Info("resolved duplicate group",
			"hash", group.ContentHash, "trashed", len(redundant), "strategy", string(strategy))
	}
	return trashed, nil
}
