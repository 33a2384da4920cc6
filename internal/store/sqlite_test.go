package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pocketcloud/internal/model"
	"pocketcloud/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_Users(t *testing.T) {
	s := newTestStore(t)

	u, err := s.CreateUser("alice", "alice-dir")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)

	got, err := s.FindUser(u.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Name)
	assert.Equal(t, "alice-dir", got.Directory)

	missing, err := s.FindUser("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	users, err := s.ListUsers()
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestStore_FileRecords(t *testing.T) {
	s := newTestStore(t)
	u, err := s.CreateUser("bob", "bob-dir")
	require.NoError(t, err)

	rec := &model.FileRecord{
		UserID:       u.ID,
		OriginalName: "photo.jpg",
		StoredName:   "photo.jpg.enc",
		Size:         1234,
		Encrypted:    true,
	}
	require.NoError(t, s.CreateFileRecord(rec))
	assert.NotEmpty(t, rec.ID)

	got, err := s.FindFileRecord(rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "photo.jpg.enc", got.StoredName)
	assert.True(t, got.Encrypted)
	assert.Empty(t, got.ContentHash)
	assert.Nil(t, got.TrashedAt)

	require.NoError(t, s.SetContentHash(rec.ID, "abc123"))
	got, err = s.FindFileRecord(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.ContentHash)

	active, err := s.ListActiveFiles(u.ID)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestStore_Trash(t *testing.T) {
	s := newTestStore(t)
	u, err := s.CreateUser("carol", "carol-dir")
	require.NoError(t, err)

	rec := &model.FileRecord{UserID: u.ID, OriginalName: "a.txt", StoredName: "a.txt.enc", Size: 10, Encrypted: true}
	require.NoError(t, s.CreateFileRecord(rec))

	now := time.Now().UTC()
	require.NoError(t, s.MarkTrashed(rec.ID, now))

	active, err := s.ListActiveFiles(u.ID)
	require.NoError(t, err)
	assert.Empty(t, active)

	got, err := s.FindFileRecord(rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	require.NotNil(t, got.TrashedAt)

	// Soft delete is reversible.
	require.NoError(t, s.RestoreFromTrash(rec.ID))
	active, err = s.ListActiveFiles(u.ID)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	got, err = s.FindFileRecord(rec.ID)
	require.NoError(t, err)
	assert.Nil(t, got.TrashedAt)
}

func TestStore_CorruptionRecords(t *testing.T) {
	s := newTestStore(t)
	u, err := s.CreateUser("dave", "dave-dir")
	require.NoError(t, err)

	rec := &model.FileRecord{UserID: u.ID, OriginalName: "b.txt", StoredName: "b.txt.enc", Size: 20, Encrypted: true}
	require.NoError(t, s.CreateFileRecord(rec))

	cr, err := s.InsertCorruptionRecord(rec.ID, model.ReasonMissing, time.Now().UTC())
	require.NoError(t, err)
	assert.NotZero(t, cr.ID)

	// Detection never mutates the file record itself.
	got, err := s.FindFileRecord(rec.ID)
	require.NoError(t, err)
	assert.False(t, got.Deleted)

	recs, err := s.ListCorruptionRecords()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.ReasonMissing, recs[0].Reason)

	// Purge removes both the file record and its corruption evidence.
	require.NoError(t, s.PurgeFile(rec.ID))

	gone, err := s.FindFileRecord(rec.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	recs, err = s.ListCorruptionRecords()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStore_CheckpointAndPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.db")

	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate())

	_, err = s.CreateUser("erin", "erin-dir")
	require.NoError(t, err)

	require.NoError(t, s.Checkpoint())
	assert.Equal(t, path, s.Path())

	// After a checkpoint, a second reader sees the data through the main file.
	other, err := store.Open(path)
	require.NoError(t, err)
	defer other.Close()

	users, err := other.ListUsers()
	require.NoError(t, err)
	assert.Len(t, users, 1)
}
