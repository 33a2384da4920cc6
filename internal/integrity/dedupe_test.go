package integrity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pocketcloud/internal/model"
	"pocketcloud/internal/testutil"
)

func TestFindDuplicatesGroupsByContent(t *testing.T) {
	t.Parallel()

	env := newIntegrityEnv(t)
	base := testClock.Now()

	// Different names, identical content: must group.
	a := env.addFile(t, &model.FileRecord{
		OriginalName: "a.txt", StoredName: "a.txt", Size: 5,
		ContentHash: "hash-one", UploadedAt: base,
	}, []byte("hello"))
	b := env.addFile(t, &model.FileRecord{
		OriginalName: "b.txt", StoredName: "b.txt", Size: 5,
		ContentHash: "hash-one", UploadedAt: base.Add(time.Hour),
	}, []byte("hello"))
	// Same original name, different content: must never group.
	env.addFile(t, &model.FileRecord{
		OriginalName: "a.txt", StoredName: "a-2.txt", Size: 5,
		ContentHash: "hash-two", UploadedAt: base.Add(2 * time.Hour),
	}, []byte("world"))

	groups, err := env.deduper().FindDuplicates(env.user.ID)
	require.NoError(t, err)

	require.Len(t, groups, 1)
	group := groups[0]
	assert.Equal(t, "hash-one", group.ContentHash)
	assert.Equal(t, []string{a.ID, b.ID}, group.FileIDs, "oldest first")
	assert.Equal(t, int64(5), group.PerFileSize)
	assert.Equal(t, int64(5), group.WastedSpace)
}

func TestFindDuplicatesHashesLazily(t *testing.T) {
	t.Parallel()

	env := newIntegrityEnv(t)
	content := []byte("same bytes either way")
	a := env.addFile(t, &model.FileRecord{
		OriginalName: "first.txt", StoredName: "first.txt",
		Size: int64(len(content)), UploadedAt: testClock.Now(),
	}, content)
	env.addFile(t, &model.FileRecord{
		OriginalName: "second.txt", StoredName: "second.txt",
		Size: int64(len(content)), UploadedAt: testClock.Now().Add(time.Minute),
	}, content)

	groups, err := env.deduper().FindDuplicates(env.user.ID)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	// The computed digest is persisted on the record.
	stored, err := env.store.FindFileRecord(a.ID)
	require.NoError(t, err)
	assert.Equal(t, testutil.SHA256Hex(content), stored.ContentHash)
	assert.Equal(t, groups[0].ContentHash, stored.ContentHash)
}

func TestFindDuplicatesSkipsUnhashedEncrypted(t *testing.T) {
	t.Parallel()

	env := newIntegrityEnv(t)
	env.addFile(t, &model.FileRecord{
		OriginalName: "x.bin", StoredName: "x.bin.enc", Size: 4, Encrypted: true,
	}, []byte("junk"))
	env.addFile(t, &model.FileRecord{
		OriginalName: "y.bin", StoredName: "y.bin.enc", Size: 4, Encrypted: true,
	}, []byte("junk"))

	groups, err := env.deduper().FindDuplicates(env.user.ID)
	require.NoError(t, err)
	assert.Empty(t, groups, "encrypted blobs without a recorded hash cannot be grouped")
}

func TestResolve(t *testing.T) {
	t.Parallel()

	seed := func(t *testing.T) (*integrityEnv, *model.FileRecord, *model.FileRecord) {
		env := newIntegrityEnv(t)
		older := env.addFile(t, &model.FileRecord{
			OriginalName: "a.txt", StoredName: "a.txt", Size: 5,
			ContentHash: "h", UploadedAt: testClock.Now(),
		}, []byte("hello"))
		newer := env.addFile(t, &model.FileRecord{
			OriginalName: "b.txt", StoredName: "b.txt", Size: 5,
			ContentHash: "h", UploadedAt: testClock.Now().Add(time.Hour),
		}, []byte("hello"))
		return env, older, newer
	}

	t.Run("keep oldest", func(t *testing.T) {
		t.Parallel()
		env, older, newer := seed(t)

		trashed, err := env.deduper().Resolve(env.user.ID, KeepOldest)
		require.NoError(t, err)
		assert.Equal(t, 1, trashed)

		kept, err := env.store.FindFileRecord(older.ID)
		require.NoError(t, err)
		assert.False(t, kept.Deleted)

		gone, err := env.store.FindFileRecord(newer.ID)
		require.NoError(t, err)
		assert.True(t, gone.Deleted)
		require.NotNil(t, gone.TrashedAt)
		assert.Equal(t, testClock.Now(), gone.TrashedAt.UTC())
	})

	t.Run("keep newest", func(t *testing.T) {
		t.Parallel()
		env, older, newer := seed(t)

		trashed, err := env.deduper().Resolve(env.user.ID, KeepNewest)
		require.NoError(t, err)
		assert.Equal(t, 1, trashed)

		gone, err := env.store.FindFileRecord(older.ID)
		require.NoError(t, err)
		assert.True(t, gone.Deleted)

		kept, err := env.store.FindFileRecord(newer.ID)
		require.NoError(t, err)
		assert.False(t, kept.Deleted)
	})

	t.Run("unknown strategy", func(t *testing.T) {
		t.Parallel()
		env, _, _ := seed(t)
		_, err := env.deduper().Resolve(env.user.ID, Strategy("keep-biggest"))
		require.Error(t, err)
	})

	t.Run("reversible through trash", func(t *testing.T) {
		t.Parallel()
		env, _, newer := seed(t)

		_, err := env.deduper().Resolve(env.user.ID, KeepOldest)
		require.NoError(t, err)

		// Trashed duplicates leave grouping but can come back.
		groups, err := env.deduper().FindDuplicates(env.user.ID)
		require.NoError(t, err)
		assert.Empty(t, groups)

		require.NoError(t, env.store.RestoreFromTrash(newer.ID))
		groups, err = env.deduper().FindDuplicates(env.user.ID)
		require.NoError(t, err)
		assert.Len(t, groups, 1)
	})
}
