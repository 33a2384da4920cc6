package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"pocketcloud/internal/identity"
	"pocketcloud/internal/storage"
	"pocketcloud/internal/testutil"
)

type fakeStore struct {
	path          string
	checkpointErr error
	checkpoints   int
}

func (f *fakeStore) Path() string { return f.path }

func (f *fakeStore) Checkpoint() error {
	f.checkpoints++
	return f.checkpointErr
}

var testClock = testutil.FixedClock()

type testEnv struct {
	svc          *Service
	store        *fakeStore
	manager      *storage.Manager
	root         string
	dbPath       string
	identityPath string
	stagingDir   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	base := t.TempDir()
	root := filepath.Join(base, "storage")
	manager, err := storage.NewManager(root)
	if err != nil {
		t.Fatalf("creating storage manager: %v", err)
	}

	dbPath := filepath.Join(base, "data", "records.db")
	writeTestFile(t, dbPath, []byte("record store v1"))

	identityPath := filepath.Join(base, "data", "identity.json")
	if err := identity.New("test-device").Save(identityPath); err != nil {
		t.Fatalf("saving identity: %v", err)
	}

	env := &testEnv{
		store:        &fakeStore{path: dbPath},
		manager:      manager,
		root:         root,
		dbPath:       dbPath,
		identityPath: identityPath,
		stagingDir:   filepath.Join(base, "staging"),
	}
	env.svc = NewService(env.store, manager, identityPath, env.stagingDir,
		identity.CurrentFormatVersion, NewNopLogger(), testClock)
	return env
}

// seedPayload writes an encrypted payload of the given size under a user
// directory in the storage root.
func (e *testEnv) seedPayload(t *testing.T, userDir, storedName string, size int) {
	t.Helper()
	content := make([]byte, size)
	for i := range content {
		content[i] = byte('a' + i%26)
	}
	writeTestFile(t, filepath.Join(e.root, userDir, storedName+storage.EncryptedSuffix), content)
}

// produceArchive runs a backup into a file under a fresh temp dir and
// returns the archive path.
func (e *testEnv) produceArchive(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backup.tar")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating archive file: %v", err)
	}
	defer f.Close()

	if _, err := e.svc.ProduceBackup(f); err != nil {
		t.Fatalf("producing backup: %v", err)
	}
	return path
}

// stagingLeftovers lists entries remaining in the staging area that match
// the given prefix. Staging must be empty after every operation.
func (e *testEnv) stagingLeftovers(t *testing.T, prefix string) []string {
	t.Helper()
	entries, err := os.ReadDir(e.stagingDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("reading staging dir: %v", err)
	}
	var names []string
	for _, entry := range entries {
		if len(entry.Name()) >= len(prefix) && entry.Name()[:len(prefix)] == prefix {
			names = append(names, entry.Name())
		}
	}
	return names
}

func writeTestFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating parent dir: %v", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func readTestFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return data
}
