package snapshot

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"pocketcloud/internal/identity"
)

// flakyStorage injects ReplaceTree failures to exercise the rollback path.
// failOn is the 1-based call number to fail; 0 fails every call.
type flakyStorage struct {
	StorageManager
	failOn int
	calls  int
}

func (f *flakyStorage) ReplaceTree(src, live string) error {
	f.calls++
	if f.failOn == 0 || f.calls == f.failOn {
		return errors.New("injected device error")
	}
	return f.StorageManager.ReplaceTree(src, live)
}

func (e *testEnv) withFlakyStorage(failOn int) (*Service, *flakyStorage) {
	flaky := &flakyStorage{StorageManager: e.manager, failOn: failOn}
	svc := NewService(e.store, flaky, e.identityPath, e.stagingDir,
		identity.CurrentFormatVersion, NewNopLogger(), testClock)
	return svc, flaky
}

// mutate changes live state after a backup so the tests can tell restored
// state from the state the archive captured.
func (e *testEnv) mutate(t *testing.T) {
	t.Helper()
	e.seedPayload(t, "alice", "photo.v2", 99)
	writeTestFile(t, filepath.Join(e.root, "alice", "photo.enc"), []byte("overwritten"))
	writeTestFile(t, e.dbPath, []byte("record store v2"))
}

func (e *testEnv) treeChecksum(t *testing.T) string {
	t.Helper()
	sum, err := TreeChecksum(e.root)
	if err != nil {
		t.Fatalf("TreeChecksum(root): %v", err)
	}
	return sum
}

func TestRestoreRoundTrip(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedPayload(t, "alice", "photo", 128)
	env.seedPayload(t, "bob", "doc", 64)

	archivePath := env.produceArchive(t)
	backedUpTree := env.treeChecksum(t)
	backedUpDB := readTestFile(t, env.dbPath)
	backedUpIdentity := readTestFile(t, env.identityPath)

	env.mutate(t)
	if env.treeChecksum(t) == backedUpTree {
		t.Fatal("mutation did not change the live tree")
	}

	outcome, err := env.svc.Restore(archivePath)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if outcome.FilesRestored != 2 {
		t.Errorf("FilesRestored = %d, want 2", outcome.FilesRestored)
	}
	if outcome.MigrationRequired {
		t.Error("MigrationRequired = true for same-version archive")
	}

	if got := env.treeChecksum(t); got != backedUpTree {
		t.Errorf("restored tree checksum %s, want backed-up %s", got, backedUpTree)
	}
	if got := readTestFile(t, env.dbPath); !bytes.Equal(got, backedUpDB) {
		t.Errorf("restored record store = %q, want %q", got, backedUpDB)
	}
	if got := readTestFile(t, env.identityPath); !bytes.Equal(got, backedUpIdentity) {
		t.Error("restored identity differs from backed-up identity")
	}

	for _, prefix := range []string{"restore-", "rollback-"} {
		if left := env.stagingLeftovers(t, prefix); len(left) != 0 {
			t.Errorf("%s dirs left behind: %v", prefix, left)
		}
	}
}

func TestRestoreRollsBackOnSwapFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedPayload(t, "alice", "photo", 128)
	archivePath := env.produceArchive(t)

	env.mutate(t)
	liveTree := env.treeChecksum(t)
	liveDB := readTestFile(t, env.dbPath)

	// The first ReplaceTree is the live swap; it fails after the record
	// store file was already overwritten. The second is the rollback
	// replay, which succeeds.
	svc, flaky := env.withFlakyStorage(1)

	_, err := svc.Restore(archivePath)
	var rbErr *RolledBackError
	if !errors.As(err, &rbErr) {
		t.Fatalf("expected *RolledBackError, got %T: %v", err, err)
	}
	if rbErr.Cause == nil {
		t.Error("RolledBackError carries no cause")
	}
	if flaky.calls < 2 {
		t.Errorf("ReplaceTree called %d times, want swap plus rollback replay", flaky.calls)
	}

	if got := env.treeChecksum(t); got != liveTree {
		t.Errorf("tree checksum after rollback %s, want pre-restore %s", got, liveTree)
	}
	if got := readTestFile(t, env.dbPath); !bytes.Equal(got, liveDB) {
		t.Errorf("record store after rollback = %q, want pre-restore %q", got, liveDB)
	}
	if left := env.stagingLeftovers(t, "rollback-"); len(left) != 0 {
		t.Errorf("rollback dirs left behind after successful rollback: %v", left)
	}
}

func TestRestoreRollbackFailurePreservesSnapshot(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedPayload(t, "alice", "photo", 128)
	archivePath := env.produceArchive(t)
	env.mutate(t)

	// Every ReplaceTree fails: the swap fails and so does the replay.
	svc, _ := env.withFlakyStorage(0)

	_, err := svc.Restore(archivePath)
	var failure *RollbackFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *RollbackFailure, got %T: %v", err, err)
	}
	if failure.Cause == nil || failure.RollbackErr == nil {
		t.Errorf("RollbackFailure missing cause or rollback error: %+v", failure)
	}

	// The rollback dir must survive for manual recovery and still hold the
	// pre-restore record store copy.
	info, statErr := os.Stat(failure.RollbackDir)
	if statErr != nil || !info.IsDir() {
		t.Fatalf("rollback dir %s not preserved: %v", failure.RollbackDir, statErr)
	}
	snap := readTestFile(t, filepath.Join(failure.RollbackDir, "database.db"))
	if !bytes.Equal(snap, []byte("record store v2")) {
		t.Errorf("rollback dir record store = %q, want pre-restore copy", snap)
	}
}

func TestRestoreValidationFailureTouchesNothing(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedPayload(t, "alice", "photo", 128)
	liveTree := env.treeChecksum(t)
	liveDB := readTestFile(t, env.dbPath)

	garbage := filepath.Join(t.TempDir(), "bad.tar")
	writeTestFile(t, garbage, []byte("not an archive"))

	_, err := env.svc.Restore(garbage)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}

	if got := env.treeChecksum(t); got != liveTree {
		t.Error("live tree changed after rejected restore")
	}
	if got := readTestFile(t, env.dbPath); !bytes.Equal(got, liveDB) {
		t.Error("record store changed after rejected restore")
	}
}

func TestRestoreRejectedWhileBusy(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	if err := env.svc.guard.Acquire("backup"); err != nil {
		t.Fatal(err)
	}
	defer env.svc.guard.Release()

	_, err := env.svc.Restore("irrelevant.tar")
	if !errors.Is(err, ErrOperationInProgress) {
		t.Errorf("Restore while busy = %v, want ErrOperationInProgress", err)
	}
}
