package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pocketcloud/internal/config"
	"pocketcloud/internal/identity"
	"pocketcloud/internal/model"
)

func newTestApp(t *testing.T) *App {
	t.Helper()

	cfg := config.NewConfig("test-device", t.TempDir())
	cfg.Crypto.Type = "test"
	cfg.Destination = config.DestinationConfig{Type: "memory", Name: "test"}

	a, err := NewApp(context.Background(), cfg, "Test")
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

// seedFile registers a user-owned blob through the app's own store and
// storage so backups have real state to carry.
func seedFile(t *testing.T, a *App, userName, storedName string, content []byte) (*model.User, *model.FileRecord) {
	t.Helper()

	user, err := a.findUserByName(userName)
	if err != nil {
		if user, err = a.store.CreateUser(userName, userName); err != nil {
			t.Fatalf("CreateUser() error = %v", err)
		}
	}

	rec := &model.FileRecord{
		UserID:       user.ID,
		OriginalName: storedName,
		StoredName:   storedName,
		Size:         int64(len(content)),
		UploadedAt:   time.Now(),
	}
	if err := a.store.CreateFileRecord(rec); err != nil {
		t.Fatalf("CreateFileRecord() error = %v", err)
	}

	dir, err := a.storage.UserDir(user.Directory)
	if err != nil {
		t.Fatalf("UserDir() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, storedName), content, 0644); err != nil {
		t.Fatalf("writing blob: %v", err)
	}
	return user, rec
}

func TestApp_BackupRestoreRoundTrip(t *testing.T) {
	a := newTestApp(t)
	_, rec := seedFile(t, a, "alice", "notes.txt", []byte("irreplaceable"))

	archivePath := filepath.Join(t.TempDir(), "backup.tar")
	f, err := os.Create(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	manifest, err := a.ProduceBackup(f)
	f.Close()
	if err != nil {
		t.Fatalf("ProduceBackup() error = %v", err)
	}
	if manifest.Checksum == "" {
		t.Error("manifest has no checksum")
	}

	// The producer's collaborator contract: last-backup time is recorded.
	id, err := identity.Load(a.cfg.IdentityPath)
	if err != nil || id == nil {
		t.Fatalf("Load identity: %v", err)
	}
	if id.LastBackupAt == nil {
		t.Error("LastBackupAt not recorded after backup")
	}

	// Damage live state, then restore over it.
	if err := a.store.MarkTrashed(rec.ID, time.Now()); err != nil {
		t.Fatal(err)
	}

	if _, err := a.ConfirmRestore(archivePath, "yes please"); err == nil {
		t.Fatal("ConfirmRestore() accepted a wrong confirmation token")
	}

	outcome, err := a.ConfirmRestore(archivePath, ConfirmationToken)
	if err != nil {
		t.Fatalf("ConfirmRestore() error = %v", err)
	}
	if outcome.MigrationRequired {
		t.Error("MigrationRequired = true for same-version archive")
	}

	// The reopened store serves the restored rows.
	restored, err := a.store.FindFileRecord(rec.ID)
	if err != nil {
		t.Fatalf("FindFileRecord() error = %v", err)
	}
	if restored == nil || restored.Deleted {
		t.Errorf("restored record = %+v, want active", restored)
	}
}

func TestApp_PushFetchPreview(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	seedFile(t, a, "alice", "photo.jpg.enc", []byte("ciphertext bytes"))

	manifest, err := a.PushBackup(ctx, "backup-001.tar")
	if err != nil {
		t.Fatalf("PushBackup() error = %v", err)
	}
	if manifest.FileCount != 1 {
		t.Errorf("FileCount = %d, want 1", manifest.FileCount)
	}

	archives, err := a.ListArchives(ctx)
	if err != nil {
		t.Fatalf("ListArchives() error = %v", err)
	}
	if len(archives) != 1 || archives[0].Name != "backup-001.tar" {
		t.Fatalf("ListArchives() = %+v, want backup-001.tar", archives)
	}

	local, err := a.FetchArchive(ctx, "backup-001.tar")
	if err != nil {
		t.Fatalf("FetchArchive() error = %v", err)
	}
	defer os.Remove(local)

	result, err := a.PreviewRestore(local)
	if err != nil {
		t.Fatalf("PreviewRestore() error = %v", err)
	}
	if result.EncryptedFileCount != 1 {
		t.Errorf("EncryptedFileCount = %d, want 1", result.EncryptedFileCount)
	}
}

func TestApp_ScanHealthyStorage(t *testing.T) {
	a := newTestApp(t)
	seedFile(t, a, "alice", "fine.txt", []byte("exactly right"))

	report, err := a.ScanIntegrity()
	if err != nil {
		t.Fatalf("ScanIntegrity() error = %v", err)
	}
	if report.FilesChecked != 1 || len(report.Corrupted) != 0 {
		t.Errorf("report = %+v, want 1 healthy file", report)
	}
}

func TestApp_DuplicateFlow(t *testing.T) {
	a := newTestApp(t)
	seedFile(t, a, "alice", "one.txt", []byte("same bytes"))
	seedFile(t, a, "alice", "two.txt", []byte("same bytes"))

	groups, err := a.FindDuplicates("alice")
	if err != nil {
		t.Fatalf("FindDuplicates() error = %v", err)
	}
	if len(groups) != 1 || len(groups[0].FileIDs) != 2 {
		t.Fatalf("groups = %+v, want one group of two", groups)
	}

	trashed, err := a.ResolveDuplicates("alice", "keep-oldest")
	if err != nil {
		t.Fatalf("ResolveDuplicates() error = %v", err)
	}
	if trashed != 1 {
		t.Errorf("trashed = %d, want 1", trashed)
	}

	if _, err := a.FindDuplicates("nobody"); err == nil {
		t.Error("FindDuplicates() for unknown user succeeded")
	}
}
