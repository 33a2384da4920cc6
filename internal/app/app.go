// Package app is the application layer between the CLI and the snapshot and
// integrity services. It constructs all dependencies from config and manages
// the record store lifecycle across a restore.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"pocketcloud/internal/config"
	"pocketcloud/internal/crypto"
	"pocketcloud/internal/destination"
	"pocketcloud/internal/identity"
	"pocketcloud/internal/integrity"
	"pocketcloud/internal/model"
	"pocketcloud/internal/snapshot"
	"pocketcloud/internal/storage"
	"pocketcloud/internal/store"
)

// ConfirmationToken is the exact string an operator must type to confirm a
// restore. Validation and confirmation are two distinct calls; confirmation
// re-validates but never proceeds without this token.
const ConfirmationToken = "RESTORE"

// App wires config into the snapshot, integrity, and destination services
// and exposes the high-level operations the CLI invokes.
// The caller must call Close when done.
type App struct {
	cfg       *config.Config
	store     *store.Store
	storage   *storage.Manager
	encryptor crypto.Encryptor
	dest      destination.Destination
	snapshot  *snapshot.Service
	checker   *integrity.Checker
	deduper   *integrity.Deduper
	op        *Operation
	logger    *slogAdapter
	logFile   *os.File
}

// NewApp creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "BackupCreate").
func NewApp(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	op := NewOperation(operation, time.Now())

	logger, logFile, err := newLogger(cfg.LogDir, op.ID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	mgr, err := storage.NewManager(cfg.StorageRoot)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating storage manager: %w", err)
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening record store: %w", err)
	}
	if err := st.Migrate(); err != nil {
		st.Close()
		logFile.Close()
		return nil, fmt.Errorf("migrating record store: %w", err)
	}

	enc, err := crypto.NewEncryptorFromConfig(cfg.Crypto)
	if err != nil {
		st.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	dest, err := destination.NewFromConfig(ctx, cfg.Destination)
	if err != nil {
		st.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating destination: %w", err)
	}

	clock := snapshot.RealClock{}
	app := &App{
		cfg:       cfg,
		store:     st,
		storage:   mgr,
		encryptor: enc,
		dest:      dest,
		snapshot: snapshot.NewService(st, mgr, cfg.IdentityPath, cfg.StagingDir,
			identity.CurrentFormatVersion, log, clock),
		checker: integrity.NewChecker(st, mgr, log, clock),
		deduper: integrity.NewDeduper(st, mgr, log, clock),
		op:      op,
		logger:  log,
		logFile: logFile,
	}

	if err := app.ensureIdentity(); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// ensureIdentity creates the device identity file on first run so every
// produced archive carries one.
func (a *App) ensureIdentity() error {
	id, err := identity.Load(a.cfg.IdentityPath)
	if err != nil {
		return fmt.Errorf("loading identity: %w", err)
	}
	if id != nil {
		return nil
	}
	id = identity.New(a.cfg.DeviceName)
	if err := id.Save(a.cfg.IdentityPath); err != nil {
		return fmt.Errorf("creating identity: %w", err)
	}
	a.logger.Info("device identity created", "device_id", id.DeviceID)
	return nil
}

// SetupCrypto performs one-time key generation for payload encryption.
func (a *App) SetupCrypto(passphrase string) error {
	if a.encryptor.IsConfigured() {
		return fmt.Errorf("encryption keys already exist")
	}
	return a.encryptor.Setup(passphrase)
}

// ProduceBackup streams a backup archive to w and records the last-backup
// timestamp in the device identity.
func (a *App) ProduceBackup(w io.Writer) (*model.Manifest, error) {
	manifest, err := a.snapshot.ProduceBackup(w)
	if err != nil {
		return nil, err
	}
	if err := a.recordBackupTime(); err != nil {
		a.logger.Warn("could not record backup time", "error", err)
	}
	return manifest, nil
}

// PushBackup produces a backup archive and streams it straight to the
// configured destination under the given name.
func (a *App) PushBackup(ctx context.Context, name string) (*model.Manifest, error) {
	if err := a.dest.ValidateSetup(ctx); err != nil {
		return nil, fmt.Errorf("destination not usable: %w", err)
	}

	pr, pw := io.Pipe()
	type produceResult struct {
		manifest *model.Manifest
		err      error
	}
	done := make(chan produceResult, 1)

	go func() {
		manifest, err := a.snapshot.ProduceBackup(pw)
		pw.CloseWithError(err)
		done <- produceResult{manifest, err}
	}()

	putErr := a.dest.Put(ctx, name, pr)
	// A failed upload aborts the producer through the pipe.
	pr.CloseWithError(putErr)
	result := <-done

	if result.err != nil {
		return nil, result.err
	}
	if putErr != nil {
		return nil, fmt.Errorf("pushing archive %s: %w", name, putErr)
	}

	if err := a.recordBackupTime(); err != nil {
		a.logger.Warn("could not record backup time", "error", err)
	}
	return result.manifest, nil
}

func (a *App) recordBackupTime() error {
	id, err := identity.Load(a.cfg.IdentityPath)
	if err != nil {
		return fmt.Errorf("loading identity: %w", err)
	}
	if id == nil {
		return fmt.Errorf("identity file missing at %s", a.cfg.IdentityPath)
	}
	id.RecordBackup(time.Now())
	return id.Save(a.cfg.IdentityPath)
}

// FetchArchive downloads a named archive from the destination into the
// staging area and returns its local path. The caller removes the file.
func (a *App) FetchArchive(ctx context.Context, name string) (string, error) {
	if err := os.MkdirAll(a.cfg.StagingDir, 0755); err != nil {
		return "", fmt.Errorf("creating staging area: %w", err)
	}
	f, err := os.CreateTemp(a.cfg.StagingDir, "fetch-*.tar")
	if err != nil {
		return "", fmt.Errorf("creating download file: %w", err)
	}

	if err := a.dest.Get(ctx, name, f); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("fetching archive %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("finishing download: %w", err)
	}
	return f.Name(), nil
}

// ListArchives returns the archives stored at the configured destination.
func (a *App) ListArchives(ctx context.Context) ([]destination.ArchiveInfo, error) {
	return a.dest.List(ctx)
}

// PreviewRestore validates an archive without touching live state and
// returns its manifest summary.
func (a *App) PreviewRestore(archivePath string) (*snapshot.ValidationResult, error) {
	return a.snapshot.ValidateArchive(archivePath)
}

// ConfirmRestore re-validates the archive and performs the restore. The
// confirmation argument must equal ConfirmationToken; anything else aborts
// before validation even starts. After a successful restore the record
// store handle is reopened over the restored database file.
func (a *App) ConfirmRestore(archivePath, confirmation string) (*model.RestoreOutcome, error) {
	if confirmation != ConfirmationToken {
		return nil, fmt.Errorf("restore not confirmed: type %q to proceed", ConfirmationToken)
	}

	outcome, err := a.snapshot.Restore(archivePath)
	if err != nil {
		return nil, err
	}

	if err := a.reopenStore(outcome.MigrationRequired); err != nil {
		return nil, fmt.Errorf("reopening restored record store: %w", err)
	}
	return outcome, nil
}

// reopenStore swaps the live store handle for one opened over the restored
// database file and rewires every service that holds the old handle.
// Archives from an older format major run migrations on open.
func (a *App) reopenStore(migrate bool) error {
	path := a.store.Path()
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("closing pre-restore handle: %w", err)
	}

	st, err := store.Open(path)
	if err != nil {
		return fmt.Errorf("opening restored store: %w", err)
	}
	if migrate {
		if err := st.Migrate(); err != nil {
			st.Close()
			return fmt.Errorf("migrating restored store: %w", err)
		}
	} else if err := st.CheckMigrations(); err != nil {
		st.Close()
		return fmt.Errorf("restored store schema out of date: %w", err)
	}

	clock := snapshot.RealClock{}
	a.store = st
	a.snapshot = snapshot.NewService(st, a.storage, a.cfg.IdentityPath,
		a.cfg.StagingDir, identity.CurrentFormatVersion, a.logger, clock)
	a.checker = integrity.NewChecker(st, a.storage, a.logger, clock)
	a.deduper = integrity.NewDeduper(st, a.storage, a.logger, clock)
	return nil
}

// ScanIntegrity runs a background corruption scan over all active files.
func (a *App) ScanIntegrity() (*integrity.ScanReport, error) {
	return a.checker.Scan()
}

// CorruptionRecords returns all recorded corruption evidence.
func (a *App) CorruptionRecords() ([]*model.CorruptionRecord, error) {
	return a.checker.Records()
}

// PurgeCorrupted removes a corrupted file's blob, record, and evidence.
func (a *App) PurgeCorrupted(fileID string) error {
	return a.checker.Purge(fileID)
}

// FindDuplicates groups a named user's active files by content hash.
func (a *App) FindDuplicates(userName string) ([]*model.DuplicateGroup, error) {
	user, err := a.findUserByName(userName)
	if err != nil {
		return nil, err
	}
	return a.deduper.FindDuplicates(user.ID)
}

// ResolveDuplicates trashes redundant copies for a named user, keeping one
// file per group according to strategy. Returns the number trashed.
func (a *App) ResolveDuplicates(userName string, strategy integrity.Strategy) (int, error) {
	user, err := a.findUserByName(userName)
	if err != nil {
		return 0, err
	}
	return a.deduper.Resolve(user.ID, strategy)
}

func (a *App) findUserByName(name string) (*model.User, error) {
	users, err := a.store.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	for _, user := range users {
		if user.Name == name {
			return user, nil
		}
	}
	return nil, fmt.Errorf("no user named %q", name)
}

// Fail marks the running operation as failed for the close-time log line.
func (a *App) Fail() {
	a.op.Fail()
}

// Close logs the operation outcome and releases all resources.
func (a *App) Close() error {
	a.logger.Info("operation finished",
		"operation", a.op.Name,
		"status", a.op.Status,
		"duration", a.op.Duration(time.Now()).Round(time.Millisecond))

	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing record store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
