package snapshot

import (
	"os"
	"path/filepath"

	"pocketcloud/internal/archive"
	"pocketcloud/internal/model"
)

// State names the restore executor's position in its state machine.
type State string

const (
	StateIdle            State = "Idle"
	StateValidating      State = "Validating"
	StateExtracted       State = "Extracted"
	StateSnapshotCurrent State = "SnapshotCurrent"
	StateSwapping        State = "Swapping"
	StateCompleted       State = "Completed"
	StateRollingBack     State = "RollingBack"
	StateRolledBack      State = "RolledBack"
	StateRollbackFailed  State = "RollbackFailed"
)

// rollbackSnapshot tracks which pieces of live state were fully copied into
// the rollback staging directory. Only fully captured pieces are replayed on
// rollback; a half-captured piece means the corresponding live state was
// never touched.
type rollbackSnapshot struct {
	dir              string
	dbCaptured       bool
	treeCaptured     bool
	identityCaptured bool
	identityExisted  bool
}

// Restore performs the atomic swap of live state for the validated contents
// of the archive at archivePath.
//
// The rollback snapshot of current live state is taken eagerly, before any
// destructive step: tree replacement cannot be a single filesystem-atomic
// rename across arbitrary backends, and the eager snapshot is the only
// recovery path when a later step fails. The record store is checkpointed
// before its file is overwritten in place; a caller holding an open handle
// must reopen it once Restore returns.
//
// Outcomes are distinguished by error type: *ValidationError (rejected,
// nothing changed), *RolledBackError (failed mid-swap, previous state
// preserved), *RollbackFailure (failed and rollback failed; manual recovery
// required).
func (s *Service) Restore(archivePath string) (*model.RestoreOutcome, error) {
	if err := s.guard.Acquire("restore"); err != nil {
		return nil, err
	}
	defer s.guard.Release()

	state := StateIdle

	s.logger.Info("restoring from archive", "archive", archivePath)

	// Idle → Validating. A validation failure terminates with no state
	// mutation; nothing was touched, so no rollback is needed.
	s.transition(&state, StateValidating)
	extracted, err := s.extractArchive(archivePath, "restore-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(extracted)

	result, err := s.validateExtracted(extracted)
	if err != nil {
		return nil, err
	}

	// Validating → Extracted: validated contents are staged and ready.
	s.transition(&state, StateExtracted)

	// Extracted → SnapshotCurrent: capture live state before touching it.
	s.transition(&state, StateSnapshotCurrent)
	rb := &rollbackSnapshot{}
	if err := s.captureRollback(rb); err != nil {
		return nil, s.rollback(&state, rb, err)
	}
	defer func() {
		// The rollback dir is preserved only for manual recovery.
		if state != StateRollbackFailed && rb.dir != "" {
			os.RemoveAll(rb.dir)
		}
	}()

	// SnapshotCurrent → Swapping: replace live state with validated state.
	s.transition(&state, StateSwapping)
	if err := s.swap(extracted); err != nil {
		return nil, s.rollback(&state, rb, err)
	}

	// Swapping → Completed.
	s.transition(&state, StateCompleted)
	s.logger.Info("restore completed",
		"files_restored", result.EncryptedFileCount,
		"migration_required", result.MigrationRequired)

	return &model.RestoreOutcome{
		FilesRestored:     result.EncryptedFileCount,
		MigrationRequired: result.MigrationRequired,
		Manifest:          result.Manifest,
	}, nil
}

// captureRollback copies the live record store, file tree, and identity file
// into a fresh rollback staging directory, marking each piece as captured
// only once its copy fully succeeded.
func (s *Service) captureRollback(rb *rollbackSnapshot) error {
	dir, err := s.newStagingDir("rollback-")
	if err != nil {
		return err
	}
	rb.dir = dir

	if err := s.store.Checkpoint(); err != nil {
		return &IOError{Op: "checkpointing record store for rollback", Err: err}
	}
	if err := s.storage.CopyFile(s.store.Path(), filepath.Join(dir, archive.DatabaseName)); err != nil {
		return &IOError{Op: "snapshotting record store", Err: err}
	}
	rb.dbCaptured = true

	if err := s.storage.CopyTree(s.storage.Root(), filepath.Join(dir, archive.FilesDirName)); err != nil {
		return &IOError{Op: "snapshotting file tree", Err: err}
	}
	rb.treeCaptured = true

	if _, err := os.Stat(s.identityPath); err == nil {
		rb.identityExisted = true
		if err := s.storage.CopyFile(s.identityPath, filepath.Join(dir, archive.IdentityName)); err != nil {
			return &IOError{Op: "snapshotting identity file", Err: err}
		}
	}
	rb.identityCaptured = true

	return nil
}

// swap overwrites live state with the validated extracted contents:
// record store file first, then the whole file tree, then the identity file
// if the archive included one.
func (s *Service) swap(extracted string) error {
	if err := s.storage.CopyFile(filepath.Join(extracted, archive.DatabaseName), s.store.Path()); err != nil {
		return &IOError{Op: "replacing record store", Err: err}
	}

	if err := s.storage.ReplaceTree(filepath.Join(extracted, archive.FilesDirName), s.storage.Root()); err != nil {
		return &IOError{Op: "replacing file tree", Err: err}
	}

	archivedIdentity := filepath.Join(extracted, archive.IdentityName)
	if _, err := os.Stat(archivedIdentity); err == nil {
		if err := s.storage.CopyFile(archivedIdentity, s.identityPath); err != nil {
			return &IOError{Op: "replacing identity file", Err: err}
		}
	}

	return nil
}

// rollback replays the captured live-state copies back over the (possibly
// half-replaced) live locations. The original cause is surfaced either way:
// wrapped in *RolledBackError when the replay succeeds, or in
// *RollbackFailure when it does not.
func (s *Service) rollback(state *State, rb *rollbackSnapshot, cause error) error {
	s.transition(state, StateRollingBack)
	s.logger.Warn("restore failed, rolling back", "cause", cause)

	if err := s.replayRollback(rb); err != nil {
		s.transition(state, StateRollbackFailed)
		failure := &RollbackFailure{Cause: cause, RollbackErr: err, RollbackDir: rb.dir}
		s.logger.Error("rollback failed; live state requires manual recovery",
			"cause", cause, "rollback_error", err, "rollback_dir", rb.dir)
		return failure
	}

	s.transition(state, StateRolledBack)
	s.logger.Info("rollback completed, previous state preserved")
	return &RolledBackError{Cause: cause}
}

// replayRollback restores each fully captured piece of the rollback
// snapshot. Pieces that were never captured correspond to live state that
// was never modified.
func (s *Service) replayRollback(rb *rollbackSnapshot) error {
	if rb.dbCaptured {
		if err := s.storage.CopyFile(filepath.Join(rb.dir, archive.DatabaseName), s.store.Path()); err != nil {
			return &IOError{Op: "restoring record store from rollback", Err: err}
		}
	}

	if rb.treeCaptured {
		if err := s.storage.ReplaceTree(filepath.Join(rb.dir, archive.FilesDirName), s.storage.Root()); err != nil {
			return &IOError{Op: "restoring file tree from rollback", Err: err}
		}
	}

	if rb.identityCaptured {
		if rb.identityExisted {
			if err := s.storage.CopyFile(filepath.Join(rb.dir, archive.IdentityName), s.identityPath); err != nil {
				return &IOError{Op: "restoring identity file from rollback", Err: err}
			}
		} else if err := os.Remove(s.identityPath); err != nil && !os.IsNotExist(err) {
			return &IOError{Op: "removing identity file written mid-swap", Err: err}
		}
	}

	return nil
}

// transition advances the state machine, logging the edge.
func (s *Service) transition(state *State, next State) {
	s.logger.Debug("restore state", "from", string(*state), "to", string(next))
	*state = next
}
