package snapshot

import (
	"errors"
	"fmt"
)

// ErrOperationInProgress is returned when a backup or restore is attempted
// while another backup or restore is already running. Only one such
// operation may be in flight process-wide.
var ErrOperationInProgress = errors.New("a backup or restore operation is already in progress")

// ValidationError reports that a candidate archive was rejected before any
// live state was touched: missing or unparseable manifest, missing required
// members, unsupported format version, or checksum mismatch. Always safe to
// retry with a different archive.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("archive validation failed: %s: %v", e.Reason, e.Err)
	}
	return "archive validation failed: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IOError reports a disk or stream failure during a copy, checksum, or
// archive operation. During backup it surfaces to the caller after staging
// cleanup; during restore it triggers the rollback sequence.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *IOError) Unwrap() error { return e.Err }

// RolledBackError reports a restore that failed mid-swap but whose rollback
// succeeded: live state is the pre-restore state. The original failure is
// the wrapped cause.
type RolledBackError struct {
	Cause error
}

func (e *RolledBackError) Error() string {
	return fmt.Sprintf("restore failed and was rolled back; previous state preserved: %v", e.Cause)
}

func (e *RolledBackError) Unwrap() error { return e.Cause }

// RollbackFailure is the most severe outcome: a restore failed AND the
// rollback snapshot could not be replayed over live state. Live storage is
// of unknown integrity and requires manual operator intervention using the
// preserved rollback directory.
type RollbackFailure struct {
	Cause       error  // the failure that triggered the rollback
	RollbackErr error  // the failure of the rollback itself
	RollbackDir string // preserved on disk for manual recovery
}

func (e *RollbackFailure) Error() string {
	return fmt.Sprintf("restore failed (%v) and rollback also failed (%v); live state requires manual recovery from %s",
		e.Cause, e.RollbackErr, e.RollbackDir)
}

func (e *RollbackFailure) Unwrap() error { return e.Cause }
