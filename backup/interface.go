package backup

import (
	"context"
	"time"

	"github.com/INLOpen/ryudb/core"
)

// ManagerInterface is the backup coordinator's public API. At most one
// non-idle backup exists per manager at a time.
type ManagerInterface interface {
	// StartBackup begins a zero-downtime backup into destDir and returns
	// without blocking on long I/O. It fails with
	// core.ErrBackupAlreadyActive while a backup is IN_PROGRESS or
	// FINALIZING and with core.ErrInvalidPath or an IoError when the
	// destination is unusable. A COMPLETED or FAILED backup does not block a
	// new start.
	StartBackup(ctx context.Context, destDir string) error

	// WaitForCompletion blocks until the current backup reaches COMPLETED
	// or FAILED. It returns immediately when no backup is running and is
	// safe to call from multiple goroutines.
	WaitForCompletion()

	// State returns the current backup state.
	State() core.BackupState

	// Progress returns fractional completion in [0,1], monotonically
	// non-decreasing during a single backup.
	Progress() float64

	// FailureReason returns the error a FAILED backup terminated with, or
	// nil. Valid after the backup is terminal.
	FailureReason() error

	// Cancel requests cancellation of the running backup. Idempotent; a
	// no-op after termination.
	Cancel()

	// NotifyPageModification is the host write-path hook; see
	// core.ModificationNotifier. It never fails the caller and performs no
	// I/O to the backup destination.
	NotifyPageModification(pageIdx core.PageIdx)

	// Close cancels any running backup, waits for the worker, and removes
	// the notifier from the host.
	Close()
}

// Info summarizes one backup directory for listings.
type Info struct {
	ID         string // directory basename
	CreatedAt  time.Time
	SnapshotTS uint64
	NumPages   uint64
	SizeBytes  int64 // total on-disk size of the backup directory
}
