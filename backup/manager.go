package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/INLOpen/ryudb/config"
	"github.com/INLOpen/ryudb/core"
	"github.com/INLOpen/ryudb/hooks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
)

// Progress weights of the worker stages. The copy stage dominates wall
// time; manifest and verification account for the tail.
const (
	progressCopyDone     = 0.70
	progressWALDone      = 0.90
	progressManifestDone = 0.99
)

// manager implements ManagerInterface.
type manager struct {
	provider EngineProvider
	host     NotifierHost // may be nil when the host installs the hook itself
	cfg      config.BackupConfig
	helper   fsHelper
	logger   *slog.Logger

	state           atomic.Int32  // core.BackupState
	progressBits    atomic.Uint64 // math.Float64bits
	cancelRequested atomic.Bool

	// mu guards the per-backup lifecycle fields below. The worker reads
	// them freely once started; NotifyPageModification takes mu for the
	// shadow handoff.
	mu           sync.Mutex
	destDir      string
	dataPath     string
	walDstPath   string
	walCaptured  bool
	snapshotTS   uint64
	manifest     core.BackupManifest
	shadow       *ShadowStore
	failure      error
	done         chan struct{}
	pagesWritten uint64

	// captured is the set C of pages already written to the backup data
	// file. Guarded separately so the copier's per-page insertion never
	// contends with the lifecycle lock.
	capMu    sync.RWMutex
	captured map[core.PageIdx]struct{}

	bufPool sync.Pool
}

var _ ManagerInterface = (*manager)(nil)
var _ core.ModificationNotifier = (*manager)(nil)

// Options configures NewManager.
type Options struct {
	// Config tunes the backup core; nil selects config.DefaultConfig().
	Config *config.BackupConfig

	helper fsHelper // test seam
}

// NewManager creates a backup coordinator for the database behind provider.
// When host is non-nil the manager installs itself as the host's
// modification notifier; Close removes it again.
func NewManager(provider EngineProvider, host NotifierHost, opts Options) ManagerInterface {
	defaults := config.DefaultConfig().Backup
	cfg := defaults
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if cfg.YieldEveryPages <= 0 {
		cfg.YieldEveryPages = defaults.YieldEveryPages
	}
	if cfg.ProgressEveryPages <= 0 {
		cfg.ProgressEveryPages = defaults.ProgressEveryPages
	}
	helper := opts.helper
	if helper == nil {
		helper = newOSHelper()
	}
	logger := provider.GetLogger()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	m := &manager{
		provider: provider,
		host:     host,
		cfg:      cfg,
		helper:   helper,
		logger:   logger.With("component", "BackupManager"),
	}
	m.state.Store(int32(core.BackupIdle))
	pageSize := provider.GetDataFile().PageSize()
	m.bufPool = sync.Pool{
		New: func() any { return make([]byte, pageSize) },
	}
	if host != nil {
		host.InstallNotifier(m)
	}
	return m
}

// StartBackup begins a backup into destDir and returns without blocking on
// long I/O. See ManagerInterface.
func (m *manager) StartBackup(ctx context.Context, destDir string) error {
	ctx, span := m.provider.GetTracer().Start(ctx, "BackupManager.StartBackup")
	defer span.End()
	span.SetAttributes(attribute.String("backup.dest_dir", destDir))

	if destDir == "" {
		return core.ErrInvalidPath
	}

	m.mu.Lock()

	// A terminal backup no longer occupies the manager; only an active one
	// blocks a new start.
	switch core.BackupState(m.state.Load()) {
	case core.BackupInProgress, core.BackupFinalizing:
		m.mu.Unlock()
		return core.ErrBackupAlreadyActive
	}

	prePayload := hooks.PreStartBackupPayload{DestDir: destDir}
	if hookErr := m.provider.GetHookManager().Trigger(ctx, hooks.NewPreStartBackupEvent(prePayload)); hookErr != nil {
		m.mu.Unlock()
		m.logger.Info("StartBackup cancelled by PreStartBackup hook", "error", hookErr)
		return fmt.Errorf("operation cancelled by pre-hook: %w", hookErr)
	}

	if err := m.helper.MkdirAll(destDir, 0755); err != nil {
		m.mu.Unlock()
		return core.NewIoError("mkdir", destDir, err)
	}

	m.snapshotTS = m.provider.GetTxnManager().CurrentSnapshotTimestamp()
	m.destDir = destDir
	m.dataPath = ""
	m.walDstPath = ""
	m.walCaptured = false
	m.pagesWritten = 0
	m.failure = nil
	m.manifest = core.BackupManifest{
		SnapshotTS:      m.snapshotTS,
		DatabaseID:      m.provider.GetDatabaseID(),
		DatabasePath:    m.provider.GetDatabasePath(),
		BackupTimestamp: uint64(m.provider.GetClock().Now().UnixNano()),
		EngineVersion:   m.provider.GetEngineVersion(),
	}

	m.shadow = NewShadowStore(
		filepath.Clean(destDir)+".shadow",
		m.provider.GetDataFile().PageSize(),
		ShadowOptions{MemoryFraction: m.cfg.ShadowMemoryFraction, Logger: m.logger},
	)

	m.capMu.Lock()
	m.captured = make(map[core.PageIdx]struct{})
	m.capMu.Unlock()

	m.cancelRequested.Store(false)
	m.storeProgress(0)
	m.done = make(chan struct{})
	m.state.Store(int32(core.BackupInProgress))
	backupsStartedCounter.Inc()

	snapshotTS := m.snapshotTS
	m.logger.Info("Starting zero-downtime backup.", "dest_dir", destDir, "snapshot_ts", snapshotTS)
	go m.run()
	m.mu.Unlock()

	postPayload := hooks.PostStartBackupPayload{DestDir: destDir, SnapshotTS: snapshotTS}
	m.provider.GetHookManager().Trigger(ctx, hooks.NewPostStartBackupEvent(postPayload))
	return nil
}

// run is the background worker. It drives the stages, finalizes state, and
// always drops the shadow store on exit. It never propagates a panic value
// as an unrecorded failure.
func (m *manager) run() {
	ctx, span := m.provider.GetTracer().Start(context.Background(), "BackupManager.worker")
	defer span.End()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("backup worker panicked: %v", r)
			}
		}()
		return m.runStages(ctx)
	}()

	m.mu.Lock()
	if err != nil {
		m.failure = err
		m.discardUnusableOutput(err)
		m.state.Store(int32(core.BackupFailed))
		backupsFailedCounter.Inc()
		m.logger.Warn("Backup failed.", "dest_dir", m.destDir, "error", err)
	} else {
		m.storeProgress(1.0)
		m.state.Store(int32(core.BackupCompleted))
		backupsCompletedCounter.Inc()
		m.logger.Info("Backup completed.", "dest_dir", m.destDir, "pages", m.pagesWritten, "snapshot_ts", m.snapshotTS)
	}
	if m.shadow != nil {
		m.shadow.Cleanup()
		m.shadow = nil
	}
	backupShadowPagesGauge.Set(0)
	destDir := m.destDir
	done := m.done
	m.mu.Unlock()

	m.provider.GetHookManager().Trigger(ctx, hooks.NewPostBackupEvent(hooks.PostBackupPayload{DestDir: destDir, Err: err}))
	close(done)
}

// runStages executes the backup pipeline with cancellation checkpoints
// between stages.
func (m *manager) runStages(ctx context.Context) error {
	if err := m.copyDataFile(ctx); err != nil {
		return err
	}
	if m.cancelRequested.Load() {
		return core.ErrBackupCancelled
	}
	if err := m.captureWAL(ctx); err != nil {
		return err
	}
	if m.cancelRequested.Load() {
		return core.ErrBackupCancelled
	}
	if err := m.copyAuxiliaryFiles(ctx); err != nil {
		return err
	}
	if m.cancelRequested.Load() {
		return core.ErrBackupCancelled
	}

	m.state.Store(int32(core.BackupFinalizing))

	if err := writeManifestFile(m.destDir, &m.manifest); err != nil {
		return err
	}
	m.storeProgress(progressManifestDone)

	if err := m.verifyBackup(); err != nil {
		return err
	}
	return nil
}

// discardUnusableOutput removes output that must not survive a failed
// backup: on cancellation the partially written data and WAL files, and in
// every failure case the manifest, whose presence would advertise the
// directory as consumable. Caller holds m.mu.
func (m *manager) discardUnusableOutput(cause error) {
	if errors.Is(cause, core.ErrBackupCancelled) {
		if m.dataPath != "" {
			if err := m.helper.Remove(m.dataPath); err != nil && !os.IsNotExist(err) {
				m.logger.Warn("Failed to remove partial backup data file.", "path", m.dataPath, "error", err)
			}
		}
		if m.walDstPath != "" {
			if err := m.helper.Remove(m.walDstPath); err != nil && !os.IsNotExist(err) {
				m.logger.Warn("Failed to remove partial backup WAL file.", "path", m.walDstPath, "error", err)
			}
		}
	}
	manifestPath := filepath.Join(m.destDir, core.ManifestFileName)
	if err := m.helper.Remove(manifestPath); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("Failed to remove manifest of failed backup.", "path", manifestPath, "error", err)
	}
}

// WaitForCompletion blocks until the current backup is terminal. See
// ManagerInterface.
func (m *manager) WaitForCompletion() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return
	}
	<-done
}

// State returns the current backup state.
func (m *manager) State() core.BackupState {
	return core.BackupState(m.state.Load())
}

// Progress returns fractional completion in [0,1].
func (m *manager) Progress() float64 {
	return math.Float64frombits(m.progressBits.Load())
}

// FailureReason returns the error a FAILED backup terminated with, or nil.
func (m *manager) FailureReason() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure
}

// Cancel requests cancellation. The worker observes the flag at stage
// boundaries and periodically during the copy stage.
func (m *manager) Cancel() {
	m.cancelRequested.Store(true)
}

// NotifyPageModification preserves the page's current bytes in the shadow
// store if a backup is active and the copier has not captured the page
// yet. It swallows its own errors: the host write path must never fail
// here, and a lost preservation surfaces later as a verification failure.
func (m *manager) NotifyPageModification(pageIdx core.PageIdx) {
	if core.BackupState(m.state.Load()) != core.BackupInProgress {
		return
	}
	if m.isCaptured(pageIdx) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	shadow := m.shadow
	if shadow == nil || core.BackupState(m.state.Load()) != core.BackupInProgress {
		return
	}
	// Re-check under the lock: the copier may have captured the page since
	// the fast-path test.
	if m.isCaptured(pageIdx) {
		return
	}
	if shadow.Contains(pageIdx) {
		return
	}

	buf := m.bufPool.Get().([]byte)
	defer m.bufPool.Put(buf)

	if err := m.provider.GetDataFile().ReadPageAt(pageIdx, buf); err != nil {
		m.logger.Warn("Could not read page for shadow preservation.", "page", pageIdx, "error", err)
		return
	}
	if err := shadow.Preserve(pageIdx, buf); err != nil {
		m.logger.Warn("Could not preserve page in shadow store.", "page", pageIdx, "error", err)
		return
	}
	backupShadowPagesGauge.Set(float64(shadow.Count()))
}

// Close cancels any running backup, waits for the worker, and removes the
// notifier from the host.
func (m *manager) Close() {
	m.Cancel()
	m.WaitForCompletion()
	if m.host != nil {
		m.host.RemoveNotifier()
	}
}

func (m *manager) isCaptured(idx core.PageIdx) bool {
	m.capMu.RLock()
	defer m.capMu.RUnlock()
	_, ok := m.captured[idx]
	return ok
}

func (m *manager) markCaptured(idx core.PageIdx) {
	m.capMu.Lock()
	m.captured[idx] = struct{}{}
	m.capMu.Unlock()
}

// storeProgress publishes progress, never letting it move backwards within
// a single backup.
func (m *manager) storeProgress(p float64) {
	for {
		old := m.progressBits.Load()
		if p != 0 && math.Float64frombits(old) >= p {
			return
		}
		if m.progressBits.CompareAndSwap(old, math.Float64bits(p)) {
			return
		}
	}
}

var (
	backupsStartedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ryudb_backup_started_total",
		Help: "Number of backups started.",
	})
	backupsCompletedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ryudb_backup_completed_total",
		Help: "Number of backups that reached COMPLETED.",
	})
	backupsFailedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ryudb_backup_failed_total",
		Help: "Number of backups that reached FAILED, including cancellations.",
	})
	backupPagesCopiedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ryudb_backup_pages_copied_total",
		Help: "Number of pages written to backup data files.",
	})
	backupShadowPagesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ryudb_backup_shadow_pages",
		Help: "Pages currently preserved in the shadow store of the active backup.",
	})
)
