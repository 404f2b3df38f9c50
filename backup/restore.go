package backup

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/INLOpen/ryudb/core"
	"github.com/INLOpen/ryudb/hooks"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

// RestoreOptions configures RestoreFromBackup and ListBackups. The zero
// value is usable: logging is discarded and tracing is a no-op.
type RestoreOptions struct {
	Logger      *slog.Logger
	Tracer      trace.Tracer
	HookManager hooks.HookManager

	helper fsHelper // test seam
}

func (o *RestoreOptions) fillDefaults() {
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	o.Logger = o.Logger.With("component", "RestoreFromBackup")
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if o.HookManager == nil {
		o.HookManager = hooks.NewHookManager(o.Logger)
	}
	if o.helper == nil {
		o.helper = newOSHelper()
	}
}

// RestoreFromBackup reconstructs a database directory from a completed
// backup. It requires no active database. targetDir must not exist or must
// be empty; the data file lands there under the original database basename,
// the WAL beside it when the backup captured one.
func RestoreFromBackup(backupDir, targetDir string, opts RestoreOptions) error {
	opts.fillDefaults()

	ctx, span := opts.Tracer.Start(context.Background(), "RestoreFromBackup")
	defer span.End()
	span.SetAttributes(
		attribute.String("restore.backup_dir", backupDir),
		attribute.String("restore.target_dir", targetDir),
	)

	prePayload := hooks.PreRestorePayload{BackupDir: backupDir, TargetDir: targetDir}
	if hookErr := opts.HookManager.Trigger(ctx, hooks.NewPreRestoreEvent(prePayload)); hookErr != nil {
		return fmt.Errorf("operation cancelled by pre-hook: %w", hookErr)
	}

	opts.Logger.Info("Starting restore from backup.", "backup_dir", backupDir, "target_dir", targetDir)

	// 1. The manifest gates everything: its absence means the directory is
	// not a consumable backup.
	manifestPath := filepath.Join(backupDir, core.ManifestFileName)
	if _, err := opts.helper.Stat(manifestPath); os.IsNotExist(err) {
		return fmt.Errorf("no manifest at %s: %w", manifestPath, core.ErrBackupNotFound)
	} else if err != nil {
		return core.NewIoError("stat", manifestPath, err)
	}
	manifest, err := readManifestFile(backupDir)
	if err != nil {
		return err
	}

	// 2. The target must be fresh.
	if info, err := opts.helper.Stat(targetDir); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("target %s is a file: %w", targetDir, core.ErrTargetExists)
		}
		entries, readErr := opts.helper.ReadDir(targetDir)
		if readErr != nil {
			return core.NewIoError("readdir", targetDir, readErr)
		}
		if len(entries) > 0 {
			return fmt.Errorf("target %s: %w", targetDir, core.ErrTargetExists)
		}
	} else if !os.IsNotExist(err) {
		return core.NewIoError("stat", targetDir, err)
	}
	if err := opts.helper.MkdirAll(targetDir, 0755); err != nil {
		return core.NewIoError("mkdir", targetDir, err)
	}

	// 3+4. Copy the data file and, when present, the WAL. The files are
	// independent, so they copy concurrently.
	basename := filepath.Base(manifest.DatabasePath)
	srcData := filepath.Join(backupDir, basename)
	dstData := filepath.Join(targetDir, basename)
	srcWAL := filepath.Join(backupDir, basename+core.WALFileSuffix)
	dstWAL := filepath.Join(targetDir, basename+core.WALFileSuffix)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := opts.helper.CopyFile(srcData, dstData); err != nil {
			return core.NewIoError("copy", srcData, err)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := opts.helper.Stat(srcWAL); os.IsNotExist(err) {
			return nil
		} else if err != nil {
			return core.NewIoError("stat", srcWAL, err)
		}
		if err := opts.helper.CopyFile(srcWAL, dstWAL); err != nil {
			return core.NewIoError("copy", srcWAL, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	// 5. The restored data file must have the manifest's exact size.
	info, err := opts.helper.Stat(dstData)
	if err != nil {
		return core.NewIoError("stat", dstData, err)
	}
	if info.Size() != int64(manifest.BackupSizeBytes) {
		return &core.SizeMismatchError{Path: dstData, Want: int64(manifest.BackupSizeBytes), Got: info.Size()}
	}

	opts.Logger.Info("Restore complete.", "target_dir", targetDir, "pages", manifest.NumPages)
	opts.HookManager.Trigger(ctx, hooks.NewPostRestoreEvent(hooks.PostRestorePayload{BackupDir: backupDir, TargetDir: targetDir}))
	return nil
}

// ListBackups scans baseDir for directories holding a readable manifest and
// returns their summaries, oldest first. Directories without a valid
// manifest are skipped with a warning.
func ListBackups(baseDir string, opts RestoreOptions) ([]Info, error) {
	opts.fillDefaults()

	entries, err := opts.helper.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Info{}, nil
		}
		return nil, core.NewIoError("readdir", baseDir, err)
	}

	var infos []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(baseDir, entry.Name())
		manifest, err := readManifestFile(dir)
		if err != nil {
			opts.Logger.Warn("Skipping directory in backup listing: not a valid backup.", "dir", dir, "error", err)
			continue
		}

		var totalSize int64
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err == nil && !d.IsDir() {
				if info, statErr := d.Info(); statErr == nil {
					totalSize += info.Size()
				}
			}
			return nil
		})

		infos = append(infos, Info{
			ID:         entry.Name(),
			CreatedAt:  time.Unix(0, int64(manifest.BackupTimestamp)),
			SnapshotTS: manifest.SnapshotTS,
			NumPages:   manifest.NumPages,
			SizeBytes:  totalSize,
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos, nil
}
