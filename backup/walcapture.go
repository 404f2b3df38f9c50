package backup

import (
	"context"
	"os"
	"path/filepath"

	"github.com/INLOpen/ryudb/core"
)

// captureWAL copies the host's WAL file into the backup directory under the
// database basename plus the WAL suffix. The whole byte range is copied;
// restore replays only records up to the snapshot timestamp, so records
// past it are harmless. A missing or empty WAL is a success case.
func (m *manager) captureWAL(ctx context.Context) error {
	_, span := m.provider.GetTracer().Start(ctx, "BackupManager.captureWAL")
	defer span.End()

	walPath := m.provider.GetWALPath()
	if walPath == "" {
		m.storeProgress(progressWALDone)
		return nil
	}

	info, err := m.helper.Stat(walPath)
	if os.IsNotExist(err) {
		m.storeProgress(progressWALDone)
		return nil
	}
	if err != nil {
		return core.NewIoError("stat", walPath, err)
	}
	if info.Size() == 0 {
		m.storeProgress(progressWALDone)
		return nil
	}

	dst := filepath.Join(m.destDir, filepath.Base(m.provider.GetDatabasePath())+core.WALFileSuffix)
	if err := m.helper.CopyFile(walPath, dst); err != nil {
		return core.NewIoError("copy", walPath, err)
	}
	m.walDstPath = dst
	m.walCaptured = true
	m.logger.Debug("Captured WAL file.", "source", walPath, "destination", dst, "bytes", info.Size())

	m.storeProgress(progressWALDone)
	return nil
}
