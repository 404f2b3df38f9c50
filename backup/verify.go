package backup

import (
	"fmt"

	"github.com/INLOpen/ryudb/core"
	"github.com/INLOpen/ryudb/sys"
)

// verifyBackup checks that the finished backup is self-consistent before
// the manager declares COMPLETED. Any failure here fails the backup.
func (m *manager) verifyBackup() error {
	// 1. Manifest exists and deserializes.
	manifest, err := readManifestFile(m.destDir)
	if err != nil {
		return &core.VerificationError{Reason: fmt.Sprintf("manifest unreadable: %v", err)}
	}

	// 2. Data file exists with the exact page-aligned length.
	pageSize := m.provider.GetDataFile().PageSize()
	wantSize := int64(manifest.NumPages * pageSize)
	info, err := m.helper.Stat(m.dataPath)
	if err != nil {
		return &core.VerificationError{Reason: fmt.Sprintf("backup data file missing: %v", err)}
	}
	if info.Size() != wantSize {
		return &core.VerificationError{
			Reason: (&core.SizeMismatchError{Path: m.dataPath, Want: wantSize, Got: info.Size()}).Error(),
		}
	}

	// 3. The manifest's page count matches the pages actually written.
	if manifest.NumPages != m.pagesWritten {
		return &core.VerificationError{
			Reason: fmt.Sprintf("manifest records %d pages but %d were written", manifest.NumPages, m.pagesWritten),
		}
	}

	// 4. A captured WAL must be present and readable.
	if m.walCaptured {
		file, err := sys.Open(m.walDstPath)
		if err != nil {
			return &core.VerificationError{Reason: fmt.Sprintf("captured WAL unreadable: %v", err)}
		}
		file.Close()
	}

	return nil
}
