package backup

import (
	"context"
	"os"
	"path/filepath"

	"github.com/INLOpen/ryudb/core"
	"golang.org/x/sync/errgroup"
)

// copyAuxiliaryFiles copies the host's auxiliary metadata files (lock
// files and similar side files) into the backup directory. Files are
// independent of each other, so they are copied concurrently. A file that
// does not exist in the source is skipped.
func (m *manager) copyAuxiliaryFiles(ctx context.Context) error {
	files := m.provider.GetAuxiliaryFiles()
	if len(files) == 0 {
		return nil
	}

	g, _ := errgroup.WithContext(ctx)
	for _, src := range files {
		src := src
		g.Go(func() error {
			if _, err := m.helper.Stat(src); os.IsNotExist(err) {
				return nil
			} else if err != nil {
				return core.NewIoError("stat", src, err)
			}
			dst := filepath.Join(m.destDir, filepath.Base(src))
			if err := m.helper.CopyFile(src, dst); err != nil {
				return core.NewIoError("copy", src, err)
			}
			m.logger.Debug("Copied auxiliary file.", "source", src, "destination", dst)
			return nil
		})
	}
	return g.Wait()
}
