package backup

import (
	"fmt"
	"io"
	"os"

	"github.com/INLOpen/ryudb/sys"
)

// fsHelper abstracts the filesystem operations the manager and restore use,
// so tests can substitute failing or observing implementations.
type fsHelper interface {
	Stat(name string) (os.FileInfo, error)
	MkdirAll(path string, perm os.FileMode) error
	RemoveAll(path string) error
	Remove(name string) error
	ReadDir(name string) ([]os.DirEntry, error)
	CopyFile(src, dst string) error
}

type osHelper struct{}

var _ fsHelper = (*osHelper)(nil)

func newOSHelper() *osHelper { return &osHelper{} }

func (h *osHelper) Stat(name string) (os.FileInfo, error)        { return os.Stat(name) }
func (h *osHelper) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (h *osHelper) RemoveAll(path string) error                  { return os.RemoveAll(path) }
func (h *osHelper) Remove(name string) error                     { return os.Remove(name) }
func (h *osHelper) ReadDir(name string) ([]os.DirEntry, error)   { return os.ReadDir(name) }

// CopyFile copies src to dst through the sys file layer, creating dst.
func (h *osHelper) CopyFile(src, dst string) error {
	in, err := sys.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", src, err)
	}
	defer in.Close()

	out, err := sys.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy data from %s to %s: %w", src, dst, err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("failed to sync destination file %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close destination file %s: %w", dst, err)
	}
	return nil
}
