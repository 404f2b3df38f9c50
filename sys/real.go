package sys

import (
	"os"
)

// realFile is the default File implementation backed by the os package.
type realFile struct{}

// NewFile returns the standard operating-system File implementation.
func NewFile() File {
	return &realFile{}
}

func (rf *realFile) Create(name string) (FileHandle, error) {
	return rf.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (rf *realFile) Open(name string) (FileHandle, error) {
	return rf.OpenFile(name, os.O_RDONLY, 0)
}

func (rf *realFile) OpenFile(name string, flag int, perm os.FileMode) (FileHandle, error) {
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (rf *realFile) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (rf *realFile) Remove(name string) error {
	return os.Remove(name)
}

func (rf *realFile) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

var _ FileHandle = (*os.File)(nil)
