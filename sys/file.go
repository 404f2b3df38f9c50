package sys

import (
	"io"
	"os"
	"sync/atomic"
)

// fileWrapper is a stable concrete type used to store the File interface
// inside an atomic.Value. atomic.Value requires that all stored values have
// the same concrete type; wrapping the interface ensures implementations can
// be swapped safely.
type fileWrapper struct {
	f File
}

var defaultFile atomic.Value // stores fileWrapper

// File abstracts how files are opened and written. The backup core opens,
// creates and renames its files through this interface so tests can inject
// failures or observe operations; stats and directory operations go to the
// os package directly.
type File interface {
	Create(name string) (FileHandle, error)
	Open(name string) (FileHandle, error)
	OpenFile(name string, flag int, perm os.FileMode) (FileHandle, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	Remove(name string) error
	Rename(oldpath, newpath string) error
}

// FileHandle is the open-file contract the backup core relies on: positioned
// reads and writes for page I/O, streaming for whole-file copies.
type FileHandle interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.WriterAt
	io.Seeker

	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
	Name() string
}

func init() {
	defaultFile.Store(fileWrapper{f: NewFile()})
}

// SetDefaultFile swaps the process-wide File implementation. Intended for
// tests; the zero state is restored by passing NewFile().
func SetDefaultFile(file File) {
	defaultFile.Store(fileWrapper{f: file})
}

func current() File {
	p := defaultFile.Load()
	fw, ok := p.(fileWrapper)
	if !ok || fw.f == nil {
		return NewFile()
	}
	return fw.f
}

// Create truncates or creates name for read/write.
func Create(name string) (FileHandle, error) {
	return current().Create(name)
}

// Open opens name read-only.
func Open(name string) (FileHandle, error) {
	return current().Open(name)
}

// OpenFile is the generalized open call.
func OpenFile(name string, flag int, perm os.FileMode) (FileHandle, error) {
	return current().OpenFile(name, flag, perm)
}

// WriteFile writes data to name, creating it if necessary.
func WriteFile(name string, data []byte, perm os.FileMode) error {
	return current().WriteFile(name, data, perm)
}

// Remove deletes the named file.
func Remove(name string) error {
	return current().Remove(name)
}

// Rename atomically moves oldpath to newpath.
func Rename(oldpath, newpath string) error {
	return current().Rename(oldpath, newpath)
}
