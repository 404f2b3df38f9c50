package pager

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/INLOpen/ryudb/core"
	"github.com/INLOpen/ryudb/sys"
	"github.com/google/uuid"
)

// Pager owns the paged data file of a database and its page-write path.
// Every mutation of an existing page is announced to the installed
// ModificationNotifier before any byte changes, which is the ordering the
// backup core's snapshot argument rests on. Appending a new page past the
// end is not announced.
type Pager struct {
	path     string
	dbID     string
	pageSize uint64

	file     sys.FileHandle
	numPages atomic.Uint64

	// ts is the logical commit timestamp, bumped on every page write. It
	// stands in for the transaction manager's snapshot timestamp source.
	ts atomic.Uint64

	// writeMu serializes writers so the notify-then-mutate pair is atomic
	// with respect to other writers. Readers do not take it: positioned
	// reads on the handle are safe concurrently.
	writeMu sync.Mutex

	notifier atomic.Value // stores notifierBox

	logger *slog.Logger
	closed atomic.Bool
}

// notifierBox keeps atomic.Value happy with a single concrete type even
// when the notifier is cleared.
type notifierBox struct {
	n core.ModificationNotifier
}

// Options configures Open.
type Options struct {
	// PageSize must be a power of two. Zero selects core.DefaultPageSize.
	PageSize uint64
	// DatabaseID is the opaque identity; generated when empty.
	DatabaseID string
	Logger     *slog.Logger
}

// Open creates or opens the paged data file at path. An existing file must
// have a length that is a multiple of the page size.
func Open(path string, opts Options) (*Pager, error) {
	if opts.PageSize == 0 {
		opts.PageSize = core.DefaultPageSize
	}
	if opts.PageSize&(opts.PageSize-1) != 0 {
		return nil, fmt.Errorf("page size %d is not a power of two", opts.PageSize)
	}
	if opts.DatabaseID == "" {
		opts.DatabaseID = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	file, err := sys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat data file %s: %w", path, err)
	}
	if uint64(info.Size())%opts.PageSize != 0 {
		file.Close()
		return nil, fmt.Errorf("data file %s size %d is not page-aligned (page size %d)", path, info.Size(), opts.PageSize)
	}

	p := &Pager{
		path:     path,
		dbID:     opts.DatabaseID,
		pageSize: opts.PageSize,
		file:     file,
		logger:   logger.With("component", "Pager"),
	}
	p.numPages.Store(uint64(info.Size()) / opts.PageSize)
	p.notifier.Store(notifierBox{})
	return p, nil
}

// Path returns the data file path.
func (p *Pager) Path() string { return p.path }

// DatabaseID returns the opaque database identity.
func (p *Pager) DatabaseID() string { return p.dbID }

// PageSize returns the fixed page size of this database.
func (p *Pager) PageSize() uint64 { return p.pageSize }

// NumPages returns the current page count.
func (p *Pager) NumPages() uint64 { return p.numPages.Load() }

// CurrentSnapshotTimestamp returns the logical timestamp of the most recent
// committed write. It is monotonically non-decreasing.
func (p *Pager) CurrentSnapshotTimestamp() uint64 { return p.ts.Load() }

// WALPath returns the path the database keeps its write-ahead log at.
func (p *Pager) WALPath() string { return p.path + core.WALFileSuffix }

// InstallNotifier installs the modification notifier invoked before every
// page mutation. Passing nil uninstalls it.
func (p *Pager) InstallNotifier(n core.ModificationNotifier) {
	p.notifier.Store(notifierBox{n: n})
}

// RemoveNotifier uninstalls the modification notifier.
func (p *Pager) RemoveNotifier() {
	p.notifier.Store(notifierBox{})
}

// ReadPageAt copies page idx into buf, which must be exactly one page long.
// Safe for concurrent readers and safe to call from a notifier callback.
func (p *Pager) ReadPageAt(idx core.PageIdx, buf []byte) error {
	if uint64(len(buf)) != p.pageSize {
		return fmt.Errorf("read buffer is %d bytes, want page size %d", len(buf), p.pageSize)
	}
	if idx >= p.numPages.Load() {
		return fmt.Errorf("page %d out of range (%d pages)", idx, p.numPages.Load())
	}
	if _, err := p.file.ReadAt(buf, int64(idx*p.pageSize)); err != nil {
		return fmt.Errorf("failed to read page %d from %s: %w", idx, p.path, err)
	}
	return nil
}

// WritePage overwrites page idx with data, growing the file when idx is the
// next page past the end. For an existing page the installed notifier is
// called and has returned before any byte of the page changes; an append is
// not announced.
func (p *Pager) WritePage(idx core.PageIdx, data []byte) error {
	if p.closed.Load() {
		return fmt.Errorf("pager for %s is closed", p.path)
	}
	if uint64(len(data)) != p.pageSize {
		return fmt.Errorf("write buffer is %d bytes, want page size %d", len(data), p.pageSize)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	n := p.numPages.Load()
	if idx > n {
		return fmt.Errorf("page %d would leave a hole (%d pages)", idx, n)
	}

	// The notifier must observe the page's pre-mutation bytes; it runs
	// under the write lock so no other writer can slip in between the
	// notification and the mutation.
	if box, ok := p.notifier.Load().(notifierBox); ok && box.n != nil && idx < n {
		box.n.NotifyPageModification(idx)
	}

	if _, err := p.file.WriteAt(data, int64(idx*p.pageSize)); err != nil {
		return fmt.Errorf("failed to write page %d to %s: %w", idx, p.path, err)
	}
	if idx == n {
		p.numPages.Store(n + 1)
	}
	p.ts.Add(1)
	return nil
}

// Sync flushes the data file to stable storage.
func (p *Pager) Sync() error {
	return p.file.Sync()
}

// Close syncs and closes the data file. The pager is unusable afterwards.
func (p *Pager) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.RemoveNotifier()
	if err := p.file.Sync(); err != nil {
		p.file.Close()
		return fmt.Errorf("failed to sync data file %s on close: %w", p.path, err)
	}
	return p.file.Close()
}
