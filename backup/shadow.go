package backup

import (
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/INLOpen/ryudb/core"
	"github.com/INLOpen/ryudb/sys"
	"github.com/shirou/gopsutil/v3/mem"
)

var (
	shadowPagesPreserved = expvar.NewInt("ryudb.backup.shadow_pages_preserved")
	shadowPagesSpilled   = expvar.NewInt("ryudb.backup.shadow_pages_spilled")
)

// ShadowStore preserves the original bytes of pages modified after the
// snapshot timestamp and before the copier captured them. Entries live in
// memory up to a budget derived from available system memory; past the
// budget, whole pages spill transparently to a side file next to the
// backup directory. The first preservation of a page wins; later calls for
// the same index are no-ops so snapshot bytes are never overwritten by a
// post-snapshot version.
type ShadowStore struct {
	pageSize uint64

	mu        sync.RWMutex
	pages     map[core.PageIdx][]byte // in-memory entries
	spillSlot map[core.PageIdx]uint64 // page -> slot in the spill file
	memBytes  uint64
	memBudget uint64 // 0 means never spill
	nextSlot  uint64

	spillPath string
	spillFile sys.FileHandle

	logger *slog.Logger
}

// ShadowOptions configures NewShadowStore.
type ShadowOptions struct {
	// MemoryFraction of currently available system memory the store may
	// hold before spilling. Zero disables spilling.
	MemoryFraction float64
	// MemoryBudgetBytes overrides the gopsutil-derived budget when set.
	// Intended for tests.
	MemoryBudgetBytes uint64
	Logger            *slog.Logger
}

// NewShadowStore creates a shadow store for pages of the given size.
// spillPath is where spilled pages go if the memory budget is exceeded;
// the file is created lazily and removed by Cleanup.
func NewShadowStore(spillPath string, pageSize uint64, opts ShadowOptions) *ShadowStore {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "ShadowStore")

	budget := opts.MemoryBudgetBytes
	if budget == 0 && opts.MemoryFraction > 0 {
		if vm, err := mem.VirtualMemory(); err != nil {
			logger.Warn("Could not determine available memory; shadow store will not spill.", "error", err)
		} else {
			budget = uint64(float64(vm.Available) * opts.MemoryFraction)
		}
	}

	return &ShadowStore{
		pageSize:  pageSize,
		pages:     make(map[core.PageIdx][]byte),
		spillSlot: make(map[core.PageIdx]uint64),
		memBudget: budget,
		spillPath: spillPath,
		logger:    logger,
	}
}

// Preserve records the original bytes of page idx. If an entry already
// exists the call is a no-op (first-writer-wins). data must be exactly one
// page long; it is copied, never retained.
func (s *ShadowStore) Preserve(idx core.PageIdx, data []byte) error {
	if uint64(len(data)) != s.pageSize {
		return fmt.Errorf("preserve buffer is %d bytes, want page size %d", len(data), s.pageSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pages[idx]; ok {
		return nil
	}
	if _, ok := s.spillSlot[idx]; ok {
		return nil
	}

	if s.memBudget > 0 && s.memBytes+s.pageSize > s.memBudget {
		if err := s.spillLocked(idx, data); err != nil {
			// Fall back to memory rather than lose the snapshot bytes; the
			// budget is advisory, correctness is not.
			s.logger.Warn("Shadow spill failed, keeping page in memory.", "page", idx, "error", err)
		} else {
			shadowPagesPreserved.Add(1)
			shadowPagesSpilled.Add(1)
			return nil
		}
	}

	buf := make([]byte, s.pageSize)
	copy(buf, data)
	s.pages[idx] = buf
	s.memBytes += s.pageSize
	shadowPagesPreserved.Add(1)
	return nil
}

// spillLocked writes data into the next slot of the spill file. Caller
// holds s.mu.
func (s *ShadowStore) spillLocked(idx core.PageIdx, data []byte) error {
	if s.spillFile == nil {
		f, err := sys.Create(s.spillPath)
		if err != nil {
			return fmt.Errorf("failed to create shadow spill file %s: %w", s.spillPath, err)
		}
		s.spillFile = f
		s.logger.Info("Shadow store spilling to disk.", "path", s.spillPath, "budget_bytes", s.memBudget)
	}
	slot := s.nextSlot
	if _, err := s.spillFile.WriteAt(data, int64(slot*s.pageSize)); err != nil {
		return fmt.Errorf("failed to write page %d to shadow spill file: %w", idx, err)
	}
	s.nextSlot++
	s.spillSlot[idx] = slot
	return nil
}

// Read copies the preserved bytes of page idx into buf. It fails with
// core.ErrNotPreserved when no entry exists.
func (s *ShadowStore) Read(idx core.PageIdx, buf []byte) error {
	if uint64(len(buf)) != s.pageSize {
		return fmt.Errorf("read buffer is %d bytes, want page size %d", len(buf), s.pageSize)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if page, ok := s.pages[idx]; ok {
		copy(buf, page)
		return nil
	}
	if slot, ok := s.spillSlot[idx]; ok {
		if _, err := s.spillFile.ReadAt(buf, int64(slot*s.pageSize)); err != nil {
			return fmt.Errorf("failed to read page %d from shadow spill file: %w", idx, err)
		}
		return nil
	}
	return fmt.Errorf("page %d: %w", idx, core.ErrNotPreserved)
}

// Contains reports whether page idx has been preserved.
func (s *ShadowStore) Contains(idx core.PageIdx) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.pages[idx]; ok {
		return true
	}
	_, ok := s.spillSlot[idx]
	return ok
}

// Count returns the number of preserved pages.
func (s *ShadowStore) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.pages) + len(s.spillSlot))
}

// Cleanup drops all entries and removes the spill file if one was created.
// The store is reusable but empty afterwards.
func (s *ShadowStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pages = make(map[core.PageIdx][]byte)
	s.spillSlot = make(map[core.PageIdx]uint64)
	s.memBytes = 0
	s.nextSlot = 0

	if s.spillFile != nil {
		if err := s.spillFile.Close(); err != nil {
			s.logger.Warn("Failed to close shadow spill file.", "path", s.spillPath, "error", err)
		}
		if err := sys.Remove(s.spillPath); err != nil {
			s.logger.Warn("Failed to remove shadow spill file.", "path", s.spillPath, "error", err)
		}
		s.spillFile = nil
	}
}
