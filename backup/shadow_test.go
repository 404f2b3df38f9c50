package backup

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/INLOpen/ryudb/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPageSize = 4096

func testPage(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, testPageSize)
}

func newTestShadow(t *testing.T, opts ShadowOptions) *ShadowStore {
	t.Helper()
	spillPath := filepath.Join(t.TempDir(), "b.shadow")
	s := NewShadowStore(spillPath, testPageSize, opts)
	t.Cleanup(s.Cleanup)
	return s
}

func TestShadowStore_PreserveAndRead(t *testing.T) {
	s := newTestShadow(t, ShadowOptions{})

	require.NoError(t, s.Preserve(3, testPage('A')))
	assert.True(t, s.Contains(3))
	assert.False(t, s.Contains(4))
	assert.Equal(t, uint64(1), s.Count())

	buf := make([]byte, testPageSize)
	require.NoError(t, s.Read(3, buf))
	assert.Equal(t, testPage('A'), buf)
}

func TestShadowStore_FirstWriterWins(t *testing.T) {
	s := newTestShadow(t, ShadowOptions{})

	require.NoError(t, s.Preserve(7, testPage('A')))
	// A later preservation for the same page must not overwrite the
	// snapshot bytes.
	require.NoError(t, s.Preserve(7, testPage('B')))

	buf := make([]byte, testPageSize)
	require.NoError(t, s.Read(7, buf))
	assert.Equal(t, testPage('A'), buf)
	assert.Equal(t, uint64(1), s.Count())
}

func TestShadowStore_ReadUnpreserved(t *testing.T) {
	s := newTestShadow(t, ShadowOptions{})

	buf := make([]byte, testPageSize)
	err := s.Read(1, buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNotPreserved)
}

func TestShadowStore_BufferSizeChecks(t *testing.T) {
	s := newTestShadow(t, ShadowOptions{})

	require.Error(t, s.Preserve(0, make([]byte, 10)))
	require.NoError(t, s.Preserve(0, testPage('A')))
	require.Error(t, s.Read(0, make([]byte, 10)))
}

func TestShadowStore_DataIsCopiedNotRetained(t *testing.T) {
	s := newTestShadow(t, ShadowOptions{})

	data := testPage('A')
	require.NoError(t, s.Preserve(0, data))
	// Mutating the caller's buffer afterwards must not affect the entry.
	data[0] = 'Z'

	buf := make([]byte, testPageSize)
	require.NoError(t, s.Read(0, buf))
	assert.Equal(t, testPage('A'), buf)
}

func TestShadowStore_SpillsPastMemoryBudget(t *testing.T) {
	spillPath := filepath.Join(t.TempDir(), "b.shadow")
	// Budget of exactly one page: the second preservation must spill.
	s := NewShadowStore(spillPath, testPageSize, ShadowOptions{MemoryBudgetBytes: testPageSize})
	defer s.Cleanup()

	require.NoError(t, s.Preserve(0, testPage('A')))
	require.NoError(t, s.Preserve(1, testPage('B')))
	require.NoError(t, s.Preserve(2, testPage('C')))
	assert.Equal(t, uint64(3), s.Count())

	_, err := os.Stat(spillPath)
	require.NoError(t, err, "spill file should exist once the budget is exceeded")

	// Spilled and in-memory entries are indistinguishable to callers.
	buf := make([]byte, testPageSize)
	for idx, fill := range map[core.PageIdx]byte{0: 'A', 1: 'B', 2: 'C'} {
		require.NoError(t, s.Read(idx, buf))
		assert.Equal(t, testPage(fill), buf, "page %d", idx)
	}

	// First-writer-wins holds for spilled entries too.
	require.NoError(t, s.Preserve(1, testPage('X')))
	require.NoError(t, s.Read(1, buf))
	assert.Equal(t, testPage('B'), buf)

	s.Cleanup()
	_, err = os.Stat(spillPath)
	assert.True(t, os.IsNotExist(err), "cleanup should remove the spill file")
	assert.Equal(t, uint64(0), s.Count())
}

func TestShadowStore_ConcurrentPreserve(t *testing.T) {
	s := newTestShadow(t, ShadowOptions{})

	const pages = 64
	const writersPerPage = 8

	var wg sync.WaitGroup
	for p := 0; p < pages; p++ {
		for w := 0; w < writersPerPage; w++ {
			wg.Add(1)
			go func(p, w int) {
				defer wg.Done()
				// Every writer offers different bytes; exactly the first
				// offer per page may win.
				s.Preserve(core.PageIdx(p), testPage(byte(w)))
			}(p, w)
		}
	}
	wg.Wait()

	assert.Equal(t, uint64(pages), s.Count())
	buf := make([]byte, testPageSize)
	for p := 0; p < pages; p++ {
		require.NoError(t, s.Read(core.PageIdx(p), buf))
		// Whatever won must be a single writer's page, not a torn mix.
		fill := buf[0]
		assert.Equal(t, bytes.Repeat([]byte{fill}, testPageSize), buf)
	}
}
