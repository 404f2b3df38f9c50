package backup

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"path/filepath"

	"github.com/INLOpen/ryudb/core"
	"github.com/INLOpen/ryudb/sys"
)

// maxManifestStringLen bounds the length prefixes of the string fields so a
// corrupt string prefix cannot drive a multi-gigabyte allocation. The
// extension region is not bounded by it.
const maxManifestStringLen = 1 << 20

// WriteManifestBinary serializes the manifest in its little-endian,
// length-prefixed layout. Strings are UTF-8 with a u32 byte-length prefix,
// not null-terminated. The extension region is written last and may be
// empty.
func WriteManifestBinary(w io.Writer, m *core.BackupManifest) error {
	if err := binary.Write(w, binary.LittleEndian, m.SnapshotTS); err != nil {
		return fmt.Errorf("failed to write snapshot timestamp: %w", err)
	}
	if err := writeLenPrefixed(w, []byte(m.DatabaseID)); err != nil {
		return fmt.Errorf("failed to write database id: %w", err)
	}
	if err := writeLenPrefixed(w, []byte(m.DatabasePath)); err != nil {
		return fmt.Errorf("failed to write database path: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, m.BackupTimestamp); err != nil {
		return fmt.Errorf("failed to write backup timestamp: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, m.NumPages); err != nil {
		return fmt.Errorf("failed to write page count: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, m.BackupSizeBytes); err != nil {
		return fmt.Errorf("failed to write backup size: %w", err)
	}
	if err := writeLenPrefixed(w, []byte(m.EngineVersion)); err != nil {
		return fmt.Errorf("failed to write engine version: %w", err)
	}
	if err := writeLenPrefixed(w, m.Extension); err != nil {
		return fmt.Errorf("failed to write extension region: %w", err)
	}
	return nil
}

// ReadManifestBinary deserializes a manifest. Extension bytes beyond what
// this reader understands are retained opaquely, never rejected.
func ReadManifestBinary(r io.Reader) (*core.BackupManifest, error) {
	var m core.BackupManifest
	if err := binary.Read(r, binary.LittleEndian, &m.SnapshotTS); err != nil {
		return nil, fmt.Errorf("failed to read snapshot timestamp: %w", err)
	}
	dbID, err := readLenPrefixed(r, maxManifestStringLen)
	if err != nil {
		return nil, fmt.Errorf("failed to read database id: %w", err)
	}
	m.DatabaseID = string(dbID)
	dbPath, err := readLenPrefixed(r, maxManifestStringLen)
	if err != nil {
		return nil, fmt.Errorf("failed to read database path: %w", err)
	}
	m.DatabasePath = string(dbPath)
	if err := binary.Read(r, binary.LittleEndian, &m.BackupTimestamp); err != nil {
		return nil, fmt.Errorf("failed to read backup timestamp: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &m.NumPages); err != nil {
		return nil, fmt.Errorf("failed to read page count: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &m.BackupSizeBytes); err != nil {
		return nil, fmt.Errorf("failed to read backup size: %w", err)
	}
	version, err := readLenPrefixed(r, maxManifestStringLen)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine version: %w", err)
	}
	m.EngineVersion = string(version)

	// The extension region is opaque: whatever length the writer declared
	// is consumed whole, so readers older than the writer skip fields they
	// do not know about.
	ext, err := readLenPrefixed(r, math.MaxUint32)
	if err != nil {
		return nil, fmt.Errorf("failed to read extension region: %w", err)
	}
	if len(ext) > 0 {
		m.Extension = ext
	}
	return &m, nil
}

func writeLenPrefixed(w io.Writer, b []byte) error {
	if uint64(len(b)) > math.MaxUint32 {
		return fmt.Errorf("field of %d bytes exceeds u32 length prefix", len(b))
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	_, err := w.Write(b)
	return err
}

func readLenPrefixed(r io.Reader, maxLen uint32) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if n > maxLen {
		return nil, fmt.Errorf("length prefix %d exceeds limit %d", n, maxLen)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// writeManifestFile persists the manifest with the write-and-rename
// discipline so a crash never leaves a half-written manifest whose
// presence would falsely signal a consumable backup.
func writeManifestFile(dir string, m *core.BackupManifest) error {
	var buf bytes.Buffer
	if err := WriteManifestBinary(&buf, m); err != nil {
		return fmt.Errorf("failed to serialize backup manifest: %w", err)
	}

	tempPath := filepath.Join(dir, core.ManifestFileName+".tmp")
	file, err := sys.Create(tempPath)
	if err != nil {
		return core.NewIoError("create", tempPath, err)
	}
	if _, err := file.Write(buf.Bytes()); err != nil {
		file.Close()
		return core.NewIoError("write", tempPath, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return core.NewIoError("sync", tempPath, err)
	}
	// Close before rename for Windows compatibility.
	if err := file.Close(); err != nil {
		return core.NewIoError("close", tempPath, err)
	}

	finalPath := filepath.Join(dir, core.ManifestFileName)
	if err := sys.Rename(tempPath, finalPath); err != nil {
		return core.NewIoError("rename", finalPath, err)
	}
	return nil
}

// readManifestFile reads and decodes the manifest inside a backup
// directory. Decode failures are reported as core.ErrManifestCorrupt.
func readManifestFile(dir string) (*core.BackupManifest, error) {
	path := filepath.Join(dir, core.ManifestFileName)
	file, err := sys.Open(path)
	if err != nil {
		return nil, core.NewIoError("open", path, err)
	}
	defer file.Close()

	m, err := ReadManifestBinary(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrManifestCorrupt, err)
	}
	return m, nil
}
