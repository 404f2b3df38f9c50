package backup

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/INLOpen/ryudb/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifest_RoundTrip_Full(t *testing.T) {
	manifest := &core.BackupManifest{
		SnapshotTS:      12345,
		DatabaseID:      "0d9a8a3e-9d14-41c5-9c50-2f7a1f3ad845",
		DatabasePath:    "/var/lib/ryudb/graph.db",
		BackupTimestamp: 1700000000000000000,
		NumPages:        42,
		BackupSizeBytes: 42 * 4096,
		EngineVersion:   core.Version,
		Extension:       []byte{0x01, 0x02, 0x03},
	}

	var buf bytes.Buffer
	err := WriteManifestBinary(&buf, manifest)
	require.NoError(t, err)
	require.NotEmpty(t, buf.Bytes(), "Serialized buffer should not be empty")

	deserialized, err := ReadManifestBinary(&buf)
	require.NoError(t, err)
	require.NotNil(t, deserialized)

	assert.Equal(t, manifest, deserialized, "Original and deserialized manifests should be identical")
}

func TestManifest_RoundTrip_EmptyFields(t *testing.T) {
	testCases := []struct {
		name     string
		manifest *core.BackupManifest
	}{
		{
			name:     "Zero manifest",
			manifest: &core.BackupManifest{},
		},
		{
			name: "Empty database",
			manifest: &core.BackupManifest{
				SnapshotTS:    7,
				DatabaseID:    "id",
				DatabasePath:  "/tmp/db",
				EngineVersion: core.Version,
			},
		},
		{
			name: "Nil extension region",
			manifest: &core.BackupManifest{
				SnapshotTS: 9,
				NumPages:   3,
				Extension:  nil,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteManifestBinary(&buf, tc.manifest))

			deserialized, err := ReadManifestBinary(&buf)
			require.NoError(t, err)
			assert.Equal(t, tc.manifest, deserialized)
		})
	}
}

// A reader must consume whatever extension length the writer declared and
// keep going, never rejecting unknown future fields.
func TestManifest_Reader_SkipsUnknownExtension(t *testing.T) {
	manifest := &core.BackupManifest{
		SnapshotTS:    100,
		DatabaseID:    "db-1",
		DatabasePath:  "/data/graph.db",
		NumPages:      2,
		EngineVersion: "9.9.9-future",
		Extension:     bytes.Repeat([]byte{0xAB}, 512), // pretend future fields
	}

	var buf bytes.Buffer
	require.NoError(t, WriteManifestBinary(&buf, manifest))

	deserialized, err := ReadManifestBinary(&buf)
	require.NoError(t, err)
	assert.Equal(t, manifest.Extension, deserialized.Extension)
	assert.Equal(t, uint64(2), deserialized.NumPages)
}

func TestReadManifestBinary_ErrorCases(t *testing.T) {
	valid := &core.BackupManifest{
		SnapshotTS:   5,
		DatabaseID:   "db",
		DatabasePath: "/d/graph.db",
		NumPages:     1,
	}
	var validBuf bytes.Buffer
	require.NoError(t, WriteManifestBinary(&validBuf, valid))
	validBytes := validBuf.Bytes()

	t.Run("Empty input", func(t *testing.T) {
		_, err := ReadManifestBinary(bytes.NewReader(nil))
		require.Error(t, err)
	})

	t.Run("Truncated in the middle", func(t *testing.T) {
		_, err := ReadManifestBinary(bytes.NewReader(validBytes[:len(validBytes)/2]))
		require.Error(t, err)
	})

	t.Run("String length prefix exceeds limit", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(1))) // SnapshotTS
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(maxManifestStringLen+1)))
		_, err := ReadManifestBinary(&buf)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "length prefix")
	})

	t.Run("Extension length longer than payload", func(t *testing.T) {
		// Corrupt the trailing u32 ext_len (a valid manifest ends with an
		// empty extension, so the last 4 bytes are the prefix).
		corrupted := append([]byte(nil), validBytes...)
		binary.LittleEndian.PutUint32(corrupted[len(corrupted)-4:], 1024)
		_, err := ReadManifestBinary(bytes.NewReader(corrupted))
		require.Error(t, err)
	})
}

func TestWriteManifestFile_AtomicAndReadable(t *testing.T) {
	dir := t.TempDir()
	manifest := &core.BackupManifest{
		SnapshotTS:      11,
		DatabaseID:      "db-atomic",
		DatabasePath:    "/data/graph.db",
		BackupTimestamp: 99,
		NumPages:        4,
		BackupSizeBytes: 4 * 4096,
		EngineVersion:   core.Version,
	}

	require.NoError(t, writeManifestFile(dir, manifest))

	// The temp file must be gone after the rename.
	_, err := os.Stat(filepath.Join(dir, core.ManifestFileName+".tmp"))
	assert.True(t, os.IsNotExist(err), "temp manifest file should not remain")

	got, err := readManifestFile(dir)
	require.NoError(t, err)
	assert.Equal(t, manifest, got)
}

func TestReadManifestFile_CorruptIsClassified(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, core.ManifestFileName), []byte{0x01, 0x02}, 0644))

	_, err := readManifestFile(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrManifestCorrupt)
}
