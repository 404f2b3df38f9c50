package core

// BackupManifest describes a completed backup. It is serialized as a
// little-endian, length-prefixed binary record; the trailing Extension
// region is opaque and reserved for future fields (replicated-log index,
// node role, cluster id). Readers must skip extension bytes they do not
// understand.
type BackupManifest struct {
	SnapshotTS      uint64 // logical timestamp the backup is consistent at
	DatabaseID      string
	DatabasePath    string // original database path; its basename names the data file
	BackupTimestamp uint64 // wall-clock unix nanoseconds at backup start
	NumPages        uint64
	BackupSizeBytes uint64
	EngineVersion   string
	Extension       []byte
}
