package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/INLOpen/ryudb/backup"
	"github.com/INLOpen/ryudb/core"
)

func main() {
	backupDir := flag.String("backup-dir", "", "Path to a backup directory (required)")
	flag.Parse()

	if *backupDir == "" {
		fmt.Println("Usage: backup-inspect -backup-dir <path_to_backup>")
		flag.PrintDefaults()
		os.Exit(1)
	}

	path := filepath.Join(*backupDir, core.ManifestFileName)
	file, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open manifest %s: %v\n", path, err)
		os.Exit(1)
	}
	defer file.Close()

	manifest, err := backup.ReadManifestBinary(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to decode manifest %s: %v\n", path, err)
		os.Exit(1)
	}

	fmt.Printf("snapshot_timestamp: %d\n", manifest.SnapshotTS)
	fmt.Printf("database_id:        %s\n", manifest.DatabaseID)
	fmt.Printf("database_path:      %s\n", manifest.DatabasePath)
	fmt.Printf("backup_time:        %s\n", time.Unix(0, int64(manifest.BackupTimestamp)).Format(time.RFC3339Nano))
	fmt.Printf("page_count:         %d\n", manifest.NumPages)
	fmt.Printf("backup_size_bytes:  %d\n", manifest.BackupSizeBytes)
	fmt.Printf("engine_version:     %s\n", manifest.EngineVersion)
	fmt.Printf("extension_bytes:    %d\n", len(manifest.Extension))
}
