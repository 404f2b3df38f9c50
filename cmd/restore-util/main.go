package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/INLOpen/ryudb/backup"
)

func main() {
	backupDir := flag.String("backup-dir", "", "Path to the backup directory to restore from (required)")
	targetDir := flag.String("target-dir", "", "Path to the empty directory where the database will be restored (required)")
	logLevel := flag.String("log-level", "info", "Logging level (debug, info, warn, error)")
	logOutput := flag.String("log-output", "stdout", "Log output (stdout, file, none)")
	logFile := flag.String("log-file", "restore-util.log", "Path to log file if output is 'file'")
	flag.Parse()

	if *backupDir == "" || *targetDir == "" {
		fmt.Println("Usage: restore-util -backup-dir <path_to_backup> -target-dir <path_to_new_data_dir>")
		flag.PrintDefaults()
		os.Exit(1)
	}

	var level slog.Level
	switch strings.ToLower(*logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		fmt.Printf("Invalid log level: %s. Defaulting to info.\n", *logLevel)
		level = slog.LevelInfo
	}

	var output io.Writer = os.Stdout
	switch strings.ToLower(*logOutput) {
	case "stdout":
		// Already set
	case "file":
		file, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			slog.Error("Failed to open log file", "path", *logFile, "error", err)
			os.Exit(1)
		}
		defer file.Close()
		output = file
	case "none":
		output = io.Discard
	}
	logger := slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))

	if err := backup.RestoreFromBackup(*backupDir, *targetDir, backup.RestoreOptions{Logger: logger}); err != nil {
		logger.Error("Restore failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Restore finished successfully", "target_dir", *targetDir)
}
