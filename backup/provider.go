package backup

import (
	"log/slog"

	"github.com/INLOpen/ryudb/core"
	"github.com/INLOpen/ryudb/hooks"
	"github.com/INLOpen/ryudb/utils"
	"go.opentelemetry.io/otel/trace"
)

// DataFile is the read-only contract the page copier needs from the live
// data file. Implementations must be safe for concurrent readers.
type DataFile interface {
	PageSize() uint64
	NumPages() uint64
	ReadPageAt(idx core.PageIdx, buf []byte) error
}

// TxnManager supplies the logical snapshot timestamp a backup is anchored to.
type TxnManager interface {
	CurrentSnapshotTimestamp() uint64
}

// NotifierHost is the host-side surface the manager installs its
// page-modification hook on. Installation happens in NewManager and the
// hook is removed by Close, which breaks the cycle between the coordinator
// and the host's write path.
type NotifierHost interface {
	InstallNotifier(n core.ModificationNotifier)
	RemoveNotifier()
}

// EngineProvider is the bridge between the backup core and the host
// database. It decouples the backup logic from the engine implementation.
type EngineProvider interface {
	GetDataFile() DataFile
	GetTxnManager() TxnManager

	// Identity.
	GetDatabaseID() string
	GetDatabasePath() string
	GetEngineVersion() string

	// GetWALPath returns the host WAL file path, or "" when the database
	// keeps no WAL.
	GetWALPath() string
	// GetAuxiliaryFiles returns absolute paths of auxiliary metadata files
	// to copy into the backup when present (lock files and the like).
	GetAuxiliaryFiles() []string

	GetLogger() *slog.Logger
	GetTracer() trace.Tracer
	GetClock() utils.Clock
	GetHookManager() hooks.HookManager
}
