package backup

import (
	"io"
	"log/slog"

	"github.com/INLOpen/ryudb/core"
	"github.com/INLOpen/ryudb/hooks"
	"github.com/INLOpen/ryudb/pager"
	"github.com/INLOpen/ryudb/utils"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ProviderOptions configures NewPagerProvider. Zero values select a
// discard logger, a no-op tracer, the system clock, and a fresh hook
// manager.
type ProviderOptions struct {
	Logger      *slog.Logger
	Tracer      trace.Tracer
	Clock       utils.Clock
	HookManager hooks.HookManager
	// AuxiliaryFiles lists absolute paths of side files to copy into
	// backups when present.
	AuxiliaryFiles []string
	// AuxiliarySuffixes derives auxiliary files from the database path,
	// mirroring config.BackupConfig.AuxiliaryFileSuffixes. Ignored when
	// AuxiliaryFiles is set.
	AuxiliarySuffixes []string
}

// pagerProvider adapts a pager.Pager to the EngineProvider contract. The
// pager doubles as data file and transaction-timestamp source.
type pagerProvider struct {
	p    *pager.Pager
	opts ProviderOptions
}

var _ EngineProvider = (*pagerProvider)(nil)

// NewPagerProvider wires a Pager up as the backup manager's engine
// provider. The pager also satisfies NotifierHost, so a typical setup is:
//
//	p, _ := pager.Open(path, pager.Options{})
//	mgr := backup.NewManager(backup.NewPagerProvider(p, opts), p, backup.Options{})
func NewPagerProvider(p *pager.Pager, opts ProviderOptions) EngineProvider {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if opts.Clock == nil {
		opts.Clock = utils.SystemClock{}
	}
	if opts.HookManager == nil {
		opts.HookManager = hooks.NewHookManager(opts.Logger)
	}
	return &pagerProvider{p: p, opts: opts}
}

func (pp *pagerProvider) GetDataFile() DataFile     { return pp.p }
func (pp *pagerProvider) GetTxnManager() TxnManager { return pp.p }
func (pp *pagerProvider) GetDatabaseID() string     { return pp.p.DatabaseID() }
func (pp *pagerProvider) GetDatabasePath() string   { return pp.p.Path() }
func (pp *pagerProvider) GetEngineVersion() string  { return core.Version }
func (pp *pagerProvider) GetWALPath() string        { return pp.p.WALPath() }
func (pp *pagerProvider) GetAuxiliaryFiles() []string {
	if len(pp.opts.AuxiliaryFiles) > 0 {
		return pp.opts.AuxiliaryFiles
	}
	files := make([]string, 0, len(pp.opts.AuxiliarySuffixes))
	for _, suffix := range pp.opts.AuxiliarySuffixes {
		files = append(files, pp.p.Path()+suffix)
	}
	return files
}
func (pp *pagerProvider) GetLogger() *slog.Logger           { return pp.opts.Logger }
func (pp *pagerProvider) GetTracer() trace.Tracer           { return pp.opts.Tracer }
func (pp *pagerProvider) GetClock() utils.Clock             { return pp.opts.Clock }
func (pp *pagerProvider) GetHookManager() hooks.HookManager { return pp.opts.HookManager }
