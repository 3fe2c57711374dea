// Package lsp is the request dispatcher: it owns the protocol surface,
// routes notifications and requests to the document store, workspace
// index, compilation cache and symbol resolver, and publishes
// diagnostics off the request path.
package lsp

import (
	"errors"
	"sync"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"typstd/internal/cache"
	"typstd/internal/cache/store"
	"typstd/internal/compiler"
	"typstd/internal/document"
	"typstd/internal/packages"
	"typstd/internal/scheduler"
	"typstd/internal/symbols"
	"typstd/internal/typst"
	"typstd/internal/workspace"
)

const lsName = "typstd"

var version = "0.1.0"

var logger = commonlog.GetLogger("typstd.lsp")

// ErrInvalidRequest is returned for requests referencing a document that
// is not open.
var ErrInvalidRequest = errors.New("invalid request")

// Config carries the process-level settings from the CLI.
type Config struct {
	// Root is the workspace root fallback when the client sends none.
	Root string
	// PackageCacheDir overrides the package cache location.
	PackageCacheDir string
	// ExportStorePath enables the persistent export store when set.
	ExportStorePath string
	// Compiler overrides the bundled analyzer, used by tests.
	Compiler compiler.Compiler
}

// options are runtime settings sent by the client at initialize.
type options struct {
	MaxCacheEntries int `json:"maxCacheEntries"`
	CompileWorkers  int `json:"compileWorkers"`
}

// Server dispatches protocol traffic. The document store is its
// per-document state machine: a path is Open exactly while the store
// holds it.
type Server struct {
	cfg     Config
	handler *protocol.Handler

	docs  *document.Store
	index *workspace.Index

	// Set during initialize.
	mu       sync.RWMutex
	root     string
	comp     compiler.Compiler
	cache    *cache.Cache
	resolver *symbols.Resolver
	sched    *scheduler.Scheduler
	exports  store.Store
	notify   glsp.NotifyFunc
}

// NewServer builds the dispatcher and the glsp server around it.
func NewServer(cfg Config) (*glspserver.Server, *Server) {
	s := newServer(cfg)
	return glspserver.NewServer(s.handler, lsName, false), s
}

func newServer(cfg Config) *Server {
	s := &Server{
		cfg:   cfg,
		docs:  document.NewStore(),
		index: workspace.NewIndex(),
	}
	s.docs.OnChange(s.documentChanged)

	s.handler = &protocol.Handler{
		Initialize:             s.initialize,
		Initialized:            s.initialized,
		Shutdown:               s.shutdown,
		SetTrace:               s.setTrace,
		TextDocumentDidOpen:    s.textDocumentDidOpen,
		TextDocumentDidChange:  s.textDocumentDidChange,
		TextDocumentDidClose:   s.textDocumentDidClose,
		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		WorkspaceSymbol:        s.workspaceSymbol,

		WorkspaceDidChangeWatchedFiles: s.workspaceDidChangeWatchedFiles,
	}
	return s
}

// source serves live text for open documents and disk content otherwise.
func (s *Server) source(path string) (compiler.Source, error) {
	if snap, err := s.docs.Snapshot(path); err == nil {
		return compiler.Source{
			Path:        path,
			Text:        snap.Text,
			Fingerprint: snap.Fingerprint,
		}, nil
	}
	return typst.DiskLoader(path)
}

// unitsFor resolves the owning units of a document. A document outside
// any manifest gets an implicit unit registered in the index, so later
// dependency refreshes can grow its member set.
func (s *Server) unitsFor(path string) []*workspace.Unit {
	units := s.index.UnitsFor(path)
	if len(units) == 0 {
		units = []*workspace.Unit{s.index.RegisterImplicit(path)}
	}
	return units
}

// documentChanged runs after every successful edit or close. Owning
// units are recompiled in the background; invalidation itself is
// implicit in the fingerprint cache key.
func (s *Server) documentChanged(path string) {
	s.mu.RLock()
	sched := s.sched
	s.mu.RUnlock()
	if sched == nil {
		return
	}
	if !s.docs.IsOpen(path) {
		// Closed document: its implicit unit, if any, leaves the index
		// together with its cache entries. Manifest units stay; their
		// sources fall back to disk.
		if s.index.RemoveImplicit(path) {
			s.cacheHandle().Evict(path)
		}
		for _, unit := range s.index.UnitsFor(path) {
			s.scheduleCompile(unit)
		}
		return
	}
	for _, unit := range s.unitsFor(path) {
		s.scheduleCompile(unit)
	}
}

func (s *Server) cacheHandle() *cache.Cache {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache
}

// initializeComponents wires everything that depends on client options.
func (s *Server) initializeComponents(root string, opts options) {
	workers := opts.CompileWorkers
	if workers <= 0 {
		workers = 2
	}

	comp := s.cfg.Compiler
	if comp == nil {
		pkgs := packages.NewCache(s.cfg.PackageCacheDir)
		comp = typst.NewAnalyzer(pkgs, typst.DiskLoader)
	}

	var exports store.Store
	if s.cfg.ExportStorePath != "" {
		opened, err := store.NewSQLiteStore(s.cfg.ExportStorePath)
		if err != nil {
			logger.Warningf("export store disabled: %v", err)
		} else {
			exports = opened
		}
	}

	cacheOpts := []cache.Option{cache.WithGraphRefresher(s.index)}
	if opts.MaxCacheEntries > 0 {
		cacheOpts = append(cacheOpts, cache.WithMaxEntries(opts.MaxCacheEntries))
	}
	if exports != nil {
		cacheOpts = append(cacheOpts, cache.WithExportStore(exports))
	}
	c := cache.New(comp, cache.ProviderFunc(s.source), cacheOpts...)

	s.mu.Lock()
	s.root = root
	s.comp = comp
	s.exports = exports
	s.cache = c
	s.resolver = symbols.NewResolver(c)
	s.sched = scheduler.New(workers, 64)
	s.mu.Unlock()
}

func (s *Server) ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache != nil
}
