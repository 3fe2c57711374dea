package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"typstd/internal/cache"
	"typstd/internal/compiler"
	"typstd/internal/document"
	"typstd/internal/scheduler"
	"typstd/internal/workspace"
)

func (s *Server) initialize(
	context *glsp.Context,
	params *protocol.InitializeParams,
) (any, error) {
	var opts options
	if params.InitializationOptions != nil {
		raw, err := json.Marshal(params.InitializationOptions)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("bad initialization options: %w", err)
		}
	}

	root := s.cfg.Root
	if params.RootURI != nil {
		parsed, err := uriToPath(string(*params.RootURI))
		if err != nil {
			return nil, err
		}
		root = parsed
	}

	s.initializeComponents(root, opts)
	s.mu.Lock()
	s.notify = context.Notify
	s.mu.Unlock()

	if root != "" {
		s.registerManifestIn(root)
	}
	// Warm manifest units in the background so cross-file symbols are
	// available before their entrypoints are ever opened.
	for _, unit := range s.index.Units() {
		s.scheduleCompile(unit)
	}

	syncKind := protocol.TextDocumentSyncKindIncremental
	capabilities := s.handler.CreateServerCapabilities()
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: &protocol.True,
		Change:    &syncKind,
	}
	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"@", "#"},
	}

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lsName,
			Version: &version,
		},
	}, nil
}

func (s *Server) initialized(context *glsp.Context, params *protocol.InitializedParams) error {
	logger.Info("client initialized")
	return nil
}

func (s *Server) shutdown(context *glsp.Context) error {
	s.mu.Lock()
	sched := s.sched
	exports := s.exports
	s.sched = nil
	s.exports = nil
	s.mu.Unlock()

	if sched != nil {
		if err := sched.Stop(); err != nil {
			logger.Warningf("stopping scheduler: %v", err)
		}
	}
	if exports != nil {
		if err := exports.Close(); err != nil {
			logger.Warningf("closing export store: %v", err)
		}
	}
	return nil
}

func (s *Server) setTrace(context *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

func (s *Server) textDocumentDidOpen(
	context *glsp.Context,
	params *protocol.DidOpenTextDocumentParams,
) error {
	path, err := uriToPath(string(params.TextDocument.URI))
	if err != nil {
		return err
	}
	if err := s.docs.Open(path, params.TextDocument.Text, params.TextDocument.Version); err != nil {
		return err
	}
	s.registerManifestIn(filepath.Dir(path))

	s.mu.Lock()
	s.notify = context.Notify
	s.mu.Unlock()

	for _, unit := range s.unitsFor(path) {
		s.scheduleCompile(unit)
	}
	return nil
}

func (s *Server) textDocumentDidChange(
	context *glsp.Context,
	params *protocol.DidChangeTextDocumentParams,
) error {
	path, err := uriToPath(string(params.TextDocument.URI))
	if err != nil {
		return err
	}

	edits := make([]document.Edit, 0, len(params.ContentChanges))
	for _, raw := range params.ContentChanges {
		switch change := raw.(type) {
		case protocol.TextDocumentContentChangeEvent:
			edits = append(edits, document.Edit{
				Range: &document.Range{
					Start: document.Position{
						Line:      change.Range.Start.Line,
						Character: change.Range.Start.Character,
					},
					End: document.Position{
						Line:      change.Range.End.Line,
						Character: change.Range.End.Character,
					},
				},
				Text: change.Text,
			})
		case protocol.TextDocumentContentChangeEventWhole:
			edits = append(edits, document.Edit{Text: change.Text})
		default:
			return fmt.Errorf("unexpected change event type %T", raw)
		}
	}

	s.mu.Lock()
	s.notify = context.Notify
	s.mu.Unlock()

	// The store rejects out-of-order versions without mutating; the
	// client re-sends from a known state.
	return s.docs.ApplyEdit(path, params.TextDocument.Version, edits)
}

func (s *Server) textDocumentDidClose(
	context *glsp.Context,
	params *protocol.DidCloseTextDocumentParams,
) error {
	path, err := uriToPath(string(params.TextDocument.URI))
	if err != nil {
		return err
	}
	if err := s.docs.Close(path); err != nil {
		return err
	}
	// Clear the client's diagnostics for the closed document; nothing is
	// published for it afterwards.
	context.Notify("textDocument/publishDiagnostics", protocol.PublishDiagnosticsParams{
		URI:         params.TextDocument.URI,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// workspaceDidChangeWatchedFiles tracks manifest files: a deleted
// manifest drops its units and their cache entries, a created or changed
// one is re-registered.
func (s *Server) workspaceDidChangeWatchedFiles(
	context *glsp.Context,
	params *protocol.DidChangeWatchedFilesParams,
) error {
	if !s.ready() {
		return nil
	}
	for _, event := range params.Changes {
		path, err := uriToPath(string(event.URI))
		if err != nil || filepath.Base(path) != workspace.ManifestName {
			continue
		}
		if event.Type == protocol.FileChangeTypeDeleted {
			for _, entrypoint := range s.index.RemoveManifest(path) {
				s.cacheHandle().Evict(entrypoint)
			}
			continue
		}
		if _, err := s.index.RegisterManifest(path); err != nil {
			logger.Warningf("manifest %s: %v", path, err)
		}
	}
	return nil
}

// registerManifestIn indexes the manifest governing dir, if any.
func (s *Server) registerManifestIn(dir string) {
	manifestPath, ok := workspace.FindManifest(dir)
	if !ok {
		return
	}
	if _, err := s.index.RegisterManifest(manifestPath); err != nil {
		logger.Warningf("manifest %s: %v", manifestPath, err)
	}
}

// scheduleCompile queues a background compile of the unit followed by
// diagnostics publication. Bursts of edits to one unit collapse into a
// single queued run.
func (s *Server) scheduleCompile(unit *workspace.Unit) {
	s.mu.RLock()
	sched, c, notify := s.sched, s.cache, s.notify
	s.mu.RUnlock()
	if sched == nil || c == nil {
		return
	}

	task := scheduler.Task{
		Key: "compile:" + unit.Entrypoint,
		Run: func(ctx context.Context) error {
			result, err := c.Get(ctx, unit)
			if err != nil {
				return err
			}
			s.publishDiagnostics(notify, result)
			return nil
		},
	}
	if err := sched.Submit(task); err != nil && !errors.Is(err, scheduler.ErrStopped) {
		logger.Warningf("scheduling compile of %s: %v", unit.Entrypoint, err)
	}
}

// publishDiagnostics reports the result's findings for every open
// contributing document. A document whose content moved on since the
// compile is skipped; the recompile already queued behind it will
// publish against the newer text.
func (s *Server) publishDiagnostics(notify glsp.NotifyFunc, result *cache.Result) {
	if notify == nil {
		return
	}

	byPath := make(map[string][]protocol.Diagnostic)
	for path := range result.Sources {
		if s.docs.IsOpen(path) {
			byPath[path] = []protocol.Diagnostic{}
		}
	}
	for _, diag := range result.Output.Diagnostics {
		if _, open := byPath[diag.Path]; !open {
			continue
		}
		byPath[diag.Path] = append(byPath[diag.Path], toProtocolDiagnostic(diag))
	}

	for path, diags := range byPath {
		snap, err := s.docs.Snapshot(path)
		if err != nil || snap.Fingerprint != result.Sources[path].Fingerprint {
			continue
		}
		notify("textDocument/publishDiagnostics", protocol.PublishDiagnosticsParams{
			URI:         pathToURI(path),
			Diagnostics: diags,
		})
	}
}

func toProtocolDiagnostic(diag compiler.Diagnostic) protocol.Diagnostic {
	severity := protocol.DiagnosticSeverityError
	switch diag.Severity {
	case compiler.SeverityWarning:
		severity = protocol.DiagnosticSeverityWarning
	case compiler.SeverityInfo:
		severity = protocol.DiagnosticSeverityInformation
	}
	source := lsName
	return protocol.Diagnostic{
		Range:    toProtocolRange(diag.Range),
		Severity: &severity,
		Source:   &source,
		Message:  diag.Message,
	}
}

func toProtocolRange(r compiler.Range) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{Line: r.Start.Line, Character: r.Start.Character},
		End:   protocol.Position{Line: r.End.Line, Character: r.End.Character},
	}
}
