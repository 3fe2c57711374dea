package lsp

import (
	con "context"
	"fmt"
	"strings"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"typstd/internal/compiler"
	"typstd/internal/symbols"
)

const maxWorkspaceSymbols = 128

func (s *Server) textDocumentCompletion(
	context *glsp.Context,
	params *protocol.CompletionParams,
) (any, error) {
	path, pos, err := s.requestTarget(params.TextDocument.URI, params.Position)
	if err != nil {
		return nil, err
	}

	var items []protocol.CompletionItem
	seen := make(map[string]struct{})
	for _, unit := range s.unitsFor(path) {
		result, err := s.cacheHandle().Get(requestContext(context), unit)
		if err != nil {
			logger.Warningf("completion compile of %s: %v", unit.Entrypoint, err)
			continue
		}
		for _, candidate := range s.comp.Complete(result.Output.Module, path, pos) {
			id := fmt.Sprintf("%d:%s", candidate.Kind, candidate.Label)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			items = append(items, toCompletionItem(candidate))
		}
	}
	return items, nil
}

func (s *Server) textDocumentHover(
	context *glsp.Context,
	params *protocol.HoverParams,
) (*protocol.Hover, error) {
	path, pos, err := s.requestTarget(params.TextDocument.URI, params.Position)
	if err != nil {
		return nil, err
	}

	for _, unit := range s.unitsFor(path) {
		result, err := s.cacheHandle().Get(requestContext(context), unit)
		if err != nil {
			logger.Warningf("hover compile of %s: %v", unit.Entrypoint, err)
			continue
		}
		if text, ok := s.comp.Hover(result.Output.Module, path, pos); ok {
			return &protocol.Hover{
				Contents: protocol.MarkupContent{
					Kind:  protocol.MarkupKindPlainText,
					Value: text,
				},
			}, nil
		}
	}
	return nil, nil
}

// workspaceSymbol answers through the resolver's merged table. With no
// units registered yet, persisted exports from an earlier session serve
// as the cold fallback.
func (s *Server) workspaceSymbol(
	context *glsp.Context,
	params *protocol.WorkspaceSymbolParams,
) ([]protocol.SymbolInformation, error) {
	if !s.ready() {
		return nil, fmt.Errorf("%w: server not initialized", ErrInvalidRequest)
	}

	s.mu.RLock()
	resolver := s.resolver
	exports := s.exports
	s.mu.RUnlock()

	merged, err := resolver.GlobalSymbols(requestContext(context), s.index.Units())
	if err != nil {
		logger.Warningf("workspace symbols: %v", err)
	}
	if len(merged) == 0 && exports != nil {
		stored, err := exports.AllExports()
		if err != nil {
			logger.Warningf("reading stored exports: %v", err)
		} else {
			merged = stored
			symbols.Sort(merged)
		}
	}

	var info []protocol.SymbolInformation
	for _, sym := range merged {
		if params.Query != "" && !strings.Contains(strings.ToLower(sym.Name), strings.ToLower(params.Query)) {
			continue
		}
		info = append(info, protocol.SymbolInformation{
			Name: sym.Name,
			Kind: toProtocolSymbolKind(sym.Kind),
			Location: protocol.Location{
				URI:   pathToURI(sym.Path),
				Range: toProtocolRange(sym.Range),
			},
		})
		if len(info) == maxWorkspaceSymbols {
			break
		}
	}
	return info, nil
}

// Diagnostics compiles the owning units of the document and returns the
// findings attributed to it. Push-style clients receive the same set via
// publishDiagnostics; this is the pull-style answer.
func (s *Server) Diagnostics(ctx con.Context, uri protocol.DocumentUri) ([]protocol.Diagnostic, error) {
	path, _, err := s.requestTarget(uri, protocol.Position{})
	if err != nil {
		return nil, err
	}

	type identity struct {
		rng     protocol.Range
		message string
	}
	seen := make(map[identity]struct{})
	diags := []protocol.Diagnostic{}
	for _, unit := range s.unitsFor(path) {
		result, err := s.cacheHandle().Get(ctx, unit)
		if err != nil {
			logger.Warningf("diagnostics compile of %s: %v", unit.Entrypoint, err)
			continue
		}
		for _, diag := range result.Output.Diagnostics {
			if diag.Path != path {
				continue
			}
			converted := toProtocolDiagnostic(diag)
			id := identity{rng: converted.Range, message: converted.Message}
			if _, dup := seen[id]; dup {
				// The same finding reached through two owning units.
				continue
			}
			seen[id] = struct{}{}
			diags = append(diags, converted)
		}
	}
	return diags, nil
}

func requestContext(context *glsp.Context) con.Context {
	if context != nil && context.Context != nil {
		return context.Context
	}
	return con.Background()
}

// requestTarget validates a positional request against the document
// store. Requests for documents that are not open are invalid.
func (s *Server) requestTarget(uri protocol.DocumentUri, pos protocol.Position) (string, compiler.Position, error) {
	if !s.ready() {
		return "", compiler.Position{}, fmt.Errorf("%w: server not initialized", ErrInvalidRequest)
	}
	path, err := uriToPath(string(uri))
	if err != nil {
		return "", compiler.Position{}, err
	}
	if !s.docs.IsOpen(path) {
		return "", compiler.Position{}, fmt.Errorf("%w: document not open: %s", ErrInvalidRequest, path)
	}
	return path, compiler.Position{Line: pos.Line, Character: pos.Character}, nil
}

func toCompletionItem(candidate compiler.Candidate) protocol.CompletionItem {
	kind := protocol.CompletionItemKindReference
	if candidate.Kind == compiler.SymbolBinding {
		kind = protocol.CompletionItemKindFunction
	}
	item := protocol.CompletionItem{
		Label: candidate.Label,
		Kind:  &kind,
	}
	if candidate.Detail != "" {
		detail := candidate.Detail
		item.Detail = &detail
	}
	return item
}

func toProtocolSymbolKind(kind compiler.SymbolKind) protocol.SymbolKind {
	switch kind {
	case compiler.SymbolBinding:
		return protocol.SymbolKindFunction
	default:
		return protocol.SymbolKindKey
	}
}
