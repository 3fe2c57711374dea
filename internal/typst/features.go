package typst

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"typstd/internal/compiler"
	"typstd/internal/document"
)

// Complete proposes candidates at a position. After "@" it offers labels
// and bibliography keys; after "#" it offers let bindings; anywhere else
// it offers every export of the unit.
func (a *Analyzer) Complete(m compiler.Module, path string, pos compiler.Position) []compiler.Candidate {
	mod, ok := m.(*module)
	if !ok {
		return nil
	}
	source, ok := mod.sources[path]
	if !ok {
		return nil
	}

	prefix, trigger := completionContext(source.Text, pos)
	var candidates []compiler.Candidate
	for _, sym := range mod.exports {
		switch trigger {
		case '@':
			if sym.Kind == compiler.SymbolBinding {
				continue
			}
		case '#':
			if sym.Kind != compiler.SymbolBinding {
				continue
			}
		}
		if prefix != "" && !strings.HasPrefix(sym.Name, prefix) {
			continue
		}
		candidates = append(candidates, compiler.Candidate{
			Label:  sym.Name,
			Kind:   sym.Kind,
			Detail: candidateDetail(sym),
		})
	}
	return candidates
}

// Hover describes the reference or definition under the cursor.
func (a *Analyzer) Hover(m compiler.Module, path string, pos compiler.Position) (string, bool) {
	mod, ok := m.(*module)
	if !ok {
		return "", false
	}
	scan, ok := mod.scans[path]
	if !ok {
		return "", false
	}

	for _, ref := range scan.refs {
		if !contains(ref.rng, pos) {
			continue
		}
		var parts []string
		for _, sym := range mod.exports {
			if sym.Name != ref.name {
				continue
			}
			parts = append(parts, candidateDetail(sym))
		}
		if len(parts) == 0 {
			return fmt.Sprintf("unresolved reference @%s", ref.name), true
		}
		return strings.Join(parts, "\n"), true
	}
	return "", false
}

func candidateDetail(sym compiler.Symbol) string {
	detail := fmt.Sprintf("%s %s (%s)", sym.Kind, sym.Name, filepath.Base(sym.Path))
	if sym.Detail != "" {
		detail += ": " + sym.Detail
	}
	return detail
}

func contains(rng compiler.Range, pos compiler.Position) bool {
	if pos.Line < rng.Start.Line || pos.Line > rng.End.Line {
		return false
	}
	if pos.Line == rng.Start.Line && pos.Character < rng.Start.Character {
		return false
	}
	if pos.Line == rng.End.Line && pos.Character > rng.End.Character {
		return false
	}
	return true
}

// completionContext returns the word being typed and the sigil that
// introduced it ('@', '#', or 0 when none).
func completionContext(text string, pos compiler.Position) (prefix string, trigger byte) {
	offset := document.OffsetAt(text, document.Position{Line: pos.Line, Character: pos.Character})
	end := offset
	for offset > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:offset])
		if r == '@' || r == '#' {
			return text[offset:end], byte(r)
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !strings.ContainsRune("_-:.", r) {
			break
		}
		offset -= size
	}
	return text[offset:end], 0
}
