// Package symbols derives the workspace-wide table of globally visible
// names from compilation cache state. The table is never cached here:
// every call re-merges, so it can not go stale independently of the
// compilation cache.
package symbols

import (
	"context"
	"sort"

	"typstd/internal/cache"
	"typstd/internal/compiler"
	"typstd/internal/workspace"
)

// Resolver merges unit exports into a global symbol table.
type Resolver struct {
	cache *cache.Cache
}

func NewResolver(c *cache.Cache) *Resolver {
	return &Resolver{cache: c}
}

// GlobalSymbols returns the merged symbols of all given units, compiling
// any unit that neither the cache nor the persistent store can answer
// for. Duplicate names are all kept; callers decide how to present
// ambiguity. The result is ordered by defining document path, then
// source position.
func (r *Resolver) GlobalSymbols(ctx context.Context, units []*workspace.Unit) ([]compiler.Symbol, error) {
	var merged []compiler.Symbol
	seen := make(map[symbolIdentity]struct{})

	var firstErr error
	for _, unit := range units {
		exports, err := r.cache.Exports(ctx, unit)
		if err != nil {
			// One unit's failure must not hide the others' symbols.
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, sym := range exports {
			id := identity(sym)
			if _, dup := seen[id]; dup {
				// The same definition reached through two units is one
				// symbol, not an ambiguity.
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, sym)
		}
	}
	if merged == nil && firstErr != nil {
		return nil, firstErr
	}

	Sort(merged)
	return merged, nil
}

// Lookup returns every definition of name across the given units.
func (r *Resolver) Lookup(ctx context.Context, units []*workspace.Unit, name string) ([]compiler.Symbol, error) {
	all, err := r.GlobalSymbols(ctx, units)
	if err != nil {
		return nil, err
	}
	var matches []compiler.Symbol
	for _, sym := range all {
		if sym.Name == name {
			matches = append(matches, sym)
		}
	}
	return matches, nil
}

// Sort orders symbols by document path, then position, then name.
func Sort(symbols []compiler.Symbol) {
	sort.Slice(symbols, func(i, j int) bool {
		a, b := symbols[i], symbols[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Range.Start.Line != b.Range.Start.Line {
			return a.Range.Start.Line < b.Range.Start.Line
		}
		if a.Range.Start.Character != b.Range.Start.Character {
			return a.Range.Start.Character < b.Range.Start.Character
		}
		return a.Name < b.Name
	})
}

type symbolIdentity struct {
	name string
	kind compiler.SymbolKind
	path string
	pos  compiler.Position
}

func identity(sym compiler.Symbol) symbolIdentity {
	return symbolIdentity{
		name: sym.Name,
		kind: sym.Kind,
		path: sym.Path,
		pos:  sym.Range.Start,
	}
}
