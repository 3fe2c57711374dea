// Package compiler defines the capability boundary to the markup
// compiler. The server consumes it as a pure function from source
// content to compiled output, which is what makes memoization sound.
package compiler

import (
	"context"

	"typstd/internal/fingerprint"
)

// Position is a zero-based source location (UTF-16 character offset).
type Position struct {
	Line      uint32
	Character uint32
}

// Range spans two positions within one file.
type Range struct {
	Start Position
	End   Position
}

// Severity of a diagnostic.
type Severity int

const (
	SeverityError Severity = iota + 1
	SeverityWarning
	SeverityInfo
)

// Diagnostic is a compiler finding attributed to a file.
type Diagnostic struct {
	Path     string
	Range    Range
	Severity Severity
	Message  string
}

// SymbolKind classifies globally visible names.
type SymbolKind int

const (
	// SymbolLabel is a document label such as <intro>.
	SymbolLabel SymbolKind = iota + 1
	// SymbolBibKey is a bibliography entry key.
	SymbolBibKey
	// SymbolBinding is an exported let binding.
	SymbolBinding
)

func (k SymbolKind) String() string {
	switch k {
	case SymbolLabel:
		return "label"
	case SymbolBibKey:
		return "bibliography key"
	case SymbolBinding:
		return "binding"
	default:
		return "symbol"
	}
}

// Symbol is a name resolvable from outside the file defining it.
type Symbol struct {
	Name string
	Kind SymbolKind
	// Path of the defining document.
	Path  string
	Range Range
	// Detail is optional extra context, e.g. a bibliography title.
	Detail string
}

// Source is one input file handed to the compiler.
type Source struct {
	Path        string
	Text        string
	Fingerprint fingerprint.Fingerprint
}

// Candidate is a completion proposal.
type Candidate struct {
	Label  string
	Kind   SymbolKind
	Detail string
}

// Module is the compiled representation. Opaque to everything outside
// the compiler; completion and hover interpret it.
type Module interface {
	// Entrypoint returns the root document the module was compiled from.
	Entrypoint() string
}

// Output bundles everything one compilation produces.
type Output struct {
	Module      Module
	Diagnostics []Diagnostic
	// Dependencies is the flattened set of files the compiler actually
	// read, entrypoint included. The workspace index diffs it to keep
	// unit membership current.
	Dependencies []string
	// Exports are the globally visible symbols defined across the unit.
	Exports []Symbol
}

// Compiler is the consumed compiler capability. Implementations must be
// deterministic over identical inputs.
type Compiler interface {
	// Compile builds the unit rooted at entrypoint. sources carries the
	// live text of open documents; anything else is read from disk.
	Compile(ctx context.Context, entrypoint string, sources map[string]Source) (*Output, error)

	// Complete proposes candidates at a position within a compiled module.
	Complete(module Module, path string, pos Position) []Candidate

	// Hover describes the entity at a position, if any.
	Hover(module Module, path string, pos Position) (string, bool)
}
