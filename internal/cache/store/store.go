// Package store persists unit exports across server restarts so symbol
// queries can be answered before the first compile.
package store

import (
	"errors"

	"typstd/internal/compiler"
	"typstd/internal/fingerprint"
)

var ErrNotFound = errors.New("not found in store")

// Store is the persistent export store. Implementations must tolerate
// concurrent readers.
type Store interface {
	// PutExports replaces the stored exports for a unit at the given
	// aggregate fingerprint.
	PutExports(entrypoint string, fp fingerprint.Fingerprint, exports []compiler.Symbol) error
	// Exports returns the stored exports if the stored fingerprint still
	// matches, ErrNotFound otherwise.
	Exports(entrypoint string, fp fingerprint.Fingerprint) ([]compiler.Symbol, error)
	// AllExports returns every stored export regardless of freshness,
	// used for workspace-wide symbol search before units are compiled.
	AllExports() ([]compiler.Symbol, error)
	// DeleteUnit drops a unit and its exports.
	DeleteUnit(entrypoint string) error
	Close() error
}
