// Package document implements the store for live editor documents:
// open/edit/close lifecycle, version tracking and immutable snapshots.
package document

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrStaleEdit is returned when an edit's version does not
	// immediately follow the stored version.
	ErrStaleEdit = errors.New("stale edit")
	// ErrUnknownDocument is returned for operations on a path that was
	// never opened (or was closed).
	ErrUnknownDocument = errors.New("unknown document")
	// ErrAlreadyOpen is returned when opening a path twice.
	ErrAlreadyOpen = errors.New("document already open")
)

// ChangeFunc is called after every successful edit or close so dependent
// state (the workspace index, cached units) can be invalidated.
type ChangeFunc func(path string)

// Store owns the lifetime of every open document.
type Store struct {
	mu       sync.RWMutex
	docs     map[string]*Document
	onChange ChangeFunc
}

func NewStore() *Store {
	return &Store{docs: make(map[string]*Document)}
}

// OnChange registers the invalidation hook. Must be called before the
// store is shared.
func (s *Store) OnChange(fn ChangeFunc) {
	s.onChange = fn
}

// Open registers a document with its initial text.
func (s *Store) Open(path, text string, version int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[path]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyOpen, path)
	}
	s.docs[path] = newDocument(path, text, version)
	return nil
}

// ApplyEdit applies a versioned batch of range edits to an open document.
func (s *Store) ApplyEdit(path string, version int32, edits []Edit) error {
	s.mu.RLock()
	doc, exists := s.docs[path]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownDocument, path)
	}
	if err := doc.applyEdits(version, edits); err != nil {
		return fmt.Errorf("%w: %s version %d", err, path, version)
	}
	if s.onChange != nil {
		s.onChange(path)
	}
	return nil
}

// Close drops a document from the store.
func (s *Store) Close(path string) error {
	s.mu.Lock()
	_, exists := s.docs[path]
	delete(s.docs, path)
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownDocument, path)
	}
	if s.onChange != nil {
		s.onChange(path)
	}
	return nil
}

// Snapshot returns an immutable view of the document's current text.
func (s *Store) Snapshot(path string) (Snapshot, error) {
	s.mu.RLock()
	doc, exists := s.docs[path]
	s.mu.RUnlock()

	if !exists {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownDocument, path)
	}
	return doc.snapshot(), nil
}

// Version returns the current version of an open document.
func (s *Store) Version(path string) (int32, bool) {
	s.mu.RLock()
	doc, exists := s.docs[path]
	s.mu.RUnlock()

	if !exists {
		return 0, false
	}
	snap := doc.snapshot()
	return snap.Version, true
}

// IsOpen reports whether the path is currently open.
func (s *Store) IsOpen(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.docs[path]
	return exists
}

// Paths lists all open documents.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.docs))
	for path := range s.docs {
		paths = append(paths, path)
	}
	return paths
}
