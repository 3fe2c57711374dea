// Package cache memoizes compiler invocations keyed by entrypoint
// identity and the aggregate content fingerprint of all contributing
// files. Concurrent lookups for the same key share one compilation.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"typstd/internal/cache/store"
	"typstd/internal/compiler"
	"typstd/internal/fingerprint"
	"typstd/internal/workspace"
)

// Provider hands out the current source of a contributing file: live
// editor text when the document is open, disk content otherwise.
type Provider interface {
	Source(path string) (compiler.Source, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(path string) (compiler.Source, error)

func (f ProviderFunc) Source(path string) (compiler.Source, error) { return f(path) }

// GraphRefresher receives the dependency set reported by a compile so
// unit membership stays current.
type GraphRefresher interface {
	RefreshGraph(entrypoint string, dependencies []string)
}

// Key identifies one cache entry.
type Key struct {
	Entrypoint  string
	Fingerprint fingerprint.Fingerprint
}

func (k Key) String() string {
	return k.Entrypoint + "#" + k.Fingerprint.String()
}

// Result is a cache hit or freshly compiled output together with the key
// and the sources that produced it.
type Result struct {
	Key     Key
	Output  *compiler.Output
	Sources map[string]compiler.Source
}

type entry struct {
	result  *Result
	element *list.Element
}

// Cache is the compilation cache. Entries are invalidated lazily: a
// changed fingerprint simply misses and the stale entry ages out via LRU.
type Cache struct {
	compiler compiler.Compiler
	provider Provider
	graphs   GraphRefresher
	exports  store.Store

	mu         sync.Mutex
	entries    map[Key]*entry
	lru        *list.List
	maxEntries int

	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxEntries bounds the cache to n entries with LRU eviction.
// Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(c *Cache) { c.maxEntries = n }
}

// WithGraphRefresher wires the workspace index for post-compile
// dependency updates.
func WithGraphRefresher(g GraphRefresher) Option {
	return func(c *Cache) { c.graphs = g }
}

// WithExportStore persists exports after every successful compile.
func WithExportStore(s store.Store) Option {
	return func(c *Cache) { c.exports = s }
}

func New(comp compiler.Compiler, provider Provider, opts ...Option) *Cache {
	c := &Cache{
		compiler: comp,
		provider: provider,
		entries:  make(map[Key]*entry),
		lru:      list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the compiled output for the unit at its current content.
// On a miss it compiles once, no matter how many callers arrive while
// the compile is in flight.
func (c *Cache) Get(ctx context.Context, unit *workspace.Unit) (*Result, error) {
	sources, agg, err := c.collect(unit)
	if err != nil {
		return nil, err
	}
	key := Key{Entrypoint: unit.Entrypoint, Fingerprint: agg}

	if result := c.lookup(key); result != nil {
		return result, nil
	}

	value, err, _ := c.group.Do(key.String(), func() (any, error) {
		// A waiter that lost the race to a just-finished flight still
		// finds the fresh entry here.
		if result := c.lookup(key); result != nil {
			return result, nil
		}

		output, err := c.compiler.Compile(ctx, unit.Entrypoint, sources)
		if err != nil {
			return nil, fmt.Errorf("compiling %s: %w", unit.Entrypoint, err)
		}

		if c.graphs != nil {
			c.graphs.RefreshGraph(unit.Entrypoint, output.Dependencies)
		}
		if c.exports != nil {
			if err := c.exports.PutExports(unit.Entrypoint, agg, output.Exports); err != nil {
				// Persistence is advisory; the in-memory entry is
				// authoritative.
				logger.Warningf("persisting exports for %s: %v", unit.Entrypoint, err)
			}
		}

		result := &Result{Key: key, Output: output, Sources: sources}
		c.insert(key, result)
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*Result), nil
}

// Exports returns just the unit's export table. A fresh in-memory entry
// serves it directly; otherwise the persistent store answers when its
// fingerprint still matches, saving the compile. Only a cold miss
// compiles.
func (c *Cache) Exports(ctx context.Context, unit *workspace.Unit) ([]compiler.Symbol, error) {
	_, agg, err := c.collect(unit)
	if err != nil {
		return nil, err
	}
	key := Key{Entrypoint: unit.Entrypoint, Fingerprint: agg}
	if result := c.lookup(key); result != nil {
		return result.Output.Exports, nil
	}
	if c.exports != nil {
		if stored, err := c.exports.Exports(unit.Entrypoint, agg); err == nil {
			return stored, nil
		}
	}
	result, err := c.Get(ctx, unit)
	if err != nil {
		return nil, err
	}
	return result.Output.Exports, nil
}

// Evict drops every entry for an entrypoint, for units that left the
// workspace index.
func (c *Cache) Evict(entrypoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if key.Entrypoint == entrypoint {
			c.lru.Remove(e.element)
			delete(c.entries, key)
		}
	}
	if c.exports != nil {
		if err := c.exports.DeleteUnit(entrypoint); err != nil {
			logger.Warningf("dropping stored exports for %s: %v", entrypoint, err)
		}
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// collect gathers the current sources of all unit members and their
// aggregate fingerprint. A member that cannot be read is skipped; the
// compiler reports it as a diagnostic.
func (c *Cache) collect(unit *workspace.Unit) (map[string]compiler.Source, fingerprint.Fingerprint, error) {
	sources := make(map[string]compiler.Source)
	members := make(map[string]fingerprint.Fingerprint)
	for _, path := range unit.Members() {
		source, err := c.provider.Source(path)
		if err != nil {
			continue
		}
		sources[path] = source
		members[path] = source.Fingerprint
	}
	if _, ok := sources[unit.Entrypoint]; !ok {
		return nil, 0, fmt.Errorf("entrypoint unreadable: %s", unit.Entrypoint)
	}
	return sources, fingerprint.Aggregate(members), nil
}

func (c *Cache) lookup(key Key) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	c.lru.MoveToFront(e.element)
	return e.result
}

func (c *Cache) insert(key Key, result *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.result = result
		c.lru.MoveToFront(e.element)
		return
	}
	c.entries[key] = &entry{result: result, element: c.lru.PushFront(key)}

	for c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(Key))
	}
}
