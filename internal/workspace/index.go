// Package workspace discovers project manifests and maps documents to
// the compilation units that own them.
package workspace

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
)

// Unit is a compilation unit: an entrypoint document plus every member
// file reachable from it. The member set is flat; cyclic imports are
// fine because only reachability is recorded.
type Unit struct {
	// Name from the manifest, or empty for implicit units.
	Name string
	// Entrypoint is the canonical path of the root document.
	Entrypoint string
	// Root is the directory source paths resolve against.
	Root string
	// Implicit marks a single-document unit synthesized for files
	// outside any known manifest.
	Implicit bool

	members map[string]struct{}
}

// Members returns the unit's member paths, entrypoint included, sorted.
func (u *Unit) Members() []string {
	members := make([]string, 0, len(u.members))
	for path := range u.members {
		members = append(members, path)
	}
	sort.Strings(members)
	return members
}

// Contains reports whether path is a member of the unit.
func (u *Unit) Contains(path string) bool {
	_, ok := u.members[path]
	return ok
}

func (u *Unit) clone() *Unit {
	members := make(map[string]struct{}, len(u.members))
	for path := range u.members {
		members[path] = struct{}{}
	}
	c := *u
	c.members = members
	return &c
}

// Index owns unit definitions and is the sole authority mapping a
// document to its owning units.
type Index struct {
	mu sync.RWMutex
	// units by entrypoint path.
	units map[string]*Unit
	// byMember maps a member path to the entrypoints owning it.
	byMember map[string]map[string]struct{}
	// byManifest tracks which entrypoints a manifest declared, so a
	// removed manifest can drop exactly its own units.
	byManifest map[string][]string
}

func NewIndex() *Index {
	return &Index{
		units:      make(map[string]*Unit),
		byMember:   make(map[string]map[string]struct{}),
		byManifest: make(map[string][]string),
	}
}

// RegisterManifest parses a typst.toml and registers a unit per declared
// document. A manifest with zero documents is valid and yields no units.
func (idx *Index) RegisterManifest(path string) ([]*Unit, error) {
	m, err := loadManifest(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	var registered []*Unit
	var entrypoints []string
	for _, doc := range m.Documents {
		if doc.Entrypoint == "" {
			return nil, fmt.Errorf("%w: document without entrypoint in %s", ErrManifest, path)
		}
		root := dir
		if doc.RootDir != "" {
			if filepath.IsAbs(doc.RootDir) {
				root = filepath.Clean(doc.RootDir)
			} else {
				root = filepath.Join(dir, doc.RootDir)
			}
		}
		entrypoint := filepath.Join(dir, doc.Entrypoint)
		unit := &Unit{
			Name:       doc.Name,
			Entrypoint: entrypoint,
			Root:       root,
			members:    map[string]struct{}{entrypoint: {}},
		}
		if existing, ok := idx.units[entrypoint]; ok {
			// Re-registration keeps the discovered member set.
			unit.members = existing.members
		}
		idx.units[entrypoint] = unit
		idx.link(entrypoint, entrypoint)
		entrypoints = append(entrypoints, entrypoint)
		registered = append(registered, unit.clone())
	}
	idx.byManifest[path] = entrypoints
	return registered, nil
}

// RemoveManifest drops all units a manifest declared. It returns the
// entrypoints of the removed units so cache entries can be evicted.
func (idx *Index) RemoveManifest(path string) []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entrypoints := idx.byManifest[path]
	delete(idx.byManifest, path)
	for _, entrypoint := range entrypoints {
		unit, ok := idx.units[entrypoint]
		if !ok {
			continue
		}
		for member := range unit.members {
			idx.unlink(entrypoint, member)
		}
		delete(idx.units, entrypoint)
	}
	return entrypoints
}

// UnitsFor returns copies of every unit that includes the document as
// entrypoint or member. The result is empty for unmanaged documents;
// callers use ImplicitUnit to still serve single-file requests.
func (idx *Index) UnitsFor(path string) []*Unit {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var units []*Unit
	for entrypoint := range idx.byMember[path] {
		if unit, ok := idx.units[entrypoint]; ok {
			units = append(units, unit.clone())
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Entrypoint < units[j].Entrypoint })
	return units
}

// Units returns a copy of every known unit.
func (idx *Index) Units() []*Unit {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	units := make([]*Unit, 0, len(idx.units))
	for _, unit := range idx.units {
		units = append(units, unit.clone())
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Entrypoint < units[j].Entrypoint })
	return units
}

// RegisterImplicit registers an implicit unit for a document outside any
// manifest, or returns the existing one. Registration is what lets
// RefreshGraph grow the member set as imports are discovered.
func (idx *Index) RegisterImplicit(path string) *Unit {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if unit, ok := idx.units[path]; ok {
		return unit.clone()
	}
	unit := ImplicitUnit(path)
	idx.units[path] = unit
	idx.link(path, path)
	return unit.clone()
}

// RemoveImplicit drops the implicit unit rooted at path, reporting
// whether one existed. Manifest units are never removed this way.
func (idx *Index) RemoveImplicit(path string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	unit, ok := idx.units[path]
	if !ok || !unit.Implicit {
		return false
	}
	for member := range unit.members {
		idx.unlink(path, member)
	}
	delete(idx.units, path)
	return true
}

// ImplicitUnit builds a single-document unit for a file outside any
// manifest. It is not registered; every call derives it fresh.
func ImplicitUnit(path string) *Unit {
	return &Unit{
		Entrypoint: path,
		Root:       filepath.Dir(path),
		Implicit:   true,
		members:    map[string]struct{}{path: {}},
	}
}

// UnitWithMembers is a test seam and store-warming helper building a
// registered-shape unit from an explicit member list.
func UnitWithMembers(entrypoint, root string, members []string) *Unit {
	set := map[string]struct{}{entrypoint: {}}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return &Unit{Entrypoint: entrypoint, Root: root, members: set}
}

// RefreshGraph replaces a unit's member set with the dependency set the
// compiler reported. Membership is unit-local: other units sharing a
// removed member keep it. Unknown entrypoints are ignored.
func (idx *Index) RefreshGraph(entrypoint string, dependencies []string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	unit, ok := idx.units[entrypoint]
	if !ok {
		return
	}

	next := map[string]struct{}{entrypoint: {}}
	for _, dep := range dependencies {
		next[dep] = struct{}{}
	}

	for member := range unit.members {
		if _, keep := next[member]; !keep {
			idx.unlink(entrypoint, member)
		}
	}
	for member := range next {
		idx.link(entrypoint, member)
	}
	unit.members = next
}

func (idx *Index) link(entrypoint, member string) {
	owners, ok := idx.byMember[member]
	if !ok {
		owners = make(map[string]struct{})
		idx.byMember[member] = owners
	}
	owners[entrypoint] = struct{}{}
}

func (idx *Index) unlink(entrypoint, member string) {
	owners, ok := idx.byMember[member]
	if !ok {
		return
	}
	delete(owners, entrypoint)
	if len(owners) == 0 {
		delete(idx.byMember, member)
	}
}
