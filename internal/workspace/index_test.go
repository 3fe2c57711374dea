package workspace_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"typstd/internal/workspace"
)

func writeManifest(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, workspace.ManifestName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}
	return path
}

func TestRegisterManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `
[[document]]
name = "thesis"
entrypoint = "main.typ"

[[document]]
name = "slides"
entrypoint = "slides/deck.typ"
`)

	idx := workspace.NewIndex()
	units, err := idx.RegisterManifest(path)
	if err != nil {
		t.Fatalf("RegisterManifest failed: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(units))
	}
	if units[0].Entrypoint != filepath.Join(dir, "main.typ") {
		t.Errorf("entrypoint not resolved relative to manifest dir: %s", units[0].Entrypoint)
	}
	if units[0].Root != dir {
		t.Errorf("expected root %s, got %s", dir, units[0].Root)
	}

	owners := idx.UnitsFor(filepath.Join(dir, "main.typ"))
	if len(owners) != 1 || owners[0].Name != "thesis" {
		t.Errorf("UnitsFor(entrypoint) returned %v", owners)
	}
}

func TestEmptyManifestYieldsNoUnits(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `[package]
name = "mylib"
version = "0.1.0"
entrypoint = "lib.typ"
`)

	idx := workspace.NewIndex()
	units, err := idx.RegisterManifest(path)
	if err != nil {
		t.Fatalf("zero-entrypoint manifest must be valid, got %v", err)
	}
	if len(units) != 0 {
		t.Errorf("expected no units, got %d", len(units))
	}
}

func TestMalformedManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "[[document]\nbroken")

	idx := workspace.NewIndex()
	if _, err := idx.RegisterManifest(path); !errors.Is(err, workspace.ErrManifest) {
		t.Errorf("expected ErrManifest, got %v", err)
	}
}

func TestUnitsForUnknownDocument(t *testing.T) {
	idx := workspace.NewIndex()
	if units := idx.UnitsFor("/stray.typ"); len(units) != 0 {
		t.Errorf("expected empty set, got %v", units)
	}

	implicit := workspace.ImplicitUnit("/stray.typ")
	if !implicit.Implicit || !implicit.Contains("/stray.typ") {
		t.Error("implicit unit must contain its own document")
	}
	if implicit.Root != "/" {
		t.Errorf("implicit root should be the file's directory, got %s", implicit.Root)
	}
}

func TestRefreshGraphIsUnitLocal(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `
[[document]]
entrypoint = "a.typ"

[[document]]
entrypoint = "b.typ"
`)
	idx := workspace.NewIndex()
	if _, err := idx.RegisterManifest(path); err != nil {
		t.Fatalf("RegisterManifest failed: %v", err)
	}

	a := filepath.Join(dir, "a.typ")
	b := filepath.Join(dir, "b.typ")
	shared := filepath.Join(dir, "shared.typ")

	// Both entrypoints import the shared file.
	idx.RefreshGraph(a, []string{shared})
	idx.RefreshGraph(b, []string{shared})

	if owners := idx.UnitsFor(shared); len(owners) != 2 {
		t.Fatalf("expected shared member in 2 units, got %d", len(owners))
	}

	// a drops the import; b must keep its membership.
	idx.RefreshGraph(a, nil)
	owners := idx.UnitsFor(shared)
	if len(owners) != 1 || owners[0].Entrypoint != b {
		t.Errorf("membership is not unit-local: %v", owners)
	}
}

func TestRefreshGraphAcceptsCycles(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "[[document]]\nentrypoint = \"a.typ\"\n")
	idx := workspace.NewIndex()
	if _, err := idx.RegisterManifest(path); err != nil {
		t.Fatalf("RegisterManifest failed: %v", err)
	}

	a := filepath.Join(dir, "a.typ")
	b := filepath.Join(dir, "b.typ")
	// The compiler reports the flattened reachable set of a cyclic
	// import (a -> b -> a); the index only records membership.
	idx.RefreshGraph(a, []string{a, b})

	unit := idx.UnitsFor(a)[0]
	if !unit.Contains(a) || !unit.Contains(b) {
		t.Errorf("flattened cyclic set not recorded: %v", unit.Members())
	}
}

func TestRemoveManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "[[document]]\nentrypoint = \"a.typ\"\n")
	idx := workspace.NewIndex()
	if _, err := idx.RegisterManifest(path); err != nil {
		t.Fatalf("RegisterManifest failed: %v", err)
	}

	removed := idx.RemoveManifest(path)
	if len(removed) != 1 {
		t.Fatalf("expected 1 removed entrypoint, got %d", len(removed))
	}
	if units := idx.UnitsFor(filepath.Join(dir, "a.typ")); len(units) != 0 {
		t.Errorf("unit survived manifest removal: %v", units)
	}
}

func TestFindManifestInAncestor(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[[document]]\nentrypoint = \"main.typ\"\n")
	nested := filepath.Join(dir, "chapters", "deep")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	found, ok := workspace.FindManifest(nested)
	if !ok || found != filepath.Join(dir, workspace.ManifestName) {
		t.Errorf("FindManifest = %q, %v", found, ok)
	}

	if _, ok := workspace.FindManifest(string(filepath.Separator)); ok {
		t.Skip("manifest exists at filesystem root")
	}
}

func TestImplicitUnitGrowsWithDependencies(t *testing.T) {
	idx := workspace.NewIndex()

	unit := idx.RegisterImplicit("/w/a.typ")
	if !unit.Implicit {
		t.Fatal("registered unit must be implicit")
	}
	if again := idx.RegisterImplicit("/w/a.typ"); again.Entrypoint != unit.Entrypoint {
		t.Fatal("re-registration must return the same unit")
	}

	idx.RefreshGraph("/w/a.typ", []string{"/w/a.typ", "/w/b.typ"})
	owners := idx.UnitsFor("/w/b.typ")
	if len(owners) != 1 || owners[0].Entrypoint != "/w/a.typ" {
		t.Fatalf("expected /w/a.typ to own /w/b.typ, got %v", owners)
	}

	if !idx.RemoveImplicit("/w/a.typ") {
		t.Fatal("RemoveImplicit must report the removal")
	}
	if len(idx.UnitsFor("/w/b.typ")) != 0 {
		t.Error("members of a removed implicit unit must be unlinked")
	}
}

func TestRemoveImplicitLeavesManifestUnits(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `
[[document]]
entrypoint = "main.typ"
`)

	idx := workspace.NewIndex()
	if _, err := idx.RegisterManifest(path); err != nil {
		t.Fatal(err)
	}
	entrypoint := filepath.Join(dir, "main.typ")
	if idx.RemoveImplicit(entrypoint) {
		t.Error("a manifest unit must not be removable as implicit")
	}
	if len(idx.UnitsFor(entrypoint)) != 1 {
		t.Error("manifest unit disappeared")
	}
}
