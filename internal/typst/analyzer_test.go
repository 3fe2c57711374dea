package typst_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"typstd/internal/compiler"
	"typstd/internal/typst"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func compile(t *testing.T, entrypoint string) *compiler.Output {
	t.Helper()
	analyzer := typst.NewAnalyzer(nil, nil)
	out, err := analyzer.Compile(context.Background(), entrypoint, nil)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return out
}

func exportNames(out *compiler.Output, kind compiler.SymbolKind) []string {
	var names []string
	for _, sym := range out.Exports {
		if sym.Kind == kind {
			names = append(names, sym.Name)
		}
	}
	return names
}

func TestCompileExtractsSymbols(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "main.typ", `#import "chapter.typ"
#let thesis-title = "On Caching"
= Introduction <intro>
See @methods and @knuth1997.
#bibliography("refs.yml")
`)
	writeFile(t, dir, "chapter.typ", "== Methods <methods>\n#let helper(x) = x\n")
	writeFile(t, dir, "refs.yml", `knuth1997:
  type: Book
  title: The Art of Computer Programming
`)

	out := compile(t, main)

	// Exports are ordered by defining path, so chapter.typ comes first.
	labels := exportNames(out, compiler.SymbolLabel)
	if len(labels) != 2 || labels[0] != "methods" || labels[1] != "intro" {
		t.Errorf("labels = %v", labels)
	}
	bindings := exportNames(out, compiler.SymbolBinding)
	if len(bindings) != 2 {
		t.Errorf("bindings = %v", bindings)
	}
	keys := exportNames(out, compiler.SymbolBibKey)
	if len(keys) != 1 || keys[0] != "knuth1997" {
		t.Errorf("bibliography keys = %v", keys)
	}

	// All references resolve, so only clean output is expected.
	if len(out.Diagnostics) != 0 {
		t.Errorf("unexpected diagnostics: %v", out.Diagnostics)
	}

	// The bibliography is a contributing file.
	found := false
	for _, dep := range out.Dependencies {
		if filepath.Base(dep) == "refs.yml" {
			found = true
		}
	}
	if !found {
		t.Errorf("bibliography missing from dependency set: %v", out.Dependencies)
	}
}

func TestCompileFlattensCycles(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "a.typ", "#import \"b.typ\"\n<from-a>\n")
	writeFile(t, dir, "b.typ", "#import \"a.typ\"\n<from-b>\n")

	out := compile(t, main)

	if len(out.Dependencies) != 2 {
		t.Fatalf("expected flattened set of 2 files, got %v", out.Dependencies)
	}
	labels := exportNames(out, compiler.SymbolLabel)
	if len(labels) != 2 {
		t.Errorf("cycle lost exports: %v", labels)
	}
}

func TestCompileMissingImport(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "main.typ", "#import \"gone.typ\"\n")

	out := compile(t, main)

	found := false
	for _, diag := range out.Diagnostics {
		if strings.Contains(diag.Message, "gone.typ") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a file-not-found diagnostic, got %v", out.Diagnostics)
	}
}

func TestCompileUnresolvedReference(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "main.typ", "See @nowhere.\n")

	out := compile(t, main)

	if len(out.Diagnostics) != 1 {
		t.Fatalf("expected 1 diagnostic, got %v", out.Diagnostics)
	}
	if out.Diagnostics[0].Severity != compiler.SeverityWarning {
		t.Errorf("unresolved reference should be a warning")
	}
}

func TestCompleteAfterAtSign(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "main.typ", `= Intro <intro>
#let helper = 1
Cite @
`)
	out := compile(t, main)

	// Cursor right after the "@" on line 2.
	candidates := typst.NewAnalyzer(nil, nil).Complete(
		out.Module, main, compiler.Position{Line: 2, Character: 6},
	)
	var labels []string
	for _, c := range candidates {
		labels = append(labels, c.Label)
		if c.Kind == compiler.SymbolBinding {
			t.Errorf("@ completion offered binding %s", c.Label)
		}
	}
	if len(labels) != 1 || labels[0] != "intro" {
		t.Errorf("candidates = %v", labels)
	}
}

func TestHoverOnReference(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "main.typ", "= Methods <methods>\nSee @methods.\n")
	out := compile(t, main)

	info, ok := typst.NewAnalyzer(nil, nil).Hover(
		out.Module, main, compiler.Position{Line: 1, Character: 6},
	)
	if !ok {
		t.Fatal("expected hover info on @methods")
	}
	if !strings.Contains(info, "methods") || !strings.Contains(info, "label") {
		t.Errorf("hover info = %q", info)
	}
}

func TestLiveSourceOverridesDisk(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "main.typ", "<disk-label>\n")

	live := compiler.Source{Path: main, Text: "<live-label>\n"}
	analyzer := typst.NewAnalyzer(nil, nil)
	out, err := analyzer.Compile(context.Background(), main, map[string]compiler.Source{main: live})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	labels := exportNames(out, compiler.SymbolLabel)
	if len(labels) != 1 || labels[0] != "live-label" {
		t.Errorf("live text not preferred over disk: %v", labels)
	}
}
