// Package typst is the bundled analyzer behind the compiler capability.
// It walks the import graph of a unit, extracts globally visible names
// (labels, bibliography keys, let bindings) and reports diagnostics for
// unresolvable references.
package typst

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"typstd/internal/compiler"
	"typstd/internal/fingerprint"
	"typstd/internal/packages"
	"typstd/internal/workspace"
)

// Loader reads a source file that is not open in the editor.
type Loader func(path string) (compiler.Source, error)

// DiskLoader reads sources from the filesystem.
func DiskLoader(path string) (compiler.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return compiler.Source{}, err
	}
	return compiler.Source{
		Path:        path,
		Text:        string(data),
		Fingerprint: fingerprint.Of(data),
	}, nil
}

// Analyzer implements compiler.Compiler.
type Analyzer struct {
	packages *packages.Cache
	load     Loader
}

var _ compiler.Compiler = (*Analyzer)(nil)

func NewAnalyzer(pkgs *packages.Cache, load Loader) *Analyzer {
	if load == nil {
		load = DiskLoader
	}
	return &Analyzer{packages: pkgs, load: load}
}

// module is the compiled unit representation handed back through the
// capability boundary.
type module struct {
	entrypoint string
	sources    map[string]compiler.Source
	scans      map[string]*fileScan
	exports    []compiler.Symbol
}

func (m *module) Entrypoint() string { return m.entrypoint }

// Compile traverses the flattened reachable set from entrypoint. The
// visited set makes cyclic imports terminate; no graph is kept.
func (a *Analyzer) Compile(
	ctx context.Context,
	entrypoint string,
	sources map[string]compiler.Source,
) (*compiler.Output, error) {
	mod := &module{
		entrypoint: entrypoint,
		sources:    make(map[string]compiler.Source),
		scans:      make(map[string]*fileScan),
	}
	out := &compiler.Output{Module: mod}

	visited := make(map[string]struct{})
	// Package-internal files contribute exports but are not reported as
	// dependencies: their content is immutable per version and they are
	// not workspace members.
	external := make(map[string]struct{})
	queue := []importSite{{path: entrypoint}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := queue[0]
		path := item.path
		queue = queue[1:]
		if _, seen := visited[path]; seen {
			continue
		}
		visited[path] = struct{}{}

		source, ok := sources[path]
		if !ok {
			loaded, err := a.load(path)
			if err != nil {
				if path == entrypoint {
					return nil, fmt.Errorf("reading entrypoint %s: %w", path, err)
				}
				// Attributed to the import site so the finding lands in a
				// file the client actually has open.
				out.Diagnostics = append(out.Diagnostics, compiler.Diagnostic{
					Path:     item.from,
					Range:    item.rng,
					Severity: compiler.SeverityError,
					Message:  fmt.Sprintf("file not found: %s", path),
				})
				continue
			}
			source = loaded
		}
		mod.sources[path] = source

		scan := scanFile(path, source.Text)
		mod.scans[path] = scan
		mod.exports = append(mod.exports, scan.labels...)
		mod.exports = append(mod.exports, scan.bindings...)

		for _, imp := range scan.imports {
			target, diag := a.resolveImport(path, imp)
			if diag != nil {
				out.Diagnostics = append(out.Diagnostics, *diag)
				continue
			}
			if target.external {
				external[target.path] = struct{}{}
			}
			queue = append(queue, importSite{path: target.path, from: path, rng: imp.rng})
		}

		for _, bib := range scan.bibs {
			bibPath := resolvePath(path, bib.spec)
			data, err := os.ReadFile(bibPath)
			if err != nil {
				out.Diagnostics = append(out.Diagnostics, compiler.Diagnostic{
					Path:     path,
					Range:    bib.rng,
					Severity: compiler.SeverityError,
					Message:  fmt.Sprintf("bibliography not found: %s", bib.spec),
				})
				continue
			}
			// Bibliography files are contributing files: record them as
			// dependencies so edits invalidate the unit.
			visited[bibPath] = struct{}{}
			mod.sources[bibPath] = compiler.Source{
				Path:        bibPath,
				Text:        string(data),
				Fingerprint: fingerprint.Of(data),
			}
			keys, err := parseBibliography(bibPath, data)
			if err != nil {
				out.Diagnostics = append(out.Diagnostics, compiler.Diagnostic{
					Path:     path,
					Range:    bib.rng,
					Severity: compiler.SeverityError,
					Message:  err.Error(),
				})
				continue
			}
			mod.exports = append(mod.exports, keys...)
		}
	}

	out.Diagnostics = append(out.Diagnostics, a.checkReferences(mod)...)

	for path := range visited {
		if _, pkg := external[path]; !pkg {
			out.Dependencies = append(out.Dependencies, path)
		}
	}
	sort.Strings(out.Dependencies)

	sort.Slice(mod.exports, func(i, j int) bool {
		a, b := mod.exports[i], mod.exports[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Range.Start.Line != b.Range.Start.Line {
			return a.Range.Start.Line < b.Range.Start.Line
		}
		return a.Range.Start.Character < b.Range.Start.Character
	})
	out.Exports = mod.exports
	return out, nil
}

type importTarget struct {
	path     string
	external bool
}

// importSite is a queued file together with the import that reached it.
type importSite struct {
	path string
	from string
	rng  compiler.Range
}

// resolveImport maps an import spec to a file path. Package specs go
// through the package cache; fetch failures become diagnostics.
func (a *Analyzer) resolveImport(from string, imp fileRef) (importTarget, *compiler.Diagnostic) {
	if name, version, ok := packages.ParseSpec(imp.spec); ok {
		if a.packages == nil {
			return importTarget{}, &compiler.Diagnostic{
				Path:     from,
				Range:    imp.rng,
				Severity: compiler.SeverityError,
				Message:  fmt.Sprintf("unresolved import %s: package resolution disabled", imp.spec),
			}
		}
		dir, err := a.packages.Resolve(name, version)
		if err != nil {
			return importTarget{}, &compiler.Diagnostic{
				Path:     from,
				Range:    imp.rng,
				Severity: compiler.SeverityError,
				Message:  fmt.Sprintf("unresolved import %s: %v", imp.spec, err),
			}
		}
		entry, err := packageEntrypoint(dir)
		if err != nil {
			return importTarget{}, &compiler.Diagnostic{
				Path:     from,
				Range:    imp.rng,
				Severity: compiler.SeverityError,
				Message:  fmt.Sprintf("unresolved import %s: %v", imp.spec, err),
			}
		}
		return importTarget{path: entry, external: true}, nil
	}
	if strings.HasPrefix(imp.spec, "@") {
		return importTarget{}, &compiler.Diagnostic{
			Path:     from,
			Range:    imp.rng,
			Severity: compiler.SeverityError,
			Message:  fmt.Sprintf("unresolved import %s: unknown namespace", imp.spec),
		}
	}
	return importTarget{path: resolvePath(from, imp.spec)}, nil
}

// packageEntrypoint reads a package's manifest for its entrypoint file.
func packageEntrypoint(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, workspace.ManifestName))
	if err != nil {
		return "", fmt.Errorf("package manifest missing in %s", dir)
	}
	// Minimal scan: a full manifest parse is not needed for the single
	// entrypoint key of package stanzas.
	for _, line := range strings.Split(string(data), "\n") {
		key, value, found := strings.Cut(line, "=")
		if !found || strings.TrimSpace(key) != "entrypoint" {
			continue
		}
		entry := strings.Trim(strings.TrimSpace(value), `"`)
		if entry != "" {
			return filepath.Join(dir, entry), nil
		}
	}
	return "", fmt.Errorf("package manifest in %s has no entrypoint", dir)
}

func resolvePath(from, spec string) string {
	if filepath.IsAbs(spec) {
		return filepath.Clean(spec)
	}
	return filepath.Join(filepath.Dir(from), spec)
}

// checkReferences reports @name usages with no definition in the unit.
func (a *Analyzer) checkReferences(mod *module) []compiler.Diagnostic {
	defined := make(map[string]struct{}, len(mod.exports))
	for _, sym := range mod.exports {
		defined[sym.Name] = struct{}{}
	}

	var diagnostics []compiler.Diagnostic
	for _, scan := range mod.scans {
		for _, ref := range scan.refs {
			if _, ok := defined[ref.name]; ok {
				continue
			}
			diagnostics = append(diagnostics, compiler.Diagnostic{
				Path:     scan.path,
				Range:    ref.rng,
				Severity: compiler.SeverityWarning,
				Message:  fmt.Sprintf("unresolved reference @%s", ref.name),
			})
		}
	}
	sort.Slice(diagnostics, func(i, j int) bool {
		a, b := diagnostics[i], diagnostics[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Range.Start.Line != b.Range.Start.Line {
			return a.Range.Start.Line < b.Range.Start.Line
		}
		return a.Message < b.Message
	})
	return diagnostics
}
