package typst

import (
	"regexp"
	"strings"
	"unicode/utf16"

	"typstd/internal/compiler"
)

var (
	reImport = regexp.MustCompile(`#(?:import|include)\s+"([^"]+)"`)
	reBib    = regexp.MustCompile(`#bibliography\(\s*"([^"]+)"`)
	reLabel  = regexp.MustCompile(`<([A-Za-z][A-Za-z0-9_.-]*)>`)
	reLet    = regexp.MustCompile(`#let\s+([A-Za-z_][A-Za-z0-9_-]*)`)
	reRef    = regexp.MustCompile(`@([A-Za-z][A-Za-z0-9_:.-]*)`)
)

// fileRef is a quoted path or package spec found in a source file.
type fileRef struct {
	spec string
	rng  compiler.Range
}

// reference is a @name usage site.
type reference struct {
	name string
	rng  compiler.Range
}

// fileScan is the per-file result of a single scanner pass.
type fileScan struct {
	path     string
	imports  []fileRef
	bibs     []fileRef
	labels   []compiler.Symbol
	bindings []compiler.Symbol
	refs     []reference
}

// u16len is the UTF-16 length of a UTF-8 string, used for protocol
// character offsets.
func u16len(s string) uint32 {
	return uint32(len(utf16.Encode([]rune(s))))
}

func lineRange(line string, lineNo uint32, startByte, endByte int) compiler.Range {
	return compiler.Range{
		Start: compiler.Position{Line: lineNo, Character: u16len(line[:startByte])},
		End:   compiler.Position{Line: lineNo, Character: u16len(line[:endByte])},
	}
}

// scanFile extracts imports, bibliography calls, labels, let bindings
// and reference sites from one document.
func scanFile(path, text string) *fileScan {
	scan := &fileScan{path: path}

	for lineNo, line := range strings.Split(text, "\n") {
		no := uint32(lineNo)

		for _, m := range reImport.FindAllStringSubmatchIndex(line, -1) {
			scan.imports = append(scan.imports, fileRef{
				spec: line[m[2]:m[3]],
				rng:  lineRange(line, no, m[2], m[3]),
			})
		}
		for _, m := range reBib.FindAllStringSubmatchIndex(line, -1) {
			scan.bibs = append(scan.bibs, fileRef{
				spec: line[m[2]:m[3]],
				rng:  lineRange(line, no, m[2], m[3]),
			})
		}
		for _, m := range reLabel.FindAllStringSubmatchIndex(line, -1) {
			scan.labels = append(scan.labels, compiler.Symbol{
				Name:  line[m[2]:m[3]],
				Kind:  compiler.SymbolLabel,
				Path:  path,
				Range: lineRange(line, no, m[2], m[3]),
			})
		}
		for _, m := range reLet.FindAllStringSubmatchIndex(line, -1) {
			scan.bindings = append(scan.bindings, compiler.Symbol{
				Name:  line[m[2]:m[3]],
				Kind:  compiler.SymbolBinding,
				Path:  path,
				Range: lineRange(line, no, m[2], m[3]),
			})
		}
		for _, m := range reRef.FindAllStringSubmatchIndex(line, -1) {
			start, end := m[2], m[3]
			// "." and ":" may appear inside a reference but not end one;
			// trailing ones belong to the prose.
			for end > start && (line[end-1] == '.' || line[end-1] == ':') {
				end--
			}
			scan.refs = append(scan.refs, reference{
				name: line[start:end],
				rng:  lineRange(line, no, start, end),
			})
		}
	}
	return scan
}
