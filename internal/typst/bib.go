package typst

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"typstd/internal/compiler"
)

// parseBibliography extracts entry keys from a hayagriva YAML file. Each
// top-level mapping key becomes a bibliography-key symbol located at its
// definition site.
func parseBibliography(path string, data []byte) ([]compiler.Symbol, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing bibliography %s: %w", path, err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("bibliography %s: expected a mapping at top level", path)
	}

	var symbols []compiler.Symbol
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		pos := compiler.Position{
			Line:      uint32(key.Line - 1),
			Character: uint32(key.Column - 1),
		}
		symbols = append(symbols, compiler.Symbol{
			Name: key.Value,
			Kind: compiler.SymbolBibKey,
			Path: path,
			Range: compiler.Range{
				Start: pos,
				End:   compiler.Position{Line: pos.Line, Character: pos.Character + u16len(key.Value)},
			},
			Detail: entryTitle(value),
		})
	}
	return symbols, nil
}

func entryTitle(entry *yaml.Node) string {
	if entry.Kind != yaml.MappingNode {
		return ""
	}
	for i := 0; i+1 < len(entry.Content); i += 2 {
		if entry.Content[i].Value == "title" {
			return entry.Content[i+1].Value
		}
	}
	return ""
}
