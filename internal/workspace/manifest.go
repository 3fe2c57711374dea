package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ManifestName is the filename of the project descriptor.
const ManifestName = "typst.toml"

// ErrManifest is returned for unreadable or malformed project files.
// Callers fall back to single-file mode for affected documents.
var ErrManifest = errors.New("manifest error")

type manifestDocument struct {
	Name       string `toml:"name"`
	Entrypoint string `toml:"entrypoint"`
	RootDir    string `toml:"root_dir"`
}

type manifestPackage struct {
	Name       string `toml:"name"`
	Version    string `toml:"version"`
	Entrypoint string `toml:"entrypoint"`
}

// manifest mirrors the typst.toml schema: a list of documents to compile
// plus an optional package stanza.
type manifest struct {
	Documents []manifestDocument `toml:"document"`
	Package   *manifestPackage   `toml:"package"`
}

func loadManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrManifest, path, err)
	}
	var m manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrManifest, path, err)
	}
	return &m, nil
}

// FindManifest walks from dir upwards looking for typst.toml and returns
// the manifest path.
func FindManifest(dir string) (string, bool) {
	for {
		candidate := filepath.Join(dir, ManifestName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
