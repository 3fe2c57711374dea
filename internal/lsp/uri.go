package lsp

import (
	"fmt"
	"net/url"
	"path/filepath"
)

// uriToPath turns a file URI into a cleaned absolute filesystem path.
// Bare paths are accepted too; some clients send them.
func uriToPath(uri string) (string, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("bad document uri %q: %w", uri, err)
	}
	switch parsed.Scheme {
	case "file":
		return filepath.Clean(parsed.Path), nil
	case "":
		return filepath.Clean(uri), nil
	default:
		return "", fmt.Errorf("unsupported uri scheme %q", parsed.Scheme)
	}
}

// pathToURI mirrors uriToPath: the path goes through url.URL so spaces
// and reserved characters come out percent-encoded.
func pathToURI(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}
