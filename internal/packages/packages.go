// Package packages resolves remote markup packages to local paths
// through a content-addressed cache directory, fetching and extracting
// tarballs on first use.
package packages

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	namespace = "preview"
	userAgent = "typstd"
)

// ErrFetch is returned when a package cannot be downloaded or extracted.
// It surfaces as an unresolved-import diagnostic, never as a request
// failure.
var ErrFetch = errors.New("package fetch failed")

// Cache looks up packages under root, downloading missing ones.
type Cache struct {
	root    string
	baseURL string
	client  *http.Client
}

// NewCache creates a package cache rooted at dir. An empty dir selects
// the user cache directory.
func NewCache(dir string) *Cache {
	if dir == "" {
		if base, err := os.UserCacheDir(); err == nil {
			dir = filepath.Join(base, "typstd", "packages")
		} else {
			dir = filepath.Join(os.TempDir(), "typstd", "packages")
		}
	}
	return &Cache{
		root:    dir,
		baseURL: "https://packages.typst.org",
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// ParseSpec splits an import string of the form "@preview/name:1.2.3".
func ParseSpec(spec string) (name, version string, ok bool) {
	rest, found := strings.CutPrefix(spec, "@"+namespace+"/")
	if !found {
		return "", "", false
	}
	name, version, found = strings.Cut(rest, ":")
	if !found || name == "" || version == "" {
		return "", "", false
	}
	return name, version, true
}

// Resolve returns the local directory of a package, fetching it if it is
// not cached yet.
func (c *Cache) Resolve(name, version string) (string, error) {
	dir := filepath.Join(c.root, namespace, name, version)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir, nil
	}

	url := fmt.Sprintf("%s/%s/%s-%s.tar.gz", c.baseURL, namespace, name, version)
	if err := c.fetch(url, dir); err != nil {
		return "", fmt.Errorf("%w: %s:%s: %v", ErrFetch, name, version, err)
	}
	return dir, nil
}

// fetch downloads a tarball and unpacks it into dest. A failed
// extraction removes the partial directory so the next resolve retries.
func (c *Cache) fetch(url, dest string) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if err := extract(resp.Body, dest); err != nil {
		os.RemoveAll(dest)
		return err
	}
	return nil
}

func extract(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()

	archive := tar.NewReader(gz)
	for {
		header, err := archive.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := sanitizePath(dest, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(file, archive); err != nil {
				file.Close()
				return err
			}
			if err := file.Close(); err != nil {
				return err
			}
		}
	}
}

// sanitizePath rejects entries escaping the destination directory.
func sanitizePath(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.Clean(name))
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry escapes destination: %s", name)
	}
	return target, nil
}
