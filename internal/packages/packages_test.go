package packages_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"typstd/internal/packages"
)

func TestParseSpec(t *testing.T) {
	cases := []struct {
		spec          string
		name, version string
		ok            bool
	}{
		{"@preview/cetz:0.2.2", "cetz", "0.2.2", true},
		{"@preview/polylux:0.3.1", "polylux", "0.3.1", true},
		{"@preview/noversion", "", "", false},
		{"@local/cetz:0.2.2", "", "", false},
		{"cetz:0.2.2", "", "", false},
		{"@preview/:0.1.0", "", "", false},
	}
	for _, tc := range cases {
		name, version, ok := packages.ParseSpec(tc.spec)
		if name != tc.name || version != tc.version || ok != tc.ok {
			t.Errorf("ParseSpec(%q) = %q, %q, %v; want %q, %q, %v",
				tc.spec, name, version, ok, tc.name, tc.version, tc.ok)
		}
	}
}

func TestResolveCachedPackage(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "preview", "cetz", "0.2.2")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	// A cached package resolves without touching the network; the cache
	// has no server to talk to here, so a fetch attempt would fail.
	cache := packages.NewCache(root)
	resolved, err := cache.Resolve("cetz", "0.2.2")
	if err != nil {
		t.Fatalf("Resolve failed for cached package: %v", err)
	}
	if resolved != dir {
		t.Errorf("Resolve = %s, want %s", resolved, dir)
	}
}

func TestResolveMissingPackageFails(t *testing.T) {
	cache := packages.NewCache(t.TempDir())
	_, err := cache.Resolve("definitely-not-a-package", "9.9.9")
	if !errors.Is(err, packages.ErrFetch) {
		t.Errorf("expected ErrFetch, got %v", err)
	}
}
