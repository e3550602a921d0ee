package walker

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/lucho00cuba/fimwatch/internal/ignore"
)

func TestWalkFindsRegularFiles(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "a.txt"), "a")
	mustWrite(t, filepath.Join(dir, "sub", "b.txt"), "b")

	w := New([]string{dir}, nil, nil)
	paths, errs := w.Walk()
	if len(errs) != 0 {
		t.Fatalf("Walk() errors = %v", errs)
	}

	if len(paths) != 2 {
		t.Fatalf("Walk() found %d paths, want 2: %v", len(paths), paths)
	}
	if !sort.StringsAreSorted(paths) {
		t.Error("Walk() result is not sorted")
	}
}

func TestWalkExcludesMatchedPaths(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "keep.txt"), "a")
	mustWrite(t, filepath.Join(dir, "node_modules", "pkg.js"), "b")

	matcher := ignore.NewPatternMatcher([]string{"node_modules"})
	w := New([]string{dir}, matcher, nil)
	paths, errs := w.Walk()
	if len(errs) != 0 {
		t.Fatalf("Walk() errors = %v", errs)
	}
	if len(paths) != 1 {
		t.Fatalf("Walk() found %d paths, want 1: %v", len(paths), paths)
	}
	if filepath.Base(paths[0]) != "keep.txt" {
		t.Errorf("Walk() found %q, want keep.txt", paths[0])
	}
}

func TestWalkDirSymlinkNotTraversed(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	if err := os.Mkdir(real, 0o755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	mustWrite(t, filepath.Join(real, "f.txt"), "x")

	link := filepath.Join(dir, "link")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	w := New([]string{dir}, nil, nil)
	paths, errs := w.Walk()
	if len(errs) != 0 {
		t.Fatalf("Walk() errors = %v", errs)
	}

	count := 0
	for _, p := range paths {
		if filepath.Base(p) == "f.txt" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("found f.txt %d times via real+symlinked dir, want 1 (no traversal through dir symlink)", count)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}
