package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEmptyPath(t *testing.T) {
	f, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(f.Roots) != 0 {
		t.Errorf("Roots = %v, want empty", f.Roots)
	}
}

func TestLoadWithCommentsAndTrailingCommas(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fimwatch.jwcc")
	contents := `{
  // monitored roots
  "roots": ["/srv/www", "/etc"],
  "exclude": ["*.log",],
  "threads": 4,
  "sha256": true,
}`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(f.Roots) != 2 || f.Roots[0] != "/srv/www" {
		t.Errorf("Roots = %v, want [/srv/www /etc]", f.Roots)
	}
	if f.Threads != 4 {
		t.Errorf("Threads = %d, want 4", f.Threads)
	}
	if !f.SHA256 {
		t.Error("SHA256 = false, want true")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.jwcc")
	if err == nil {
		t.Fatal("Load() error = nil, want non-nil for missing file")
	}
}
