package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherDetectsFileWrite(t *testing.T) {
	dir := t.TempDir()

	w, err := New(Config{Roots: []string{dir}, Debounce: 10 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	select {
	case ev := <-w.Events():
		if ev.Path != path {
			t.Errorf("Event.Path = %q, want %q", ev.Path, path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watcher event")
	}
}

func TestWatcherAnnotatesSizeOnCreate(t *testing.T) {
	dir := t.TempDir()

	w, err := New(Config{Roots: []string{dir}, Debounce: 10 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "sized.txt")
	content := []byte("hello world")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	select {
	case ev := <-w.Events():
		if ev.Size == nil {
			t.Fatal("Event.Size = nil, want populated size for a created file")
		}
		if *ev.Size != int64(len(content)) {
			t.Errorf("Event.Size = %d, want %d", *ev.Size, len(content))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watcher event")
	}
}

func TestWatcherDoubleStartWarns(t *testing.T) {
	dir := t.TempDir()
	w, err := New(Config{Roots: []string{dir}}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	if err := w.Start(); err != nil {
		t.Errorf("second Start() error = %v, want nil (no-op with warning)", err)
	}
}

func TestWatcherRateLimitDropsExcessEvents(t *testing.T) {
	dir := t.TempDir()
	w, err := New(Config{Roots: []string{dir}, Debounce: time.Millisecond, MaxEventsPerSecond: 1}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	for i := 0; i < 5; i++ {
		path := filepath.Join(dir, "f"+string(rune('a'+i))+".txt")
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)
	stats := w.Stats()
	if stats.Dropped == 0 {
		t.Error("Stats().Dropped = 0, want > 0 under a 1/sec rate limit with 5 writes")
	}
}

func TestFilteredOutByExtension(t *testing.T) {
	w := &Watcher{cfg: Config{IgnoreExtensions: []string{".tmp"}}}
	if !w.filteredOut("/some/path/file.tmp") {
		t.Error("filteredOut() = false, want true for .tmp extension")
	}
	if w.filteredOut("/some/path/file.txt") {
		t.Error("filteredOut() = true, want false for .txt extension")
	}
}
