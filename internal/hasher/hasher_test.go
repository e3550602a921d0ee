package hasher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestHashEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "empty.txt", "")

	h := New(Config{UseBLAKE3: true, UseSHA256: true})
	d, err := h.Hash(context.Background(), path)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if d.Primary != emptyBLAKE3 {
		t.Errorf("Primary = %q, want %q", d.Primary, emptyBLAKE3)
	}
	if d.SHA256 != sha256EmptyHex {
		t.Errorf("SHA256 = %q, want %q", d.SHA256, sha256EmptyHex)
	}
}

func TestHashDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "a.txt", "hello world")

	h := New(DefaultConfig())
	d1, err := h.Hash(context.Background(), path)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	d2, err := h.Hash(context.Background(), path)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if d1.Primary != d2.Primary {
		t.Errorf("hash not deterministic: %q != %q", d1.Primary, d2.Primary)
	}
	if len(d1.Primary) != 64 {
		t.Errorf("Primary length = %d, want 64", len(d1.Primary))
	}
}

func TestHashDiffersOnContentChange(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "a.txt", "version one")

	h := New(DefaultConfig())
	d1, err := h.Hash(context.Background(), path)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	writeTemp(t, dir, "a.txt", "version two")
	d2, err := h.Hash(context.Background(), path)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	if d1.Primary == d2.Primary {
		t.Error("hash did not change after content modification")
	}
}

func TestVerifyConstantTime(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "a.txt", "content to verify")

	h := New(DefaultConfig())
	d, err := h.Hash(context.Background(), path)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	ok, err := h.Verify(context.Background(), path, d.Primary)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Error("Verify() = false, want true for matching digest")
	}

	ok, err = h.Verify(context.Background(), path, emptyBLAKE3)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if ok {
		t.Error("Verify() = true, want false for mismatched digest")
	}
}

func TestConfigValidateRejectsNoDigest(t *testing.T) {
	if err := (Config{}).Validate(); err != ErrNoDigestEnabled {
		t.Errorf("Validate() error = %v, want ErrNoDigestEnabled", err)
	}
	if err := (Config{UseSHA256: true}).Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil when a secondary digest is enabled", err)
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() error = %v, want nil", err)
	}
}

func TestHashSkipsPrimaryWhenBLAKE3Disabled(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "a.txt", "hello world")

	h := New(Config{UseSHA256: true})
	d, err := h.Hash(context.Background(), path)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if d.Primary != "" {
		t.Errorf("Primary = %q, want empty when UseBLAKE3 is false", d.Primary)
	}
	if d.SHA256 == "" {
		t.Error("SHA256 = empty, want populated")
	}
}

func TestHashMaxFileSize(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "a.txt", "0123456789")

	h := New(Config{MaxFileSize: 5})
	_, err := h.Hash(context.Background(), path)
	if err == nil {
		t.Fatal("Hash() expected error for file exceeding MaxFileSize")
	}
	var sizeErr *SizeError
	if !asSizeError(err, &sizeErr) {
		t.Errorf("error = %v, want *SizeError", err)
	}
}

func asSizeError(err error, target **SizeError) bool {
	se, ok := err.(*SizeError)
	if ok {
		*target = se
	}
	return ok
}

func TestHashBatchIndependentFailures(t *testing.T) {
	dir := t.TempDir()
	good := writeTemp(t, dir, "good.txt", "ok")
	missing := filepath.Join(dir, "does-not-exist.txt")

	h := New(DefaultConfig())
	results := h.HashBatch(context.Background(), []string{good, missing})
	if len(results) != 2 {
		t.Fatalf("HashBatch() returned %d results, want 2", len(results))
	}
	if results[0].Err != nil {
		t.Errorf("results[0].Err = %v, want nil", results[0].Err)
	}
	if results[1].Err == nil {
		t.Error("results[1].Err = nil, want error for missing file")
	}
}
