// Package hasher computes cryptographic fingerprints of file contents. It
// computes a primary BLAKE3 digest unless Config.UseBLAKE3 is off and, on
// request, any combination of SHA-256, SHA-1, and MD5 secondary digests. Large files are read via
// mmap; everything else goes through a pooled-buffer streaming read, the
// same idiom used to stream file content into a BLAKE3 hasher in the
// directory-checksum tool this package was generalized from.
package hasher

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/sys/unix"
)

// emptyBLAKE3 is the well-known BLAKE3 digest of the empty string, used as
// a shortcut so a zero-length file never needs to be opened beyond the
// initial stat.
const emptyBLAKE3 = "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"

const defaultBufferSize = 256 * 1024

// IOError wraps a failure to read or map a file's content.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("hasher: io error on %q: %v", e.Path, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// SizeError reports a file whose size exceeds the configured MaxFileSize.
type SizeError struct {
	Path string
	Size uint64
	Err  error
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("hasher: size error on %q (%d bytes): %v", e.Path, e.Size, e.Err)
}
func (e *SizeError) Unwrap() error { return e.Err }

// ErrTooLarge is wrapped by SizeError when MaxFileSize is exceeded.
var ErrTooLarge = errors.New("file exceeds configured maximum size")

// Config controls which digests are computed and how large files are read.
type Config struct {
	// UseBLAKE3 computes the primary digest. It is on by default; turning
	// it off without requesting a secondary digest leaves nothing to
	// hash, which Validate reports as an error.
	UseBLAKE3 bool
	UseSHA256 bool
	UseSHA1   bool
	UseMD5    bool

	// UseMMap enables memory-mapped reads for files at or above
	// MMapThreshold bytes. BLAKE3's own internal parallelism does the
	// actual work of hashing a mapped slice fast; secondary digests, if
	// requested, are still computed sequentially over the same slice.
	UseMMap       bool
	MMapThreshold uint64

	// MaxFileSize, if non-zero, rejects files larger than this with a
	// SizeError instead of hashing them.
	MaxFileSize uint64

	// Workers bounds HashBatch's concurrency. Zero means runtime.NumCPU().
	Workers int
}

// DefaultConfig returns sensible defaults: BLAKE3 on, mmap for files at or
// above 1MiB, no size limit.
func DefaultConfig() Config {
	return Config{
		UseBLAKE3:     true,
		UseMMap:       true,
		MMapThreshold: 1024 * 1024,
	}
}

// ErrNoDigestEnabled is returned by Validate when UseBLAKE3 is disabled
// and no secondary digest is enabled either, leaving nothing to hash.
var ErrNoDigestEnabled = errors.New("hasher: no digest enabled: blake3 disabled and no secondary digest requested")

// Validate reports whether cfg requests at least one digest.
func (c Config) Validate() error {
	if !c.UseBLAKE3 && !c.UseSHA256 && !c.UseSHA1 && !c.UseMD5 {
		return ErrNoDigestEnabled
	}
	return nil
}

// Digests holds the hex-encoded output of every digest computed for one
// file. Fields for digests that were not requested are left empty.
type Digests struct {
	Primary string
	SHA256  string
	SHA1    string
	MD5     string
}

// Hasher computes Digests for individual files, bounding concurrent I/O
// with a buffer pool and semaphore shared across its lifetime.
type Hasher struct {
	cfg  Config
	pool *sync.Pool
	sem  chan struct{}
}

// New creates a Hasher from cfg.
func New(cfg Config) *Hasher {
	workers := cfg.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	return &Hasher{
		cfg: cfg,
		pool: &sync.Pool{
			New: func() any {
				buf := make([]byte, defaultBufferSize)
				return &buf
			},
		},
		sem: make(chan struct{}, workers),
	}
}

// Hash computes the configured digests for path.
func (h *Hasher) Hash(ctx context.Context, path string) (Digests, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Digests{}, &IOError{Path: path, Err: err}
	}

	size := uint64(info.Size())
	if h.cfg.MaxFileSize != 0 && size > h.cfg.MaxFileSize {
		return Digests{}, &SizeError{Path: path, Size: size, Err: ErrTooLarge}
	}

	if size == 0 {
		return Digests{Primary: emptyIfRequested(h.cfg.UseBLAKE3, emptyBLAKE3), SHA256: emptyIfRequested(h.cfg.UseSHA256, sha256EmptyHex), SHA1: emptyIfRequested(h.cfg.UseSHA1, sha1EmptyHex), MD5: emptyIfRequested(h.cfg.UseMD5, md5EmptyHex)}, nil
	}

	select {
	case h.sem <- struct{}{}:
	case <-ctx.Done():
		return Digests{}, ctx.Err()
	}
	defer func() { <-h.sem }()

	if h.cfg.UseMMap && size >= h.cfg.MMapThreshold {
		return h.hashMmap(path, size)
	}
	return h.hashStream(path)
}

func (h *Hasher) hashStream(path string) (Digests, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digests{}, &IOError{Path: path, Err: err}
	}
	defer f.Close()

	bufPtr, _ := h.pool.Get().(*[]byte)
	defer h.pool.Put(bufPtr)
	buf := *bufPtr

	var primary *blake3.Hasher
	if h.cfg.UseBLAKE3 {
		primary = blake3.New()
	}
	sums := newSecondary(h.cfg)

	for {
		n, err := f.Read(buf)
		if n > 0 {
			if primary != nil {
				primary.Write(buf[:n])
			}
			sums.write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Digests{}, &IOError{Path: path, Err: err}
		}
	}

	return Digests{
		Primary: primaryHex(primary),
		SHA256:  sums.sha256Hex(),
		SHA1:    sums.sha1Hex(),
		MD5:     sums.md5Hex(),
	}, nil
}

func (h *Hasher) hashMmap(path string, size uint64) (Digests, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digests{}, &IOError{Path: path, Err: err}
	}
	defer f.Close()

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return Digests{}, &IOError{Path: path, Err: fmt.Errorf("mmap: %w", err)}
	}
	defer unix.Munmap(data)

	var primary *blake3.Hasher
	if h.cfg.UseBLAKE3 {
		primary = blake3.New()
		primary.Write(data)
	}

	sums := newSecondary(h.cfg)
	sums.write(data)

	return Digests{
		Primary: primaryHex(primary),
		SHA256:  sums.sha256Hex(),
		SHA1:    sums.sha1Hex(),
		MD5:     sums.md5Hex(),
	}, nil
}

func primaryHex(h *blake3.Hasher) string {
	if h == nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

// BatchResult is one file's outcome from HashBatch. Err is set
// independently per path; one file's failure never aborts the others.
type BatchResult struct {
	Path    string
	Digests Digests
	Err     error
}

// HashBatch hashes every path concurrently, bounded by the Hasher's worker
// semaphore, and returns results in the same order as paths.
func (h *Hasher) HashBatch(ctx context.Context, paths []string) []BatchResult {
	results := make([]BatchResult, len(paths))
	var wg sync.WaitGroup
	wg.Add(len(paths))
	for i, p := range paths {
		go func(i int, p string) {
			defer wg.Done()
			d, err := h.Hash(ctx, p)
			results[i] = BatchResult{Path: p, Digests: d, Err: err}
		}(i, p)
	}
	wg.Wait()
	return results
}

// Verify reports whether the file at path's primary digest matches
// expectedHex, using a constant-time comparison so a mismatching byte
// position cannot be inferred from timing.
func (h *Hasher) Verify(ctx context.Context, path, expectedHex string) (bool, error) {
	d, err := h.Hash(ctx, path)
	if err != nil {
		return false, err
	}

	got, err := hex.DecodeString(d.Primary)
	if err != nil {
		return false, fmt.Errorf("hasher: decode computed digest: %w", err)
	}
	want, err := hex.DecodeString(expectedHex)
	if err != nil {
		return false, fmt.Errorf("hasher: decode expected digest: %w", err)
	}
	if len(got) != len(want) {
		return false, nil
	}
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

type secondary struct {
	h256 hash.Hash
	h1   hash.Hash
	hmd5 hash.Hash
}

func newSecondary(cfg Config) *secondary {
	s := &secondary{}
	if cfg.UseSHA256 {
		s.h256 = sha256.New()
	}
	if cfg.UseSHA1 {
		s.h1 = sha1.New()
	}
	if cfg.UseMD5 {
		s.hmd5 = md5.New()
	}
	return s
}

func (s *secondary) write(p []byte) {
	if s.h256 != nil {
		s.h256.Write(p)
	}
	if s.h1 != nil {
		s.h1.Write(p)
	}
	if s.hmd5 != nil {
		s.hmd5.Write(p)
	}
}

func (s *secondary) sha256Hex() string {
	if s.h256 == nil {
		return ""
	}
	return hex.EncodeToString(s.h256.Sum(nil))
}

func (s *secondary) sha1Hex() string {
	if s.h1 == nil {
		return ""
	}
	return hex.EncodeToString(s.h1.Sum(nil))
}

func (s *secondary) md5Hex() string {
	if s.hmd5 == nil {
		return ""
	}
	return hex.EncodeToString(s.hmd5.Sum(nil))
}

const (
	sha256EmptyHex = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	sha1EmptyHex   = "da39a3ee5e6b4b0d3255bfef95601890afd80709"
	md5EmptyHex    = "d41d8cd98f00b204e9800998ecf8427e"
)

func emptyIfRequested(requested bool, value string) string {
	if !requested {
		return ""
	}
	return value
}
