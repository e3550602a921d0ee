// Package engine orchestrates the Walker, Hasher, Store, and Watcher into
// the scan protocols a file integrity monitor actually runs: a baseline
// pass, an incremental pass, a long-running realtime session, and a
// one-shot verification against a known-good digest.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lucho00cuba/fimwatch/internal/hasher"
	"github.com/lucho00cuba/fimwatch/internal/ignore"
	"github.com/lucho00cuba/fimwatch/internal/store"
	"github.com/lucho00cuba/fimwatch/internal/walker"
	"github.com/lucho00cuba/fimwatch/internal/watcher"
)

// ChangeKind classifies the kind of drift detected between an old and new
// fingerprint. When more than one property differs, the highest-priority
// kind in this order wins: a content change is always reported as a hash
// change even if permissions also happened to change in the same scan.
type ChangeKind int

const (
	NoChange ChangeKind = iota
	HashChanged
	SizeChanged
	PermissionChanged
	TimestampChanged
	Added
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case HashChanged:
		return "hash_changed"
	case SizeChanged:
		return "size_changed"
	case PermissionChanged:
		return "permission_changed"
	case TimestampChanged:
		return "timestamp_changed"
	case Added:
		return "added"
	case Deleted:
		return "deleted"
	default:
		return "no_change"
	}
}

// ChangeRecord describes one detected drift.
type ChangeRecord struct {
	Path       string
	Kind       ChangeKind
	Old        *store.Fingerprint
	New        *store.Fingerprint
	DetectedAt time.Time
}

// ConfigError reports invalid or contradictory engine configuration.
type ConfigError struct{ Msg string }

func (e *ConfigError) Error() string { return "engine: config error: " + e.Msg }

// Config enumerates every option the engine accepts, mirroring the
// monitored paths, exclusions, digest selection, watch behavior and
// storage mode a deployment needs to choose between.
type Config struct {
	MonitorPaths     []string
	ExcludePatterns  []string
	LoadIgnoreFiles  bool
	CustomIgnoreFile string

	HashConfig  hasher.Config
	WatchConfig watcher.Config

	EphemeralStore      bool
	StorePath           string
	ScanThreads         int
	MaxFileSize         uint64
	EnableRealtime      bool
	ScanIntervalSeconds int
}

// ScanResults summarizes one baseline or incremental pass.
type ScanResults struct {
	RunID        string
	Mode         string
	FilesScanned int
	Added        int
	Modified     int
	Deleted      int
	Errors       int
	TotalSize    uint64
	ScanDuration time.Duration
	Changes      []ChangeRecord
}

// VerifyResult is the outcome of verifying one file's digest.
type VerifyResult struct {
	Path    string
	Matched bool
}

// Engine ties the Walker, Hasher, Store, and optional Watcher together.
type Engine struct {
	cfg Config
	log *slog.Logger

	hash  *hasher.Hasher
	st    *store.Store
	walk  *walker.Walker
	watch *watcher.Watcher

	poolOnce sync.Once
	poolSize int

	subsMu sync.Mutex
	subs   []func(ChangeRecord)

	running atomic.Bool
}

// New wires a new Engine from cfg.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	if len(cfg.MonitorPaths) == 0 {
		return nil, &ConfigError{Msg: "at least one monitor path is required"}
	}

	matcher, err := ignore.NewMatcher(cfg.ExcludePatterns, cfg.MonitorPaths[0], cfg.LoadIgnoreFiles, cfg.CustomIgnoreFile)
	if err != nil {
		return nil, fmt.Errorf("engine: build exclusion matcher: %w", err)
	}

	if cfg.HashConfig.MaxFileSize == 0 {
		cfg.HashConfig.MaxFileSize = cfg.MaxFileSize
	}
	if cfg.HashConfig.Workers == 0 {
		cfg.HashConfig.Workers = cfg.ScanThreads
	}
	if err := cfg.HashConfig.Validate(); err != nil {
		return nil, &ConfigError{Msg: err.Error()}
	}
	if !cfg.HashConfig.UseBLAKE3 {
		return nil, &ConfigError{Msg: "the blake3 primary digest cannot be disabled"}
	}

	st, err := store.Open(cfg.StorePath, cfg.EphemeralStore, log)
	if err != nil {
		return nil, fmt.Errorf("engine: open store: %w", err)
	}

	e := &Engine{
		cfg:  cfg,
		log:  log.With("component", "engine"),
		hash: hasher.New(cfg.HashConfig),
		st:   st,
		walk: walker.New(cfg.MonitorPaths, matcher, log),
	}
	return e, nil
}

// Close releases the underlying store and, if running, the watcher.
func (e *Engine) Close() error {
	if e.watch != nil {
		_ = e.watch.Stop()
	}
	return e.st.Close()
}

// Subscribe registers a callback invoked for every ChangeRecord a
// Baseline, Incremental or Realtime pass produces. Callbacks run
// synchronously, in registration order, over a snapshot of the subscriber
// list taken as each record is dispatched: a callback registered
// mid-dispatch never runs for the record already in flight (it does run
// for later ones), and a long-running callback never holds a lock other
// subscribers need.
func (e *Engine) Subscribe(fn func(ChangeRecord)) {
	e.subsMu.Lock()
	e.subs = append(e.subs, fn)
	e.subsMu.Unlock()
}

func (e *Engine) dispatch(c ChangeRecord) {
	e.subsMu.Lock()
	snapshot := make([]func(ChangeRecord), len(e.subs))
	copy(snapshot, e.subs)
	e.subsMu.Unlock()

	for _, fn := range snapshot {
		fn(c)
	}
}

func (e *Engine) workerPool() int {
	e.poolOnce.Do(func() {
		e.poolSize = e.cfg.ScanThreads
		if e.poolSize < 1 {
			e.poolSize = runtime.NumCPU()
		}
	})
	return e.poolSize
}

func newRunID() string { return uuid.New().String() }

func fingerprintFromStat(path string, d hasher.Digests) (store.Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return store.Fingerprint{}, err
	}

	sysFP, err := platformFingerprint(info)
	if err != nil {
		return store.Fingerprint{}, err
	}

	now := time.Now().UTC().Truncate(time.Second)
	sysFP.PrimaryHash = d.Primary
	sysFP.SHA256 = d.SHA256
	sysFP.SHA1 = d.SHA1
	sysFP.MD5 = d.MD5
	sysFP.Size = uint64(info.Size())
	sysFP.Perm = store.PermString(uint32(info.Mode().Perm()))
	if sysFP.MTime.IsZero() {
		sysFP.MTime = now
	}
	if sysFP.CTime.IsZero() {
		sysFP.CTime = now
	}
	if sysFP.ATime.IsZero() {
		sysFP.ATime = now
	}
	sysFP.Scanned = true
	return sysFP, nil
}

// classifyChange determines the ChangeKind between an old and new fingerprint,
// in strict priority order: a content change always outranks a metadata
// change, and a metadata change always outranks a pure timestamp change.
func classifyChange(old, nw store.Fingerprint) ChangeKind {
	if old.PrimaryHash != nw.PrimaryHash {
		return HashChanged
	}
	if old.Size != nw.Size {
		return SizeChanged
	}
	if old.Perm != nw.Perm || old.UID != nw.UID || old.GID != nw.GID {
		return PermissionChanged
	}
	if !old.MTime.Equal(nw.MTime) || !old.CTime.Equal(nw.CTime) {
		return TimestampChanged
	}
	return NoChange
}
