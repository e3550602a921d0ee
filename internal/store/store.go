package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"
)

const (
	// DefaultFileName is the on-disk database file created in the working
	// directory when the caller does not override the store path.
	DefaultFileName = "fim_integrity.db"

	defaultCacheSize = 4096
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS file_data (
		path         TEXT PRIMARY KEY,
		size         INTEGER NOT NULL,
		perm         TEXT NOT NULL,
		uid          INTEGER NOT NULL,
		gid          INTEGER NOT NULL,
		primary_hash TEXT NOT NULL,
		sha256       TEXT NOT NULL DEFAULT '',
		sha1         TEXT NOT NULL DEFAULT '',
		md5          TEXT NOT NULL DEFAULT '',
		mtime        INTEGER NOT NULL,
		ctime        INTEGER NOT NULL,
		atime        INTEGER NOT NULL,
		inode        INTEGER NOT NULL,
		dev          INTEGER NOT NULL,
		scanned      INTEGER NOT NULL DEFAULT 0,
		created_at   INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_file_data_inode_dev ON file_data(inode, dev)`,
	`CREATE INDEX IF NOT EXISTS idx_file_data_scanned ON file_data(scanned)`,
	`CREATE INDEX IF NOT EXISTS idx_file_data_primary_hash ON file_data(primary_hash)`,
	`CREATE TABLE IF NOT EXISTS sync_info (
		id           INTEGER PRIMARY KEY CHECK (id = 1),
		sync_count   INTEGER NOT NULL DEFAULT 0,
		last_sync_at INTEGER NOT NULL DEFAULT 0
	)`,
	`INSERT OR IGNORE INTO sync_info (id, sync_count, last_sync_at) VALUES (1, 0, 0)`,
}

// Store is the single-writer, indexed fingerprint table backing one engine.
// Every method serializes on an internal mutex, so reads and writes (Put,
// DeletePath, MarkAllUnscanned, DeleteUnscanned, ForceCommit) may be called
// from several goroutines; while a transaction is open, all of them run
// inside it.
type Store struct {
	db   *sql.DB
	path string

	mu       sync.Mutex
	tx       *sql.Tx
	txDepth  int
	log      *slog.Logger
	cache    *lru.Cache[string, Entry]
	cacheOff bool
}

// Open creates or opens the fingerprint store at path. When ephemeral is
// true, path is ignored and an in-memory database is used instead (useful
// for Verify-only invocations and tests).
func Open(path string, ephemeral bool, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	dsn := path
	if ephemeral {
		dsn = ":memory:?cache=shared"
	} else {
		if dsn == "" {
			dsn = DefaultFileName
		}
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, wrapErr("open", fmt.Errorf("create store directory: %w", err))
			}
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wrapErr("open", err)
	}

	if ephemeral {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-64000",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, wrapErr("open", fmt.Errorf("pragma %q: %w", p, err))
		}
	}

	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, wrapErr("open", fmt.Errorf("schema: %w", err))
		}
	}

	cache, err := lru.New[string, Entry](defaultCacheSize)
	if err != nil {
		_ = db.Close()
		return nil, wrapErr("open", err)
	}

	return &Store{db: db, path: dsn, log: log.With("component", "store"), cache: cache}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
		s.txDepth = 0
	}
	return wrapErr("close", s.db.Close())
}

// Begin opens a write transaction, or increments the depth counter if one
// is already open. Only the outermost Commit actually commits.
func (s *Store) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		s.txDepth++
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin", err)
	}
	s.tx = tx
	s.txDepth = 1
	return nil
}

// Commit decrements the depth counter and, once it reaches zero, commits
// the underlying transaction.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return wrapErr("commit", fmt.Errorf("no open transaction"))
	}

	s.txDepth--
	if s.txDepth > 0 {
		return nil
	}

	err := s.tx.Commit()
	s.tx = nil
	s.txDepth = 0
	if err != nil {
		return wrapErr("commit", err)
	}
	return s.bumpSyncInfoLocked()
}

// Rollback discards the current transaction regardless of nesting depth.
func (s *Store) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	s.txDepth = 0
	return wrapErr("rollback", err)
}

// ForceCommit commits whatever is pending and immediately reopens a fresh
// transaction at depth 1, without losing the caller's place in a long scan.
// A failure here is always fatal to the calling scan: the store's on-disk
// state and the caller's in-memory progress can no longer be trusted to
// agree.
func (s *Store) ForceCommit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		if err := s.tx.Commit(); err != nil {
			s.tx = nil
			s.txDepth = 0
			return wrapErr("force_commit", err)
		}
		if err := s.bumpSyncInfoLocked(); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("force_commit", err)
	}
	s.tx = tx
	s.txDepth = 1
	return nil
}

func (s *Store) bumpSyncInfoLocked() error {
	now := time.Now().UTC().Unix()
	_, err := s.db.Exec(`UPDATE sync_info SET sync_count = sync_count + 1, last_sync_at = ? WHERE id = 1`, now)
	return wrapErr("sync_info", err)
}

func (s *Store) execer() interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
} {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Put inserts or updates the entry for path. Callers that need change
// detection must fetch the old entry with GetByPath before calling Put, as
// Put overwrites unconditionally.
func (s *Store) Put(ctx context.Context, e Entry) error {
	s.mu.Lock()
	exec := s.execer()
	now := time.Now().UTC().Unix()
	fp := e.Fingerprint
	_, err := exec.ExecContext(ctx, `
		INSERT INTO file_data (path, size, perm, uid, gid, primary_hash, sha256, sha1, md5,
			mtime, ctime, atime, inode, dev, scanned, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			size=excluded.size, perm=excluded.perm, uid=excluded.uid, gid=excluded.gid,
			primary_hash=excluded.primary_hash, sha256=excluded.sha256, sha1=excluded.sha1,
			md5=excluded.md5, mtime=excluded.mtime, ctime=excluded.ctime, atime=excluded.atime,
			inode=excluded.inode, dev=excluded.dev, scanned=excluded.scanned, updated_at=excluded.updated_at
	`,
		e.Path, fp.Size, fp.Perm, fp.UID, fp.GID, fp.PrimaryHash, fp.SHA256, fp.SHA1, fp.MD5,
		fp.MTime.UTC().Unix(), fp.CTime.UTC().Unix(), fp.ATime.UTC().Unix(),
		fp.Inode, fp.Dev, boolToInt(fp.Scanned), now, now,
	)
	s.cache.Remove(e.Path)
	s.mu.Unlock()
	return wrapErr("put", err)
}

// GetByPath fetches the entry for path. Returns ErrNotFound when absent.
func (s *Store) GetByPath(ctx context.Context, path string) (Entry, error) {
	s.mu.Lock()
	if !s.cacheOff {
		if e, ok := s.cache.Get(path); ok {
			s.mu.Unlock()
			return e, nil
		}
	}
	exec := s.execer()
	row := exec.QueryRowContext(ctx, `
		SELECT path, size, perm, uid, gid, primary_hash, sha256, sha1, md5,
			mtime, ctime, atime, inode, dev, scanned
		FROM file_data WHERE path = ?`, path)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		s.mu.Unlock()
		return Entry{}, ErrNotFound
	}
	if err != nil {
		s.mu.Unlock()
		return Entry{}, wrapErr("get_by_path", err)
	}
	s.cache.Add(path, e)
	s.mu.Unlock()
	return e, nil
}

// DeletePath removes the entry for path, if present.
func (s *Store) DeletePath(ctx context.Context, path string) error {
	s.mu.Lock()
	exec := s.execer()
	_, err := exec.ExecContext(ctx, `DELETE FROM file_data WHERE path = ?`, path)
	s.cache.Remove(path)
	s.mu.Unlock()
	return wrapErr("delete_path", err)
}

// HasInode reports whether any entry shares the given (inode, dev) pair,
// which is how hard-linked files are recognized as already fingerprinted.
func (s *Store) HasInode(ctx context.Context, inode, dev uint64) (bool, error) {
	s.mu.Lock()
	exec := s.execer()
	row := exec.QueryRowContext(ctx, `SELECT 1 FROM file_data WHERE inode = ? AND dev = ? LIMIT 1`, inode, dev)
	var one int
	err := row.Scan(&one)
	s.mu.Unlock()
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, wrapErr("has_inode", err)
	}
	return true, nil
}

// PathsForInode returns every path currently sharing the given (inode, dev).
func (s *Store) PathsForInode(ctx context.Context, inode, dev uint64) ([]string, error) {
	s.mu.Lock()
	exec := s.execer()
	rows, err := exec.QueryContext(ctx, `SELECT path FROM file_data WHERE inode = ? AND dev = ? ORDER BY path`, inode, dev)
	s.mu.Unlock()
	if err != nil {
		return nil, wrapErr("paths_for_inode", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, wrapErr("paths_for_inode", err)
		}
		paths = append(paths, p)
	}
	return paths, wrapErr("paths_for_inode", rows.Err())
}

// MarkAllUnscanned clears the scanned flag on every entry, the first step
// of the scanned-flag sweep protocol an incremental scan runs before it
// walks the filesystem.
func (s *Store) MarkAllUnscanned(ctx context.Context) error {
	s.mu.Lock()
	exec := s.execer()
	_, err := exec.ExecContext(ctx, `UPDATE file_data SET scanned = 0`)
	s.cache.Purge()
	s.mu.Unlock()
	return wrapErr("mark_all_unscanned", err)
}

// MarkScanned sets the scanned flag for path, used as the walker visits it.
func (s *Store) MarkScanned(ctx context.Context, path string) error {
	s.mu.Lock()
	exec := s.execer()
	_, err := exec.ExecContext(ctx, `UPDATE file_data SET scanned = 1 WHERE path = ?`, path)
	s.cache.Remove(path)
	s.mu.Unlock()
	return wrapErr("mark_scanned", err)
}

// DeleteUnscanned removes every entry still marked unscanned and returns
// the deleted paths. Callers must only invoke this after a successful,
// complete walk — never after a partial or failed one.
func (s *Store) DeleteUnscanned(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	exec := s.execer()
	rows, err := exec.QueryContext(ctx, `SELECT path FROM file_data WHERE scanned = 0`)
	if err != nil {
		s.mu.Unlock()
		return nil, wrapErr("delete_unscanned", err)
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			s.mu.Unlock()
			return nil, wrapErr("delete_unscanned", err)
		}
		paths = append(paths, p)
	}
	rows.Close()

	if len(paths) > 0 {
		_, err = exec.ExecContext(ctx, `DELETE FROM file_data WHERE scanned = 0`)
		if err != nil {
			s.mu.Unlock()
			return nil, wrapErr("delete_unscanned", err)
		}
		s.cache.Purge()
	}
	s.mu.Unlock()
	return paths, nil
}

// CountRange counts entries whose path lies in the inclusive lexical range
// [lo, hi]. An empty hi means "no upper bound".
func (s *Store) CountRange(ctx context.Context, lo, hi string) (int64, error) {
	s.mu.Lock()
	exec := s.execer()
	var row *sql.Row
	if hi == "" {
		row = exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_data WHERE path >= ?`, lo)
	} else {
		row = exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_data WHERE path >= ? AND path <= ?`, lo, hi)
	}
	var n int64
	err := row.Scan(&n)
	s.mu.Unlock()
	return n, wrapErr("count_range", err)
}

// DeleteRange deletes every entry whose path lies in the inclusive lexical
// range [lo, hi] and returns the number of rows removed. An empty hi means
// "no upper bound".
func (s *Store) DeleteRange(ctx context.Context, lo, hi string) (int64, error) {
	s.mu.Lock()
	exec := s.execer()
	var res sql.Result
	var err error
	if hi == "" {
		res, err = exec.ExecContext(ctx, `DELETE FROM file_data WHERE path >= ?`, lo)
	} else {
		res, err = exec.ExecContext(ctx, `DELETE FROM file_data WHERE path >= ? AND path <= ?`, lo, hi)
	}
	if err != nil {
		s.mu.Unlock()
		return 0, wrapErr("delete_range", err)
	}
	s.cache.Purge()
	s.mu.Unlock()

	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("delete_range", err)
	}
	return n, nil
}

// BoundarySide selects which end of the lexical path ordering BoundaryPath
// reports.
type BoundarySide int

const (
	BoundaryFirst BoundarySide = iota
	BoundaryLast
)

// BoundaryPath returns the lexically first or last path currently in the
// store. ok is false when the store is empty.
func (s *Store) BoundaryPath(ctx context.Context, side BoundarySide) (path string, ok bool, err error) {
	order := "ASC"
	if side == BoundaryLast {
		order = "DESC"
	}

	s.mu.Lock()
	exec := s.execer()
	row := exec.QueryRowContext(ctx, fmt.Sprintf(`SELECT path FROM file_data ORDER BY path %s LIMIT 1`, order))
	scanErr := row.Scan(&path)
	s.mu.Unlock()

	if scanErr == sql.ErrNoRows {
		return "", false, nil
	}
	if scanErr != nil {
		return "", false, wrapErr("boundary_path", scanErr)
	}
	return path, true, nil
}

// Stats reports the total number of entries and how many are currently
// marked scanned versus unscanned.
func (s *Store) Stats(ctx context.Context) (total, scanned, unscanned int64, err error) {
	s.mu.Lock()
	exec := s.execer()
	row := exec.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(scanned), 0) FROM file_data`)
	var scannedSum int64
	scanErr := row.Scan(&total, &scannedSum)
	s.mu.Unlock()

	if scanErr != nil {
		return 0, 0, 0, wrapErr("stats", scanErr)
	}
	scanned = scannedSum
	unscanned = total - scanned
	return total, scanned, unscanned, nil
}

// ListAll returns every entry ordered by path. Intended for export and
// data_checksum computation, not for hot-path scan logic.
func (s *Store) ListAll(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	exec := s.execer()
	rows, err := exec.QueryContext(ctx, `
		SELECT path, size, perm, uid, gid, primary_hash, sha256, sha1, md5,
			mtime, ctime, atime, inode, dev, scanned
		FROM file_data ORDER BY path`)
	s.mu.Unlock()
	if err != nil {
		return nil, wrapErr("list_all", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntryRows(rows)
		if err != nil {
			return nil, wrapErr("list_all", err)
		}
		entries = append(entries, e)
	}
	return entries, wrapErr("list_all", rows.Err())
}

// DataChecksum folds every primary_hash, in ascending path order, through a
// single BLAKE3 hasher, producing one fixed-size fingerprint of the whole
// store's current state.
func (s *Store) DataChecksum(ctx context.Context) ([32]byte, error) {
	entries, err := s.ListAll(ctx)
	if err != nil {
		return [32]byte{}, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	h := blake3.New()
	for _, e := range entries {
		_, _ = h.WriteString(e.Fingerprint.PrimaryHash)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// SyncInfo returns the singleton bookkeeping row.
func (s *Store) SyncInfo(ctx context.Context) (SyncInfo, error) {
	s.mu.Lock()
	exec := s.execer()
	row := exec.QueryRowContext(ctx, `SELECT sync_count, last_sync_at FROM sync_info WHERE id = 1`)
	var count int64
	var lastSync int64
	err := row.Scan(&count, &lastSync)
	s.mu.Unlock()
	if err != nil {
		return SyncInfo{}, wrapErr("sync_info", err)
	}
	return SyncInfo{
		SyncCount:  uint64(count),
		LastSyncAt: time.Unix(lastSync, 0).UTC(),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	return scanEntryRows(row)
}

func scanEntryRows(row rowScanner) (Entry, error) {
	var e Entry
	var perm string
	var mtime, ctime, atime int64
	var scanned int
	err := row.Scan(
		&e.Path, &e.Fingerprint.Size, &perm, &e.Fingerprint.UID, &e.Fingerprint.GID,
		&e.Fingerprint.PrimaryHash, &e.Fingerprint.SHA256, &e.Fingerprint.SHA1, &e.Fingerprint.MD5,
		&mtime, &ctime, &atime, &e.Fingerprint.Inode, &e.Fingerprint.Dev, &scanned,
	)
	if err != nil {
		return Entry{}, err
	}
	e.Fingerprint.Perm = perm
	e.Fingerprint.MTime = time.Unix(mtime, 0).UTC()
	e.Fingerprint.CTime = time.Unix(ctime, 0).UTC()
	e.Fingerprint.ATime = time.Unix(atime, 0).UTC()
	e.Fingerprint.Scanned = scanned != 0
	return e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// PermString formats a file mode's permission bits as a three-digit octal
// string, e.g. "644".
func PermString(mode uint32) string {
	s := strconv.FormatUint(uint64(mode&0o777), 8)
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}
