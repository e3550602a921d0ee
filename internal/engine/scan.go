package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lucho00cuba/fimwatch/internal/store"
)

// forceCommitEvery is how many processed records the scan lets accumulate
// in the open transaction before flushing it with Store.ForceCommit, to
// keep memory bounded on large trees without losing transactional
// visibility to readers outside the scan. A var, not a const, so tests
// can shrink it without generating thousands of files.
var forceCommitEvery = 1000

// BaselineScan walks every monitored path, hashes each file, and writes a
// fresh fingerprint for it, treating every file as new. Used to establish
// the first trusted snapshot of a tree.
func (e *Engine) BaselineScan(ctx context.Context) (ScanResults, error) {
	return e.scan(ctx, "baseline", false)
}

// IncrementalScan compares the current filesystem state against the
// store's last snapshot. It marks every entry unscanned, walks the tree,
// and for each file fetches the OLD entry before writing the new one so a
// change can be classified; paths still unscanned once the walk completes
// successfully are reported as deleted and purged.
func (e *Engine) IncrementalScan(ctx context.Context) (ScanResults, error) {
	return e.scan(ctx, "incremental", true)
}

func (e *Engine) scan(ctx context.Context, mode string, incremental bool) (ScanResults, error) {
	if !e.running.CompareAndSwap(false, true) {
		return ScanResults{}, fmt.Errorf("engine: a scan is already running")
	}
	defer e.running.Store(false)

	start := time.Now()
	res := ScanResults{RunID: newRunID(), Mode: mode}

	if incremental {
		if err := e.st.MarkAllUnscanned(ctx); err != nil {
			return res, fmt.Errorf("engine: mark unscanned: %w", err)
		}
	}

	paths, walkErrs := e.walk.Walk()
	res.Errors += len(walkErrs)
	for _, werr := range walkErrs {
		e.log.Warn("walk error", "error", werr)
	}

	if err := e.st.Begin(ctx); err != nil {
		return res, fmt.Errorf("engine: begin: %w", err)
	}

	workers := e.workerPool()
	sem := make(chan struct{}, workers)
	outcomes := make(chan scanOutcome, len(paths))

	launched := 0
	for _, p := range paths {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		launched++
		go func(path string) {
			defer func() { <-sem }()
			outcomes <- e.scanOne(ctx, path, incremental)
		}(p)
	}

	processed := 0
	for i := 0; i < launched; i++ {
		o := <-outcomes
		var storeErr *store.Error
		if o.err != nil && errors.As(o.err, &storeErr) && ctx.Err() == nil {
			for j := i + 1; j < launched; j++ {
				<-outcomes
			}
			_ = e.st.Rollback()
			return res, fmt.Errorf("engine: store: %w", o.err)
		}
		if o.err != nil {
			res.Errors++
			e.log.Warn("hash error", "path", o.path, "error", o.err)
		} else {
			res.FilesScanned++
			res.TotalSize += o.size
			if o.rec != nil {
				res.Changes = append(res.Changes, *o.rec)
				switch o.rec.Kind {
				case Added:
					res.Added++
				case Deleted:
					res.Deleted++
				default:
					res.Modified++
				}
				e.dispatch(*o.rec)
			}
		}

		processed++
		if processed%forceCommitEvery == 0 {
			if err := e.st.ForceCommit(ctx); err != nil {
				return res, fmt.Errorf("engine: force commit: %w", err)
			}
		}
	}

	if incremental && ctx.Err() == nil && len(walkErrs) == 0 {
		deleted, err := e.st.DeleteUnscanned(ctx)
		if err != nil {
			_ = e.st.Rollback()
			return res, fmt.Errorf("engine: delete unscanned: %w", err)
		}
		for _, p := range deleted {
			rec := ChangeRecord{Path: p, Kind: Deleted, DetectedAt: time.Now().UTC()}
			res.Changes = append(res.Changes, rec)
			res.Deleted++
			e.dispatch(rec)
		}
	}

	if err := e.st.Commit(); err != nil {
		return res, fmt.Errorf("engine: commit: %w", err)
	}

	res.ScanDuration = time.Since(start)
	return res, nil
}

type scanOutcome struct {
	path string
	err  error
	rec  *ChangeRecord
	size uint64
}

func (e *Engine) scanOne(ctx context.Context, path string, incremental bool) scanOutcome {
	var old *store.Fingerprint
	if incremental {
		if prev, err := e.st.GetByPath(ctx, path); err == nil {
			fp := prev.Fingerprint
			old = &fp
		} else if err != store.ErrNotFound {
			return scanOutcome{path: path, err: err}
		}
	}

	digests, err := e.hash.Hash(ctx, path)
	if err != nil {
		return scanOutcome{path: path, err: err}
	}

	fp, err := fingerprintFromStat(path, digests)
	if err != nil {
		return scanOutcome{path: path, err: err}
	}

	if err := e.st.Put(ctx, store.Entry{Path: path, Fingerprint: fp}); err != nil {
		return scanOutcome{path: path, err: err}
	}
	if incremental {
		if err := e.st.MarkScanned(ctx, path); err != nil {
			return scanOutcome{path: path, err: err}
		}
	}

	var rec *ChangeRecord
	switch {
	case old == nil:
		rec = &ChangeRecord{Path: path, Kind: Added, New: &fp, DetectedAt: time.Now().UTC()}
	default:
		kind := classifyChange(*old, fp)
		if kind != NoChange {
			oldCopy := *old
			rec = &ChangeRecord{Path: path, Kind: kind, Old: &oldCopy, New: &fp, DetectedAt: time.Now().UTC()}
		}
	}

	return scanOutcome{path: path, rec: rec, size: fp.Size}
}

// Verify checks whether the file at path currently matches expectedHex.
func (e *Engine) Verify(ctx context.Context, path, expectedHex string) (VerifyResult, error) {
	ok, err := e.hash.Verify(ctx, path, expectedHex)
	if err != nil {
		return VerifyResult{}, err
	}
	return VerifyResult{Path: path, Matched: ok}, nil
}
