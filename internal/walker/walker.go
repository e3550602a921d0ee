// Package walker enumerates the regular files under a set of monitored
// roots, applying exclusion patterns and guarding against symlink cycles.
// Its directory-ordering, exclusion-matching and symlink-as-leaf idioms are
// generalized from a directory-checksum tool's recursive hasher, adapted
// here to yield a flat, sorted path list instead of folding a Merkle root.
package walker

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/lucho00cuba/fimwatch/internal/ignore"
)

// Error wraps a single directory or path failure encountered during a walk.
// Walk errors are never fatal to the walk as a whole; they are collected
// and returned alongside whatever paths were successfully enumerated.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("walker: %q: %v", e.Path, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Walker enumerates files under Roots, skipping anything Matcher excludes.
type Walker struct {
	Roots   []string
	Matcher ignore.Matcher
	Log     *slog.Logger
}

// New creates a Walker over roots. matcher may be nil, in which case
// nothing is excluded.
func New(roots []string, matcher ignore.Matcher, log *slog.Logger) *Walker {
	if log == nil {
		log = slog.Default()
	}
	return &Walker{Roots: roots, Matcher: matcher, Log: log.With("component", "walker")}
}

// Walk returns every regular file under the configured roots, deduplicated
// and sorted, along with any per-path errors encountered along the way.
func (w *Walker) Walk() ([]string, []error) {
	seenPath := make(map[string]struct{})
	visited := make(map[string]struct{})
	var out []string
	var errs []error

	for _, root := range w.Roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			errs = append(errs, &Error{Path: root, Err: err})
			continue
		}
		w.walkOne(absRoot, absRoot, visited, seenPath, &out, &errs)
	}

	sort.Strings(out)
	return out, errs
}

func (w *Walker) excluded(root, path string, isDir bool) bool {
	if w.Matcher == nil {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	return w.Matcher.Match(rel, isDir) || w.Matcher.Match(path, isDir) || w.Matcher.Match(filepath.Base(path), isDir)
}

func (w *Walker) walkOne(root, path string, visited map[string]struct{}, seenPath map[string]struct{}, out *[]string, errs *[]error) {
	if _, ok := visited[path]; ok {
		return
	}
	visited[path] = struct{}{}
	defer delete(visited, path)

	info, err := os.Lstat(path)
	if err != nil {
		*errs = append(*errs, &Error{Path: path, Err: err})
		return
	}

	if w.excluded(root, path, info.IsDir()) {
		w.Log.Debug("excluding path", "path", path)
		return
	}

	// Symlinks are recorded as a leaf when they resolve to a regular file,
	// and never traversed when they resolve to a directory: traversing a
	// directory symlink is how naive walkers loop forever on a
	// self-referential link.
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := filepath.EvalSymlinks(path)
		if err != nil {
			*errs = append(*errs, &Error{Path: path, Err: err})
			return
		}
		targetInfo, err := os.Stat(target)
		if err != nil {
			*errs = append(*errs, &Error{Path: path, Err: err})
			return
		}
		if targetInfo.IsDir() {
			return
		}
		if _, ok := seenPath[path]; !ok {
			seenPath[path] = struct{}{}
			*out = append(*out, path)
		}
		return
	}

	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			*errs = append(*errs, &Error{Path: path, Err: err})
			return
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, entry := range entries {
			if entry.Type()&(os.ModeNamedPipe|os.ModeSocket|os.ModeDevice) != 0 {
				continue
			}
			w.walkOne(root, filepath.Join(path, entry.Name()), visited, seenPath, out, errs)
		}
		return
	}

	if info.Mode().IsRegular() {
		if _, ok := seenPath[path]; !ok {
			seenPath[path] = struct{}{}
			*out = append(*out, path)
		}
	}
}
