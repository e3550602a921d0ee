// Package watcher turns raw filesystem notifications into a debounced,
// rate-limited, filtered stream of typed events. It wraps fsnotify behind a
// small interface so tests can inject a fake backend without touching the
// real filesystem, the same adapter shape used to make an onedrive sync
// daemon's local-change observer independently testable.
package watcher

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventKind classifies one filesystem notification.
type EventKind int

const (
	Unknown EventKind = iota
	Created
	Modified
	Deleted
	MovedFrom
	MovedTo
	AttributeChanged
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case MovedFrom:
		return "moved_from"
	case MovedTo:
		return "moved_to"
	case AttributeChanged:
		return "attribute_changed"
	default:
		return "unknown"
	}
}

// Event is one filtered, debounced filesystem notification. Size is
// populated for Created and Modified events when the path still exists at
// flush time; it is nil for deletions, moves, and attribute changes, and
// for a file that disappeared again before its debounce timer fired.
type Event struct {
	Kind      EventKind
	Path      string
	Timestamp time.Time
	Size      *int64
}

// Error wraps a failure to create, start, or stop the watcher. Errors the
// notification backend reports while the watcher runs are logged, not
// returned as an Error.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("watcher: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// fsWatcher is the subset of *fsnotify.Watcher the Watcher depends on,
// satisfied by a thin wrapper so tests can substitute a fake.
type fsWatcher interface {
	Add(path string) error
	Remove(path string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct{ w *fsnotify.Watcher }

func (f *fsnotifyWrapper) Add(path string) error    { return f.w.Add(path) }
func (f *fsnotifyWrapper) Remove(path string) error  { return f.w.Remove(path) }
func (f *fsnotifyWrapper) Close() error              { return f.w.Close() }
func (f *fsnotifyWrapper) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWrapper) Errors() <-chan error      { return f.w.Errors }

// Config controls debouncing, rate limiting, and path filtering.
type Config struct {
	Roots              []string
	Debounce           time.Duration
	MaxEventsPerSecond int
	IgnoreGlobs        []string
	IgnoreExtensions   []string
	IgnoreDirs         []string
	Recursive          bool
}

// Stats surfaces counters useful for diagnosing a realtime session.
type Stats struct {
	Received int64
	Emitted  int64
	Dropped  int64
	Filtered int64
}

// Watcher produces a debounced, rate-limited, filtered Event stream.
type Watcher struct {
	cfg Config
	log *slog.Logger

	fs     fsWatcher
	events chan Event

	mu      sync.Mutex
	pending map[string]*pendingEvent
	timers  map[string]*time.Timer

	tokenMu    sync.Mutex
	tokens     int
	tokenReset time.Time

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	received atomic.Int64
	emitted  atomic.Int64
	dropped  atomic.Int64
	filtered atomic.Int64
}

type pendingEvent struct {
	kind EventKind
	path string
}

// New creates a Watcher over cfg. Start must be called to begin delivering
// events.
func New(cfg Config, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 200 * time.Millisecond
	}

	raw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &Error{Op: "new", Err: err}
	}

	w := &Watcher{
		cfg:     cfg,
		log:     log.With("component", "watcher"),
		fs:      &fsnotifyWrapper{w: raw},
		events:  make(chan Event, 1024),
		pending: make(map[string]*pendingEvent),
		timers:  make(map[string]*time.Timer),
		stopCh:  make(chan struct{}),
	}
	return w, nil
}

// Start begins watching the configured roots. Calling Start twice without
// an intervening Stop logs a warning and is a no-op.
func (w *Watcher) Start() error {
	if !w.running.CompareAndSwap(false, true) {
		w.log.Warn("watcher already started")
		return nil
	}

	for _, root := range w.cfg.Roots {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
		if err := w.fs.Add(root); err != nil {
			w.running.Store(false)
			return &Error{Op: "add_root", Err: fmt.Errorf("%s: %w", root, err)}
		}
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop halts the watcher and drains its channel. Safe to call multiple
// times.
func (w *Watcher) Stop() error {
	if !w.running.CompareAndSwap(true, false) {
		return nil
	}
	close(w.stopCh)
	err := w.fs.Close()
	w.wg.Wait()

	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = make(map[string]*time.Timer)
	w.pending = make(map[string]*pendingEvent)
	w.mu.Unlock()

	if err != nil {
		return &Error{Op: "stop", Err: err}
	}
	return nil
}

// Events returns the channel events are delivered on.
func (w *Watcher) Events() <-chan Event { return w.events }

// Stats returns a snapshot of the watcher's counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Received: w.received.Load(),
		Emitted:  w.emitted.Load(),
		Dropped:  w.dropped.Load(),
		Filtered: w.filtered.Load(),
	}
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.fs.Events():
			if !ok {
				return
			}
			w.received.Add(1)
			w.handleRaw(ev)
		case err, ok := <-w.fs.Errors():
			if !ok {
				continue
			}
			w.log.Error("watcher backend error", "error", err)
		}
	}
}

func (w *Watcher) handleRaw(ev fsnotify.Event) {
	if w.filteredOut(ev.Name) {
		w.filtered.Add(1)
		return
	}

	kind := classify(ev.Op)

	w.mu.Lock()
	if prev, ok := w.pending[ev.Name]; ok && prev.kind == Created && (kind == Modified || kind == AttributeChanged) {
		kind = Created
	}
	w.pending[ev.Name] = &pendingEvent{kind: kind, path: ev.Name}
	if t, ok := w.timers[ev.Name]; ok {
		t.Stop()
	}
	w.timers[ev.Name] = time.AfterFunc(w.cfg.Debounce, func() { w.flush(ev.Name) })
	w.mu.Unlock()
}

func (w *Watcher) flush(path string) {
	w.mu.Lock()
	pe, ok := w.pending[path]
	if ok {
		delete(w.pending, path)
		delete(w.timers, path)
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	if !w.takeToken() {
		w.dropped.Add(1)
		w.log.Warn("dropping event: rate limit exceeded", "path", path)
		return
	}

	ev := Event{Kind: pe.kind, Path: pe.path, Timestamp: time.Now()}
	if pe.kind == Created || pe.kind == Modified {
		if info, err := os.Stat(pe.path); err == nil && !info.IsDir() {
			size := info.Size()
			ev.Size = &size
		}
	}

	select {
	case w.events <- ev:
		w.emitted.Add(1)
	default:
		w.dropped.Add(1)
		w.log.Warn("dropping event: channel full", "path", path)
	}
}

func (w *Watcher) takeToken() bool {
	if w.cfg.MaxEventsPerSecond <= 0 {
		return true
	}

	w.tokenMu.Lock()
	defer w.tokenMu.Unlock()

	now := time.Now()
	if now.After(w.tokenReset) {
		w.tokens = w.cfg.MaxEventsPerSecond
		w.tokenReset = now.Add(time.Second)
	}
	if w.tokens <= 0 {
		return false
	}
	w.tokens--
	return true
}

func (w *Watcher) filteredOut(path string) bool {
	base := filepath.Base(path)
	for _, dir := range w.cfg.IgnoreDirs {
		if dir != "" && strings.Contains(filepath.ToSlash(path), "/"+dir+"/") {
			return true
		}
	}
	for _, ext := range w.cfg.IgnoreExtensions {
		if ext != "" && strings.HasSuffix(base, ext) {
			return true
		}
	}
	for _, glob := range w.cfg.IgnoreGlobs {
		if glob == "" {
			continue
		}
		if ok, _ := filepath.Match(glob, base); ok {
			return true
		}
	}
	return false
}

func classify(op fsnotify.Op) EventKind {
	switch {
	case op&fsnotify.Create != 0:
		return Created
	case op&fsnotify.Remove != 0:
		return Deleted
	case op&fsnotify.Rename != 0:
		return MovedFrom
	case op&fsnotify.Write != 0:
		return Modified
	case op&fsnotify.Chmod != 0:
		return AttributeChanged
	default:
		return Unknown
	}
}
