package watcher

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/gstdots/internal/errors"
	"github.com/conneroisu/gstdots/internal/logging"
)

// Op is the kind of change reported for a path.
type Op int

const (
	Added Op = iota
	Removed
	Modified
)

// String returns the string representation of the Op
func (o Op) String() string {
	switch o {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Modified:
		return "modified"
	default:
		return "unknown"
	}
}

// Event is a normalized change to one file in the watched directory.
type Event struct {
	Op   Op
	Path string // absolute path
	Name string // path relative to the watched directory
}

// Filter determines if a file should be watched
type Filter func(path string) bool

// DirWatcher observes one directory, non-recursively, and turns raw fsnotify
// notifications into a stream of Added/Removed (and optionally Modified)
// events. For any one path, Added and Removed strictly alternate.
//
// A new file is announced only once it has been quiet for the settle delay,
// so consumers never see a file that is still being written. A file created
// and deleted within that window is never announced.
type DirWatcher struct {
	dir      string
	filters  []Filter
	settle   time.Duration
	modified bool
	buffer   int
	logger   logging.Logger

	watcher *fsnotify.Watcher
	events  chan Event
	stop    chan struct{}
	done    chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	mutex     sync.Mutex

	// owned by the loop goroutine
	seen    map[string]bool
	pending map[string]time.Time
	dirty   map[string]time.Time
}

// Option configures a DirWatcher.
type Option func(*DirWatcher)

// WithFilter adds a file filter; all filters must accept a path.
func WithFilter(f Filter) Option {
	return func(w *DirWatcher) { w.filters = append(w.filters, f) }
}

// WithSettleDelay sets how long a file must be quiet before it is announced.
func WithSettleDelay(d time.Duration) Option {
	return func(w *DirWatcher) { w.settle = d }
}

// WithModified enables Modified events for writes to announced files.
func WithModified(enabled bool) Option {
	return func(w *DirWatcher) { w.modified = enabled }
}

// WithBuffer sets the capacity of the event channel.
func WithBuffer(n int) Option {
	return func(w *DirWatcher) { w.buffer = n }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(w *DirWatcher) { w.logger = l }
}

// New creates a watcher for dir. Nothing is observed until Start.
func New(dir string, opts ...Option) (*DirWatcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.NewWatchError("ERR_WATCH_PATH", "invalid watch directory", err).WithPath(dir)
	}

	w := &DirWatcher{
		dir:     abs,
		settle:  100 * time.Millisecond,
		buffer:  64,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		seen:    make(map[string]bool),
		pending: make(map[string]time.Time),
		dirty:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logging.NewNopLogger()
	}
	w.logger = w.logger.WithComponent("watcher").With("dir", abs)
	w.events = make(chan Event, w.buffer)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewWatchError("ERR_WATCH_INIT", "failed to create file watcher", err)
	}
	w.watcher = fsw

	return w, nil
}

// Dir returns the absolute watched directory.
func (w *DirWatcher) Dir() string {
	return w.dir
}

// Events returns the event stream. It is closed after Stop or when the
// context passed to Start is cancelled.
func (w *DirWatcher) Events() <-chan Event {
	return w.events
}

// Start begins watching. Files already present are announced as Added.
// A missing or unwatchable directory is reported as a watch error.
func (w *DirWatcher) Start(ctx context.Context) error {
	var err error = errors.NewWatchError("ERR_WATCH_STARTED", "watcher already started", nil).WithPath(w.dir)
	w.startOnce.Do(func() {
		err = w.start(ctx)
	})
	return err
}

func (w *DirWatcher) start(ctx context.Context) error {
	info, err := os.Stat(w.dir)
	if err != nil {
		return errors.NewWatchError("ERR_WATCH_DIR", "cannot watch directory", err).WithPath(w.dir)
	}
	if !info.IsDir() {
		return errors.NewWatchError("ERR_WATCH_DIR", "watch path is not a directory", nil).WithPath(w.dir)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return errors.NewWatchError("ERR_WATCH_DIR", "cannot watch directory", err).WithPath(w.dir)
	}

	// Scan after Add so nothing created in between is missed.
	w.scan(time.Now())

	w.logger.Info(ctx, "Watching directory", "initial_files", len(w.pending))

	w.mutex.Lock()
	w.started = true
	w.mutex.Unlock()

	go w.loop(ctx)

	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *DirWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stop)
		err = w.watcher.Close()

		w.mutex.Lock()
		started := w.started
		w.mutex.Unlock()

		if started {
			<-w.done
		} else {
			close(w.events)
		}
	})
	return err
}

func (w *DirWatcher) loop(ctx context.Context) {
	defer close(w.done)
	defer close(w.events)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		if next, ok := w.nextDeadline(); ok {
			timer.Reset(time.Until(next))
		} else {
			timer.Stop()
		}

		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFsnotifyEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if stderrors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn(ctx, err, "Event queue overflowed, rescanning")
				w.resync(ctx)
				continue
			}
			// Log error but continue watching
			w.logger.Warn(ctx, err, "File watcher error")
		case now := <-timer.C:
			if !w.flush(ctx, now) {
				return
			}
		}
	}
}

func (w *DirWatcher) accept(path string) bool {
	if filepath.Dir(path) != w.dir {
		return false
	}
	for _, filter := range w.filters {
		if !filter(path) {
			return false
		}
	}
	return true
}

func (w *DirWatcher) handleFsnotifyEvent(ctx context.Context, event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	if !w.accept(path) {
		return
	}

	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		w.vanished(ctx, path)

	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			w.vanished(ctx, path)
			return
		}
		if info.IsDir() {
			return
		}
		deadline := time.Now().Add(w.settle)
		switch {
		case !w.seen[path]:
			w.pending[path] = deadline
		case w.modified:
			w.dirty[path] = deadline
		}
	}
}

// vanished handles a path that no longer exists.
func (w *DirWatcher) vanished(ctx context.Context, path string) {
	if _, ok := w.pending[path]; ok {
		delete(w.pending, path)
		return
	}
	if !w.seen[path] {
		return
	}
	delete(w.seen, path)
	delete(w.dirty, path)
	w.emit(ctx, Removed, path)
}

func (w *DirWatcher) nextDeadline() (time.Time, bool) {
	var next time.Time
	found := false
	for _, set := range []map[string]time.Time{w.pending, w.dirty} {
		for _, deadline := range set {
			if !found || deadline.Before(next) {
				next = deadline
				found = true
			}
		}
	}
	return next, found
}

type due struct {
	path     string
	deadline time.Time
}

func collectDue(set map[string]time.Time, now time.Time) []due {
	var ready []due
	for path, deadline := range set {
		if !deadline.After(now) {
			ready = append(ready, due{path, deadline})
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].deadline.Equal(ready[j].deadline) {
			return ready[i].path < ready[j].path
		}
		return ready[i].deadline.Before(ready[j].deadline)
	})
	return ready
}

// flush announces every settled path. It returns false if the watcher is shutting down.
func (w *DirWatcher) flush(ctx context.Context, now time.Time) bool {
	for _, d := range collectDue(w.pending, now) {
		delete(w.pending, d.path)
		info, err := os.Stat(d.path)
		if err != nil || info.IsDir() {
			continue
		}
		w.seen[d.path] = true
		if !w.emit(ctx, Added, d.path) {
			return false
		}
	}
	for _, d := range collectDue(w.dirty, now) {
		delete(w.dirty, d.path)
		if !w.seen[d.path] {
			continue
		}
		if !w.emit(ctx, Modified, d.path) {
			return false
		}
	}
	return true
}

func (w *DirWatcher) emit(ctx context.Context, op Op, path string) bool {
	event := Event{Op: op, Path: path, Name: filepath.Base(path)}
	w.logger.Debug(ctx, "File event", "op", op.String(), "path", path)

	select {
	case w.events <- event:
		return true
	case <-ctx.Done():
		return false
	case <-w.stop:
		return false
	}
}

// listDir returns the accepted regular files currently in the directory.
func (w *DirWatcher) listDir() (map[string]bool, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if w.accept(path) {
			present[path] = true
		}
	}
	return present, nil
}

func (w *DirWatcher) scan(now time.Time) {
	present, err := w.listDir()
	if err != nil {
		return
	}
	var fresh []string
	for path := range present {
		if w.seen[path] {
			continue
		}
		if _, ok := w.pending[path]; !ok {
			fresh = append(fresh, path)
		}
	}
	// Files found together are announced oldest first.
	for i, path := range byModTime(fresh) {
		w.pending[path] = now.Add(time.Duration(i))
	}
}

// byModTime sorts paths by modification time, oldest first, then by name.
// Paths that cannot be stat'ed sort last.
func byModTime(paths []string) []string {
	mtimes := make(map[string]time.Time, len(paths))
	for _, path := range paths {
		if info, err := os.Stat(path); err == nil {
			mtimes[path] = info.ModTime()
		}
	}
	sort.Slice(paths, func(i, j int) bool {
		ti, iok := mtimes[paths[i]]
		tj, jok := mtimes[paths[j]]
		switch {
		case iok != jok:
			return iok
		case !ti.Equal(tj):
			return ti.Before(tj)
		default:
			return paths[i] < paths[j]
		}
	})
	return paths
}

// resync reconciles the seen set with the directory after lost notifications.
func (w *DirWatcher) resync(ctx context.Context) {
	present, err := w.listDir()
	if err != nil {
		w.logger.Error(ctx, err, "Rescan failed")
		return
	}

	var gone []string
	for path := range w.seen {
		if !present[path] {
			gone = append(gone, path)
		}
	}
	sort.Strings(gone)
	for _, path := range gone {
		w.vanished(ctx, path)
	}
	for path := range w.pending {
		if !present[path] {
			delete(w.pending, path)
		}
	}

	w.scan(time.Now())
}

// Common file filters

// ExtensionFilter accepts files whose extension is ext.
func ExtensionFilter(ext string) Filter {
	return func(path string) bool {
		return filepath.Ext(path) == ext
	}
}

// NoHiddenFilter rejects dot files, which include in-flight temporary files.
func NoHiddenFilter(path string) bool {
	base := filepath.Base(path)
	return len(base) > 0 && base[0] != '.'
}
