// Package registry keeps the ordered set of viewer pages currently on disk.
package registry

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/gstdots/internal/logging"
	"github.com/conneroisu/gstdots/internal/watcher"
)

// Entry is one viewer page, identified by its path relative to the output directory.
type Entry struct {
	Path  string    `json:"path"`
	Added time.Time `json:"added"`
}

// Registry is an insertion-ordered set of entries. Adding a present path and
// removing an absent path are no-ops.
type Registry struct {
	root    string
	entries []Entry
	index   map[string]int
	mutex   sync.RWMutex
	logger  logging.Logger
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates an empty registry whose entries are relative to root.
func New(root string, opts ...Option) *Registry {
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	r := &Registry{
		root:  root,
		index: make(map[string]int),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.NewNopLogger()
	}
	r.logger = r.logger.WithComponent("registry")
	return r
}

// Add appends path. It reports whether the registry changed.
func (r *Registry) Add(path string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.index[path]; exists {
		return false
	}
	r.index[path] = len(r.entries)
	r.entries = append(r.entries, Entry{Path: path, Added: r.now()})
	return true
}

// Remove deletes path, keeping the order of the remaining entries. It reports
// whether the registry changed.
func (r *Registry) Remove(path string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	i, exists := r.index[path]
	if !exists {
		return false
	}
	delete(r.index, path)
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
	for j := i; j < len(r.entries); j++ {
		r.index[r.entries[j].Path] = j
	}
	return true
}

// Apply folds one watcher event into the registry and reports whether the
// observable content changed. Modified events never change the set.
func (r *Registry) Apply(ev watcher.Event) bool {
	rel := r.relative(ev.Path)
	switch ev.Op {
	case watcher.Added:
		return r.Add(rel)
	case watcher.Removed:
		return r.Remove(rel)
	default:
		return false
	}
}

func (r *Registry) relative(path string) string {
	if r.root == "" || !filepath.IsAbs(path) {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(r.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		// The output directory is watched non-recursively, so the name alone
		// is still the served path.
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}

// Snapshot returns a copy of the entries in display order.
func (r *Registry) Snapshot() []Entry {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Paths returns the entry paths in display order.
func (r *Registry) Paths() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Path
	}
	return out
}

// Contains reports whether path is registered.
func (r *Registry) Contains(path string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, ok := r.index[path]
	return ok
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.entries)
}

// Notifier is told when the registry content changed.
type Notifier interface {
	Refresh()
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func()

// Refresh calls f.
func (f NotifierFunc) Refresh() { f() }

// Sync applies events in arrival order and calls n.Refresh exactly once for
// every event that changed the content. It returns when events is closed or
// ctx is done.
func (r *Registry) Sync(ctx context.Context, events <-chan watcher.Event, n Notifier) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !r.Apply(ev) {
				continue
			}
			r.logger.Debug(ctx, "Registry changed", "op", ev.Op.String(), "path", r.relative(ev.Path), "entries", r.Len())
			if n != nil {
				n.Refresh()
			}
		}
	}
}
