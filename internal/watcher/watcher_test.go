package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/gstdots/internal/errors"
)

func TestOpString(t *testing.T) {
	testCases := []struct {
		op       Op
		expected string
	}{
		{Added, "added"},
		{Removed, "removed"},
		{Modified, "modified"},
		{Op(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.op.String())
		})
	}
}

func TestExtensionFilter(t *testing.T) {
	testCases := []struct {
		path     string
		expected bool
	}{
		{"/dots/pipeline.dot", true},
		{"/dots/pipeline.dot.tmp", false},
		{"/dots/pipeline.svg", false},
		{"/dots/dot", false},
	}

	filter := ExtensionFilter(".dot")
	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.expected, filter(tc.path))
		})
	}
}

func TestNoHiddenFilter(t *testing.T) {
	assert.True(t, NoHiddenFilter("/out/a.html"))
	assert.False(t, NoHiddenFilter("/out/.a.html-123.tmp"))
}

// newUnstarted builds a watcher whose state machine is driven by hand.
func newUnstarted(t *testing.T, dir string, opts ...Option) *DirWatcher {
	t.Helper()
	w, err := New(dir, append([]Option{WithFilter(ExtensionFilter(".dot"))}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { w.Stop() })
	return w
}

func drain(w *DirWatcher) []Event {
	var events []Event
	for {
		select {
		case ev := <-w.events:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func settleAll(t *testing.T, w *DirWatcher) {
	t.Helper()
	require.True(t, w.flush(context.Background(), time.Now().Add(time.Hour)))
}

func TestStateMachineAddRemove(t *testing.T) {
	dir := t.TempDir()
	w := newUnstarted(t, dir)
	ctx := context.Background()
	path := filepath.Join(dir, "a.dot")

	require.NoError(t, os.WriteFile(path, []byte("digraph{}"), 0o644))
	w.handleFsnotifyEvent(ctx, fsnotify.Event{Name: path, Op: fsnotify.Create})
	w.handleFsnotifyEvent(ctx, fsnotify.Event{Name: path, Op: fsnotify.Write})
	assert.Empty(t, drain(w), "nothing is announced before the file settles")

	settleAll(t, w)
	assert.Equal(t, []Event{{Op: Added, Path: path, Name: "a.dot"}}, drain(w))

	// A second create for an announced file must not produce another Added.
	w.handleFsnotifyEvent(ctx, fsnotify.Event{Name: path, Op: fsnotify.Create})
	settleAll(t, w)
	assert.Empty(t, drain(w))

	require.NoError(t, os.Remove(path))
	w.handleFsnotifyEvent(ctx, fsnotify.Event{Name: path, Op: fsnotify.Remove})
	assert.Equal(t, []Event{{Op: Removed, Path: path, Name: "a.dot"}}, drain(w))

	// Removing again is a no-op.
	w.handleFsnotifyEvent(ctx, fsnotify.Event{Name: path, Op: fsnotify.Remove})
	assert.Empty(t, drain(w))
}

func TestStateMachineCreateThenRemoveBeforeSettle(t *testing.T) {
	dir := t.TempDir()
	w := newUnstarted(t, dir)
	ctx := context.Background()
	path := filepath.Join(dir, "short.dot")

	require.NoError(t, os.WriteFile(path, nil, 0o644))
	w.handleFsnotifyEvent(ctx, fsnotify.Event{Name: path, Op: fsnotify.Create})
	require.NoError(t, os.Remove(path))
	w.handleFsnotifyEvent(ctx, fsnotify.Event{Name: path, Op: fsnotify.Remove})

	settleAll(t, w)
	assert.Empty(t, drain(w))
}

func TestStateMachineRenameIsRemoval(t *testing.T) {
	dir := t.TempDir()
	w := newUnstarted(t, dir)
	ctx := context.Background()
	path := filepath.Join(dir, "a.dot")

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	w.handleFsnotifyEvent(ctx, fsnotify.Event{Name: path, Op: fsnotify.Create})
	settleAll(t, w)
	drain(w)

	require.NoError(t, os.Rename(path, filepath.Join(dir, "b.txt")))
	w.handleFsnotifyEvent(ctx, fsnotify.Event{Name: path, Op: fsnotify.Rename})
	assert.Equal(t, []Event{{Op: Removed, Path: path, Name: "a.dot"}}, drain(w))
}

func TestStateMachineModified(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	path := filepath.Join(dir, "a.dot")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	t.Run("disabled", func(t *testing.T) {
		w := newUnstarted(t, dir)
		w.handleFsnotifyEvent(ctx, fsnotify.Event{Name: path, Op: fsnotify.Create})
		settleAll(t, w)
		drain(w)

		w.handleFsnotifyEvent(ctx, fsnotify.Event{Name: path, Op: fsnotify.Write})
		settleAll(t, w)
		assert.Empty(t, drain(w))
	})

	t.Run("enabled", func(t *testing.T) {
		w := newUnstarted(t, dir, WithModified(true))
		w.handleFsnotifyEvent(ctx, fsnotify.Event{Name: path, Op: fsnotify.Create})
		settleAll(t, w)
		drain(w)

		w.handleFsnotifyEvent(ctx, fsnotify.Event{Name: path, Op: fsnotify.Write})
		w.handleFsnotifyEvent(ctx, fsnotify.Event{Name: path, Op: fsnotify.Write})
		settleAll(t, w)
		assert.Equal(t, []Event{{Op: Modified, Path: path, Name: "a.dot"}}, drain(w))
	})
}

func TestStateMachineIgnoresForeignPaths(t *testing.T) {
	dir := t.TempDir()
	w := newUnstarted(t, dir)
	ctx := context.Background()

	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	nested := filepath.Join(sub, "a.dot")
	require.NoError(t, os.WriteFile(nested, []byte("x"), 0o644))
	other := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))

	w.handleFsnotifyEvent(ctx, fsnotify.Event{Name: nested, Op: fsnotify.Create})
	w.handleFsnotifyEvent(ctx, fsnotify.Event{Name: other, Op: fsnotify.Create})
	settleAll(t, w)
	assert.Empty(t, drain(w))
}

func TestResyncReconcilesLostEvents(t *testing.T) {
	dir := t.TempDir()
	w := newUnstarted(t, dir)
	ctx := context.Background()

	a := filepath.Join(dir, "a.dot")
	b := filepath.Join(dir, "b.dot")
	require.NoError(t, os.WriteFile(a, []byte("x"), 0o644))
	w.handleFsnotifyEvent(ctx, fsnotify.Event{Name: a, Op: fsnotify.Create})
	settleAll(t, w)
	drain(w)

	// Both changes happen without notifications.
	require.NoError(t, os.Remove(a))
	require.NoError(t, os.WriteFile(b, []byte("x"), 0o644))

	w.resync(ctx)
	settleAll(t, w)
	assert.Equal(t, []Event{
		{Op: Removed, Path: a, Name: "a.dot"},
		{Op: Added, Path: b, Name: "b.dot"},
	}, drain(w))
}

func collect(t *testing.T, events <-chan Event, n int, timeout time.Duration) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed after %d of %d events", len(got), n)
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out after %d of %d events: %v", len(got), n, got)
		}
	}
	return got
}

func expectQuiet(t *testing.T, events <-chan Event, d time.Duration) {
	t.Helper()
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %v", ev)
	case <-time.After(d):
	}
}

func TestDirWatcherEndToEnd(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "existing.dot")
	require.NoError(t, os.WriteFile(existing, []byte("digraph{}"), 0o644))

	w, err := New(dir,
		WithFilter(ExtensionFilter(".dot")),
		WithSettleDelay(30*time.Millisecond),
	)
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	got := collect(t, w.Events(), 1, 2*time.Second)
	assert.Equal(t, Event{Op: Added, Path: existing, Name: "existing.dot"}, got[0])

	fresh := filepath.Join(dir, "fresh.dot")
	require.NoError(t, os.WriteFile(fresh, []byte("digraph{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.svg"), []byte("<svg/>"), 0o644))

	got = collect(t, w.Events(), 1, 2*time.Second)
	assert.Equal(t, Event{Op: Added, Path: fresh, Name: "fresh.dot"}, got[0])

	require.NoError(t, os.Remove(fresh))
	got = collect(t, w.Events(), 1, 2*time.Second)
	assert.Equal(t, Event{Op: Removed, Path: fresh, Name: "fresh.dot"}, got[0])

	expectQuiet(t, w.Events(), 150*time.Millisecond)
}

func TestDirWatcherStopClosesStream(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, WithFilter(ExtensionFilter(".dot")))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())

	select {
	case _, ok := <-w.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("event stream not closed")
	}

	// Stop is idempotent.
	assert.NoError(t, w.Stop())
}

func TestDirWatcherMissingDirectory(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	defer w.Stop()

	err = w.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeWatch, errors.TypeOf(err))
	assert.False(t, errors.IsRecoverable(err))
}

func TestDirWatcherStartTwice(t *testing.T) {
	w, err := New(t.TempDir())
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, w.Start(context.Background()))
	err = w.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeWatch, errors.TypeOf(err))
}

func TestScanAnnouncesOldestFirst(t *testing.T) {
	dir := t.TempDir()
	w := newUnstarted(t, dir)

	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"c.dot", "a.dot", "b.dot"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("digraph{}"), 0o644))
		mtime := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}

	w.scan(time.Now())
	settleAll(t, w)

	var names []string
	for _, ev := range drain(w) {
		assert.Equal(t, Added, ev.Op)
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{"c.dot", "a.dot", "b.dot"}, names)
}
