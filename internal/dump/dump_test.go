package dump

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/gstdots/internal/config"
	"github.com/conneroisu/gstdots/internal/logging"
)

func newTestRunner(t *testing.T, dir string) (*Runner, *bytes.Buffer) {
	t.Helper()
	r, err := NewRunner(dir, logging.NewNopLogger())
	require.NoError(t, err)
	var out bytes.Buffer
	r.Stdin = strings.NewReader("")
	r.Stdout = &out
	r.Stderr = &out
	return r, &out
}

func TestPrepareRemovesStaleGraphs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dots")
	r, _ := newTestRunner(t, dir)

	_, err := r.Prepare()
	require.NoError(t, err)
	assert.DirExists(t, dir)

	for _, name := range []string{"a.dot", "b.dot.tmp", "keep.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.dot.d"), 0o755))

	removed, err := r.Prepare()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.NoFileExists(t, filepath.Join(dir, "a.dot"))
	assert.NoFileExists(t, filepath.Join(dir, "b.dot.tmp"))
	assert.FileExists(t, filepath.Join(dir, "keep.txt"))
	assert.DirExists(t, filepath.Join(dir, "sub.dot.d"))
}

func TestRunExportsDumpDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	dir := t.TempDir()
	r, out := newTestRunner(t, dir)

	require.NoError(t, r.Run(context.Background(), []string{"sh", "-c", "echo $" + config.DumpDirEnv}))
	assert.Equal(t, dir, strings.TrimSpace(out.String()))
}

func TestRunReturnsExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	r, _ := newTestRunner(t, t.TempDir())

	err := r.Run(context.Background(), []string{"sh", "-c", "exit 3"})
	require.Error(t, err)
	code, ok := ExitCode(err)
	assert.True(t, ok)
	assert.Equal(t, 3, code)
}

func TestRunMissingProgram(t *testing.T) {
	r, _ := newTestRunner(t, t.TempDir())

	err := r.Run(context.Background(), []string{"gstdots-no-such-program"})
	require.Error(t, err)
	_, ok := ExitCode(err)
	assert.False(t, ok)
}

func TestRunWithoutCommandOnlyPrepares(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.dot"), nil, 0o644))
	r, _ := newTestRunner(t, dir)

	require.NoError(t, r.Run(context.Background(), nil))
	assert.NoFileExists(t, filepath.Join(dir, "old.dot"))
}

func TestNewRunnerUsesEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.DumpDirEnv, dir)

	r, err := NewRunner("", nil)
	require.NoError(t, err)
	assert.Equal(t, dir, r.Dir)
}
