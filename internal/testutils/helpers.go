// Package testutils holds helpers shared by tests that drive gstdots end to end.
package testutils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/gstdots/internal/config"
	"github.com/conneroisu/gstdots/internal/renderer"
)

// SampleGraph is a minimal pipeline-graph description.
const SampleGraph = "digraph pipeline {\n  src -> sink;\n}\n"

// CreateTempLayout creates a source directory for descriptions and returns
// it with a sibling output directory path, which is not created.
func CreateTempLayout(t *testing.T) (src, out string) {
	t.Helper()
	base := t.TempDir()
	src = filepath.Join(base, "dots")
	require.NoError(t, os.MkdirAll(src, 0o755))
	return src, filepath.Join(base, "out")
}

// CreateTestConfig loads a configuration that listens on a free loopback
// port, watches a fresh temporary directory and settles files quickly.
func CreateTestConfig(t *testing.T) *config.Config {
	t.Helper()
	src, out := CreateTempLayout(t)

	v := viper.New()
	v.Set("server.host", "127.0.0.1")
	v.Set("server.port", 0)
	v.Set("source.dir", src)
	v.Set("source.settle_delay", 20*time.Millisecond)
	v.Set("output.dir", out)
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)
	return cfg
}

// WriteGraph writes SampleGraph to dir/name and returns the path.
func WriteGraph(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(SampleGraph), 0o644))
	return path
}

// CopyRenderer returns a renderer that copies the description to the image
// path, standing in for Graphviz.
func CopyRenderer(t *testing.T) renderer.Renderer {
	t.Helper()
	r, err := renderer.NewCommand("cp", []string{renderer.InputToken, renderer.OutputToken},
		renderer.WithAllowedCommands("cp"))
	require.NoError(t, err)
	return r
}

// WaitForFile fails the test unless path exists within timeout.
func WaitForFile(t *testing.T, path string, timeout time.Duration) {
	t.Helper()
	if !poll(timeout, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}) {
		t.Fatalf("file %s did not appear within %v", path, timeout)
	}
}

// WaitForNoFile fails the test unless path is gone within timeout.
func WaitForNoFile(t *testing.T, path string, timeout time.Duration) {
	t.Helper()
	if !poll(timeout, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}) {
		t.Fatalf("file %s still exists after %v", path, timeout)
	}
}

func poll(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}
