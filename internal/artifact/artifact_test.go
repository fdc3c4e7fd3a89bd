package artifact

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/gstdots/internal/errors"
)

func TestPairFor(t *testing.T) {
	layout := DefaultLayout("/out")

	testCases := []struct {
		name  string
		path  string
		stem  string
		image string
		page  string
	}{
		{"plain", "/dots/pipeline.dot", "pipeline", "/out/pipeline.svg", "/out/pipeline.html"},
		{"relative", "pipeline.dot", "pipeline", "/out/pipeline.svg", "/out/pipeline.html"},
		{
			"gstreamer name",
			"/dots/0.00.01.234-playbin.PAUSED_PLAYING.dot",
			"0.00.01.234-playbin.PAUSED_PLAYING",
			"/out/0.00.01.234-playbin.PAUSED_PLAYING.svg",
			"/out/0.00.01.234-playbin.PAUSED_PLAYING.html",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pair := layout.PairFor(tc.path)
			assert.Equal(t, tc.stem, pair.Stem)
			assert.Equal(t, tc.image, pair.Image)
			assert.Equal(t, tc.page, pair.Page)
		})
	}
}

func TestPairForIgnoresSourceDirectory(t *testing.T) {
	layout := DefaultLayout("/out")
	assert.Equal(t, layout.PairFor("/a/x.dot"), layout.PairFor("/b/x.dot"))
}

func TestPairNames(t *testing.T) {
	pair := DefaultLayout("/out").PairFor("/dots/a.dot")
	assert.Equal(t, "a.svg", pair.ImageName())
	assert.Equal(t, "a.html", pair.PageName())
	assert.Equal(t, "a.svg", DefaultLayout("/out").ImageForPage("a.html"))
}

func TestRenderPage(t *testing.T) {
	page, err := RenderPage([]byte(`<img src="{{SVG}}"><a href="{{SVG}}">x</a>`), "{{SVG}}", "pipeline.svg")
	require.NoError(t, err)
	assert.Equal(t, `<img src="pipeline.svg"><a href="pipeline.svg">x</a>`, string(page))

	_, err = RenderPage([]byte(`<html></html>`), "{{SVG}}", "pipeline.svg")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeTemplate, errors.TypeOf(err))
}

func TestDefaultTemplateHasPlaceholder(t *testing.T) {
	assert.Contains(t, string(DefaultTemplate()), DefaultPlaceholder)
}

func TestWritePage(t *testing.T) {
	dir := t.TempDir()
	pair := DefaultLayout(dir).PairFor("/dots/pipeline.dot")

	require.NoError(t, WritePage(pair, "", DefaultPlaceholder))

	data, err := os.ReadFile(pair.Page)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pipeline.svg")
	assert.NotContains(t, string(data), DefaultPlaceholder)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestWritePageCustomTemplate(t *testing.T) {
	dir := t.TempDir()
	tmplPath := filepath.Join(t.TempDir(), "wrapper.html")
	require.NoError(t, os.WriteFile(tmplPath, []byte("<object data='@IMG@'></object>"), 0o644))

	pair := DefaultLayout(dir).PairFor("g.dot")
	require.NoError(t, WritePage(pair, tmplPath, "@IMG@"))

	data, err := os.ReadFile(pair.Page)
	require.NoError(t, err)
	assert.Equal(t, "<object data='g.svg'></object>", string(data))
}

func TestWritePageMissingTemplate(t *testing.T) {
	dir := t.TempDir()
	pair := DefaultLayout(dir).PairFor("g.dot")

	err := WritePage(pair, filepath.Join(dir, "missing.html"), DefaultPlaceholder)
	require.Error(t, err)
	assert.True(t, errors.IsRecoverable(err))
	assert.True(t, stderrors.Is(err, os.ErrNotExist))
	assert.NoFileExists(t, pair.Page)
}

func TestPrepareOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale.html"), []byte("x"), 0o644))

	require.NoError(t, PrepareOutputDir(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPrepareOutputDirRefusesRoot(t *testing.T) {
	err := PrepareOutputDir(string(filepath.Separator))
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeConfig, errors.TypeOf(err))
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.svg")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	removed, err := Remove(path)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = Remove(path)
	require.NoError(t, err)
	assert.False(t, removed)
}
