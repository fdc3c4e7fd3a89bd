// Package artifact owns the on-disk layout of rendered graphs: the pure
// mapping from a description file to its image and wrapper page, the
// wrapper-page template substitution, and the lifecycle of the output
// directory.
package artifact

import (
	"path/filepath"
	"strings"
)

// Layout fixes where artifacts live and which extensions they use.
type Layout struct {
	Dir      string
	ImageExt string
	PageExt  string
}

// DefaultLayout is the layout used when nothing is configured.
func DefaultLayout(dir string) Layout {
	return Layout{Dir: dir, ImageExt: ".svg", PageExt: ".html"}
}

// Pair is the image and wrapper page rendered from one description file.
type Pair struct {
	Stem  string
	Image string
	Page  string
}

// Stem returns the file name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// PairFor derives the artifact paths for a description file. The result only
// depends on the file's stem, so a removal can be mapped back to the pair
// without any other bookkeeping.
func (l Layout) PairFor(descriptionPath string) Pair {
	stem := Stem(descriptionPath)
	return Pair{
		Stem:  stem,
		Image: filepath.Join(l.Dir, stem+l.ImageExt),
		Page:  filepath.Join(l.Dir, stem+l.PageExt),
	}
}

// ImageName is the base name of the image, as referenced from the wrapper page.
func (p Pair) ImageName() string {
	return filepath.Base(p.Image)
}

// PageName is the base name of the wrapper page, which is also its registry path.
func (p Pair) PageName() string {
	return filepath.Base(p.Page)
}

// ImageForPage maps a registry page path back to the image it wraps.
func (l Layout) ImageForPage(page string) string {
	return strings.TrimSuffix(page, filepath.Ext(page)) + l.ImageExt
}
