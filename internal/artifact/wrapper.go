package artifact

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/conneroisu/gstdots/internal/errors"
)

//go:embed templates/viewer.html
var defaultTemplate []byte

// DefaultPlaceholder is the token replaced with the image file name.
const DefaultPlaceholder = "{{SVG}}"

// DefaultTemplate returns a copy of the built-in wrapper page.
func DefaultTemplate() []byte {
	return bytes.Clone(defaultTemplate)
}

// LoadTemplate reads the wrapper-page template from path. An empty path
// selects the built-in template.
func LoadTemplate(path string) ([]byte, error) {
	if path == "" {
		return DefaultTemplate(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewTemplateError("ERR_TEMPLATE_READ", "failed to read wrapper template", err).
			WithPath(path)
	}
	return data, nil
}

// RenderPage substitutes imageName for every occurrence of token. Nothing else
// about the template is interpreted.
func RenderPage(tmpl []byte, token, imageName string) ([]byte, error) {
	if !bytes.Contains(tmpl, []byte(token)) {
		return nil, errors.ErrPlaceholderMissing(token)
	}
	return bytes.ReplaceAll(tmpl, []byte(token), []byte(imageName)), nil
}

// WritePage reads the template, fills in the pair's image name and writes the
// result to the pair's page path.
func WritePage(pair Pair, templatePath, token string) error {
	tmpl, err := LoadTemplate(templatePath)
	if err != nil {
		return err
	}
	page, err := RenderPage(tmpl, token, pair.ImageName())
	if err != nil {
		return err
	}
	if err := WriteFileAtomic(pair.Page, page); err != nil {
		return errors.NewTemplateError("ERR_PAGE_WRITE", "failed to write wrapper page", err).
			WithPath(pair.Page)
	}
	return nil
}

// WriteFileAtomic writes data next to path and renames it into place, so
// directory watchers observe one complete file rather than a partial write.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", tmpName, err)
	}
	return nil
}

// TempImagePath returns a scratch path in the output directory for an
// in-flight render of pair. It never matches the image or page extension.
func TempImagePath(pair Pair, generation uint64) string {
	return filepath.Join(filepath.Dir(pair.Image), fmt.Sprintf(".%s-%d.render", pair.Stem, generation))
}
