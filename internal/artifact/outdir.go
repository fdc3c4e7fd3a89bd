package artifact

import (
	"os"
	"path/filepath"

	"github.com/conneroisu/gstdots/internal/errors"
)

// PrepareOutputDir wipes dir and recreates it empty, so the artifact registry
// starts from a state consistent with disk.
func PrepareOutputDir(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return errors.NewIOError("ERR_OUTPUT_DIR", "cannot resolve output directory", err).WithPath(dir)
	}
	if isProtected(abs) {
		return errors.NewConfigError("ERR_OUTPUT_DIR", "refusing to wipe protected directory").WithPath(abs)
	}
	if err := os.RemoveAll(abs); err != nil {
		return errors.NewIOError("ERR_OUTPUT_DIR", "failed to clear output directory", err).WithPath(abs)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return errors.NewIOError("ERR_OUTPUT_DIR", "failed to create output directory", err).WithPath(abs)
	}
	return nil
}

func isProtected(abs string) bool {
	if abs == filepath.VolumeName(abs)+string(filepath.Separator) {
		return true
	}
	if home, err := os.UserHomeDir(); err == nil && filepath.Clean(home) == abs {
		return true
	}
	if cwd, err := os.Getwd(); err == nil && cwd == abs {
		return true
	}
	return false
}

// Remove deletes path. A missing file is not an error; the result reports
// whether something was actually removed.
func Remove(path string) (bool, error) {
	err := os.Remove(path)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, errors.NewIOError("ERR_REMOVE", "failed to remove artifact", err).WithPath(path)
	}
}
