// Package dump runs a program with GStreamer pipeline-graph dumping pointed at
// a fresh directory, so the gallery only shows graphs from that run.
package dump

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/conneroisu/gstdots/internal/config"
	"github.com/conneroisu/gstdots/internal/errors"
	"github.com/conneroisu/gstdots/internal/logging"
)

// Runner prepares the dump directory and runs a child process.
type Runner struct {
	Dir    string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger logging.Logger
}

// NewRunner creates a runner for dir with the current process's stdio. An
// empty dir resolves to GST_DEBUG_DUMP_DOT_DIR or the user cache directory.
func NewRunner(dir string, logger logging.Logger) (*Runner, error) {
	if dir == "" {
		var err error
		if dir, err = config.DefaultDumpDir(); err != nil {
			return nil, errors.NewConfigError("ERR_DUMP_DIR", "cannot determine dump directory: "+err.Error())
		}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Runner{
		Dir:    dir,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: logger.WithComponent("dump"),
	}, nil
}

// Prepare creates the dump directory and deletes graphs left by earlier runs.
// It returns how many files were removed.
func (r *Runner) Prepare() (int, error) {
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return 0, errors.NewIOError("ERR_DUMP_DIR", "failed to create dump directory", err).WithPath(r.Dir)
	}

	matches, err := filepath.Glob(filepath.Join(r.Dir, "*.dot*"))
	if err != nil {
		return 0, errors.NewInternalError("ERR_DUMP_GLOB", "invalid dump pattern", err)
	}

	removed := 0
	for _, path := range matches {
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, errors.NewIOError("ERR_DUMP_CLEAN", "failed to remove stale graph", err).WithPath(path)
		}
		removed++
	}
	return removed, nil
}

// Run prepares the directory and runs args with GST_DEBUG_DUMP_DOT_DIR set.
// The child's exit status is returned as an *exec.ExitError.
func (r *Runner) Run(ctx context.Context, args []string) error {
	removed, err := r.Prepare()
	if err != nil {
		return err
	}
	r.Logger.Info(ctx, "Dumping GStreamer pipelines", "dir", r.Dir, "removed", removed)

	if len(args) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = append(os.Environ(), config.DumpDirEnv+"="+r.Dir)
	cmd.Stdin = r.Stdin
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr

	r.Logger.Debug(ctx, "Running command", "args", args)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) {
			return exitErr
		}
		return errors.NewInternalError("ERR_DUMP_RUN", "failed to run "+args[0], err)
	}
	return nil
}

// ExitCode extracts the child exit code from an error returned by Run.
func ExitCode(err error) (int, bool) {
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.ExitCode(), true
	}
	return 0, false
}
