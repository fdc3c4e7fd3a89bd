package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/gstdots/internal/config"
	"github.com/conneroisu/gstdots/internal/dump"
)

// ExitError carries a child process exit code back to main.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

var runCmd = &cobra.Command{
	Use:   "run [flags] -- <command> [args...]",
	Short: "Run a GStreamer program with graph dumping enabled",
	Long: `Run a program with GST_DEBUG_DUMP_DOT_DIR pointing at the dump directory.
Graphs left over from earlier runs are deleted first, so a gallery serving
that directory only shows graphs from this run.

The dump directory is GST_DEBUG_DUMP_DOT_DIR when set, otherwise
gstreamer-dots under the user cache directory. The program inherits the
terminal and its exit status becomes the exit status of gstdots.

Examples:
  gstdots run -- gst-launch-1.0 videotestsrc num-buffers=100 ! fakesink
  gstdots run --dir /tmp/dots -- ./my-player song.ogg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("dir", "", "Dump directory (default $"+config.DumpDirEnv+" or the user cache directory)")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd, config.LogConfig{
		Level:  viper.GetString("log.level"),
		Format: viper.GetString("log.format"),
	})
	if err != nil {
		return err
	}

	dir, _ := cmd.Flags().GetString("dir")
	runner, err := dump.NewRunner(dir, logger)
	if err != nil {
		return err
	}
	runner.Stdin = cmd.InOrStdin()
	runner.Stdout = cmd.OutOrStdout()
	runner.Stderr = cmd.ErrOrStderr()

	// The child shares the terminal and receives interrupts itself.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()
	signal.Ignore(os.Interrupt)
	defer signal.Reset(os.Interrupt)

	err = runner.Run(ctx, args)
	if code, ok := dump.ExitCode(err); ok {
		cmd.SilenceErrors = true
		return &ExitError{Code: code, Err: err}
	}
	return err
}
