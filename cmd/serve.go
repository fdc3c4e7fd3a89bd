package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/gstdots/internal/services"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Watch a dump directory and serve the live graph gallery",
	Long: `Watch the source directory for pipeline-graph descriptions, render each
one into the output directory and serve a gallery that refreshes whenever
the set of rendered graphs changes.

The source directory defaults to GST_DEBUG_DUMP_DOT_DIR, then the current
directory. The output directory is wiped at startup.

Examples:
  gstdots serve
  gstdots serve --source /tmp/dots --port 8080
  gstdots serve --rerender`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 3000, "Port to serve on (0 picks a free port)")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().StringP("source", "s", "", "Directory of graph descriptions")
	serveCmd.Flags().StringP("output", "o", ".generated", "Directory for rendered artifacts")
	serveCmd.Flags().Duration("settle", 100*time.Millisecond, "How long a new file must be quiet before it is rendered")
	serveCmd.Flags().Bool("rerender", false, "Re-render graphs whose description is rewritten")
	serveCmd.Flags().Int("workers", 0, "Maximum concurrent renders (0 for no limit)")
}

var serveBindings = map[string]string{
	"port":     "server.port",
	"host":     "server.host",
	"source":   "source.dir",
	"output":   "output.dir",
	"settle":   "source.settle_delay",
	"rerender": "render.rerender_on_change",
	"workers":  "render.workers",
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd, serveBindings); err != nil {
		return err
	}
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := services.NewServeService(cfg, services.WithLogger(logger))
	return svc.Serve(ctx, services.ServeOptions{
		OnReady: func(info services.ServerInfo) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Serving %s\n", info.URL)
			fmt.Fprintf(out, "  watching %s\n", info.SourceDir)
			fmt.Fprintf(out, "  writing  %s\n", info.OutputDir)
		},
	})
}
