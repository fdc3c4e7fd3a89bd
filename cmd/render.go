package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/gstdots/internal/services"
)

var renderCmd = &cobra.Command{
	Use:     "render <file.dot>...",
	Aliases: []string{"r"},
	Short:   "Render graph descriptions once",
	Long: `Render each description file into an image and a viewer page in the
output directory, then exit. Existing artifacts are overwritten; nothing
else in the output directory is touched.

Examples:
  gstdots render pipeline.dot
  gstdots render -o out /tmp/dots/*.dot`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().StringP("output", "o", ".generated", "Directory for rendered artifacts")
}

func runRender(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd, map[string]string{"output": "output.dir"}); err != nil {
		return err
	}
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	results, err := services.NewRenderService(cfg, services.WithLogger(logger)).Render(cmd.Context(), args)
	out := cmd.OutOrStdout()
	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(out, "✗ %s: %v\n", res.Source, res.Err)
			continue
		}
		fmt.Fprintf(out, "✓ %s -> %s\n", res.Source, res.Page)
	}
	return err
}
