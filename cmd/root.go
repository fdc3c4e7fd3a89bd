// Package cmd provides the command-line interface for gstdots.
//
// Configuration is resolved from several sources, highest priority first:
//
//  1. Command-line flags (--port, --source, ...)
//  2. Environment variables following GSTDOTS_<SECTION>_<KEY>
//     (GSTDOTS_SERVER_PORT, GSTDOTS_RENDER_COMMAND, ...)
//  3. The configuration file: --config, then GSTDOTS_CONFIG_FILE, then
//     .gstdots.yml in the current directory
//  4. Built-in defaults
//
// A .env file in the current directory is loaded into the environment before
// any of the above are read.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/gstdots/internal/config"
	"github.com/conneroisu/gstdots/internal/logging"
)

// ConfigFileEnv names a configuration file when --config is not given.
const ConfigFileEnv = "GSTDOTS_CONFIG_FILE"

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "gstdots",
	Short: "Live gallery of GStreamer pipeline graphs",
	Long: `gstdots watches a directory of pipeline-graph descriptions (*.dot files,
written by GStreamer when GST_DEBUG_DUMP_DOT_DIR is set), renders each one
into an image and a viewer page, and keeps every open browser in sync with
the current set of graphs.

Quick Start:
  gstdots run -- gst-launch-1.0 videotestsrc ! autovideosink
  gstdots serve                   Serve the gallery for GST_DEBUG_DUMP_DOT_DIR
  gstdots render pipeline.dot     Render graphs once without serving

Command Aliases:
  serve (s), render (r)`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is .gstdots.yml, can also use "+ConfigFileEnv+" env var)")
	enumFlag(rootCmd.PersistentFlags(), &logLevel, "log-level", "l", "info", "log level",
		"debug", "info", "warn", "error")
	enumFlag(rootCmd.PersistentFlags(), &logFormat, "log-format", "", "text", "log format", "text", "json")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig wires the configuration sources into the global viper instance.
func initConfig() {
	// Missing .env is the common case.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv(ConfigFileEnv); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".gstdots")
	}

	viper.SetEnvPrefix("GSTDOTS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// bindFlags binds the named flags of cmd to configuration keys. Commands
// share keys, so binding happens when a command runs rather than at init.
func bindFlags(cmd *cobra.Command, bindings map[string]string) error {
	for flagName, key := range bindings {
		flag := cmd.Flags().Lookup(flagName)
		if flag == nil {
			return fmt.Errorf("unknown flag %q", flagName)
		}
		if err := viper.BindPFlag(key, flag); err != nil {
			return err
		}
	}
	return nil
}

// loadConfig resolves the configuration and a logger built from it.
func loadConfig(cmd *cobra.Command) (*config.Config, logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := newLogger(cmd, cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newLogger(cmd *cobra.Command, cfg config.LogConfig) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Format,
		Output: cmd.ErrOrStderr(),
	}), nil
}
