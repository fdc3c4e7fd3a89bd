// Package config provides configuration management for gstdots using Viper
// for loading from files, environment variables and command-line flags.
//
// The configuration covers the HTTP listener, the watched source directory of
// graph-description files, the artifact output directory, the external
// renderer invocation and the refresh-signal fanout.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// DumpDirEnv is the variable GStreamer reads to decide where to dump pipeline graphs.
const DumpDirEnv = "GST_DEBUG_DUMP_DOT_DIR"

type Config struct {
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
	Source SourceConfig `mapstructure:"source" yaml:"source" json:"source"`
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`
	Render RenderConfig `mapstructure:"render" yaml:"render" json:"render"`
	Fanout FanoutConfig `mapstructure:"fanout" yaml:"fanout" json:"fanout"`
	Log    LogConfig    `mapstructure:"log" yaml:"log" json:"log"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host" yaml:"host" json:"host"`
	Port           int      `mapstructure:"port" yaml:"port" json:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins" json:"allowed_origins"`
}

type SourceConfig struct {
	Dir         string        `mapstructure:"dir" yaml:"dir" json:"dir"`
	Extension   string        `mapstructure:"extension" yaml:"extension" json:"extension"`
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay" json:"settle_delay"`
}

// sourceView is SourceConfig with a human-readable settle delay.
type sourceView struct {
	Dir         string `yaml:"dir" json:"dir"`
	Extension   string `yaml:"extension" json:"extension"`
	SettleDelay string `yaml:"settle_delay" json:"settle_delay"`
}

func (s SourceConfig) view() sourceView {
	return sourceView{Dir: s.Dir, Extension: s.Extension, SettleDelay: s.SettleDelay.String()}
}

// MarshalYAML writes the settle delay as a duration string such as "100ms".
func (s SourceConfig) MarshalYAML() (interface{}, error) {
	return s.view(), nil
}

// MarshalJSON writes the settle delay as a duration string such as "100ms".
func (s SourceConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.view())
}

type OutputConfig struct {
	Dir      string `mapstructure:"dir" yaml:"dir" json:"dir"`
	ImageExt string `mapstructure:"image_ext" yaml:"image_ext" json:"image_ext"`
	PageExt  string `mapstructure:"page_ext" yaml:"page_ext" json:"page_ext"`
}

type RenderConfig struct {
	Command          string   `mapstructure:"command" yaml:"command" json:"command"`
	Args             []string `mapstructure:"args" yaml:"args" json:"args"`
	Template         string   `mapstructure:"template" yaml:"template" json:"template"`
	Placeholder      string   `mapstructure:"placeholder" yaml:"placeholder" json:"placeholder"`
	Workers          int      `mapstructure:"workers" yaml:"workers" json:"workers"`
	RerenderOnChange bool     `mapstructure:"rerender_on_change" yaml:"rerender_on_change" json:"rerender_on_change"`
}

type FanoutConfig struct {
	SendBuffer   int     `mapstructure:"send_buffer" yaml:"send_buffer" json:"send_buffer"`
	ConnectRate  float64 `mapstructure:"connect_rate" yaml:"connect_rate" json:"connect_rate"`
	ConnectBurst int     `mapstructure:"connect_burst" yaml:"connect_burst" json:"connect_burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

// SetDefaults registers default values on v. Flags and env vars bound later win.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("source.dir", "")

	v.SetDefault("source.extension", ".dot")
	v.SetDefault("source.settle_delay", 100*time.Millisecond)

	v.SetDefault("output.dir", ".generated")
	v.SetDefault("output.image_ext", ".svg")
	v.SetDefault("output.page_ext", ".html")

	v.SetDefault("render.command", "dot")
	v.SetDefault("render.args", []string{"-Tsvg", "-o", "{output}", "{input}"})
	v.SetDefault("render.template", "")
	v.SetDefault("render.placeholder", "{{SVG}}")
	v.SetDefault("render.workers", 0)
	v.SetDefault("render.rerender_on_change", false)

	v.SetDefault("fanout.send_buffer", 32)
	v.SetDefault("fanout.connect_rate", 5.0)
	v.SetDefault("fanout.connect_burst", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the global viper instance into a Config.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads v into a validated Config.
func LoadFrom(v *viper.Viper) (*Config, error) {
	config, err := Resolve(v)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Resolve reads v into a Config, applying defaults and resolving the source
// directory, without validating the result.
func Resolve(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Handle slices set via viper (workaround for viper slice handling)
	if v.IsSet("render.args") && len(config.Render.Args) == 0 {
		config.Render.Args = v.GetStringSlice("render.args")
	}
	if v.IsSet("server.allowed_origins") && len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}

	config.Source.Dir = ResolveSourceDir(config.Source.Dir)
	config.Output.Dir = ResolveOutputDir(config.Output.Dir)

	return &config, nil
}

// ResolveSourceDir picks the directory of description files. An explicit value
// wins, then GST_DEBUG_DUMP_DOT_DIR, then the current working directory.
func ResolveSourceDir(dir string) string {
	if dir == "" {
		dir = os.Getenv(DumpDirEnv)
	}
	if dir == "" {
		if cwd, err := os.Getwd(); err == nil {
			dir = cwd
		} else {
			dir = "."
		}
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return filepath.Clean(dir)
}

// ResolveOutputDir makes a relative output directory absolute against the
// working directory. Watch events carry absolute paths, so the directory they
// are compared with must be absolute too. An empty value is left for
// validation to report.
func ResolveOutputDir(dir string) string {
	if dir == "" {
		return ""
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return filepath.Clean(dir)
}

// DefaultDumpDir is where the dump runner asks GStreamer to write graphs when
// GST_DEBUG_DUMP_DOT_DIR is unset.
func DefaultDumpDir() (string, error) {
	if dir := os.Getenv(DumpDirEnv); dir != "" {
		return dir, nil
	}
	cache, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cache, "gstreamer-dots"), nil
}
