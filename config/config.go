// ABOUTME: Configuration for controlroom: workspace, logging, HTTP server, pipeline and index settings.
// ABOUTME: Loaded through viper from controlroom.yaml, CONTROLROOM_* environment variables and flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// AppName names the config file, the env prefix and the XDG subdirectories.
const AppName = "controlroom"

// Config is the full controlroom configuration.
type Config struct {
	// Workspace is the root directory for recipes, runs, receipts and tool file access.
	Workspace string         `mapstructure:"workspace"`
	Log       LogConfig      `mapstructure:"log"`
	Server    ServerConfig   `mapstructure:"server"`
	Pipeline  PipelineConfig `mapstructure:"pipeline"`
	Index     IndexConfig    `mapstructure:"index"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File, when set, receives logs instead of stderr.
	File string `mapstructure:"file"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// PipelineConfig tunes the step runner.
type PipelineConfig struct {
	// PreviewLimit bounds the stored output preview per step, in characters.
	PreviewLimit int `mapstructure:"preview_limit"`
}

// IndexConfig controls the SQLite run index.
type IndexConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Path defaults to <workspace>/index.db.
	Path string `mapstructure:"path"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		Workspace: DefaultWorkspace(),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:2390",
		},
		Pipeline: PipelineConfig{
			PreviewLimit: 280,
		},
		Index: IndexConfig{
			Enabled: true,
		},
	}
}

// SetDefaults registers every default on v so env and file values layer over them.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("workspace", defaults.Workspace)

	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
	v.SetDefault("log.file", defaults.Log.File)

	v.SetDefault("server.addr", defaults.Server.Addr)

	v.SetDefault("pipeline.preview_limit", defaults.Pipeline.PreviewLimit)

	v.SetDefault("index.enabled", defaults.Index.Enabled)
	v.SetDefault("index.path", defaults.Index.Path)
}

// NewViper builds a viper instance with defaults, env binding and the config file.
// An explicit configFile must exist; otherwise controlroom.yaml is searched in the
// working directory and the XDG config directory, and its absence is not an error.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir := ConfigDir(); dir != "" {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load unmarshals v into a Config, fills derived paths and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Workspace = expandHome(cfg.Workspace)
	cfg.Log.File = expandHome(cfg.Log.File)
	cfg.Index.Path = expandHome(cfg.Index.Path)
	if cfg.Workspace != "" {
		if abs, err := filepath.Abs(cfg.Workspace); err == nil {
			cfg.Workspace = abs
		}
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return cfg, nil
}

// RunsDir is where run directories live.
func (c *Config) RunsDir() string {
	return filepath.Join(c.Workspace, "runs")
}

// IndexPath is the SQLite index file, honoring an explicit index.path.
func (c *Config) IndexPath() string {
	if c.Index.Path != "" {
		return c.Index.Path
	}
	return filepath.Join(c.Workspace, "index.db")
}

// ConfigDir returns the XDG config directory for controlroom, or "" when no
// home directory can be resolved.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", AppName)
}

// DefaultWorkspace checks XDG_DATA_HOME first, then falls back to
// ~/.local/share/controlroom, then to ./.controlroom.
func DefaultWorkspace() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + AppName
	}
	return filepath.Join(home, ".local", "share", AppName)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
