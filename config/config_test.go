// ABOUTME: Tests for config loading: defaults, YAML files, CONTROLROOM_* env overrides and validation.
// ABOUTME: Points XDG directories at temp dirs so the developer's own config is never read.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	return dir
}

func TestLoadDefaults(t *testing.T) {
	dir := isolate(t)

	v, err := NewViper("")
	if err != nil {
		t.Fatalf("NewViper: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if want := filepath.Join(dir, "data", AppName); cfg.Workspace != want {
		t.Errorf("Workspace = %q, want %q", cfg.Workspace, want)
	}
	if cfg.Server.Addr != "127.0.0.1:2390" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Pipeline.PreviewLimit != 280 || !cfg.Index.Enabled {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.RunsDir() != filepath.Join(cfg.Workspace, "runs") {
		t.Errorf("RunsDir = %q", cfg.RunsDir())
	}
	if cfg.IndexPath() != filepath.Join(cfg.Workspace, "index.db") {
		t.Errorf("IndexPath = %q", cfg.IndexPath())
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := isolate(t)
	ws := filepath.Join(dir, "ws")
	path := filepath.Join(dir, "controlroom.yaml")
	body := "workspace: " + ws + "\n" +
		"log:\n  level: debug\n  format: json\n" +
		"server:\n  addr: 0.0.0.0:9000\n" +
		"index:\n  enabled: true\n  path: " + filepath.Join(dir, "runs.db") + "\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONTROLROOM_PIPELINE_PREVIEW_LIMIT", "64")
	t.Setenv("CONTROLROOM_INDEX_ENABLED", "false")

	v, err := NewViper(path)
	if err != nil {
		t.Fatalf("NewViper: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Workspace != ws || cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Pipeline.PreviewLimit != 64 {
		t.Errorf("PreviewLimit = %d, want env override 64", cfg.Pipeline.PreviewLimit)
	}
	if cfg.Index.Enabled {
		t.Error("Index.Enabled should be overridden by env")
	}
	if cfg.IndexPath() != filepath.Join(dir, "runs.db") {
		t.Errorf("IndexPath = %q", cfg.IndexPath())
	}
}

func TestNewViperSearchesConfigDir(t *testing.T) {
	dir := isolate(t)
	cfgDir := filepath.Join(dir, "config", AppName)
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "controlroom.yaml"), []byte("server:\n  addr: localhost:7000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	v, err := NewViper("")
	if err != nil {
		t.Fatalf("NewViper: %v", err)
	}
	if got := v.GetString("server.addr"); got != "localhost:7000" {
		t.Errorf("server.addr = %q", got)
	}
}

func TestNewViperMissingExplicitFile(t *testing.T) {
	isolate(t)
	if _, err := NewViper(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for a missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		fields []string
	}{
		{"defaults are valid", func(*Config) {}, nil},
		{"uppercase level accepted", func(c *Config) { c.Log.Level = "WARN" }, nil},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, []string{"log.level"}},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, []string{"log.format"}},
		{"bad addr", func(c *Config) { c.Server.Addr = "nohost" }, []string{"server.addr"}},
		{
			"several at once",
			func(c *Config) { c.Workspace = " "; c.Pipeline.PreviewLimit = 0 },
			[]string{"workspace", "pipeline.preview_limit"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Workspace = "/tmp/ws"
			tt.mutate(cfg)
			errs := cfg.Validate()
			if len(errs) != len(tt.fields) {
				t.Fatalf("got %d errors (%v), want %d", len(errs), errs, len(tt.fields))
			}
			for i, field := range tt.fields {
				if errs[i].Field != field {
					t.Errorf("error %d field = %q, want %q", i, errs[i].Field, field)
				}
			}
		})
	}
}

func TestLoadReturnsValidationErrors(t *testing.T) {
	isolate(t)
	t.Setenv("CONTROLROOM_LOG_FORMAT", "xml")
	t.Setenv("CONTROLROOM_SERVER_ADDR", "bad")

	v, err := NewViper("")
	if err != nil {
		t.Fatal(err)
	}
	_, err = Load(v)
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("err = %v, want ValidationErrors", err)
	}
	if len(verrs) != 2 || !strings.HasPrefix(err.Error(), "2 validation errors") {
		t.Errorf("err = %v", err)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandHome("~/ws"); got != filepath.Join(home, "ws") {
		t.Errorf("expandHome(~/ws) = %q", got)
	}
	if got := expandHome("/abs/ws"); got != "/abs/ws" {
		t.Errorf("expandHome(/abs/ws) = %q", got)
	}
}
