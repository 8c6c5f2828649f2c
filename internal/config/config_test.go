package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := NewConfig("/home/user/.local/share/fsgraph")
	original.Roots = []RootConfig{
		{Path: "/home/user/Documents", Recursive: true},
		{Path: "/home/user/Downloads", Recursive: false},
	}
	original.Store.Type = "memory"
	original.Monitor.CoalesceWindow = Duration{500 * time.Millisecond}
	original.Extraction.Command = "/usr/libexec/fsgraph-extract"
	original.Extraction.CommandMIMETypes = []string{"application/pdf", "audio/"}
	original.Schema.Properties = map[string]string{"nie:subject": "string"}
	original.Feed.Listen = "127.0.0.1:7070"

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if len(got.Roots) != 2 {
		t.Fatalf("len(Roots) = %d, want 2", len(got.Roots))
	}
	if !got.Roots[0].Recursive || got.Roots[1].Recursive {
		t.Errorf("Roots recursion = %v/%v, want true/false", got.Roots[0].Recursive, got.Roots[1].Recursive)
	}
	if got.Store.Type != "memory" {
		t.Errorf("Store.Type = %q, want %q", got.Store.Type, "memory")
	}
	if got.Monitor.CoalesceWindow.Duration != 500*time.Millisecond {
		t.Errorf("Monitor.CoalesceWindow = %v, want 500ms", got.Monitor.CoalesceWindow)
	}
	if got.Extraction.Timeout.Duration != 30*time.Second {
		t.Errorf("Extraction.Timeout = %v, want 30s", got.Extraction.Timeout)
	}
	if len(got.Extraction.CommandMIMETypes) != 2 {
		t.Errorf("len(Extraction.CommandMIMETypes) = %d, want 2", len(got.Extraction.CommandMIMETypes))
	}
	if got.Schema.Properties["nie:subject"] != "string" {
		t.Errorf("Schema.Properties = %v", got.Schema.Properties)
	}
	if got.Feed.Listen != original.Feed.Listen {
		t.Errorf("Feed.Listen = %q, want %q", got.Feed.Listen, original.Feed.Listen)
	}
}

func TestManager_Read_KeepsDefaults(t *testing.T) {
	input := `
base_dir = "/data/fsgraph"

[[roots]]
path = "/srv/share"
recursive = true

[monitor]
move_window = "2s"
`
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if cfg.Monitor.MoveWindow.Duration != 2*time.Second {
		t.Errorf("MoveWindow = %v, want 2s", cfg.Monitor.MoveWindow)
	}
	if !cfg.Monitor.Enabled {
		t.Error("Monitor.Enabled should keep its default")
	}
	if cfg.Monitor.CoalesceWindow.Duration != 250*time.Millisecond {
		t.Errorf("CoalesceWindow = %v, want default 250ms", cfg.Monitor.CoalesceWindow)
	}
	if !cfg.Removable.Index {
		t.Error("Removable.Index should keep its default")
	}
	if cfg.Store.Retries != 3 {
		t.Errorf("Store.Retries = %d, want 3", cfg.Store.Retries)
	}
}

func TestManager_Read_BadDuration(t *testing.T) {
	m := &Manager{}
	_, err := m.Read(strings.NewReader("[monitor]\nmove_window = \"soon\"\n"))
	if err == nil {
		t.Fatal("Read() expected error for malformed duration")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/fsgraph")

	if cfg.BaseDir != "/data/fsgraph" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/fsgraph")
	}
	if cfg.LogDir != "/data/fsgraph/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/fsgraph/log")
	}
	if cfg.Store.DataDir != "/data/fsgraph/db" {
		t.Errorf("Store.DataDir = %q, want %q", cfg.Store.DataDir, "/data/fsgraph/db")
	}
	if cfg.Store.Type != "sqlite" {
		t.Errorf("Store.Type = %q, want sqlite", cfg.Store.Type)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{name: "unknown store type", modify: func(c *Config) { c.Store.Type = "postgres" }},
		{name: "unknown fingerprint", modify: func(c *Config) { c.Filesystem.Fingerprint = "md5" }},
		{name: "relative root", modify: func(c *Config) { c.Roots = []RootConfig{{Path: "docs"}} }},
		{name: "negative workers", modify: func(c *Config) { c.Extraction.Workers = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("/data")
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() expected error")
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "fsgraph.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "fsgraph.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "fsgraph.toml")
		cfg := NewConfig(dir)
		cfg.Store = StoreConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.BaseDir != dir {
			t.Errorf("BaseDir = %q, want %q", got.BaseDir, dir)
		}
		if got.Store.Type != "memory" {
			t.Errorf("Store.Type = %q, want memory", got.Store.Type)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/fsgraph.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "fsgraph.toml")
		if err := os.WriteFile(path, []byte("[store]\ntype = \"mysql\"\n"), 0644); err != nil {
			t.Fatalf("writing config: %v", err)
		}
		if _, err := ReadFromFile(path); err == nil {
			t.Fatal("ReadFromFile() expected error for unknown store type")
		}
	})
}
