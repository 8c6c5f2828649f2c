package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for fsgraph.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level"`
	Store      StoreConfig      `toml:"store"`
	Roots      []RootConfig     `toml:"roots"`
	Filesystem FilesystemConfig `toml:"filesystem"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Extraction ExtractionConfig `toml:"extraction"`
	Writeback  WritebackConfig  `toml:"writeback"`
	Removable  RemovableConfig  `toml:"removable"`
	Schema     SchemaConfig     `toml:"schema"`
	Feed       FeedConfig       `toml:"feed"`
}

// StoreConfig represents configuration for the graph store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type         string         `toml:"type"`               // "sqlite" or "memory"
	DataDir      string         `toml:"data_dir,omitempty"` // only used for type=sqlite
	Retries      int            `toml:"store_retries"`
	RetryBackoff Duration       `toml:"retry_backoff"`
	FullText     FullTextConfig `toml:"fulltext"`
}

// FullTextConfig selects what the full-text index covers.
type FullTextConfig struct {
	Properties    []string `toml:"properties"`
	Stopwords     []string `toml:"stopwords"`
	MinTermLength int      `toml:"min_term_length"`
}

// RootConfig is an indexed directory tree.
type RootConfig struct {
	Path      string `toml:"path"`
	Recursive bool   `toml:"recursive"`
}

// FilesystemConfig holds filesystem-related settings.
type FilesystemConfig struct {
	Ignore        []string `toml:"ignore"`
	IndexHidden   bool     `toml:"index_hidden"`
	TextAllowlist []string `toml:"text_allowlist"`
	Fingerprint   string   `toml:"fingerprint"` // "mtime" or "sha256"
}

// MonitorConfig configures live filesystem monitoring.
type MonitorConfig struct {
	Enabled        bool     `toml:"enabled"`
	CoalesceWindow Duration `toml:"coalesce_window"`
	MoveWindow     Duration `toml:"move_window"`
	QueueSize      int      `toml:"queue_size"`
}

// ExtractionConfig configures the extraction dispatcher. Command, when
// set, is run for the MIME types in CommandMIMETypes (prefixes allowed,
// empty means all).
type ExtractionConfig struct {
	Workers          int      `toml:"workers"`
	Timeout          Duration `toml:"timeout"`
	MaxBytes         int64    `toml:"max_bytes"`
	Command          string   `toml:"command,omitempty"`
	CommandMIMETypes []string `toml:"command_mime_types,omitempty"`
}

// WritebackConfig configures property writeback. Types lists the resource
// types that support it.
type WritebackConfig struct {
	Command string   `toml:"command,omitempty"`
	Timeout Duration `toml:"timeout"`
	Types   []string `toml:"types,omitempty"`
}

// RemovableConfig configures indexing of removable sources.
type RemovableConfig struct {
	Index         bool `toml:"index"`
	RetentionDays int  `toml:"retention_days"`
}

// SchemaConfig extends the builtin schema. Properties maps a property name
// to its kind (string, int, float, bool, time, ref); Graphs maps a MIME
// prefix to a content graph; Vocabulary renames structural terms.
type SchemaConfig struct {
	Types      []string          `toml:"types,omitempty"`
	Properties map[string]string `toml:"properties,omitempty"`
	Graphs     map[string]string `toml:"graphs,omitempty"`
	Vocabulary map[string]string `toml:"vocabulary,omitempty"`
}

// FeedConfig configures the websocket progress feed. An empty Listen
// disables it.
type FeedConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// Duration is a time.Duration written as a string such as "250ms".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// defaults returns every setting that does not depend on the base directory.
func defaults() *Config {
	return &Config{
		LogLevel: "info",
		Store: StoreConfig{
			Type:         "sqlite",
			Retries:      3,
			RetryBackoff: Duration{100 * time.Millisecond},
			FullText: FullTextConfig{
				Properties:    []string{"nie:plainTextContent", "nie:title"},
				Stopwords:     []string{"a", "an", "and", "are", "as", "at", "be", "by", "for", "in", "is", "it", "of", "on", "or", "the", "to", "with"},
				MinTermLength: 2,
			},
		},
		Filesystem: FilesystemConfig{
			Ignore:        []string{"*~", "*.tmp", "*.swp", "lost+found"},
			TextAllowlist: []string{"*.txt", "*.md", "*.markdown", "*.rst", "*.org", "*.csv", "*.log", "*.json", "*.xml", "*.html", "*.htm"},
			Fingerprint:   "mtime",
		},
		Monitor: MonitorConfig{
			Enabled:        true,
			CoalesceWindow: Duration{250 * time.Millisecond},
			MoveWindow:     Duration{time.Second},
			QueueSize:      1024,
		},
		Extraction: ExtractionConfig{
			Workers:  4,
			Timeout:  Duration{30 * time.Second},
			MaxBytes: 1 << 20,
		},
		Writeback: WritebackConfig{
			Timeout: Duration{10 * time.Second},
		},
		Removable: RemovableConfig{
			Index:         true,
			RetentionDays: 3,
		},
	}
}

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	cfg := defaults()
	cfg.BaseDir = baseDir
	cfg.LogDir = filepath.Join(baseDir, "log")
	cfg.Store.DataDir = filepath.Join(baseDir, "db")
	return cfg
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader. Settings missing from the
// input keep their defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	cfg := defaults()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the tagged unions and ranges.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown store type: %q", c.Store.Type)
	}
	switch c.Filesystem.Fingerprint {
	case "", "mtime", "sha256":
	default:
		return fmt.Errorf("unknown fingerprint mode: %q", c.Filesystem.Fingerprint)
	}
	for _, r := range c.Roots {
		if !filepath.IsAbs(r.Path) {
			return fmt.Errorf("root path must be absolute: %q", r.Path)
		}
	}
	if c.Extraction.Workers < 0 {
		return fmt.Errorf("extraction workers must not be negative")
	}
	return nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
