package store

import (
	"fmt"
	"os"
	"path/filepath"

	"fsgraph/internal/config"
)

// DatabaseFile is the store's file name inside the data directory.
const DatabaseFile = "graph.db"

// NewStoreFromConfig creates a store based on the store config type.
// A memory store is migrated immediately; a sqlite store must be current
// (see `fsgraph store migrate`) unless migrate is set.
func NewStoreFromConfig(cfg config.StoreConfig, migrate bool) (*SQLiteStore, error) {
	opts := Options{
		FullText:      cfg.FullText.Properties,
		Stopwords:     cfg.FullText.Stopwords,
		MinTermLength: cfg.FullText.MinTermLength,
	}

	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite store")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		s, err := NewSQLiteStore(filepath.Join(cfg.DataDir, DatabaseFile), opts)
		if err != nil {
			return nil, err
		}
		if migrate {
			err = s.MigrateUp()
		} else {
			err = s.CheckMigrations()
		}
		if err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case "memory":
		s, err := NewSQLiteStore(":memory:", opts)
		if err != nil {
			return nil, err
		}
		if err := s.MigrateUp(); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
