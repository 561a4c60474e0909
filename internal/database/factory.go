package database

import (
	"fmt"
	"os"
	"path/filepath"

	"dms-go/internal/config"
)

// NewStoreFromConfig creates a SQLStore based on the database config type.
func NewStoreFromConfig(cfg config.DatabaseConfig) (*SQLStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		return OpenSQLite(filepath.Join(cfg.DataDir, "dms.db"))
	case "memory":
		return OpenSQLite(":memory:")
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("dsn required for postgres database")
		}
		return OpenPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
