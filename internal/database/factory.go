package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pdrb/internal/config"
)

// FileName is the database file created under DataDir.
const FileName = "pdrb.db"

// NewDatabaseFromConfig creates a database based on the database config type.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, loc *time.Location) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, FileName), loc)
	case "memory":
		return NewSQLiteDatabase(":memory:", loc)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
