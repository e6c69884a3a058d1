package storage

import (
	"fmt"
	"log/slog"

	"github.com/tabletrack/tracker/internal/config"
	"github.com/tabletrack/tracker/internal/database"
	gormstorage "github.com/tabletrack/tracker/internal/storage/gorm"
)

// NewBackend creates a history backend based on configuration.
func NewBackend(cfg config.StorageConfig, logger *slog.Logger) (Backend, error) {
	switch cfg.Type {
	case "postgres":
		db, err := database.OpenPostgres()
		if err != nil {
			return nil, err
		}
		return gormstorage.New(db, logger), nil
	case "sqlite":
		db, err := database.OpenSqlite(cfg.SqlitePath)
		if err != nil {
			return nil, err
		}
		return gormstorage.New(db, logger), nil
	case "none", "":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
