package factory

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mikey/mail-ingest/internal/adapters/state"
	"github.com/mikey/mail-ingest/internal/config"
	"github.com/mikey/mail-ingest/internal/ports"
)

// StateFactory creates sync-state repositories based on configuration
type StateFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStateFactory creates a new state factory
func NewStateFactory(cfg *config.Config, logger *zap.Logger) *StateFactory {
	return &StateFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateStateRepository creates a sync-state repository based on the
// configuration
func (f *StateFactory) CreateStateRepository() (ports.SyncStateRepository, error) {
	stateType := f.cfg.GetString("state.type")

	switch stateType {
	case "memory":
		return state.NewMemoryStore(), nil
	case "sqlite":
		sqlitePath := f.cfg.GetString("state.sqlite_path")
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		return state.NewSQLiteStore(sqlitePath, f.logger)
	case "mysql":
		mysqlDSN := f.cfg.GetString("state.mysql_dsn")
		return state.NewMySQLStore(mysqlDSN, f.logger)
	default:
		return nil, fmt.Errorf("unsupported state type: %s", stateType)
	}
}
