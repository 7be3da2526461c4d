package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"perp_exec/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	maxRecentLimit = 500
)

// Storage persists engine runs.
type Storage struct {
	db *gorm.DB
}

var _ domain.ExecutionJournal = (*Storage)(nil)

// NewStorage opens the journal. An empty sqlite dsn resolves to the per-user data directory.
func NewStorage(driver, dsn string) (*Storage, error) {
	dialector, err := dialectorFor(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&domain.ExecutionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "", DriverSQLite:
		if dsn == "" {
			path, err := getDBPath()
			if err != nil {
				return nil, fmt.Errorf("failed to resolve DB path: %w", err)
			}
			dsn = path
		}
		if dir := filepath.Dir(dsn); dir != "." && dsn != ":memory:" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create DB directory: %w", err)
			}
		}
		return sqlite.Open(dsn), nil
	case DriverPostgres:
		if dsn == "" {
			return nil, &domain.ConfigError{Field: "storage.dsn", Err: fmt.Errorf("postgres requires a dsn")}
		}
		return postgres.Open(dsn), nil
	default:
		return nil, &domain.ConfigError{Field: "storage.driver", Err: fmt.Errorf("unsupported driver %q", driver)}
	}
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "PerpExec", "data", "executions.db"), nil
}

// SaveExecution inserts one run record.
func (s *Storage) SaveExecution(ctx context.Context, rec *domain.ExecutionRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

// RecentExecutions returns the newest runs first.
func (s *Storage) RecentExecutions(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 || limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	var recs []domain.ExecutionRecord
	err := s.db.WithContext(ctx).
		Order("finished_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// ExecutionsBySymbol returns the runs of one symbol, newest first.
func (s *Storage) ExecutionsBySymbol(ctx context.Context, symbol string, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 || limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	var recs []domain.ExecutionRecord
	err := s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("finished_at DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
