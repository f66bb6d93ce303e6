package datastore

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Jegerchristiank/transkriptor/internal/conf"
)

// SQLiteStore implements Interface on a single SQLite database file.
type SQLiteStore struct {
	DataStore
	path  string
	debug bool
}

// New creates a store on the configured database path.
func New(settings *conf.Settings) *SQLiteStore {
	return &SQLiteStore{path: settings.DatabasePath(), debug: settings.Debug}
}

// NewAt creates a store on an explicit database path. Read-only commands and
// tests use this to open short-lived connections.
func NewAt(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

// Open connects to the database and migrates the schema. Foreign keys are
// enforced on every pooled connection through the DSN.
func (store *SQLiteStore) Open() error {
	if err := os.MkdirAll(filepath.Dir(store.path), 0o755); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}

	logLevel := gormlogger.Silent
	if store.debug {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(sqlite.Open(store.path+"?_foreign_keys=on"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}

	store.DB = db
	return store.migrate()
}

// migrate creates missing tables and columns. Databases written before the
// speaker-count columns existed gain interviewer_count and participant_count
// with their default of 1.
func (store *SQLiteStore) migrate() error {
	if err := store.DB.AutoMigrate(&Job{}, &Chunk{}); err != nil {
		return fmt.Errorf("failed to migrate database schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (store *SQLiteStore) Close() error {
	if store.DB == nil {
		return nil
	}
	sqlDB, err := store.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access database handle: %w", err)
	}
	return sqlDB.Close()
}
