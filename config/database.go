package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDatabase opens the record store. For sqlite the containing directory
// is created first and foreign key enforcement is switched on for every
// pooled connection.
func OpenDatabase(cfg *Config) (*gorm.DB, error) {
	gcfg := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	switch cfg.DBDriver {
	case DriverPostgres:
		db, err := gorm.Open(postgres.Open(cfg.PostgresURI), gcfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		return db, nil
	default:
		return openSQLite(cfg.DBPath, gcfg)
	}
}

func openSQLite(path string, gcfg *gorm.Config) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := gorm.Open(sqlite.Open(dsn), gcfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway; one connection also keeps
	// in-memory databases from splitting across the pool.
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS voice_record (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		filename TEXT NOT NULL UNIQUE,
		filetype TEXT NOT NULL,
		duration REAL,
		size INTEGER,
		createtime DATETIME DEFAULT CURRENT_TIMESTAMP,
		filepath TEXT NOT NULL,
		transcript TEXT,
		language TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT,
		parent_id INTEGER REFERENCES voice_record(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tag TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS voice_record_tags (
		voice_record_id INTEGER NOT NULL REFERENCES voice_record(id) ON DELETE CASCADE,
		tag_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
		PRIMARY KEY (voice_record_id, tag_id)
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS voice_record (
		id BIGSERIAL PRIMARY KEY,
		filename TEXT NOT NULL UNIQUE,
		filetype TEXT NOT NULL,
		duration DOUBLE PRECISION,
		size BIGINT,
		createtime TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		filepath TEXT NOT NULL,
		transcript TEXT,
		language TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT,
		parent_id BIGINT REFERENCES voice_record(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS tags (
		id BIGSERIAL PRIMARY KEY,
		tag TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS voice_record_tags (
		voice_record_id BIGINT NOT NULL REFERENCES voice_record(id) ON DELETE CASCADE,
		tag_id BIGINT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
		PRIMARY KEY (voice_record_id, tag_id)
	)`,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_voice_record_filename ON voice_record(filename)`,
	`CREATE INDEX IF NOT EXISTS idx_voice_record_createtime ON voice_record(createtime)`,
	`CREATE INDEX IF NOT EXISTS idx_voice_record_status ON voice_record(status)`,
	`CREATE INDEX IF NOT EXISTS idx_voice_record_tags_voice_record_id ON voice_record_tags(voice_record_id)`,
	`CREATE INDEX IF NOT EXISTS idx_voice_record_tags_tag_id ON voice_record_tags(tag_id)`,
}

// EnsureSchema creates the voice_record, tags and voice_record_tags tables
// and their indexes when missing. Safe to call on every start.
func EnsureSchema(db *gorm.DB) error {
	stmts := sqliteSchema
	if db.Dialector.Name() == DriverPostgres {
		stmts = postgresSchema
	}
	stmts = append(append([]string{}, stmts...), indexes...)

	return db.Transaction(func(tx *gorm.DB) error {
		for _, s := range stmts {
			if err := tx.Exec(s).Error; err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
		}
		return nil
	})
}
