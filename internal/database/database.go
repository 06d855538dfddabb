package database

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Cyvadra/tv-alert-relay/internal/config"
	"github.com/Cyvadra/tv-alert-relay/internal/models"
)

// Open connects to the configured database and migrates the relay schema
func Open(cfg config.DatabaseConfig, log zerolog.Logger) (*gorm.DB, error) {
	if cfg.Driver != "" && cfg.Driver != "sqlite" {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	level, writerLevel := logger.Warn, zerolog.WarnLevel
	if cfg.LogQueries {
		level, writerLevel = logger.Info, zerolog.InfoLevel
	}

	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{
		Logger: logger.New(gormWriter{log: log.With().Str("component", "gorm").Logger(), level: writerLevel}, logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database handle: %w", err)
	}
	// SQLite allows a single writer at a time.
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)

	if err := Migrate(db); err != nil {
		sqlDB.Close()
		return nil, err
	}

	log.Info().Str("dsn", cfg.DSN).Msg("database initialized")
	return db, nil
}

// Migrate creates or updates the relay tables
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Account{},
		&models.Alert{},
		&models.AlertCount{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormWriter forwards gorm's log lines; gorm only emits what its own level lets through
type gormWriter struct {
	log   zerolog.Logger
	level zerolog.Level
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.WithLevel(w.level).Msgf(format, args...)
}
