package database

import (
	"fmt"
	"log/slog"
	"strings"

	"authservice/internal/domain"

	"gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// IsPostgres reports whether dsn points at a PostgreSQL server.
func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Connect opens dsn with the matching dialector. The DSN itself is never
// logged since it may carry credentials. A nil log uses slog.Default.
func Connect(dsn string, log *slog.Logger) (*gorm.DB, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}

	if IsPostgres(dsn) {
		log.Info("connecting to database", "driver", "postgres")
		return gorm.Open(postgres.Open(dsn), cfg)
	}

	log.Info("connecting to database", "driver", "sqlite", "in_memory", strings.Contains(dsn, "mode=memory"))

	db, err := gorm.Open(
		gormsqlite.New(gormsqlite.Config{
			DriverName: "sqlite",
			DSN:        dsn,
		}),
		cfg,
	)
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers; a single connection keeps in-memory
	// databases shared and transactions free of SQLITE_BUSY.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// Migrate creates or updates the credentials and refresh_tokens tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.Credential{}, &domain.RefreshToken{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}
