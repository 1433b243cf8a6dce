// Package gormdb opens the clinical database. Clinical data may live on
// PostgreSQL or, for single-node deployments and tests, on SQLite.
package gormdb

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func config() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	}
}

// OpenPostgres connects to a PostgreSQL clinical database.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), config())
	if err != nil {
		return nil, fmt.Errorf("open clinical postgres: %w", err)
	}
	return db, nil
}

// OpenSQLite opens (or creates) a SQLite clinical database at path.
// ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), config())
	if err != nil {
		return nil, fmt.Errorf("open clinical sqlite: %w", err)
	}
	if path == ":memory:" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("open clinical sqlite: %w", err)
		}
		// Each connection to :memory: is a separate database.
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}
