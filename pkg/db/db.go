package db

import (
	"errors"
	"sync"

	"github.com/fia-cloud/fia/internal/models"
	"github.com/fia-cloud/fia/pkg/env"
	"github.com/fia-cloud/fia/pkg/log"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	once sync.Once
	conn *gorm.DB
)

// Connection returns the process-wide database handle, opening it on first use.
func Connection() *gorm.DB {
	once.Do(func() {
		gdb, err := Open(env.Variables().DatabaseType, env.Variables().DatabaseDSN)
		if err != nil {
			log.Fatal("failed to connect to database", "error", err)
		}
		conn = gdb
	})

	return conn
}

// Open opens a database of the given type ("postgres" or "sqlite").
func Open(databaseType, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	}

	switch databaseType {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	case "sqlite":
		fallthrough
	default:
		gdb, err := gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, err
		}
		// sqlite allows a single writer; queueing on one connection avoids
		// SQLITE_BUSY storms between concurrent admissions.
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
		return gdb, nil
	}
}

// Migrate creates or updates every table.
func Migrate() error {
	return Connection().AutoMigrate(models.All...)
}

// IsConflict reports whether err is a transient storage conflict that the
// caller may retry: sqlite busy/locked, or a postgres serialization failure
// or deadlock.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}

	return false
}
