// Package database is the SQLite backend of the seen-set.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	gosqlite3 "github.com/mattn/go-sqlite3"
)

const (
	// Writers wait for the lock instead of failing with SQLITE_BUSY.
	busyTimeoutMillis = "5000"

	corruptSuffix = ".corrupt"
)

type Database struct {
	db  *sql.DB
	log *slog.Logger
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

// New opens the database at dbPath, creating it if needed, and applies
// pending migrations. A file that is not a readable SQLite database is moved
// aside to dbPath+".corrupt" and replaced with a fresh one.
func New(ctx context.Context, dbPath string, log *slog.Logger) (*Database, error) {
	db, err := openAndMigrate(ctx, dbPath, log)
	if err == nil {
		return &Database{db: db, log: log}, nil
	}
	if !isCorrupt(err) {
		return nil, err
	}

	log.WarnContext(ctx, "DB file is corrupt, starting with empty state",
		"error", err,
		"dbPath", dbPath,
		"quarantinedPath", dbPath+corruptSuffix)

	if qErr := quarantine(dbPath); qErr != nil {
		return nil, errors.Join(err, qErr)
	}

	db, err = openAndMigrate(ctx, dbPath, log)
	if err != nil {
		return nil, err
	}

	return &Database{db: db, log: log}, nil
}

func openAndMigrate(ctx context.Context, dbPath string, log *slog.Logger) (*sql.DB, error) {
	db, err := open(ctx, dbPath)
	if err != nil {
		return nil, err
	}

	if err = migrateUp(ctx, db, dbPath, log); err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

func isCorrupt(err error) bool {
	var sqliteErr gosqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == gosqlite3.ErrNotADB || sqliteErr.Code == gosqlite3.ErrCorrupt
	}

	// The migrate driver does not always keep the original error in the chain.
	msg := err.Error()

	return strings.Contains(msg, "file is not a database") || strings.Contains(msg, "disk image is malformed")
}

// quarantine renames the database file and its WAL companions out of the way.
func quarantine(dbPath string) error {
	var errs []error

	for _, suffix := range []string{"", "-wal", "-shm"} {
		err := os.Rename(dbPath+suffix, dbPath+suffix+corruptSuffix)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("quarantine DB file: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (d *Database) Close() error {
	return d.db.Close()
}

func open(ctx context.Context, dbPath string) (*sql.DB, error) {
	params := url.Values{}
	params.Set("_busy_timeout", busyTimeoutMillis)
	params.Set("_journal_mode", "WAL")

	db, err := sql.Open("sqlite3", "file:"+dbPath+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("open DB file: %w", err)
	}

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping DB (path = %s): %w", dbPath, err)
	}

	return db, nil
}

func migrateUp(ctx context.Context, db *sql.DB, dbPath string, log *slog.Logger) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create migrate driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	upErr := m.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}

	attrs := []any{"dbPath", dbPath}

	version, dirty, err := m.Version()
	switch {
	case err == nil:
		attrs = append(attrs, "version", version, "dirty", dirty)
	case !errors.Is(err, migrate.ErrNilVersion):
		log.WarnContext(ctx, "Failed to fetch migration version",
			"error", err,
			"dbPath", dbPath)
	}

	if errors.Is(upErr, migrate.ErrNoChange) {
		log.InfoContext(ctx, "No migrations to apply", attrs...)
	} else {
		log.InfoContext(ctx, "DB is migrated", attrs...)
	}

	return nil
}
