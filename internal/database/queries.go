package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const initializedAtKey = "initialized_at"

// Load returns every seen repository name. found is false until the first
// Save, so an empty baseline is distinguishable from no state.
func (d *Database) Load(ctx context.Context) ([]string, bool, error) {
	var initializedAt string

	err := d.db.QueryRowContext(ctx,
		"select value from daemon_state where key = ?", initializedAtKey).Scan(&initializedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query daemon state: %w", err)
	}

	names, err := d.SeenRepositories(ctx)
	if err != nil {
		return nil, false, err
	}

	return names, true, nil
}

// Save adds names to the table in one transaction. Rows are never removed.
func (d *Database) Save(ctx context.Context, names []string) error {
	return d.AddSeenRepositories(ctx, names)
}

func (d *Database) SeenRepositories(ctx context.Context) ([]string, error) {
	query := "select full_name from seen_repositories order by full_name"

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"operation", "SeenRepositories")
		}
	}()

	var names []string
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		names = append(names, strings.TrimSpace(name))
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return names, nil
}

func (d *Database) AddSeenRepositories(ctx context.Context, names []string) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				d.log.ErrorContext(ctx, "Failed to roll back transaction",
					"error", rollbackErr,
					"operation", "AddSeenRepositories")
			}
		}
	}()

	now := time.Now().Unix()

	stmt, err := tx.PrepareContext(ctx,
		"insert or ignore into seen_repositories (full_name, seen_at) values (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil {
			d.log.ErrorContext(ctx, "Failed to close statement",
				"error", closeErr,
				"operation", "AddSeenRepositories")
		}
	}()

	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		if _, err = stmt.ExecContext(ctx, name, now); err != nil {
			return fmt.Errorf("failed to insert seen repository (name = %s): %w", name, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		"insert or ignore into daemon_state (key, value) values (?, ?)",
		initializedAtKey, strconv.FormatInt(now, 10))
	if err != nil {
		return fmt.Errorf("failed to mark state initialized: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
