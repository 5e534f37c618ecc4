package database_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"stardaemon/internal/database"
	"testing"
)

func openTestDB(t *testing.T, path string) *database.Database {
	t.Helper()

	db, err := database.New(context.Background(), path, slog.Default())
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("failed to close db: %v", err)
		}
	})

	return db
}

func TestLoadBeforeSaveReportsNoState(t *testing.T) {
	db := openTestDB(t, filepath.Join(t.TempDir(), "state.sqlite"))

	names, found, err := db.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found || len(names) != 0 {
		t.Fatalf("expected no state, got found=%v names=%v", found, names)
	}
}

func TestSaveIsAdditiveAndSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.sqlite")
	ctx := context.Background()

	db, err := database.New(ctx, path, slog.Default())
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}

	if err = db.Save(ctx, []string{"acme/b", "acme/a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err = db.Save(ctx, []string{"acme/a", "acme/c", " "}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err = db.Close(); err != nil {
		t.Fatalf("failed to close db: %v", err)
	}

	reopened := openTestDB(t, path)

	names, found, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatalf("expected state to be found")
	}

	want := []string{"acme/a", "acme/b", "acme/c"}
	if !slices.Equal(names, want) {
		t.Fatalf("unexpected names: got %v want %v", names, want)
	}
}

func TestEmptySaveMarksInitialized(t *testing.T) {
	db := openTestDB(t, filepath.Join(t.TempDir(), "state.sqlite"))
	ctx := context.Background()

	if err := db.Save(ctx, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, found, err := db.Load(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatalf("expected empty baseline to count as state")
	}
}

func TestCorruptFileIsQuarantined(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.sqlite")
	garbage := bytes.Repeat([]byte("not sqlite "), 14)[:150]

	if err := os.WriteFile(path, garbage, 0o600); err != nil {
		t.Fatalf("failed to write garbage: %v", err)
	}

	db := openTestDB(t, path)

	names, found, err := db.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found || len(names) != 0 {
		t.Fatalf("expected fresh state, got found=%v names=%v", found, names)
	}

	moved, err := os.ReadFile(path + ".corrupt")
	if err != nil {
		t.Fatalf("expected quarantined file: %v", err)
	}
	if !bytes.Equal(moved, garbage) {
		t.Fatalf("quarantined file does not hold the original bytes")
	}
}

func TestUnopenablePathIsNotQuarantined(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	path := filepath.Join(dir, "state.sqlite")

	if _, err := database.New(context.Background(), path, slog.Default()); err == nil {
		t.Fatalf("expected error for a path in a missing directory")
	}

	if _, err := os.Stat(path + ".corrupt"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no quarantined file, got %v", err)
	}
}
