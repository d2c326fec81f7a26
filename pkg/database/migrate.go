package database

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
)

const migrationSuffix = ".up.sql"

// isConnectionError returns true if the error looks like a transient connection
// problem rather than a SQL syntax or constraint error. Only connection errors
// are retried; SQL errors are returned immediately.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	connPatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"i/o timeout",
		"connect: connection",
		"dial tcp",
		"EOF",
		"connection timed out",
		"server closed the connection unexpectedly",
		"could not connect",
	}
	for _, p := range connPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// MigrationFiles returns the names of the *.up.sql files at the root of
// migrations, in the order they are applied.
func MigrationFiles(migrations fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), migrationSuffix) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// RunMigrations executes all .up.sql files from migrations in sorted order and
// returns the versions applied by this call. A schema_migrations table tracks
// what has already run. Transient connection errors are retried with
// exponential backoff; SQL errors are returned immediately.
func RunMigrations(ctx context.Context, pool DBTX, migrations fs.FS, logger *slog.Logger) ([]string, error) {
	var applied []string
	err := retry(ctx, logger, "run migrations", isConnectionError, func() error {
		var err error
		applied, err = runMigrationsOnce(ctx, pool, migrations, logger)
		return err
	})
	if err != nil && isConnectionError(err) {
		return nil, err
	}
	return applied, err
}

func runMigrationsOnce(ctx context.Context, pool DBTX, migrations fs.FS, logger *slog.Logger) ([]string, error) {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("create schema_migrations table: %w", err)
	}

	names, err := MigrationFiles(migrations)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, name := range names {
		var exists bool
		err := pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", name).Scan(&exists)
		if err != nil {
			return applied, fmt.Errorf("check migration %s: %w", name, err)
		}
		if exists {
			logger.Debug("migration already applied, skipping", slog.String("version", name))
			continue
		}

		content, err := fs.ReadFile(migrations, name)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", name, err)
		}

		// The statement and its version row commit together.
		tx, err := pool.Begin(ctx)
		if err != nil {
			return applied, fmt.Errorf("begin tx for migration %s: %w", name, err)
		}

		if _, err := tx.Exec(ctx, string(content)); err != nil {
			_ = tx.Rollback(ctx)
			return applied, fmt.Errorf("execute migration %s: %w", name, err)
		}

		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", name); err != nil {
			_ = tx.Rollback(ctx)
			return applied, fmt.Errorf("record migration %s: %w", name, err)
		}

		if err := tx.Commit(ctx); err != nil {
			return applied, fmt.Errorf("commit migration %s: %w", name, err)
		}

		applied = append(applied, name)
		logger.Info("migration applied successfully", slog.String("version", name))
	}

	return applied, nil
}
