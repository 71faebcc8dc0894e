package db

import (
	"database/sql"
	"embed"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/crewline/crewline/errors"
)

//go:embed sqlite/migrations/*.sql
var migrationFiles embed.FS

// Migrate applies all pending schema migrations in order. Each migration
// runs in its own transaction and is recorded in schema_migrations, so
// calling Migrate on an up-to-date database is a no-op.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	entries, err := migrationFiles.ReadDir("sqlite/migrations")
	if err != nil {
		return errors.Wrap(err, "failed to read migrations directory")
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	applied := 0
	for _, name := range names {
		version := migrationVersion(name)
		if version == "" {
			return errors.Newf("migration %s has no version prefix", name)
		}

		// Migration 000 creates schema_migrations itself, so the
		// bookkeeping check only applies once the table exists.
		if version != "000" {
			var exists bool
			err := db.QueryRow(
				"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)",
				version,
			).Scan(&exists)
			if err != nil {
				return errors.Wrapf(err, "failed to check migration %s", version)
			}
			if exists {
				continue
			}
		} else if schemaMigrationsExists(db) {
			continue
		}

		content, err := migrationFiles.ReadFile("sqlite/migrations/" + name)
		if err != nil {
			return errors.Wrapf(err, "failed to read migration %s", name)
		}

		tx, err := db.Begin()
		if err != nil {
			return errors.Wrapf(err, "failed to begin transaction for migration %s", version)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "failed to apply migration %s", version)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "failed to record migration %s", version)
		}

		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "failed to commit migration %s", version)
		}

		if logger != nil {
			logger.Infow("Applied migration", "version", version, "file", name)
		}
		applied++
	}

	if logger != nil && applied > 0 {
		logger.Infow("Migrations complete", "applied", applied)
	}

	return nil
}

// migrationVersion extracts the numeric prefix from a migration filename,
// e.g. "003_create_recurring_templates.sql" yields "003".
func migrationVersion(name string) string {
	idx := strings.Index(name, "_")
	if idx <= 0 {
		return ""
	}
	return name[:idx]
}

func schemaMigrationsExists(db *sql.DB) bool {
	var count int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'",
	).Scan(&count)
	return err == nil && count > 0
}
