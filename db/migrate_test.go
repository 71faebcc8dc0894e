package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	t.Run("applies all migrations to a fresh database", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "crewline.db")
		db, err := Open(dbPath, nil)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, Migrate(db, nil))

		for _, table := range []string{
			"schema_migrations",
			"tenants",
			"clients",
			"equipment",
			"recurring_templates",
			"scheduled_jobs",
			"notifications",
			"usage_counters",
			"sweep_runs",
		} {
			var count int
			err := db.QueryRow(
				"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table,
			).Scan(&count)
			require.NoError(t, err)
			assert.Equal(t, 1, count, "table %s should exist", table)
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "crewline.db")
		db, err := Open(dbPath, nil)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, Migrate(db, nil))

		var before int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&before))

		require.NoError(t, Migrate(db, nil))

		var after int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&after))
		assert.Equal(t, before, after, "rerunning migrations should not re-record versions")
	})

	t.Run("records versions by filename prefix", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "crewline.db")
		db, err := Open(dbPath, nil)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, Migrate(db, nil))

		var exists bool
		err = db.QueryRow(
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = '000')",
		).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists)

		err = db.QueryRow(
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = '004')",
		).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("unique index rejects a second job for the same template and date", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "crewline.db")
		db, err := Open(dbPath, nil)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, Migrate(db, nil))

		mustExec := func(query string, args ...interface{}) {
			t.Helper()
			_, err := db.Exec(query, args...)
			require.NoError(t, err)
		}

		mustExec(`INSERT INTO tenants (id, name, tier, created_at, updated_at)
			VALUES ('tn_test', 'Test Co', 'pro', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`)
		mustExec(`INSERT INTO recurring_templates
			(id, tenant_id, pattern, interval, anchor_day, next_occurrence, title, created_at, updated_at)
			VALUES ('rt_test', 'tn_test', 'monthly', 1, 15, '2026-02-15', 'Filter swap', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`)
		mustExec(`INSERT INTO scheduled_jobs
			(id, tenant_id, recurring_template_id, scheduled_date, title, created_at, updated_at)
			VALUES ('job_1', 'tn_test', 'rt_test', '2026-02-15', 'Filter swap', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`)

		_, err = db.Exec(`INSERT INTO scheduled_jobs
			(id, tenant_id, recurring_template_id, scheduled_date, title, created_at, updated_at)
			VALUES ('job_2', 'tn_test', 'rt_test', '2026-02-15', 'Filter swap', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`)
		require.Error(t, err, "duplicate (template, date) should violate the unique index")
		assert.Contains(t, err.Error(), "UNIQUE")
	})

	t.Run("jobs without a template are exempt from the unique index", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "crewline.db")
		db, err := Open(dbPath, nil)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, Migrate(db, nil))

		_, err = db.Exec(`INSERT INTO tenants (id, name, tier, created_at, updated_at)
			VALUES ('tn_test', 'Test Co', 'pro', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`)
		require.NoError(t, err)

		for _, id := range []string{"job_a", "job_b"} {
			_, err = db.Exec(`INSERT INTO scheduled_jobs
				(id, tenant_id, scheduled_date, title, created_at, updated_at)
				VALUES (?, 'tn_test', '2026-02-15', 'One-off visit', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`, id)
			require.NoError(t, err)
		}
	})

	t.Run("foreign keys are enforced on migrated schema", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "crewline.db")
		db, err := Open(dbPath, nil)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, Migrate(db, nil))

		_, err = db.Exec(`INSERT INTO scheduled_jobs
			(id, tenant_id, scheduled_date, title, created_at, updated_at)
			VALUES ('job_orphan', 'tn_missing', '2026-02-15', 'Orphan', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "FOREIGN KEY")
	})
}

func TestMigrationVersion(t *testing.T) {
	assert.Equal(t, "000", migrationVersion("000_create_schema_migrations.sql"))
	assert.Equal(t, "012", migrationVersion("012_add_columns.sql"))
	assert.Equal(t, "", migrationVersion("noprefix.sql"))
	assert.Equal(t, "", migrationVersion("_leading.sql"))
}
