package database

import (
	"context"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"

	"exeat/migrations"
)

func TestEmbeddedMigrationsCoverBothDialects(t *testing.T) {
	for _, dialect := range []string{DialectPostgres, DialectSQLite} {
		names, err := fs.Glob(migrations.FS, "*."+dialect+".sql")
		require.NoError(t, err)
		require.NotEmpty(t, names, "no embedded migrations for %s", dialect)
	}
}

func TestOpenSQLiteAppliesMigrations(t *testing.T) {
	db, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, table := range []string{"permits", "approval_records", "access_events", "schema_migrations"} {
		var name string
		err := db.QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		require.NoError(t, err, "table %s not created", table)
	}

	var latest int
	require.NoError(t, db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&latest))
	require.Equal(t, 1, latest)
}

func TestMigrateIsReentrant(t *testing.T) {
	db, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	// OpenSQLite already migrated once; a second run must be a no-op.
	require.NoError(t, Migrate(context.Background(), db, DialectSQLite))

	var applied int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	require.Equal(t, 1, applied)
}

func TestSplitStatements(t *testing.T) {
	script := `-- leading comment
CREATE TABLE a (id TEXT);

-- trailing comment only
`
	statements := splitStatements(script)
	require.Len(t, statements, 1)
	require.Contains(t, statements[0], "CREATE TABLE a")
}
