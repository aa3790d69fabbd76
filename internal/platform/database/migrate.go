package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"exeat/migrations"
)

// Dialects the embedded migrations are written for. A migration file is named
// <version>_<name>.<dialect>.sql and only applies to its own dialect.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// Migrate applies the embedded schema migrations for the given dialect that
// have not run yet, in version order, each inside its own transaction.
// Applied versions are tracked in schema_migrations, so startup can call this
// unconditionally.
func Migrate(ctx context.Context, db *sql.DB, dialect string) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version       INTEGER PRIMARY KEY,
			applied_at_ms BIGINT NOT NULL
		)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	names, err := fs.Glob(migrations.FS, "*."+dialect+".sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		version, err := migrationVersion(name)
		if err != nil {
			return err
		}
		applied, err := migrationApplied(ctx, db, dialect, version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		script, err := migrations.FS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx: %w", err)
		}
		// Statements run one at a time: the pgx driver's extended protocol
		// rejects multi-statement scripts.
		for _, stmt := range splitStatements(string(script)) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("apply migration %s: %w", name, err)
			}
		}
		record := `INSERT INTO schema_migrations (version, applied_at_ms) VALUES (?, ?)`
		if dialect == DialectPostgres {
			record = `INSERT INTO schema_migrations (version, applied_at_ms) VALUES ($1, $2)`
		}
		if _, err := tx.ExecContext(ctx, record, version, time.Now().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

func migrationApplied(ctx context.Context, db *sql.DB, dialect string, version int) (bool, error) {
	query := `SELECT version FROM schema_migrations WHERE version = ?`
	if dialect == DialectPostgres {
		query = `SELECT version FROM schema_migrations WHERE version = $1`
	}
	var found int
	err := db.QueryRowContext(ctx, query, version).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check migration %d: %w", version, err)
	}
	return true, nil
}

func migrationVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, fmt.Errorf("migration %s: missing version prefix", name)
	}
	version, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, fmt.Errorf("migration %s: bad version prefix: %w", name, err)
	}
	return version, nil
}

// splitStatements cuts a migration script on statement terminators, dropping
// chunks that hold nothing but comments.
func splitStatements(script string) []string {
	var statements []string
	for _, chunk := range strings.Split(script, ";") {
		if isCommentOnly(chunk) {
			continue
		}
		statements = append(statements, strings.TrimSpace(chunk))
	}
	return statements
}

func isCommentOnly(chunk string) bool {
	for _, line := range strings.Split(chunk, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
			return false
		}
	}
	return true
}
