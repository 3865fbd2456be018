// Package migrate brings the workspace database schema up to date. Schema
// changes are SQL files embedded under sql/, named with a zero-padded numeric
// prefix (0001_init.sql); the applied version lives in a single-row
// schema_version table and every file above it runs, in order, inside one
// transaction.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
)

//go:embed sql/*.sql
var schemaFS embed.FS

// Migrate applies any pending schema files and records the new version.
// Already-current databases are left untouched, so calling it on every open
// is safe.
func Migrate(db *sql.DB) error {
	files, err := fs.Glob(schemaFS, "sql/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := schemaVersion(tx)
	if err != nil {
		return err
	}
	for _, file := range files {
		var v int
		if _, err := fmt.Sscanf(path.Base(file), "%d_", &v); err != nil {
			return fmt.Errorf("schema file %s: version prefix required: %w", file, err)
		}
		if v <= current {
			continue
		}
		stmts, err := schemaFS.ReadFile(file)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(stmts)); err != nil {
			return fmt.Errorf("apply %s: %w", path.Base(file), err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, v); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
		current = v
	}
	return tx.Commit()
}

// schemaVersion reads the recorded version, creating and seeding the tracking
// table on a fresh database.
func schemaVersion(tx *sql.Tx) (int, error) {
	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL)`); err != nil {
		return 0, fmt.Errorf("create schema_version: %w", err)
	}
	var v int
	err := tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if err == sql.ErrNoRows {
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return 0, fmt.Errorf("init schema_version: %w", err)
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return v, nil
}
