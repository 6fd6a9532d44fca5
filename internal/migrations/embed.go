// Package migrations embeds the goose SQL migrations for the files and
// processing_jobs tables (spec.md §3, §6) and exposes a Run helper used by
// cmd/transcriptor-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var FS embed.FS

// Run applies all pending migrations against db.
func Run(db *sql.DB) error {
	goose.SetBaseFS(FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "sql"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}
