// Package migrations applies the embedded schema migrations for the
// dispatch tables.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

//go:embed sql/*.sql
var files embed.FS

const versionTable = "_courier_internal_versions"

// Run applies every migration file under sql/ that the version table
// does not yet record, in filename order. Each file executes inside
// one transaction together with its version insert, so a failing
// migration leaves no partial schema behind.
func Run(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+versionTable+` (
			id TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("creating version table: %w", err)
	}

	done, err := appliedSet(ctx, db)
	if err != nil {
		return err
	}

	names, err := fs.Glob(files, "sql/*.sql")
	if err != nil {
		return fmt.Errorf("listing migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		id := strings.TrimSuffix(path.Base(name), ".sql")
		if done[id] {
			continue
		}
		if err := apply(ctx, db, id, name); err != nil {
			return fmt.Errorf("migration %s: %w", id, err)
		}
		log.Info().Str("migration", id).Msg("Applied schema migration")
	}

	return nil
}

func appliedSet(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT id FROM `+versionTable)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning migration id: %w", err)
		}
		done[id] = true
	}

	return done, rows.Err()
}

func apply(ctx context.Context, db *sql.DB, id, name string) error {
	content, err := fs.ReadFile(files, name)
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range statements(string(content)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w executing %q", err, abbrev(stmt, 100))
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO `+versionTable+` (id) VALUES (?)`, id); err != nil {
		return fmt.Errorf("recording version: %w", err)
	}

	return tx.Commit()
}

// statements splits a migration file on semicolons, honoring SQL
// string and identifier literals. Quotes escape by doubling inside a
// literal, not by backslash.
func statements(content string) []string {
	var out []string
	var quote byte
	begin := 0

	for i := 0; i < len(content); i++ {
		c := content[i]
		switch {
		case quote != 0:
			if c == quote {
				if i+1 < len(content) && content[i+1] == quote {
					i++
					continue
				}
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ';':
			if s := strings.TrimSpace(content[begin:i]); s != "" && !commentOnly(s) {
				out = append(out, s)
			}
			begin = i + 1
		}
	}

	if s := strings.TrimSpace(content[begin:]); s != "" && !commentOnly(s) {
		out = append(out, s)
	}

	return out
}

// commentOnly reports whether every non-blank line of s is a -- comment.
func commentOnly(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}

// abbrev caps s at n bytes for error messages.
func abbrev(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
