// Package diagnostics is an optional sqlite-backed audit trail of every
// FsDiff the router has applied, adapted from the teacher's embed.FS
// migration runner for a single append-only table instead of a full
// relational schema.
package diagnostics

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/collab-daemon/collabd/internal/fsreg"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Log records applied FsDiffs for later inspection (`collabd info
// --history`, debugging a replication bug after the fact). A nil *Log is
// valid and every method on it is a no-op, so wiring diagnostics into the
// router stays optional.
type Log struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at dsn and runs
// any pending migrations.
func Open(dsn string) (*Log, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: open %s: %w", dsn, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("diagnostics: set WAL mode: %w", err)
	}
	l := &Log{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("diagnostics: migrate: %w", err)
	}
	return l, nil
}

func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}

func (l *Log) migrate() error {
	if _, err := l.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		if err := l.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", f).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		tx, err := l.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", f); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
	}
	return nil
}

// RecordApplied appends one row for an FsDiff the router just registered,
// labelled with where it came from. Logged but not fatal on failure: the
// audit trail is diagnostic, never load-bearing for replication itself.
func (l *Log) RecordApplied(d fsreg.Diff, sourceKind, sourceAddr string) error {
	if l == nil {
		return nil
	}
	_, err := l.db.Exec(
		`INSERT INTO fs_diffs (op, path, to_path, source_kind, source_addr) VALUES (?, ?, ?, ?, ?)`,
		d.Op.String(), d.Path.String(), d.To.String(), sourceKind, sourceAddr,
	)
	return err
}

// RecentForPath returns the most recent applied diffs touching path, newest
// first, for `collabd info --history <path>`.
func (l *Log) RecentForPath(path fsreg.RelPath, limit int) ([]AppliedDiff, error) {
	if l == nil {
		return nil, nil
	}
	rows, err := l.db.Query(
		`SELECT op, path, to_path, source_kind, source_addr, applied_at FROM fs_diffs
		 WHERE path = ? OR to_path = ? ORDER BY id DESC LIMIT ?`,
		path.String(), path.String(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: query history for %s: %w", path, err)
	}
	defer rows.Close()

	var out []AppliedDiff
	for rows.Next() {
		var a AppliedDiff
		if err := rows.Scan(&a.Op, &a.Path, &a.To, &a.SourceKind, &a.SourceAddr, &a.AppliedAt); err != nil {
			return nil, fmt.Errorf("diagnostics: scan history row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AppliedDiff is one audit-log row returned by RecentForPath.
type AppliedDiff struct {
	Op         string
	Path       string
	To         string
	SourceKind string
	SourceAddr string
	AppliedAt  string
}
