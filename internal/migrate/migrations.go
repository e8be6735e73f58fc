package migrate

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/server/*.sql sql/client/*.sql
var migrationsFS embed.FS

// Set names a group of migrations with its own schema version.
type Set string

const (
	// Server is the reference API schema.
	Server Set = "server"
	// Client is the dashboard's local journal schema.
	Client Set = "client"
)

// Step is one numbered SQL file of a set.
type Step struct {
	Version int
	File    string
	SQL     string
}

func steps(set Set) ([]Step, error) {
	dir := path.Join("sql", string(set))
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("unknown migration set %q: %w", set, err)
	}
	out := make([]Step, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(e.Name(), "_")
		v, err := strconv.Atoi(prefix)
		if !ok || err != nil || v <= 0 {
			return nil, fmt.Errorf("migration %s/%s: name must start with a positive version", set, e.Name())
		}
		body, err := migrationsFS.ReadFile(path.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, Step{Version: v, File: e.Name(), SQL: string(body)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Migrate applies the pending steps of set inside one transaction.
func Migrate(db *sql.DB, set Set) error {
	pending, err := steps(set)
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	applied, err := ensureVersionRow(tx)
	if err != nil {
		return err
	}
	for _, s := range pending {
		if s.Version <= applied {
			continue
		}
		if _, err := tx.Exec(s.SQL); err != nil {
			return fmt.Errorf("migration %s/%s: %w", set, s.File, err)
		}
		applied = s.Version
	}
	if _, err := tx.Exec(`UPDATE schema_version SET version = ?`, applied); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

func ensureVersionRow(tx *sql.Tx) (int, error) {
	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL)`); err != nil {
		return 0, fmt.Errorf("create schema_version: %w", err)
	}
	var v int
	err := tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`)
		return 0, err
	}
	return v, err
}

// Version reports the applied schema version, zero for a fresh database.
func Version(db *sql.DB) (int, error) {
	var v int
	err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}
