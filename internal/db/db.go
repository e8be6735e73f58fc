package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	dirName = ".reqboard"
	// ServerDB holds the reference API data.
	ServerDB = "server.db"
	// JournalDB holds the dashboard's local transition journal.
	JournalDB = "journal.db"
)

// Config locates one database file inside a workspace. An empty Name
// means ServerDB.
type Config struct {
	Workspace string
	Name      string
}

// Path is the database file for cfg.
func (cfg Config) Path() string {
	ws, name := cfg.Workspace, cfg.Name
	if ws == "" {
		ws = "."
	}
	if name == "" {
		name = ServerDB
	}
	return filepath.Join(ws, dirName, name)
}

// EnsureWorkspace creates the .reqboard directory and returns its path.
func EnsureWorkspace(workspace string) (string, error) {
	dir := filepath.Join(workspace, dirName)
	return dir, os.MkdirAll(dir, 0o755)
}

// Open opens cfg's SQLite file with foreign keys and a busy timeout.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", cfg.Path())
	return sql.Open("sqlite", dsn)
}
