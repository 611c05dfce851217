package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the profile's officechat.db. It is opened by the daemon and, for
// short-lived reads and offline edits, by officechatctl; WAL and the busy
// timeout let the two coexist.
type DB struct {
	*sql.DB
	path string
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db %s: %w", path, err)
	}
	return &DB{DB: db, path: path}, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string { return db.path }

// SizeBytes reports the main database file size from the page counters.
// The WAL file is not included.
func (db *DB) SizeBytes() (int64, error) {
	var pages, pageSize int64
	if err := db.QueryRow(`PRAGMA page_count`).Scan(&pages); err != nil {
		return 0, fmt.Errorf("page count: %w", err)
	}
	if err := db.QueryRow(`PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("page size: %w", err)
	}
	return pages * pageSize, nil
}
