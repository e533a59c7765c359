package resource

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"

	_ "modernc.org/sqlite"
)

// SQLite serves resources stored as blobs in a SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at dsn and prepares the resources table.
func OpenSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err = db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS resources (
		path TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Open reads the blob stored at path. A missing row wraps fs.ErrNotExist.
func (s *SQLite) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM resources WHERE path = ?", path).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	if err != nil {
		return nil, fmt.Errorf("querying resource %s: %w", path, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Put stores data at path, replacing any previous content.
func (s *SQLite) Put(ctx context.Context, path string, data []byte) error {
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO resources (path, data) VALUES (?, ?) ON CONFLICT(path) DO UPDATE SET data = excluded.data",
		path, data); err != nil {
		return fmt.Errorf("storing resource %s: %w", path, err)
	}
	return nil
}

// Paths lists stored resource paths.
func (s *SQLite) Paths(ctx context.Context) (paths []string, err error) {
	var rows *sql.Rows
	if rows, err = s.db.QueryContext(ctx, "SELECT path FROM resources ORDER BY path"); err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		if err = rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// Close the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
