// Package catalog keeps a SQLite ledger of every stored upload so stored
// objects can be listed and reconciled later.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"shopmedia/internal/ingest"
	"shopmedia/internal/resolve"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations
var migrationsFS embed.FS

const DefaultListLimit = 50

// Upload is one row of the ledger. Only the backend location is persisted;
// URL is filled in by WithOrigin for the request being served.
type Upload struct {
	Key         string    `json:"key"`
	Location    string    `json:"location"`
	URL         string    `json:"url,omitempty"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	Backend     string    `json:"backend"`
	CreatedAt   time.Time `json:"createdAt"`
}

// WithOrigin returns u with URL resolved against origin.
func (u Upload) WithOrigin(origin *url.URL) Upload {
	u.URL = resolve.Resolve(origin, u.Location)
	return u
}

// Catalog records stored uploads in SQLite.
type Catalog struct {
	db  *sql.DB
	now func() time.Time
}

// initSchema applies all SQL files in the embedded migrations directory in
// lexicographical order. Every migration must be idempotent.
func initSchema(ctx context.Context, db *sql.DB) error {
	return fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		content, readError := migrationsFS.ReadFile(path)
		if readError != nil {
			return fmt.Errorf("error reading SQL file: %w", readError)
		}

		slog.Debug("Running migration", "path", path)
		if _, execError := db.ExecContext(ctx, string(content)); execError != nil {
			return fmt.Errorf("apply %s: %w", path, execError)
		}
		return nil
	})
}

// Open opens (creating if needed) the catalog database at dbPath.
func Open(ctx context.Context, dbPath string) (*Catalog, error) {
	if dbPath == "" {
		return nil, errors.New("catalog path must not be empty")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Catalog{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Record stores obj in the ledger. Recording the same key twice is a no-op.
func (c *Catalog) Record(ctx context.Context, backend string, obj ingest.StoredObject) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO uploads(key, location, size, content_type, backend, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO NOTHING`,
		obj.Key, obj.Location, obj.Size, obj.ContentType, backend, c.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record upload %q: %w", obj.Key, err)
	}
	return nil
}

// Recent returns at most limit uploads, newest first.
func (c *Catalog) Recent(ctx context.Context, limit int) ([]Upload, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT key, location, size, content_type, backend, created_at
		 FROM uploads
		 ORDER BY created_at DESC, key DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	uploads := make([]Upload, 0, limit)
	for rows.Next() {
		var u Upload
		if err := rows.Scan(&u.Key, &u.Location, &u.Size, &u.ContentType, &u.Backend, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

// Lookup returns the upload stored under key.
func (c *Catalog) Lookup(ctx context.Context, key string) (Upload, bool, error) {
	var u Upload
	err := c.db.QueryRowContext(ctx,
		`SELECT key, location, size, content_type, backend, created_at FROM uploads WHERE key = ?`,
		key,
	).Scan(&u.Key, &u.Location, &u.Size, &u.ContentType, &u.Backend, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Upload{}, false, nil
	}
	if err != nil {
		return Upload{}, false, fmt.Errorf("lookup upload %q: %w", key, err)
	}
	return u, true, nil
}
