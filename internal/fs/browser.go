package fs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DefaultNamespace is the storage namespace used by the web client.
const DefaultNamespace = "gtd-filesystem"

const browserSchema = `
CREATE TABLE IF NOT EXISTS files (
	ns      TEXT NOT NULL,
	path    TEXT NOT NULL,
	content BLOB,
	PRIMARY KEY (ns, path)
);

CREATE TABLE IF NOT EXISTS meta (
	ns          TEXT NOT NULL,
	path        TEXT NOT NULL,
	name        TEXT NOT NULL,
	parent      TEXT NOT NULL,
	is_dir      INTEGER NOT NULL,
	modified_at INTEGER NOT NULL,
	size        INTEGER NOT NULL,
	PRIMARY KEY (ns, path)
);

CREATE INDEX IF NOT EXISTS idx_meta_parent ON meta(ns, parent);
`

// Browser emulates the web client's key-value file storage on SQLite. File
// content lives in the files table and the directory structure in the meta
// table, indexed by parent. Every tree is scoped to a namespace so several
// trees can share one database.
type Browser struct {
	db        *sql.DB
	dbPath    string
	namespace string
	now       func() time.Time
}

// BrowserOption configures a Browser adapter.
type BrowserOption func(*Browser)

// WithBrowserClock sets the time source used for modification times.
func WithBrowserClock(now func() time.Time) BrowserOption {
	return func(b *Browser) {
		b.now = now
	}
}

// OpenBrowser opens or creates the database at dbPath and scopes the
// adapter to namespace.
//
// The caller MUST call Close when done.
func OpenBrowser(dbPath, namespace string, opts ...BrowserOption) (*Browser, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// One connection keeps every transaction strictly ordered.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := conn.Exec(browserSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	b := &Browser{
		db:        conn,
		dbPath:    dbPath,
		namespace: namespace,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Close releases the database.
func (b *Browser) Close() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// Root returns the namespace.
func (b *Browser) Root() string { return b.namespace }

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (b *Browser) lookup(ctx context.Context, q rowQuerier, p string) (FileInfo, bool, error) {
	if p == "" {
		return FileInfo{IsDir: true}, true, nil
	}
	var (
		fi    FileInfo
		isDir int
	)
	err := q.QueryRowContext(ctx,
		`SELECT name, path, is_dir, modified_at, size FROM meta WHERE ns = ? AND path = ?`,
		b.namespace, p,
	).Scan(&fi.Name, &fi.Path, &isDir, &fi.ModifiedAt, &fi.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return FileInfo{}, false, nil
	}
	if err != nil {
		return FileInfo{}, false, err
	}
	fi.IsDir = isDir != 0
	return fi, true, nil
}

func (b *Browser) Exists(ctx context.Context, p string) (bool, error) {
	clean, err := CleanPath(p)
	if err != nil {
		return false, pathErr("exists", p, err)
	}
	_, ok, err := b.lookup(ctx, b.db, clean)
	if err != nil {
		return false, pathErr("exists", clean, err)
	}
	return ok, nil
}

func (b *Browser) Read(ctx context.Context, p string) ([]byte, error) {
	clean, err := CleanPath(p)
	if err != nil {
		return nil, pathErr("read", p, err)
	}
	fi, ok, err := b.lookup(ctx, b.db, clean)
	if err != nil {
		return nil, pathErr("read", clean, err)
	}
	if !ok {
		return nil, pathErr("read", clean, ErrNotFound)
	}
	if fi.IsDir {
		return nil, pathErr("read", clean, ErrIsDir)
	}

	var data []byte
	err = b.db.QueryRowContext(ctx,
		`SELECT content FROM files WHERE ns = ? AND path = ?`, b.namespace, clean,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pathErr("read", clean, ErrNotFound)
	}
	if err != nil {
		return nil, pathErr("read", clean, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (b *Browser) Write(ctx context.Context, p string, data []byte) error {
	clean, err := CleanPath(p)
	if err != nil {
		return pathErr("write", p, err)
	}
	if clean == "" {
		return pathErr("write", p, ErrInvalidPath)
	}
	if data == nil {
		data = []byte{}
	}

	err = b.inTx(ctx, func(tx *sql.Tx) error {
		now := b.now().UnixMilli()
		if err := b.mkdirsTx(ctx, tx, ancestors(clean), now); err != nil {
			return err
		}
		if fi, ok, err := b.lookup(ctx, tx, clean); err != nil {
			return err
		} else if ok && fi.IsDir {
			return ErrIsDir
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO files (ns, path, content) VALUES (?, ?, ?)
			 ON CONFLICT(ns, path) DO UPDATE SET content = excluded.content`,
			b.namespace, clean, data,
		); err != nil {
			return fmt.Errorf("failed to store content: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO meta (ns, path, name, parent, is_dir, modified_at, size)
			 VALUES (?, ?, ?, ?, 0, ?, ?)
			 ON CONFLICT(ns, path) DO UPDATE SET
			   modified_at = excluded.modified_at,
			   size = excluded.size`,
			b.namespace, clean, path.Base(clean), parentOf(clean), now, len(data),
		); err != nil {
			return fmt.Errorf("failed to store metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return pathErr("write", clean, err)
	}
	return nil
}

func (b *Browser) mkdirsTx(ctx context.Context, tx *sql.Tx, dirs []string, now int64) error {
	for _, dir := range dirs {
		fi, ok, err := b.lookup(ctx, tx, dir)
		if err != nil {
			return err
		}
		if ok {
			if !fi.IsDir {
				return ErrNotDir
			}
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO meta (ns, path, name, parent, is_dir, modified_at, size)
			 VALUES (?, ?, ?, ?, 1, ?, 0)`,
			b.namespace, dir, path.Base(dir), parentOf(dir), now,
		); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func (b *Browser) List(ctx context.Context, p string) ([]FileInfo, error) {
	clean, err := CleanPath(p)
	if err != nil {
		return nil, pathErr("list", p, err)
	}
	fi, ok, err := b.lookup(ctx, b.db, clean)
	if err != nil {
		return nil, pathErr("list", clean, err)
	}
	if !ok {
		return nil, pathErr("list", clean, ErrNotFound)
	}
	if !fi.IsDir {
		return nil, pathErr("list", clean, ErrNotDir)
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT name, path, is_dir, modified_at, size FROM meta
		 WHERE ns = ? AND parent = ? ORDER BY name`,
		b.namespace, clean,
	)
	if err != nil {
		return nil, pathErr("list", clean, err)
	}
	defer rows.Close()

	out := []FileInfo{}
	for rows.Next() {
		var (
			entry FileInfo
			isDir int
		)
		if err := rows.Scan(&entry.Name, &entry.Path, &isDir, &entry.ModifiedAt, &entry.Size); err != nil {
			return nil, pathErr("list", clean, err)
		}
		entry.IsDir = isDir != 0
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, pathErr("list", clean, err)
	}
	return out, nil
}

func (b *Browser) Delete(ctx context.Context, p string) error {
	clean, err := CleanPath(p)
	if err != nil {
		return pathErr("delete", p, err)
	}
	if clean == "" {
		return pathErr("delete", p, ErrInvalidPath)
	}

	prefix := clean + "/"
	err = b.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"files", "meta"} {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM `+table+` WHERE ns = ? AND (path = ? OR substr(path, 1, ?) = ?)`,
				b.namespace, clean, len(prefix), prefix,
			); err != nil {
				return fmt.Errorf("failed to delete from %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return pathErr("delete", clean, err)
	}
	return nil
}

func (b *Browser) EnsureDir(ctx context.Context, p string) error {
	clean, err := CleanPath(p)
	if err != nil {
		return pathErr("mkdir", p, err)
	}
	if clean == "" {
		return nil
	}
	err = b.inTx(ctx, func(tx *sql.Tx) error {
		return b.mkdirsTx(ctx, tx, append(ancestors(clean), clean), b.now().UnixMilli())
	})
	if err != nil {
		return pathErr("mkdir", clean, err)
	}
	return nil
}

func (b *Browser) Stat(ctx context.Context, p string) (FileInfo, error) {
	clean, err := CleanPath(p)
	if err != nil {
		return FileInfo{}, pathErr("stat", p, err)
	}
	fi, ok, err := b.lookup(ctx, b.db, clean)
	if err != nil {
		return FileInfo{}, pathErr("stat", clean, err)
	}
	if !ok {
		return FileInfo{}, pathErr("stat", clean, ErrNotFound)
	}
	return fi, nil
}

// Clear removes every file and directory in the namespace.
func (b *Browser) Clear(ctx context.Context) error {
	return b.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"files", "meta"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE ns = ?`, b.namespace); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	})
}

// Export writes every file of the namespace to w as a zip archive.
func (b *Browser) Export(ctx context.Context, w io.Writer) (int, error) {
	return ExportArchive(ctx, b, w)
}

// Import writes every file of the zip archive into the namespace and
// returns the number of files imported.
func (b *Browser) Import(ctx context.Context, r io.ReaderAt, size int64) (int, error) {
	return ImportArchive(ctx, b, r, size)
}

func (b *Browser) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
