// Package metaindex provides the centralized queryable catalog of
// document metadata.
//
// The index holds metadata only, never content. It is a discovery aid:
// best-effort relative to the remote store, allowed to lag behind it,
// and never the source of truth. Its one concurrency primitive is the
// row-level conditional lock update.
//
// Storage is SQLite (ncruces/go-sqlite3, WASM build) in WAL mode.
package metaindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/dafiiit/hivecad-sync/internal/document"
)

// MaxSearchResults caps how many rows Search returns.
const MaxSearchResults = 50

// Index wraps the SQLite connection holding the metadata catalog.
type Index struct {
	conn *sql.DB
	path string
}

// Open creates the index database at path, creating schema as needed.
//
// The caller MUST call Close() when done.
func Open(path string) (*Index, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping index database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	idx := &Index{conn: conn, path: path}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := idx.initSchema(); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return idx, nil
}

// Close closes the database connection.
func (idx *Index) Close() error {
	if idx.conn == nil {
		return nil
	}
	err := idx.conn.Close()
	idx.conn = nil
	return err
}

func (idx *Index) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		owner_id TEXT NOT NULL DEFAULT '',
		owner_email TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		visibility TEXT NOT NULL DEFAULT 'private',
		tags TEXT,  -- JSON array
		folder TEXT NOT NULL DEFAULT '',
		thumbnail_ref TEXT NOT NULL DEFAULT '',
		last_modified INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		remote_provider TEXT NOT NULL DEFAULT '',
		remote_locator TEXT NOT NULL DEFAULT '',
		locked_by TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id);
	CREATE INDEX IF NOT EXISTS idx_documents_modified ON documents(last_modified);
	CREATE INDEX IF NOT EXISTS idx_documents_visibility ON documents(visibility);
	`

	if _, err := idx.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize index schema: %w", err)
	}
	return nil
}

// Upsert inserts or updates a document's metadata row. The lock field is
// deliberately NOT touched on update: a sync push must not steal or
// clear a lock held through AcquireLock.
func (idx *Index) Upsert(ctx context.Context, meta *document.Meta) error {
	if meta == nil || meta.ID == "" {
		return fmt.Errorf("meta must have an id")
	}

	tagsJSON, err := json.Marshal(meta.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	query := `
	INSERT INTO documents (
		id, name, owner_id, owner_email, description, visibility,
		tags, folder, thumbnail_ref, last_modified, created_at,
		remote_provider, remote_locator, locked_by
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '')
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		owner_id = excluded.owner_id,
		owner_email = excluded.owner_email,
		description = excluded.description,
		visibility = excluded.visibility,
		tags = excluded.tags,
		folder = excluded.folder,
		thumbnail_ref = excluded.thumbnail_ref,
		last_modified = excluded.last_modified,
		remote_provider = excluded.remote_provider,
		remote_locator = excluded.remote_locator
	`

	_, err = idx.conn.ExecContext(ctx, query,
		meta.ID,
		meta.Name,
		meta.OwnerID,
		meta.OwnerEmail,
		meta.Description,
		string(meta.Visibility),
		string(tagsJSON),
		meta.Folder,
		meta.ThumbnailRef,
		meta.LastModified,
		meta.CreatedAt,
		meta.RemoteProvider,
		meta.RemoteLocator,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", meta.ID, err)
	}
	return nil
}

// Delete removes a document's row. Returns nil if the row doesn't exist
// (idempotent).
func (idx *Index) Delete(ctx context.Context, id string) error {
	_, err := idx.conn.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

// Get retrieves a single document's metadata.
// Returns document.ErrNotFound if the row is absent.
func (idx *Index) Get(ctx context.Context, id string) (*document.Meta, error) {
	row := idx.conn.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)

	meta, err := scanMeta(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", id, document.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return meta, nil
}

// ListOwn returns all documents owned by ownerID, most recently modified
// first.
func (idx *Index) ListOwn(ctx context.Context, ownerID string) ([]*document.Meta, error) {
	rows, err := idx.conn.QueryContext(ctx,
		selectColumns+` WHERE owner_id = ? ORDER BY last_modified DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	return scanMetas(rows)
}

// Search returns documents whose name or description contains query as a
// substring, most recently modified first, capped at MaxSearchResults.
func (idx *Index) Search(ctx context.Context, query string) ([]*document.Meta, error) {
	pattern := "%" + escapeLike(query) + "%"

	rows, err := idx.conn.QueryContext(ctx,
		selectColumns+`
		WHERE name LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\'
		ORDER BY last_modified DESC
		LIMIT ?`,
		pattern, pattern, MaxSearchResults)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	defer rows.Close()

	return scanMetas(rows)
}

// SetVisibility updates a document's visibility.
// Returns document.ErrNotFound if the row is absent.
func (idx *Index) SetVisibility(ctx context.Context, id string, v document.Visibility) error {
	res, err := idx.conn.ExecContext(ctx,
		`UPDATE documents SET visibility = ? WHERE id = ?`, string(v), id)
	if err != nil {
		return fmt.Errorf("failed to set visibility: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set visibility: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, document.ErrNotFound)
	}
	return nil
}

// AcquireLock attempts to take the document's lock for holder.
//
// The check and the set happen in one conditional UPDATE: the lock is
// taken only if the field is currently empty, so two concurrent
// acquirers resolve to exactly one winner inside the database.
//
// Returns true if the lock was acquired.
func (idx *Index) AcquireLock(ctx context.Context, id, holder string) (bool, error) {
	if holder == "" {
		return false, fmt.Errorf("lock holder must not be empty")
	}

	res, err := idx.conn.ExecContext(ctx,
		`UPDATE documents SET locked_by = ? WHERE id = ? AND locked_by = ''`,
		holder, id)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock on %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock on %s: %w", id, err)
	}
	return n == 1, nil
}

// ReleaseLock clears the document's lock unconditionally.
// Releasing an unlocked or absent document is not an error.
func (idx *Index) ReleaseLock(ctx context.Context, id string) error {
	_, err := idx.conn.ExecContext(ctx,
		`UPDATE documents SET locked_by = '' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", id, err)
	}
	return nil
}

const selectColumns = `
	SELECT id, name, owner_id, owner_email, description, visibility,
	       tags, folder, thumbnail_ref, last_modified, created_at,
	       remote_provider, remote_locator, locked_by
	FROM documents`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMeta(row rowScanner) (*document.Meta, error) {
	var meta document.Meta
	var visibility string
	var tagsJSON sql.NullString

	err := row.Scan(
		&meta.ID,
		&meta.Name,
		&meta.OwnerID,
		&meta.OwnerEmail,
		&meta.Description,
		&visibility,
		&tagsJSON,
		&meta.Folder,
		&meta.ThumbnailRef,
		&meta.LastModified,
		&meta.CreatedAt,
		&meta.RemoteProvider,
		&meta.RemoteLocator,
		&meta.LockedBy,
	)
	if err != nil {
		return nil, err
	}

	meta.Visibility = document.Visibility(visibility)

	if tagsJSON.Valid && tagsJSON.String != "" && tagsJSON.String != "null" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &meta.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	return &meta, nil
}

func scanMetas(rows *sql.Rows) ([]*document.Meta, error) {
	var metas []*document.Meta
	for rows.Next() {
		meta, err := scanMeta(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return metas, nil
}

// escapeLike escapes LIKE wildcards so the query matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}
