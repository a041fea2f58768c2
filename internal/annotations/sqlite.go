package annotations

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/a3tai/papyrus-engine/internal/engine"
	"github.com/a3tai/papyrus-engine/internal/store"
)

const schema = `CREATE TABLE IF NOT EXISTS annotations (
    doc_key TEXT NOT NULL,
    position INTEGER NOT NULL,
    id TEXT NOT NULL,
    type TEXT NOT NULL,
    page_index INTEGER NOT NULL,
    x REAL NOT NULL,
    y REAL NOT NULL,
    width REAL NOT NULL,
    height REAL NOT NULL,
    color TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    PRIMARY KEY (doc_key, id)
);

CREATE INDEX IF NOT EXISTS idx_annotations_doc ON annotations(doc_key, position);
`

// SQLiteStore keeps annotations in an embedded SQLite database.
type SQLiteStore struct {
	conn *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &SQLiteStore{conn: conn}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, docKey string) ([]store.Annotation, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, type, page_index, x, y, width, height, color, content, created_at
		FROM annotations WHERE doc_key = ? ORDER BY position`, docKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query annotations: %w", err)
	}
	defer rows.Close()

	anns := []store.Annotation{}
	for rows.Next() {
		var (
			a    store.Annotation
			kind string
			rect engine.Rect
		)
		if err := rows.Scan(&a.ID, &kind, &a.PageIndex, &rect.X, &rect.Y, &rect.Width, &rect.Height,
			&a.Color, &a.Content, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan annotation: %w", err)
		}
		a.Type = store.AnnotationType(kind)
		a.Rect = rect
		anns = append(anns, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read annotations: %w", err)
	}
	return anns, nil
}

// Save replaces the document's annotations in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, docKey string, anns []store.Annotation) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM annotations WHERE doc_key = ?`, docKey); err != nil {
		return fmt.Errorf("failed to clear annotations: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO annotations (doc_key, position, id, type, page_index, x, y, width, height, color, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, a := range anns {
		if _, err := stmt.ExecContext(ctx, docKey, i, a.ID, string(a.Type), a.PageIndex,
			a.Rect.X, a.Rect.Y, a.Rect.Width, a.Rect.Height, a.Color, a.Content, a.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert annotation %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit annotations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, docKey string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM annotations WHERE doc_key = ?`, docKey); err != nil {
		return fmt.Errorf("failed to delete annotations: %w", err)
	}
	return nil
}
