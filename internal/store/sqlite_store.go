package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nguyenngocdue/RAG-MCP/internal/model"
)

// SQLiteStore is the document registry backing store. One row per doc_id;
// lifecycle state changes go through the guarded UpdateState so concurrent
// writers race on the WHERE clause instead of clobbering each other.
type SQLiteStore struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	dsn := s.path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}
	// one writer connection; concurrent transitions queue instead of
	// colliding with SQLITE_BUSY
	db.SetMaxOpenConns(1)

	schema := `
CREATE TABLE IF NOT EXISTS documents (
  doc_id TEXT PRIMARY KEY,
  source_path TEXT NOT NULL,
  original_name TEXT NOT NULL DEFAULT '',
  declared_type TEXT NOT NULL DEFAULT 'unknown',
  state TEXT NOT NULL DEFAULT 'UPLOADED',
  error TEXT NOT NULL DEFAULT '',
  content_length INTEGER NOT NULL DEFAULT 0,
  block_count INTEGER NOT NULL DEFAULT 0,
  page_count INTEGER NOT NULL DEFAULT 0,
  created_unix INTEGER NOT NULL DEFAULT 0,
  updated_unix INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_documents_state ON documents(state);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) InsertDocument(ctx context.Context, doc model.Document) error {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(
		ctx,
		`INSERT INTO documents(doc_id, source_path, original_name, declared_type, state, error,
		   content_length, block_count, page_count, created_unix, updated_unix)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.DocID,
		doc.SourcePath,
		doc.OriginalName,
		string(doc.DeclaredType),
		string(doc.State),
		doc.Error,
		doc.Stats.ContentLength,
		doc.Stats.BlockCount,
		doc.Stats.PageCount,
		doc.CreatedAt.Unix(),
		doc.UpdatedAt.Unix(),
	)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return model.ErrDuplicate
	}
	return err
}

func (s *SQLiteStore) GetDocument(ctx context.Context, docID string) (model.Document, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return model.Document{}, err
	}

	row := db.QueryRowContext(
		ctx,
		`SELECT doc_id, source_path, original_name, declared_type, state, error,
		   content_length, block_count, page_count, created_unix, updated_unix
		 FROM documents WHERE doc_id = ?`,
		docID,
	)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Document{}, model.ErrNotFound
	}
	return doc, err
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, state model.DocState) ([]model.Document, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT doc_id, source_path, original_name, declared_type, state, error,
	   content_length, block_count, page_count, created_unix, updated_unix
	 FROM documents`
	args := make([]any, 0, 1)
	if state != "" {
		query += " WHERE state = ?"
		args = append(args, string(state))
	}
	query += " ORDER BY created_unix, doc_id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	docs := make([]model.Document, 0, 16)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateState is the registry's single mutation path for lifecycle state.
// The expected-state guard lives in the WHERE clause so exactly one of two
// racing writers wins; the loser sees ErrStaleState.
func (s *SQLiteStore) UpdateState(ctx context.Context, docID string, expected model.DocState, doc model.Document) (model.Document, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return model.Document{}, err
	}

	res, err := db.ExecContext(
		ctx,
		`UPDATE documents SET state = ?, error = ?, content_length = ?, block_count = ?,
		   page_count = ?, updated_unix = ?
		 WHERE doc_id = ? AND state = ?`,
		string(doc.State),
		doc.Error,
		doc.Stats.ContentLength,
		doc.Stats.BlockCount,
		doc.Stats.PageCount,
		time.Now().Unix(),
		docID,
		string(expected),
	)
	if err != nil {
		return model.Document{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return model.Document{}, err
	}
	if affected == 0 {
		// distinguish unknown id from a lost transition race
		if _, getErr := s.GetDocument(ctx, docID); errors.Is(getErr, model.ErrNotFound) {
			return model.Document{}, model.ErrNotFound
		}
		return model.Document{}, model.ErrStaleState
	}
	return s.GetDocument(ctx, docID)
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, docID string) error {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, `DELETE FROM documents WHERE doc_id = ?`, docID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CountByState(ctx context.Context) (map[string]int64, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT state, COUNT(*) FROM documents GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) ensureDB(ctx context.Context) (*sql.DB, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, errors.New("sqlite db not initialized")
	}
	return s.db, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (model.Document, error) {
	var (
		doc          model.Document
		declaredType string
		state        string
		createdUnix  int64
		updatedUnix  int64
	)
	if err := row.Scan(
		&doc.DocID,
		&doc.SourcePath,
		&doc.OriginalName,
		&declaredType,
		&state,
		&doc.Error,
		&doc.Stats.ContentLength,
		&doc.Stats.BlockCount,
		&doc.Stats.PageCount,
		&createdUnix,
		&updatedUnix,
	); err != nil {
		return model.Document{}, err
	}
	doc.DeclaredType = model.DocType(declaredType)
	doc.State = model.DocState(state)
	doc.CreatedAt = time.Unix(createdUnix, 0).UTC()
	doc.UpdatedAt = time.Unix(updatedUnix, 0).UTC()
	return doc, nil
}
