package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmason-mlb/mlb-qbench/domain/search"
	"gorm.io/gorm"
)

// SQL statements for SQLite FTS5 BM25 operations, backing the auxiliary
// keyword index (SPEC_FULL.md Non-goals: never consulted by Fusion).
const (
	sqliteCreateFTS5Table = `
CREATE VIRTUAL TABLE IF NOT EXISTS bm25_documents USING fts5(
    uid UNINDEXED,
    passage,
    tokenize='porter ascii'
)`

	sqliteInsertQuery = `
INSERT INTO bm25_documents (rowid, uid, passage)
VALUES (?, ?, ?)`

	sqliteDeleteQuery = `DELETE FROM bm25_documents WHERE uid = ?`

	sqliteCheckExistingQuery = `SELECT uid FROM bm25_documents WHERE uid IN ?`

	sqliteMaxRowIDQuery = `SELECT COALESCE(MAX(rowid), 0) FROM bm25_documents`
)

// ErrSQLiteBM25InitializationFailed indicates SQLite FTS5 initialization failed.
var ErrSQLiteBM25InitializationFailed = errors.New("failed to initialize SQLite FTS5 BM25 store")

// SQLiteBM25Store implements search.BM25Store using SQLite FTS5. It is
// the ambient keyword-index capability named in SPEC_FULL.md — indexed
// alongside the vector tiers but never consulted by Fusion, exposed only
// through the keyword_search tool description.
type SQLiteBM25Store struct {
	db        *gorm.DB
	logger    *slog.Logger
	nextRowID int64
}

// NewSQLiteBM25Store creates a new SQLiteBM25Store, eagerly initializing
// the FTS5 table and row ID counter.
func NewSQLiteBM25Store(db *gorm.DB, logger *slog.Logger) (*SQLiteBM25Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SQLiteBM25Store{db: db, logger: logger}

	ctx := context.Background()
	if err := s.db.WithContext(ctx).Exec(sqliteCreateFTS5Table).Error; err != nil {
		return nil, errors.Join(ErrSQLiteBM25InitializationFailed, fmt.Errorf("create fts5 table: %w", err))
	}

	var maxRowID int64
	if err := s.db.WithContext(ctx).Raw(sqliteMaxRowIDQuery).Scan(&maxRowID).Error; err != nil {
		return nil, errors.Join(ErrSQLiteBM25InitializationFailed, fmt.Errorf("read max rowid: %w", err))
	}
	s.nextRowID = maxRowID + 1

	return s, nil
}

func (s *SQLiteBM25Store) existingUIDs(ctx context.Context, uids []string) (map[string]struct{}, error) {
	if len(uids) == 0 {
		return map[string]struct{}{}, nil
	}

	var found []string
	if err := s.db.WithContext(ctx).Raw(sqliteCheckExistingQuery, uids).Scan(&found).Error; err != nil {
		return nil, err
	}

	result := make(map[string]struct{}, len(found))
	for _, uid := range found {
		result[uid] = struct{}{}
	}
	return result, nil
}

// Index adds documents to the BM25 index, skipping uids already indexed.
func (s *SQLiteBM25Store) Index(ctx context.Context, request search.IndexRequest) error {
	documents := request.Documents()

	var valid []search.Document
	for _, doc := range documents {
		if doc.UID() != "" && doc.Text() != "" {
			valid = append(valid, doc)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	uids := make([]string, len(valid))
	for i, doc := range valid {
		uids[i] = doc.UID()
	}

	existing, err := s.existingUIDs(ctx, uids)
	if err != nil {
		return err
	}

	var toIndex []search.Document
	for _, doc := range valid {
		if _, exists := existing[doc.UID()]; !exists {
			toIndex = append(toIndex, doc)
		}
	}
	if len(toIndex) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, doc := range toIndex {
			rowID := s.nextRowID
			s.nextRowID++
			if err := tx.Exec(sqliteInsertQuery, rowID, doc.UID(), doc.Text()).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Search performs BM25 keyword search, ordering by relevance.
func (s *SQLiteBM25Store) Search(ctx context.Context, request search.BM25Request) ([]search.BM25Result, error) {
	query := request.QueryText()
	if query == "" {
		return []search.BM25Result{}, nil
	}

	limit := request.TopK()
	if limit <= 0 {
		limit = 10
	}

	ftsQuery := escapeFTS5Query(query)

	sqlRows, err := s.db.WithContext(ctx).
		Table("bm25_documents").
		Select("uid, bm25(bm25_documents) as score").
		Where("bm25_documents MATCH ?", ftsQuery).
		Order("score").
		Limit(limit).
		Rows()
	if err != nil {
		return nil, err
	}
	defer func() { _ = sqlRows.Close() }()

	var results []search.BM25Result
	for sqlRows.Next() {
		var uid string
		var score float64
		if err := sqlRows.Scan(&uid, &score); err != nil {
			return nil, err
		}
		// SQLite bm25() returns negative scores (lower/more negative is
		// better); negate so higher is better, matching the vector tiers.
		results = append(results, search.NewBM25Result(uid, -score))
	}
	if err := sqlRows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// Delete removes a document from the BM25 index.
func (s *SQLiteBM25Store) Delete(ctx context.Context, request search.BM25DeleteRequest) error {
	return s.db.WithContext(ctx).Exec(sqliteDeleteQuery, request.UID()).Error
}

// escapeFTS5Query wraps a query in double quotes so it is treated as a
// phrase, sidestepping FTS5's AND/OR/NOT/(/)/* operator syntax.
func escapeFTS5Query(query string) string {
	return "\"" + query + "\""
}

var _ search.BM25Store = (*SQLiteBM25Store)(nil)
