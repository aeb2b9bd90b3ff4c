package persistence

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/dmason-mlb/mlb-qbench/domain/filter"
	"github.com/dmason-mlb/mlb-qbench/domain/repository"
	"github.com/dmason-mlb/mlb-qbench/domain/search"
	"github.com/dmason-mlb/mlb-qbench/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQL statements specific to pgvector (extension, dynamic-dimension table,
// index, catalog dimension check).
const (
	pgvCreateExtension = `CREATE EXTENSION IF NOT EXISTS vector`

	pgvCreateIndexTemplate = `
CREATE INDEX IF NOT EXISTS %s_idx
ON %s
USING ivfflat (vector vector_cosine_ops)
WITH (lists = 100)`

	pgvCheckDimensionTemplate = `
SELECT a.atttypmod - 4 as dimension
FROM pg_attribute a
JOIN pg_class c ON a.attrelid = c.oid
WHERE c.relname = '%s'
AND a.attname = 'vector'`
)

// ErrPgvectorInitializationFailed indicates pgvector initialization failed.
var ErrPgvectorInitializationFailed = errors.New("failed to initialize pgvector store")

// ErrDimensionMismatch indicates the configured embedding dimension does
// not match the dimension already stored in an existing vector column —
// per SPEC_FULL.md §9's Open Question resolution, dimension changes are
// not migrated in place; callers must point at a fresh table/store.
var ErrDimensionMismatch = errors.New("embedding dimension does not match existing store dimension")

// pgDocRow is the GORM model for doc-tier vectors in PostgreSQL, using the
// pgvector extension's native vector type. The denormalised filterable
// payload fields reuse the same StringSet encoding as the
// SQLite dialect, since Postgres-native array columns would need a second
// driver (lib/pq) alongside the pgx-based gorm.io/driver/postgres already
// in use, for no benefit beyond what SQL pushdown already covers here.
type pgDocRow struct {
	UID         string            `gorm:"column:uid;primaryKey"`
	Vector      database.PgVector `gorm:"column:vector;type:vector"`
	Tags        StringSet         `gorm:"column:tags"`
	Platforms   StringSet         `gorm:"column:platforms"`
	RelatedKeys StringSet         `gorm:"column:related_keys"`
	FolderPath  StringSet         `gorm:"column:folder_path"`
	Priority    string            `gorm:"column:priority;index"`
	TestType    string            `gorm:"column:test_type;index"`
	ExternalKey string            `gorm:"column:external_key;index"`
}

// TableName overrides GORM's pluralized default, used by ValidateSchema.
func (pgDocRow) TableName() string { return "doc_vectors" }

// pgStepRow is the GORM model for step-tier vectors in PostgreSQL.
type pgStepRow struct {
	ParentUID   string            `gorm:"column:parent_uid;primaryKey"`
	Index       int               `gorm:"column:step_index;primaryKey"`
	Vector      database.PgVector `gorm:"column:vector;type:vector"`
	Tags        StringSet         `gorm:"column:tags"`
	Platforms   StringSet         `gorm:"column:platforms"`
	RelatedKeys StringSet         `gorm:"column:related_keys"`
	FolderPath  StringSet         `gorm:"column:folder_path"`
	Priority    string            `gorm:"column:priority;index"`
	TestType    string            `gorm:"column:test_type;index"`
	ExternalKey string            `gorm:"column:external_key;index"`
}

// TableName overrides GORM's pluralized default, used by ValidateSchema.
func (pgStepRow) TableName() string { return "step_vectors" }

func pgDocRowFromRecord(r search.DocRecord) pgDocRow {
	return pgDocRow{
		UID:         r.UID,
		Vector:      database.NewPgVector(r.Vector),
		Tags:        StringSet(r.Tags),
		Platforms:   StringSet(r.Platforms),
		RelatedKeys: StringSet(r.RelatedKeys),
		FolderPath:  StringSet(r.FolderPath),
		Priority:    r.Priority,
		TestType:    r.TestType,
		ExternalKey: r.ExternalKey,
	}
}

func (r pgDocRow) matches(f filter.Filter) bool {
	return f.Matches([]string(r.Tags), []string(r.Platforms), []string(r.RelatedKeys), []string(r.FolderPath), r.Priority, r.TestType, r.ExternalKey)
}

func pgStepRowFromRecord(r search.StepRecord) pgStepRow {
	return pgStepRow{
		ParentUID:   r.ParentUID,
		Index:       r.Index,
		Vector:      database.NewPgVector(r.Vector),
		Tags:        StringSet(r.Tags),
		Platforms:   StringSet(r.Platforms),
		RelatedKeys: StringSet(r.RelatedKeys),
		FolderPath:  StringSet(r.FolderPath),
		Priority:    r.Priority,
		TestType:    r.TestType,
		ExternalKey: r.ExternalKey,
	}
}

func (r pgStepRow) matches(f filter.Filter) bool {
	return f.Matches([]string(r.Tags), []string(r.Platforms), []string(r.RelatedKeys), []string(r.FolderPath), r.Priority, r.TestType, r.ExternalKey)
}

// createVectorTable creates tableName with a fixed-dimension vector column.
// Dimension is dynamic per deployment (depends on the configured embedding
// model), so the table cannot be declared through a static GORM struct tag
// and is created with raw SQL instead, mirroring the teacher's approach.
func createVectorTable(rawDB *gorm.DB, tableName, pkClause string, dimension int) error {
	createTableSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    uid VARCHAR(512),
    parent_uid VARCHAR(512),
    step_index INTEGER,
    vector VECTOR(%d) NOT NULL,
    tags TEXT,
    platforms TEXT,
    related_keys TEXT,
    folder_path TEXT,
    priority VARCHAR(32),
    test_type VARCHAR(64),
    external_key VARCHAR(512),
    %s
)`, tableName, dimension, pkClause)
	if err := rawDB.Exec(createTableSQL).Error; err != nil {
		return fmt.Errorf("create table %s: %w", tableName, err)
	}

	indexSQL := fmt.Sprintf(pgvCreateIndexTemplate, tableName, tableName)
	if err := rawDB.Exec(indexSQL).Error; err != nil {
		return fmt.Errorf("create index on %s: %w", tableName, err)
	}
	return nil
}

// checkDimension verifies the table's existing vector column dimension
// matches dimension, returning ErrDimensionMismatch otherwise.
func checkDimension(rawDB *gorm.DB, tableName string, dimension int) error {
	var dbDimension int
	checkSQL := fmt.Sprintf(pgvCheckDimensionTemplate, tableName)
	result := rawDB.Raw(checkSQL).Scan(&dbDimension)
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return fmt.Errorf("check dimension: %w", result.Error)
	}
	if result.RowsAffected > 0 && dbDimension > 0 && dbDimension != dimension {
		return fmt.Errorf("%w: table %s has %d, configured provider has %d", ErrDimensionMismatch, tableName, dbDimension, dimension)
	}
	return nil
}

// pgPushdownFilter applies the cheap, directly indexable equality filters
// to a GORM session, leaving the set/prefix/glob filters for the in-memory
// Matches re-check after vector ranking — identical split to the SQLite
// dialect's pushdownFilter.
func pgPushdownFilter(db *gorm.DB, f filter.Filter) *gorm.DB {
	if f.Priority != "" {
		db = db.Where("priority = ?", f.Priority)
	}
	if f.TestType != "" {
		db = db.Where("test_type = ?", f.TestType)
	}
	return db
}

// PgvectorDocStore implements search.DocEmbeddingStore using the pgvector
// extension.
type PgvectorDocStore struct {
	db        database.Database
	tableName string
}

// NewPgvectorDocStore creates a new PgvectorDocStore, eagerly initializing
// the extension, table, index, and verifying the stored dimension.
func NewPgvectorDocStore(ctx context.Context, db database.Database, dimension int) (*PgvectorDocStore, error) {
	tableName := "doc_vectors"
	rawDB := db.Session(ctx)

	if err := rawDB.Exec(pgvCreateExtension).Error; err != nil {
		return nil, errors.Join(ErrPgvectorInitializationFailed, fmt.Errorf("create extension: %w", err))
	}
	if err := createVectorTable(rawDB, tableName, "PRIMARY KEY (uid)", dimension); err != nil {
		return nil, errors.Join(ErrPgvectorInitializationFailed, err)
	}
	if err := checkDimension(rawDB, tableName, dimension); err != nil {
		return nil, err
	}

	return &PgvectorDocStore{db: db, tableName: tableName}, nil
}

// UpsertDocs persists pre-computed doc vectors, upserting on uid.
func (s *PgvectorDocStore) UpsertDocs(ctx context.Context, docs []search.DocRecord) error {
	if len(docs) == 0 {
		return nil
	}
	gdb := s.db.Session(ctx)
	return gdb.Transaction(func(tx *gorm.DB) error {
		for _, rec := range docs {
			model := pgDocRowFromRecord(rec)
			err := tx.Table(s.tableName).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "uid"}},
				UpdateAll: true,
			}).Create(&model).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteDocByUID removes the doc vector, returning the count deleted.
func (s *PgvectorDocStore) DeleteDocByUID(ctx context.Context, uid string) (int64, error) {
	result := s.db.Session(ctx).Table(s.tableName).Where("uid = ?", uid).Delete(&pgDocRow{})
	return result.RowsAffected, result.Error
}

// overfetchMultiplier governs how many SQL-ranked candidates beyond k are
// pulled before the in-memory filter re-check. It is a fixed factor,
// independent of the configurable OVERFETCH setting (which widens the
// step-tier k in the retrieval service).
const overfetchMultiplier = 4

// probeCount returns the number of ivfflat probes for a given row count.
// The index is built with lists = 100 (pgvCreateIndexTemplate), and probes
// scales as sqrt(lists-equivalent) with a floor of 10, so recall stays
// reasonable as the table grows past the index's tuning point.
func probeCount(rows int64) int {
	lists := max(rows/10, 1)
	return max(int(math.Sqrt(float64(lists))), 10)
}

// setProbes tunes ivfflat.probes for the remainder of the current
// transaction/session based on the table's current row count. Ignored on
// error since a missing ivfflat index (e.g. an empty table) just falls
// back to the server default.
func setProbes(tx *gorm.DB, rows int64) {
	tx.Exec(fmt.Sprintf("SET LOCAL ivfflat.probes = %d", probeCount(rows)))
}

// pgDocScoredRow is pgDocRow plus the pgvector distance computed by the
// ranking query.
type pgDocScoredRow struct {
	pgDocRow
	Score float64 `gorm:"column:score"`
}

// KnnDocs performs filtered approximate nearest-neighbour search using the
// pgvector `<=>` cosine-distance operator. Cheap equality filters push down
// into SQL; overfetching by overfetchMultiplier (when any filter field is
// set) keeps enough SQL-ranked candidates for the in-memory
// Filter.Matches re-check to still return k hits.
func (s *PgvectorDocStore) KnnDocs(ctx context.Context, vector []float64, k int, opts ...repository.Option) ([]search.DocHit, error) {
	if k <= 0 || len(vector) == 0 {
		return nil, nil
	}

	q := repository.Build(opts...)
	f, _ := search.FilterFrom(q)
	queryVector := database.NewPgVector(vector).String()

	fetchLimit := k
	if !f.IsEmpty() {
		fetchLimit = k * overfetchMultiplier
	}

	var rows []pgDocScoredRow
	err := s.db.Session(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Table(s.tableName).Count(&count).Error; err != nil {
			return err
		}
		setProbes(tx, count)

		return pgPushdownFilter(tx, f).
			Table(s.tableName).
			Select("*, vector <=> ? as score", queryVector).
			Order("score ASC").
			Limit(fetchLimit).
			Scan(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	hits := make([]search.DocHit, 0, k)
	for _, row := range rows {
		if !f.IsEmpty() && !row.matches(f) {
			continue
		}
		hits = append(hits, search.NewDocHit(row.UID, 1.0-row.Score/2.0))
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// FetchVectorByUID fetches a single doc's stored vector, for "find similar".
func (s *PgvectorDocStore) FetchVectorByUID(ctx context.Context, uid string) ([]float64, bool, error) {
	var row pgDocRow
	err := s.db.Session(ctx).Table(s.tableName).Where("uid = ?", uid).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return row.Vector.Floats(), true, nil
}

// Count returns the number of stored doc vectors.
func (s *PgvectorDocStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.Session(ctx).Table(s.tableName).Count(&n).Error
	return n, err
}

// PgvectorStepStore implements search.StepEmbeddingStore using the
// pgvector extension.
type PgvectorStepStore struct {
	db        database.Database
	tableName string
}

// NewPgvectorStepStore creates a new PgvectorStepStore, eagerly initializing
// the extension, table, index, and verifying the stored dimension.
func NewPgvectorStepStore(ctx context.Context, db database.Database, dimension int) (*PgvectorStepStore, error) {
	tableName := "step_vectors"
	rawDB := db.Session(ctx)

	if err := rawDB.Exec(pgvCreateExtension).Error; err != nil {
		return nil, errors.Join(ErrPgvectorInitializationFailed, fmt.Errorf("create extension: %w", err))
	}
	if err := createVectorTable(rawDB, tableName, "PRIMARY KEY (parent_uid, step_index)", dimension); err != nil {
		return nil, errors.Join(ErrPgvectorInitializationFailed, err)
	}
	if err := checkDimension(rawDB, tableName, dimension); err != nil {
		return nil, err
	}

	return &PgvectorStepStore{db: db, tableName: tableName}, nil
}

// UpsertSteps persists pre-computed step vectors, upserting on
// (parent_uid, index).
func (s *PgvectorStepStore) UpsertSteps(ctx context.Context, steps []search.StepRecord) error {
	if len(steps) == 0 {
		return nil
	}
	gdb := s.db.Session(ctx)
	return gdb.Transaction(func(tx *gorm.DB) error {
		for _, rec := range steps {
			model := pgStepRowFromRecord(rec)
			err := tx.Table(s.tableName).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "parent_uid"}, {Name: "step_index"}},
				UpdateAll: true,
			}).Create(&model).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteStepsByParent removes all steps for a doc, returning the count
// deleted. Safe to call when no steps exist.
func (s *PgvectorStepStore) DeleteStepsByParent(ctx context.Context, uid string) (int64, error) {
	result := s.db.Session(ctx).Table(s.tableName).Where("parent_uid = ?", uid).Delete(&pgStepRow{})
	return result.RowsAffected, result.Error
}

// pgStepScoredRow is pgStepRow plus the pgvector distance computed by the
// ranking query.
type pgStepScoredRow struct {
	pgStepRow
	Score float64 `gorm:"column:score"`
}

// KnnSteps performs filtered approximate nearest-neighbour search, mirroring
// KnnDocs's overfetch-then-recheck strategy.
func (s *PgvectorStepStore) KnnSteps(ctx context.Context, vector []float64, k int, opts ...repository.Option) ([]search.StepHit, error) {
	if k <= 0 || len(vector) == 0 {
		return nil, nil
	}

	q := repository.Build(opts...)
	f, _ := search.FilterFrom(q)
	queryVector := database.NewPgVector(vector).String()

	fetchLimit := k
	if !f.IsEmpty() {
		fetchLimit = k * overfetchMultiplier
	}

	var rows []pgStepScoredRow
	err := s.db.Session(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Table(s.tableName).Count(&count).Error; err != nil {
			return err
		}
		setProbes(tx, count)

		return pgPushdownFilter(tx, f).
			Table(s.tableName).
			Select("*, vector <=> ? as score", queryVector).
			Order("score ASC").
			Limit(fetchLimit).
			Scan(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	hits := make([]search.StepHit, 0, k)
	for _, row := range rows {
		if !f.IsEmpty() && !row.matches(f) {
			continue
		}
		hits = append(hits, search.NewStepHit(row.ParentUID, row.Index, 1.0-row.Score/2.0))
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Count returns the number of stored step vectors.
func (s *PgvectorStepStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.Session(ctx).Table(s.tableName).Count(&n).Error
	return n, err
}

var (
	_ search.DocEmbeddingStore  = (*PgvectorDocStore)(nil)
	_ search.StepEmbeddingStore = (*PgvectorStepStore)(nil)
)
