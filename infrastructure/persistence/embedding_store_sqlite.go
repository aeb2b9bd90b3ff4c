package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dmason-mlb/mlb-qbench/domain/filter"
	"github.com/dmason-mlb/mlb-qbench/domain/repository"
	"github.com/dmason-mlb/mlb-qbench/domain/search"
	"github.com/dmason-mlb/mlb-qbench/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLiteDocModel is the GORM model for doc-tier vectors in SQLite. The
// vector and the denormalised set-valued payload fields are stored as
// JSON and StringSet-encoded text rather than a native array type, since SQLite has
// neither pgvector nor a first-class array column.
type SQLiteDocModel struct {
	UID         string       `gorm:"column:uid;primaryKey"`
	Vector      Float64Slice `gorm:"column:vector;type:json"`
	Tags        StringSet    `gorm:"column:tags"`
	Platforms   StringSet    `gorm:"column:platforms"`
	RelatedKeys StringSet    `gorm:"column:related_keys"`
	FolderPath  StringSet    `gorm:"column:folder_path"`
	Priority    string       `gorm:"column:priority;index"`
	TestType    string       `gorm:"column:test_type;index"`
	ExternalKey string       `gorm:"column:external_key;index"`
}

// TableName overrides GORM's pluralized default.
func (SQLiteDocModel) TableName() string { return "doc_vectors" }

// SQLiteStepModel is the GORM model for step-tier vectors in SQLite.
type SQLiteStepModel struct {
	ParentUID   string       `gorm:"column:parent_uid;primaryKey"`
	Index       int          `gorm:"column:step_index;primaryKey"`
	Vector      Float64Slice `gorm:"column:vector;type:json"`
	Tags        StringSet    `gorm:"column:tags"`
	Platforms   StringSet    `gorm:"column:platforms"`
	RelatedKeys StringSet    `gorm:"column:related_keys"`
	FolderPath  StringSet    `gorm:"column:folder_path"`
	Priority    string       `gorm:"column:priority;index"`
	TestType    string       `gorm:"column:test_type;index"`
	ExternalKey string       `gorm:"column:external_key;index"`
}

// TableName overrides GORM's pluralized default.
func (SQLiteStepModel) TableName() string { return "step_vectors" }

func docModelFromRecord(r search.DocRecord) SQLiteDocModel {
	return SQLiteDocModel{
		UID:         r.UID,
		Vector:      Float64Slice(r.Vector),
		Tags:        StringSet(r.Tags),
		Platforms:   StringSet(r.Platforms),
		RelatedKeys: StringSet(r.RelatedKeys),
		FolderPath:  StringSet(r.FolderPath),
		Priority:    r.Priority,
		TestType:    r.TestType,
		ExternalKey: r.ExternalKey,
	}
}

func (m SQLiteDocModel) matches(f filter.Filter) bool {
	return f.Matches([]string(m.Tags), []string(m.Platforms), []string(m.RelatedKeys), []string(m.FolderPath), m.Priority, m.TestType, m.ExternalKey)
}

func stepModelFromRecord(r search.StepRecord) SQLiteStepModel {
	return SQLiteStepModel{
		ParentUID:   r.ParentUID,
		Index:       r.Index,
		Vector:      Float64Slice(r.Vector),
		Tags:        StringSet(r.Tags),
		Platforms:   StringSet(r.Platforms),
		RelatedKeys: StringSet(r.RelatedKeys),
		FolderPath:  StringSet(r.FolderPath),
		Priority:    r.Priority,
		TestType:    r.TestType,
		ExternalKey: r.ExternalKey,
	}
}

func (m SQLiteStepModel) matches(f filter.Filter) bool {
	return f.Matches([]string(m.Tags), []string(m.Platforms), []string(m.RelatedKeys), []string(m.FolderPath), m.Priority, m.TestType, m.ExternalKey)
}

// pushdownFilter applies the cheap, directly indexable equality filters to
// a GORM session, leaving the set/prefix/glob filters for the in-memory
// Matches re-check after vector ranking.
func pushdownFilter(db *gorm.DB, f filter.Filter) *gorm.DB {
	if f.Priority != "" {
		db = db.Where("priority = ?", f.Priority)
	}
	if f.TestType != "" {
		db = db.Where("test_type = ?", f.TestType)
	}
	return db
}

// SQLiteDocStore implements search.DocEmbeddingStore using SQLite, storing
// vectors as JSON and computing cosine similarity in Go.
type SQLiteDocStore struct {
	db database.Database
}

// NewSQLiteDocStore creates a new SQLiteDocStore, eagerly migrating its table.
func NewSQLiteDocStore(db database.Database) (*SQLiteDocStore, error) {
	if err := db.GORM().AutoMigrate(&SQLiteDocModel{}); err != nil {
		return nil, fmt.Errorf("migrate doc_vectors: %w", err)
	}
	return &SQLiteDocStore{db: db}, nil
}

// UpsertDocs persists pre-computed doc vectors, upserting on uid.
func (s *SQLiteDocStore) UpsertDocs(ctx context.Context, docs []search.DocRecord) error {
	if len(docs) == 0 {
		return nil
	}
	gdb := s.db.Session(ctx)
	return gdb.Transaction(func(tx *gorm.DB) error {
		for _, rec := range docs {
			model := docModelFromRecord(rec)
			err := tx.Clauses(clause.OnConflict{
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
func (s *SQLiteDocStore) DeleteDocByUID(ctx context.Context, uid string) (int64, error) {
	result := s.db.Session(ctx).Where("uid = ?", uid).Delete(&SQLiteDocModel{})
	return result.RowsAffected, result.Error
}

// KnnDocs performs filtered approximate nearest-neighbour search. SQLite has
// no native vector index, so this scans the stored vectors and ranks them
// by cosine similarity in Go, applying a cheap SQL pushdown for equality
// filters first and the remaining set/prefix/glob filter fields afterward.
func (s *SQLiteDocStore) KnnDocs(ctx context.Context, vector []float64, k int, opts ...repository.Option) ([]search.DocHit, error) {
	if k <= 0 || len(vector) == 0 {
		return nil, nil
	}

	q := repository.Build(opts...)
	f, _ := search.FilterFrom(q)

	var rows []SQLiteDocModel
	if err := pushdownFilter(s.db.Session(ctx), f).Find(&rows).Error; err != nil {
		return nil, err
	}

	type scoredDoc struct {
		uid   string
		score float64
	}
	scoredRows := make([]scoredDoc, 0, len(rows))
	for _, row := range rows {
		if !f.IsEmpty() && !row.matches(f) {
			continue
		}
		scoredRows = append(scoredRows, scoredDoc{uid: row.UID, score: CosineSimilarity(vector, []float64(row.Vector))})
	}

	sort.Slice(scoredRows, func(i, j int) bool { return scoredRows[i].score > scoredRows[j].score })
	if k < len(scoredRows) {
		scoredRows = scoredRows[:k]
	}

	hits := make([]search.DocHit, len(scoredRows))
	for i, r := range scoredRows {
		hits[i] = search.NewDocHit(r.uid, r.score)
	}
	return hits, nil
}

// FetchVectorByUID fetches a single doc's stored vector, for "find similar".
func (s *SQLiteDocStore) FetchVectorByUID(ctx context.Context, uid string) ([]float64, bool, error) {
	var row SQLiteDocModel
	err := s.db.Session(ctx).Where("uid = ?", uid).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []float64(row.Vector), true, nil
}

// Count returns the number of stored doc vectors.
func (s *SQLiteDocStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.Session(ctx).Model(&SQLiteDocModel{}).Count(&n).Error
	return n, err
}

// SQLiteStepStore implements search.StepEmbeddingStore using SQLite.
type SQLiteStepStore struct {
	db database.Database
}

// NewSQLiteStepStore creates a new SQLiteStepStore, eagerly migrating its table.
func NewSQLiteStepStore(db database.Database) (*SQLiteStepStore, error) {
	if err := db.GORM().AutoMigrate(&SQLiteStepModel{}); err != nil {
		return nil, fmt.Errorf("migrate step_vectors: %w", err)
	}
	return &SQLiteStepStore{db: db}, nil
}

// UpsertSteps persists pre-computed step vectors, upserting on
// (parent_uid, index).
func (s *SQLiteStepStore) UpsertSteps(ctx context.Context, steps []search.StepRecord) error {
	if len(steps) == 0 {
		return nil
	}
	gdb := s.db.Session(ctx)
	return gdb.Transaction(func(tx *gorm.DB) error {
		for _, rec := range steps {
			model := stepModelFromRecord(rec)
			err := tx.Clauses(clause.OnConflict{
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
func (s *SQLiteStepStore) DeleteStepsByParent(ctx context.Context, uid string) (int64, error) {
	result := s.db.Session(ctx).Where("parent_uid = ?", uid).Delete(&SQLiteStepModel{})
	return result.RowsAffected, result.Error
}

// KnnSteps performs filtered approximate nearest-neighbour search.
func (s *SQLiteStepStore) KnnSteps(ctx context.Context, vector []float64, k int, opts ...repository.Option) ([]search.StepHit, error) {
	if k <= 0 || len(vector) == 0 {
		return nil, nil
	}

	q := repository.Build(opts...)
	f, _ := search.FilterFrom(q)

	var rows []SQLiteStepModel
	if err := pushdownFilter(s.db.Session(ctx), f).Find(&rows).Error; err != nil {
		return nil, err
	}

	type scoredStep struct {
		parentUID string
		index     int
		score     float64
	}
	scoredRows := make([]scoredStep, 0, len(rows))
	for _, row := range rows {
		if !f.IsEmpty() && !row.matches(f) {
			continue
		}
		scoredRows = append(scoredRows, scoredStep{parentUID: row.ParentUID, index: row.Index, score: CosineSimilarity(vector, []float64(row.Vector))})
	}

	sort.Slice(scoredRows, func(i, j int) bool { return scoredRows[i].score > scoredRows[j].score })
	if k < len(scoredRows) {
		scoredRows = scoredRows[:k]
	}

	hits := make([]search.StepHit, len(scoredRows))
	for i, r := range scoredRows {
		hits[i] = search.NewStepHit(r.parentUID, r.index, r.score)
	}
	return hits, nil
}

// Count returns the number of stored step vectors.
func (s *SQLiteStepStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.Session(ctx).Model(&SQLiteStepModel{}).Count(&n).Error
	return n, err
}

var (
	_ search.DocEmbeddingStore  = (*SQLiteDocStore)(nil)
	_ search.StepEmbeddingStore = (*SQLiteStepStore)(nil)
)
