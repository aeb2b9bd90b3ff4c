package search

import (
	"context"

	"github.com/dmason-mlb/mlb-qbench/domain/repository"
)

// DocRecord is a doc-tier vector with its denormalised filterable payload,
// as persisted by the DocEmbeddingStore.
type DocRecord struct {
	UID         string
	Vector      []float64
	Tags        []string
	Platforms   []string
	RelatedKeys []string
	FolderPath  []string
	Priority    string
	TestType    string
	ExternalKey string
}

// StepRecord is a step-tier vector carrying the same denormalised payload
// fields copied from its parent, so filters push down identically on both
// tiers.
type StepRecord struct {
	ParentUID string
	Index     int
	Vector    []float64
	DocRecord
}

// DocEmbeddingStore is the doc-tier vector persistence contract.
type DocEmbeddingStore interface {
	// UpsertDocs persists pre-computed doc vectors, upserting on uid.
	UpsertDocs(ctx context.Context, docs []DocRecord) error

	// DeleteDocByUID removes the doc vector, returning the count deleted.
	DeleteDocByUID(ctx context.Context, uid string) (int64, error)

	// KnnDocs performs filtered approximate nearest-neighbour search.
	KnnDocs(ctx context.Context, vector []float64, k int, opts ...repository.Option) ([]DocHit, error)

	// FetchVectorByUID fetches a single doc's stored vector, for "find similar".
	FetchVectorByUID(ctx context.Context, uid string) ([]float64, bool, error)

	// Count returns the number of stored doc vectors.
	Count(ctx context.Context) (int64, error)
}

// StepEmbeddingStore is the step-tier vector persistence contract.
type StepEmbeddingStore interface {
	// UpsertSteps persists pre-computed step vectors, upserting on
	// (parent_uid, index).
	UpsertSteps(ctx context.Context, steps []StepRecord) error

	// DeleteStepsByParent removes all steps for a doc, returning the count
	// deleted. Safe to call when no steps exist.
	DeleteStepsByParent(ctx context.Context, uid string) (int64, error)

	// KnnSteps performs filtered approximate nearest-neighbour search.
	KnnSteps(ctx context.Context, vector []float64, k int, opts ...repository.Option) ([]StepHit, error)

	// Count returns the number of stored step vectors.
	Count(ctx context.Context) (int64, error)
}
