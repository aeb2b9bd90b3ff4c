package search

import (
	"context"

	"github.com/dmason-mlb/mlb-qbench/domain/testdoc"
)

// DocumentStore persists and fetches the full canonical TestDoc payload
// (title, summary, steps, provenance) — distinct from DocEmbeddingStore,
// which only carries the vector plus the denormalised subset of fields
// needed for filter push-down. The retrieval engine (C6) hydrates search
// hits from this store; the ingestion pipeline (C4) writes to it inside
// the same per-uid critical section as the vector upserts.
type DocumentStore interface {
	// SaveDoc upserts the full document, keyed by uid.
	SaveDoc(ctx context.Context, doc testdoc.TestDoc) error

	// FetchDocByUID fetches one document by uid.
	FetchDocByUID(ctx context.Context, uid string) (testdoc.TestDoc, bool, error)

	// FetchDocsByUIDs batch-fetches documents for hydration, order not
	// guaranteed to match uids.
	FetchDocsByUIDs(ctx context.Context, uids []string) ([]testdoc.TestDoc, error)

	// FetchDocsByExternalKey fetches all documents sharing an external
	// key, bounded by an adapter-side limit (spec.md §4.6.3).
	FetchDocsByExternalKey(ctx context.Context, externalKey string) ([]testdoc.TestDoc, error)

	// DeleteDocByUID removes a document, returning the count deleted.
	DeleteDocByUID(ctx context.Context, uid string) (int64, error)

	// CountDocs returns the number of stored documents.
	CountDocs(ctx context.Context) (int64, error)
}
