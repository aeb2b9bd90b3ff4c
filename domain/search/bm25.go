package search

import "context"

// BM25Request is a BM25 keyword search request, an auxiliary capability
// exposed only via the tool surface and never used for vector ranking
// fusion (Non-goal: "keyword/BM25 search as a primary ranking mode").
type BM25Request struct {
	queryText string
	topK      int
}

// NewBM25Request creates a BM25 search BM25Request.
func NewBM25Request(queryText string, topK int) BM25Request {
	return BM25Request{queryText: queryText, topK: topK}
}

// QueryText returns the keyword query.
func (r BM25Request) QueryText() string { return r.queryText }

// TopK returns the requested result count.
func (r BM25Request) TopK() int { return r.topK }

// BM25DeleteRequest removes a single document from the BM25 index by uid.
type BM25DeleteRequest struct {
	uid string
}

// NewBM25DeleteRequest creates a BM25DeleteRequest.
func NewBM25DeleteRequest(uid string) BM25DeleteRequest {
	return BM25DeleteRequest{uid: uid}
}

// UID returns the document to remove.
func (r BM25DeleteRequest) UID() string { return r.uid }

// BM25Result is a single BM25 keyword search hit.
type BM25Result struct {
	uid   string
	score float64
}

// NewBM25Result creates a BM25Result.
func NewBM25Result(uid string, score float64) BM25Result {
	return BM25Result{uid: uid, score: score}
}

// UID returns the matched document identifier.
func (r BM25Result) UID() string { return r.uid }

// Score returns the BM25 relevance score.
func (r BM25Result) Score() float64 { return r.score }

// BM25Store defines operations for the auxiliary BM25 full-text index. It
// is never consulted by Fusion; callers use it only for the keyword-search
// tool description, independent of the vector-tier ranking path.
type BM25Store interface {
	// Index adds documents to the BM25 index.
	Index(ctx context.Context, request IndexRequest) error

	// Search performs BM25 keyword search.
	Search(ctx context.Context, request BM25Request) ([]BM25Result, error)

	// Delete removes a document from the BM25 index.
	Delete(ctx context.Context, request BM25DeleteRequest) error
}
