// Package search provides the retrieval domain types: requests, hits, and
// score fusion over the doc and step vector tiers.
package search

import "github.com/dmason-mlb/mlb-qbench/domain/filter"

// Scope restricts a search to one or both vector tiers.
type Scope string

// Scope values.
const (
	ScopeDocs  Scope = "docs"
	ScopeSteps Scope = "steps"
	ScopeAll   Scope = "all"
)

// Request is a search_tests query.
type Request struct {
	queryText string
	topK      int
	filter    filter.Filter
	scope     Scope
}

// NewRequest creates a search Request, defaulting an empty scope to ScopeAll.
func NewRequest(queryText string, topK int, f filter.Filter, scope Scope) Request {
	if scope == "" {
		scope = ScopeAll
	}
	return Request{queryText: queryText, topK: topK, filter: f, scope: scope}
}

// QueryText returns the natural-language query.
func (r Request) QueryText() string { return r.queryText }

// TopK returns the requested result count.
func (r Request) TopK() int { return r.topK }

// Filter returns the compiled filter.
func (r Request) Filter() filter.Filter { return r.filter }

// Scope returns the requested tier scope.
func (r Request) Scope() Scope { return r.scope }

// IncludeDocs reports whether the doc tier should be searched.
func (r Request) IncludeDocs() bool { return r.scope == ScopeDocs || r.scope == ScopeAll }

// IncludeSteps reports whether the step tier should be searched.
func (r Request) IncludeSteps() bool { return r.scope == ScopeSteps || r.scope == ScopeAll }

// SimilarRequest is a find_similar_tests query, referencing a stored doc by
// uid rather than supplying fresh query text.
type SimilarRequest struct {
	referenceUID string
	topK         int
	scope        Scope
}

// NewSimilarRequest creates a SimilarRequest, defaulting an empty scope to ScopeAll.
func NewSimilarRequest(referenceUID string, topK int, scope Scope) SimilarRequest {
	if scope == "" {
		scope = ScopeAll
	}
	return SimilarRequest{referenceUID: referenceUID, topK: topK, scope: scope}
}

// ReferenceUID returns the doc to find similar tests to.
func (r SimilarRequest) ReferenceUID() string { return r.referenceUID }

// TopK returns the requested result count.
func (r SimilarRequest) TopK() int { return r.topK }

// Scope returns the requested tier scope.
func (r SimilarRequest) Scope() Scope { return r.scope }
