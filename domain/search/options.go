package search

import (
	"github.com/dmason-mlb/mlb-qbench/domain/filter"
	"github.com/dmason-mlb/mlb-qbench/domain/repository"
)

// WithUID filters by a single document uid.
func WithUID(uid string) repository.Option {
	return repository.WithCondition("uid", uid)
}

// WithUIDs filters by multiple document uids.
func WithUIDs(uids []string) repository.Option {
	return repository.WithConditionIn("uid", uids)
}

// WithEmbedding passes a pre-computed query vector through options.
func WithEmbedding(vector []float64) repository.Option {
	return repository.WithParam("embedding", vector)
}

// EmbeddingFrom extracts the query vector from a built query.
func EmbeddingFrom(q repository.Query) ([]float64, bool) {
	v, ok := q.Param("embedding")
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float64)
	return vec, ok
}

// WithTopK passes the requested result count through options.
func WithTopK(k int) repository.Option {
	return repository.WithParam("top_k", k)
}

// TopKFrom extracts the requested result count from a built query.
func TopKFrom(q repository.Query) (int, bool) {
	v, ok := q.Param("top_k")
	if !ok {
		return 0, false
	}
	k, ok := v.(int)
	return k, ok
}

// WithFilter passes a compiled filter through the option system, for
// handlers that want to re-check it in-memory against denormalised
// payload fields rather than relying solely on store push-down.
func WithFilter(f filter.Filter) repository.Option {
	return repository.WithParam("filter", f)
}

// FilterFrom extracts the compiled filter from a built query.
func FilterFrom(q repository.Query) (filter.Filter, bool) {
	v, ok := q.Param("filter")
	if !ok {
		return filter.Filter{}, false
	}
	f, ok := v.(filter.Filter)
	return f, ok
}

// UIDsFrom extracts uids from an "in" condition on a built query.
func UIDsFrom(q repository.Query) []string {
	for _, cond := range q.Conditions() {
		if cond.Field() == "uid" && cond.In() {
			if ids, ok := cond.Value().([]string); ok {
				return ids
			}
		}
	}
	return nil
}
