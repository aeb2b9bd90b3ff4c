package service

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dmason-mlb/mlb-qbench/domain/filter"
	"github.com/dmason-mlb/mlb-qbench/domain/qerr"
	"github.com/dmason-mlb/mlb-qbench/domain/repository"
	"github.com/dmason-mlb/mlb-qbench/domain/search"
	"github.com/dmason-mlb/mlb-qbench/domain/testdoc"
)

// Retrieval defaults and safety limits (spec.md §4.6.1, §4.6.5).
const (
	DefaultTopK      = 20
	MaxTopK          = 100
	DefaultOverfetch = 3
	MaxFanoutK       = 1000
	MaxQueryChars    = 8 * 1024
)

// SearchHit is one hydrated, ranked result: a fused score plus the full
// document payload and the step indices that contributed to the match.
type SearchHit struct {
	UID                string
	Score              float64
	MatchedStepIndices []int
	Doc                testdoc.TestDoc
}

// SearchResult is the outcome of a search_tests/find_similar_tests call.
// Warning carries a soft-failure message when one fan-out branch failed
// but the other succeeded (spec.md §4.6.5, KindPartialResult).
type SearchResult struct {
	Hits    []SearchHit
	Warning string
}

// RetrievalService implements the retrieval engine (C6): query embedding,
// filter compilation, concurrent doc/step kNN fan-out, fusion, and
// hydration.
type RetrievalService struct {
	docStore      search.DocEmbeddingStore
	stepStore     search.StepEmbeddingStore
	documentStore search.DocumentStore
	embedder      search.Embedder
	fusion        search.Fusion
	overfetch     int
}

// NewRetrievalService creates a RetrievalService. overfetch <= 0 falls
// back to DefaultOverfetch.
func NewRetrievalService(
	docStore search.DocEmbeddingStore,
	stepStore search.StepEmbeddingStore,
	documentStore search.DocumentStore,
	embedder search.Embedder,
	fusion search.Fusion,
	overfetch int,
) *RetrievalService {
	if overfetch <= 0 {
		overfetch = DefaultOverfetch
	}
	return &RetrievalService{
		docStore:      docStore,
		stepStore:     stepStore,
		documentStore: documentStore,
		embedder:      embedder,
		fusion:        fusion,
		overfetch:     overfetch,
	}
}

// fanout holds the two concurrently-fetched kNN branches plus whichever
// errors they produced, so a single branch's failure doesn't discard the
// other (spec.md §4.6.5: "on partial failure ... return the other
// branch's results and a soft-warning field").
type fanout struct {
	docHits  []search.DocHit
	stepHits []search.StepHit
	docErr   error
	stepErr  error
}

// runFanout executes the doc/step kNN calls concurrently via
// golang.org/x/sync/errgroup, used purely as a structured wait group here:
// each branch's error is captured locally rather than propagated through
// the group, so one branch failing never cancels or discards the other.
func (s *RetrievalService) runFanout(ctx context.Context, qvec []float64, topK int, scope search.Scope, opts []repository.Option, excludeUID string) fanout {
	var out fanout
	var eg errgroup.Group

	if scope == search.ScopeDocs || scope == search.ScopeAll {
		eg.Go(func() error {
			hits, err := s.docStore.KnnDocs(ctx, qvec, topK, opts...)
			if err != nil {
				out.docErr = err
				return nil
			}
			out.docHits = excludeDoc(hits, excludeUID)
			return nil
		})
	}

	if scope == search.ScopeSteps || scope == search.ScopeAll {
		kStep := min(topK*s.overfetch, MaxFanoutK)
		eg.Go(func() error {
			hits, err := s.stepStore.KnnSteps(ctx, qvec, kStep, opts...)
			if err != nil {
				out.stepErr = err
				return nil
			}
			out.stepHits = excludeStep(hits, excludeUID)
			return nil
		})
	}

	_ = eg.Wait()
	return out
}

func excludeDoc(hits []search.DocHit, uid string) []search.DocHit {
	if uid == "" {
		return hits
	}
	out := hits[:0:0]
	for _, h := range hits {
		if h.UID() != uid {
			out = append(out, h)
		}
	}
	return out
}

func excludeStep(hits []search.StepHit, uid string) []search.StepHit {
	if uid == "" {
		return hits
	}
	out := hits[:0:0]
	for _, h := range hits {
		if h.ParentUID() != uid {
			out = append(out, h)
		}
	}
	return out
}

// search is the shared core of §4.6.1 steps 3-8, used by both Search and
// FindSimilar (which differ only in how qvec and excludeUID are obtained).
func (s *RetrievalService) search(ctx context.Context, qvec []float64, topK int, scope search.Scope, opts []repository.Option, excludeUID string) (SearchResult, error) {
	out := s.runFanout(ctx, qvec, topK, scope, opts, excludeUID)

	if out.docErr != nil && out.stepErr != nil {
		return SearchResult{}, qerr.Wrap(qerr.KindTransient, "both doc and step fan-out failed", out.docErr)
	}
	if out.docErr != nil && scope == search.ScopeDocs {
		return SearchResult{}, qerr.Wrap(qerr.KindTransient, "doc fan-out failed", out.docErr)
	}
	if out.stepErr != nil && scope == search.ScopeSteps {
		return SearchResult{}, qerr.Wrap(qerr.KindTransient, "step fan-out failed", out.stepErr)
	}

	effectiveScope := scope
	var warning string
	if out.docErr != nil {
		effectiveScope = search.ScopeSteps
		warning = "doc-tier search failed, showing step-tier results only: " + out.docErr.Error()
	} else if out.stepErr != nil {
		effectiveScope = search.ScopeDocs
		warning = "step-tier search failed, showing doc-tier results only: " + out.stepErr.Error()
	}

	fused := s.fusion.Fuse(out.docHits, out.stepHits, effectiveScope)
	fused = search.Truncate(fused, topK)

	uids := make([]string, len(fused))
	for i, h := range fused {
		uids[i] = h.UID()
	}
	docs, err := s.documentStore.FetchDocsByUIDs(ctx, uids)
	if err != nil {
		return SearchResult{}, qerr.Wrap(qerr.KindTransient, "hydrate docs", err)
	}
	byUID := make(map[string]testdoc.TestDoc, len(docs))
	for _, d := range docs {
		byUID[d.UID()] = d
	}

	hits := make([]SearchHit, 0, len(fused))
	for _, h := range fused {
		doc, ok := byUID[h.UID()]
		if !ok {
			continue
		}
		hits = append(hits, SearchHit{
			UID:                h.UID(),
			Score:              h.Score(),
			MatchedStepIndices: h.MatchedStepIndices(),
			Doc:                doc,
		})
	}

	return SearchResult{Hits: hits, Warning: warning}, nil
}

// Search runs a single-query semantic search (spec.md §4.6.1).
func (s *RetrievalService) Search(ctx context.Context, queryText string, topK int, rawFilter map[string]any, scope search.Scope) (SearchResult, error) {
	queryText = strings.TrimSpace(queryText)
	if queryText == "" {
		return SearchResult{}, qerr.InvalidInput("query_text must not be empty")
	}
	if len(queryText) > MaxQueryChars {
		return SearchResult{}, qerr.InvalidInput("query_text exceeds maximum length")
	}

	topK, err := normaliseTopK(topK)
	if err != nil {
		return SearchResult{}, err
	}
	if scope == "" {
		scope = search.ScopeAll
	}

	f, opts, err := filter.Compile(rawFilter)
	if err != nil {
		return SearchResult{}, err
	}
	opts = append(opts, search.WithFilter(f))

	vectors, err := s.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return SearchResult{}, qerr.Wrap(qerr.KindTransient, "embed query", err)
	}
	if len(vectors) == 0 {
		return SearchResult{}, qerr.Internal("embedder returned no vector", nil)
	}

	return s.search(ctx, vectors[0], topK, scope, opts, "")
}

// FindSimilar runs "find similar to test X" (spec.md §4.6.2): the
// reference doc's own stored vector is reused as the query vector, and
// the reference itself is excluded from results.
func (s *RetrievalService) FindSimilar(ctx context.Context, referenceUID string, topK int, scope search.Scope) (SearchResult, error) {
	referenceUID = strings.TrimSpace(referenceUID)
	if referenceUID == "" {
		return SearchResult{}, qerr.InvalidInput("reference uid must not be empty")
	}
	topK, err := normaliseTopK(topK)
	if err != nil {
		return SearchResult{}, err
	}
	if scope == "" {
		scope = search.ScopeAll
	}

	vector, ok, err := s.docStore.FetchVectorByUID(ctx, referenceUID)
	if err != nil {
		return SearchResult{}, qerr.Wrap(qerr.KindTransient, "fetch reference vector", err)
	}
	if !ok {
		return SearchResult{}, qerr.NotFound("reference uid not found: " + referenceUID)
	}

	return s.search(ctx, vector, topK, scope, nil, referenceUID)
}

// GetByKey performs the direct lookup by external key (spec.md §4.6.3).
func (s *RetrievalService) GetByKey(ctx context.Context, externalKey string) (testdoc.TestDoc, error) {
	externalKey = strings.TrimSpace(externalKey)
	if externalKey == "" {
		return testdoc.TestDoc{}, qerr.InvalidInput("external_key must not be empty")
	}

	docs, err := s.documentStore.FetchDocsByExternalKey(ctx, externalKey)
	if err != nil {
		return testdoc.TestDoc{}, qerr.Wrap(qerr.KindTransient, "fetch by external key", err)
	}
	switch len(docs) {
	case 0:
		return testdoc.TestDoc{}, qerr.NotFound("no test found for external_key " + externalKey)
	case 1:
		return docs[0], nil
	default:
		return testdoc.TestDoc{}, qerr.Conflict("ambiguous external_key, multiple tests match " + externalKey)
	}
}

func normaliseTopK(topK int) (int, error) {
	if topK == 0 {
		return DefaultTopK, nil
	}
	if topK < 1 || topK > MaxTopK {
		return 0, qerr.InvalidInput("top_k must be between 1 and 100")
	}
	return topK, nil
}
