// Package v1 implements the HTTP surface for the test-retrieval tool set,
// mirroring the MCP tools one-for-one (search_tests, find_similar_tests,
// get_test_by_key, ingest_tests, check_health).
package v1

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmason-mlb/mlb-qbench"
	"github.com/dmason-mlb/mlb-qbench/domain/search"
	"github.com/dmason-mlb/mlb-qbench/infrastructure/api/jsonapi"
	"github.com/dmason-mlb/mlb-qbench/infrastructure/api/middleware"
	"github.com/dmason-mlb/mlb-qbench/infrastructure/api/v1/dto"
)

// SearchRouter handles the search_tests, find_similar_tests, and
// get_test_by_key HTTP endpoints.
type SearchRouter struct {
	client     *qbench.Client
	serializer *jsonapi.Serializer
	logger     *slog.Logger
}

// NewSearchRouter creates a new SearchRouter.
func NewSearchRouter(client *qbench.Client) *SearchRouter {
	return &SearchRouter{
		client:     client,
		serializer: jsonapi.NewSerializer(),
		logger:     client.Logger(),
	}
}

// Routes returns the chi router for search endpoints.
func (r *SearchRouter) Routes() chi.Router {
	router := chi.NewRouter()
	router.Post("/", r.Search)
	router.Post("/similar", r.FindSimilar)
	router.Get("/by-key/{externalKey}", r.GetByKey)
	return router
}

// Search handles POST /api/v1/search.
//
//	@Summary		Search tests
//	@Description	Hybrid semantic search over test documents and steps
//	@Tags			search
//	@Accept			json
//	@Produce		json
//	@Param			body	body		dto.SearchRequest	true	"Search request"
//	@Success		200		{object}	jsonapi.Document
//	@Failure		400		{object}	middleware.JSONAPIErrorResponse
//	@Failure		500		{object}	middleware.JSONAPIErrorResponse
//	@Router			/search [post]
func (r *SearchRouter) Search(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	var body dto.SearchRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	attrs := body.Data.Attributes
	result, err := r.client.Search(ctx, attrs.QueryText, attrs.TopK, map[string]any(attrs.Filter), search.Scope(attrs.Scope))
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, r.serializer.SearchResultDocument(result))
}

// FindSimilar handles POST /api/v1/search/similar.
//
//	@Summary		Find similar tests
//	@Description	Find tests similar to an already-ingested document
//	@Tags			search
//	@Accept			json
//	@Produce		json
//	@Param			body	body		dto.FindSimilarRequest	true	"Find-similar request"
//	@Success		200		{object}	jsonapi.Document
//	@Failure		400		{object}	middleware.JSONAPIErrorResponse
//	@Failure		404		{object}	middleware.JSONAPIErrorResponse
//	@Router			/search/similar [post]
func (r *SearchRouter) FindSimilar(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	var body dto.FindSimilarRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	attrs := body.Data.Attributes
	result, err := r.client.FindSimilar(ctx, attrs.ReferenceUID, attrs.TopK, search.Scope(attrs.Scope))
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, r.serializer.SearchResultDocument(result))
}

// GetByKey handles GET /api/v1/search/by-key/{externalKey}.
//
//	@Summary		Get test by external key
//	@Description	Fetch a single test document by its tracker key
//	@Tags			search
//	@Produce		json
//	@Param			externalKey	path		string	true	"External tracker key"
//	@Success		200			{object}	jsonapi.Document
//	@Failure		404			{object}	middleware.JSONAPIErrorResponse
//	@Router			/search/by-key/{externalKey} [get]
func (r *SearchRouter) GetByKey(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	externalKey := chi.URLParam(req, "externalKey")

	doc, err := r.client.GetByKey(ctx, externalKey)
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, jsonapi.NewSingleResponse(r.serializer.TestDocResource(doc)))
}
