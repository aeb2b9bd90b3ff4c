package v1

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmason-mlb/mlb-qbench"
	"github.com/dmason-mlb/mlb-qbench/domain/service"
	"github.com/dmason-mlb/mlb-qbench/infrastructure/api/middleware"
	"github.com/dmason-mlb/mlb-qbench/infrastructure/api/v1/dto"
	"github.com/dmason-mlb/mlb-qbench/infrastructure/normalize"
)

// IngestRouter handles the ingest_tests HTTP endpoint. It is
// write-protected: mounted under auth middleware by the API server.
type IngestRouter struct {
	client *qbench.Client
	logger *slog.Logger
}

// NewIngestRouter creates a new IngestRouter.
func NewIngestRouter(client *qbench.Client) *IngestRouter {
	return &IngestRouter{client: client, logger: client.Logger()}
}

// Routes returns the chi router for ingestion endpoints.
func (r *IngestRouter) Routes() chi.Router {
	router := chi.NewRouter()
	router.Post("/", r.Ingest)
	return router
}

// Ingest handles POST /api/v1/ingest.
//
//	@Summary		Ingest test records
//	@Description	Normalise, embed, and upsert a batch of raw source records
//	@Tags			ingest
//	@Accept			json
//	@Produce		json
//	@Param			body	body		dto.IngestRequest	true	"Ingest request"
//	@Success		200		{object}	dto.IngestReportResponse
//	@Failure		400		{object}	middleware.JSONAPIErrorResponse
//	@Failure		401		{object}	middleware.JSONAPIErrorResponse
//	@Security		APIKeyAuth
//	@Router			/ingest [post]
func (r *IngestRouter) Ingest(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	var body dto.IngestRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	attrs := body.Data.Attributes
	records := make([]normalize.Raw, 0, len(attrs.Records))
	for _, raw := range attrs.Records {
		var record normalize.Raw
		if err := json.Unmarshal(raw, &record); err != nil {
			middleware.WriteError(w, req, err, r.logger)
			return
		}
		records = append(records, record)
	}

	source := service.NewSliceSource(attrs.SourceID, records)
	report, err := r.client.Ingest(ctx, source)
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, dto.IngestReportResponse{
		DocsIn:       report.DocsIn,
		DocsWritten:  report.DocsWritten,
		StepsWritten: report.StepsWritten,
		Warnings:     report.Warnings,
		Errors:       report.Errors,
	})
}
