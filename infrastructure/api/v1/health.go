package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmason-mlb/mlb-qbench"
	"github.com/dmason-mlb/mlb-qbench/infrastructure/api/jsonapi"
	"github.com/dmason-mlb/mlb-qbench/infrastructure/api/middleware"
)

// HealthRouter handles the check_health HTTP endpoint.
type HealthRouter struct {
	client     *qbench.Client
	serializer *jsonapi.Serializer
}

// NewHealthRouter creates a new HealthRouter.
func NewHealthRouter(client *qbench.Client) *HealthRouter {
	return &HealthRouter{client: client, serializer: jsonapi.NewSerializer()}
}

// Routes returns the chi router for the health endpoint.
func (r *HealthRouter) Routes() chi.Router {
	router := chi.NewRouter()
	router.Get("/", r.Check)
	return router
}

// Check handles GET /api/v1/health.
//
//	@Summary		Check health
//	@Description	Report store reachability, doc/step counts, and embed provider status
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	jsonapi.Document
//	@Router			/health [get]
func (r *HealthRouter) Check(w http.ResponseWriter, req *http.Request) {
	snapshot := r.client.CheckHealth(req.Context())
	status := http.StatusOK
	if !snapshot.StoreReachable {
		status = http.StatusServiceUnavailable
	}
	middleware.WriteJSON(w, status, jsonapi.NewSingleResponse(r.serializer.HealthResource(snapshot)))
}
