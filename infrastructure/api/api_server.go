package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dmason-mlb/mlb-qbench"
	apimiddleware "github.com/dmason-mlb/mlb-qbench/infrastructure/api/middleware"
	v1 "github.com/dmason-mlb/mlb-qbench/infrastructure/api/v1"
)

// APIServer provides an HTTP API backed by a qbench Client, exposing the
// same five operations as the MCP tool surface: search_tests,
// find_similar_tests, get_test_by_key, ingest_tests, check_health.
type APIServer struct {
	client       *qbench.Client
	apiKeys      []string
	server       *Server
	router       chi.Router
	routerCalled bool
	logger       *slog.Logger
}

// NewAPIServer creates a new APIServer wired to the given qbench Client.
// apiKeys configures write-protection: POST /api/v1/ingest requires a
// valid key. Search and health remain open, as does MCP.
func NewAPIServer(client *qbench.Client, apiKeys []string) *APIServer {
	return &APIServer{
		client:  client,
		apiKeys: apiKeys,
		logger:  client.Logger(),
	}
}

// Router returns the chi router for customization before starting.
// Call this first, add custom middleware with router.Use(), then call MountRoutes().
// If not called, ListenAndServe creates a default router with all standard routes.
func (a *APIServer) Router() chi.Router {
	if a.router != nil {
		return a.router
	}

	a.router = chi.NewRouter()
	a.routerCalled = true
	return a.router
}

// MountRoutes wires up all v1 API routes on the router.
// Call this after adding any custom middleware via Router().Use().
func (a *APIServer) MountRoutes() {
	if a.router == nil {
		a.Router()
	}
	a.mountRoutes(a.router)
}

// mountRoutes wires up all v1 API routes on the given router.
func (a *APIServer) mountRoutes(router chi.Router) {
	c := a.client

	searchRouter := v1.NewSearchRouter(c)
	ingestRouter := v1.NewIngestRouter(c)
	healthRouter := v1.NewHealthRouter(c)
	authConfig := apimiddleware.NewAuthConfigWithKeys(a.apiKeys)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))
		r.Use(apimiddleware.Logging(a.logger))

		r.Mount("/search", searchRouter.Routes())
		r.Mount("/health", healthRouter.Routes())

		// Write-protected: ingestion is the only mutating operation.
		r.Group(func(r chi.Router) {
			r.Use(apimiddleware.WriteProtect(authConfig))
			r.Mount("/ingest", ingestRouter.Routes())
		})
	})

	// MCP (Model Context Protocol) endpoint — no timeout middleware.
	// MCP uses streaming responses and manages its own session state via
	// response headers, which is incompatible with chi's Timeout middleware
	// that wraps the ResponseWriter.
	httpHandler := server.NewStreamableHTTPServer(c.MCPServer().MCPServer())
	router.Mount("/mcp", httpHandler)
}

// DocsRouter returns a router for Swagger UI and OpenAPI spec.
func (a *APIServer) DocsRouter(specURL string) *DocsRouter {
	return NewDocsRouter(specURL)
}

// ListenAndServe starts the HTTP server on the given address.
func (a *APIServer) ListenAndServe(addr string) error {
	server := NewServer(addr, a.logger)
	a.server = &server

	if a.routerCalled && a.router != nil {
		server.Router().Mount("/", a.router)
	} else {
		a.mountRoutes(server.Router())
	}

	return server.Start()
}

// Shutdown gracefully shuts down the server.
func (a *APIServer) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// Handler returns the router as an http.Handler for use with custom servers.
func (a *APIServer) Handler() http.Handler {
	if a.router == nil {
		a.Router()
		a.MountRoutes()
	}
	return a.router
}
