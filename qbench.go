// Package qbench provides a library for semantic test-case retrieval:
// ingesting normalised test records (TestRail, Xray, or a generic YAML
// shape) into a two-tier vector index and searching them by natural
// language query, with optional metadata filters.
//
// Basic usage:
//
//	client, err := qbench.New(
//	    qbench.WithSQLite(".qbench/data.db"),
//	    qbench.WithOpenAI(os.Getenv("OPENAI_API_KEY")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	report, err := client.Ingest(ctx, service.NewSliceSource("acceptance", records))
//
//	result, err := client.Search(ctx, "user login", 10, nil, search.ScopeAll)
package qbench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/dmason-mlb/mlb-qbench/domain/search"
	"github.com/dmason-mlb/mlb-qbench/domain/service"
	"github.com/dmason-mlb/mlb-qbench/domain/testdoc"
	"github.com/dmason-mlb/mlb-qbench/infrastructure/checkpoint"
	"github.com/dmason-mlb/mlb-qbench/infrastructure/normalize"
	"github.com/dmason-mlb/mlb-qbench/infrastructure/persistence"
	"github.com/dmason-mlb/mlb-qbench/infrastructure/provider"
	"github.com/dmason-mlb/mlb-qbench/infrastructure/ratelimit"
	"github.com/dmason-mlb/mlb-qbench/internal/config"
	"github.com/dmason-mlb/mlb-qbench/internal/database"
	"github.com/dmason-mlb/mlb-qbench/internal/health"
	"github.com/dmason-mlb/mlb-qbench/internal/mcp"
)

// ErrNoDatabase is returned by New when no store dialect was configured
// via WithSQLite/WithPostgres or inferred from a sqlite:// or postgres://
// DSN given through WithAppConfig.
var ErrNoDatabase = errors.New("qbench: no database configured, use WithSQLite or WithPostgres")

// ErrClientClosed is returned by Client methods and by a second Close
// call once the client has already been shut down.
var ErrClientClosed = errors.New("qbench: client closed")

// ErrKeywordSearchUnavailable is returned by KeywordSearch when the
// client was built over a dialect without a BM25 index (currently:
// anything but SQLite).
var ErrKeywordSearchUnavailable = errors.New("qbench: keyword search unavailable for this database dialect")

// Client is the main entry point for the qbench library: the assembled
// ingestion pipeline (C4) and retrieval engine (C6) over a chosen vector
// store dialect and embedding backend, plus the operational core (C8).
type Client struct {
	db database.Database

	docStore      search.DocEmbeddingStore
	stepStore     search.StepEmbeddingStore
	documentStore search.DocumentStore
	bm25Store     search.BM25Store
	embedder      provider.Backend
	checkpoints   checkpoint.Store

	Retrieval *service.RetrievalService
	Ingestion *service.IngestService

	Health      *health.Checker
	Counters    *health.Counters
	Shutdown    *health.ShutdownCoordinator
	RateLimiter ratelimit.Limiter

	mcpServer *mcp.Server

	config config.AppConfig
	logger *slog.Logger
	closed atomic.Bool
}

// New creates a new Client with the given options.
func New(opts ...Option) (*Client, error) {
	cfg := newClientConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.database == databaseUnset && cfg.dbURL != "" {
		cfg.database = inferDialect(cfg.dbURL)
	}
	if cfg.database == databaseUnset {
		return nil, ErrNoDatabase
	}

	logger := cfg.logger
	if logger == nil {
		logger = config.DefaultLogger()
	}

	if _, err := config.PrepareDataDir(cfg.appConfig.DataDir()); err != nil {
		return nil, err
	}

	ctx := context.Background()
	db, err := database.NewDatabase(ctx, cfg.dbURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	backend := cfg.embeddingBackend
	if backend == nil {
		errClose := db.Close()
		return nil, errors.Join(errors.New("no embedding provider configured, use WithOpenAI or WithHugot"), errClose)
	}
	if cfg.cacheSize > 0 {
		cached, cacheErr := provider.NewCachedBackend(backend, cfg.cacheSize)
		if cacheErr != nil {
			errClose := db.Close()
			return nil, errors.Join(fmt.Errorf("wrap embedding cache: %w", cacheErr), errClose)
		}
		backend = cached
	}

	docStore, stepStore, err := buildVectorStores(ctx, db, cfg)
	if err != nil {
		errClose := db.Close()
		return nil, errors.Join(err, errClose)
	}

	documentStore, err := persistence.NewGormDocumentStore(db)
	if err != nil {
		errClose := db.Close()
		return nil, errors.Join(fmt.Errorf("document store: %w", err), errClose)
	}

	// The auxiliary BM25 keyword index (SPEC_FULL.md §1 Non-goals) is
	// only implemented over SQLite FTS5; other dialects simply run
	// without a keyword_search tool.
	var bm25Store search.BM25Store
	if cfg.database == databaseSQLite {
		sqliteBM25, bmErr := persistence.NewSQLiteBM25Store(db.GORM(), logger)
		if bmErr != nil {
			errClose := db.Close()
			return nil, errors.Join(fmt.Errorf("bm25 store: %w", bmErr), errClose)
		}
		bm25Store = sqliteBM25
	}

	checkpoints, err := checkpoint.NewFileStore(cfg.appConfig.CheckpointPath())
	if err != nil {
		errClose := db.Close()
		return nil, errors.Join(fmt.Errorf("checkpoint store: %w", err), errClose)
	}

	normaliser := normalize.New(
		normalize.TestRailPreprocessor{},
		normalize.XrayPreprocessor{},
		normalize.GenericYAMLPreprocessor{},
	)

	fusion := search.NewFusionWithWeights(cfg.appConfig.Fusion().Doc, cfg.appConfig.Fusion().Step)

	retrieval := service.NewRetrievalService(docStore, stepStore, documentStore, backend, fusion, cfg.appConfig.Overfetch())
	ingest := service.NewIngestService(
		normaliser, docStore, stepStore, documentStore, backend,
		search.DefaultTokenBudget(), checkpoints,
		cfg.appConfig.IngestChunkSize(), cfg.appConfig.IngestParallelism(),
	)
	if bm25Store != nil {
		ingest.SetBM25Store(bm25Store)
	}

	checker := health.NewChecker(docStore, stepStore, backend, cfg.version)
	counters := health.NewCounters()
	shutdown := health.NewShutdownCoordinator(cfg.appConfig.ShutdownGrace())

	limiter := cfg.rateLimiter
	if limiter == nil {
		limiter = ratelimit.NewInProcessLimiter(cfg.searchQPS, cfg.searchBurst)
	}

	client := &Client{
		db:            db,
		docStore:      docStore,
		stepStore:     stepStore,
		documentStore: documentStore,
		bm25Store:     bm25Store,
		embedder:      backend,
		checkpoints:   checkpoints,
		Retrieval:     retrieval,
		Ingestion:     ingest,
		Health:        checker,
		Counters:      counters,
		Shutdown:      shutdown,
		RateLimiter:   limiter,
		config:        cfg.appConfig,
		logger:        logger,
	}

	var keywordAdapter mcp.KeywordSearcher
	if bm25Store != nil {
		keywordAdapter = &keywordSearcherAdapter{client}
	}
	client.mcpServer = mcp.NewServer(
		&searcherAdapter{client},
		&ingesterAdapter{client},
		&healthAdapter{client},
		keywordAdapter,
		counters,
		shutdown,
		cfg.version,
		logger,
	)

	return client, nil
}

// Close releases all resources held by the client (database connections,
// embedding backend, rate limiter).
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClientClosed
	}

	var errs []error
	if err := c.embedder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close embedder: %w", err))
	}
	if err := c.RateLimiter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close rate limiter: %w", err))
	}
	if err := c.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	c.logger.Info("qbench client closed")
	return nil
}

// MCPServer returns the assembled MCP tool server exposing the five
// test-retrieval tools (spec.md §4.7).
func (c *Client) MCPServer() *mcp.Server {
	return c.mcpServer
}

// Logger returns the client's logger.
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

// Config returns the client's resolved configuration.
func (c *Client) Config() config.AppConfig {
	return c.config
}

// Search runs search_tests (spec.md §4.6.1) directly against the
// retrieval engine, bypassing the MCP/HTTP tool surface — for embedding
// qbench as a library.
func (c *Client) Search(ctx context.Context, queryText string, topK int, rawFilter map[string]any, scope search.Scope) (service.SearchResult, error) {
	if c.closed.Load() {
		return service.SearchResult{}, ErrClientClosed
	}
	return c.Retrieval.Search(ctx, queryText, topK, rawFilter, scope)
}

// FindSimilar runs find_similar_tests (spec.md §4.6.2).
func (c *Client) FindSimilar(ctx context.Context, referenceUID string, topK int, scope search.Scope) (service.SearchResult, error) {
	if c.closed.Load() {
		return service.SearchResult{}, ErrClientClosed
	}
	return c.Retrieval.FindSimilar(ctx, referenceUID, topK, scope)
}

// GetByKey runs get_test_by_key (spec.md §4.6.3).
func (c *Client) GetByKey(ctx context.Context, externalKey string) (testdoc.TestDoc, error) {
	if c.closed.Load() {
		return testdoc.TestDoc{}, ErrClientClosed
	}
	return c.Retrieval.GetByKey(ctx, externalKey)
}

// Ingest runs ingest_tests (spec.md §4.4) over source.
func (c *Client) Ingest(ctx context.Context, source service.RawSource) (service.IngestReport, error) {
	if c.closed.Load() {
		return service.IngestReport{}, ErrClientClosed
	}
	return c.Ingestion.Ingest(ctx, source)
}

// CheckHealth runs check_health (spec.md §4.8).
func (c *Client) CheckHealth(ctx context.Context) health.Snapshot {
	return c.Health.Check(ctx)
}

// KeywordSearch runs the ambient keyword_search tool: a BM25 lookup over
// the auxiliary full-text index, never consulted by Fusion and never
// usable as the primary ranking mode (spec.md §1 Non-goals).
func (c *Client) KeywordSearch(ctx context.Context, queryText string, topK int) ([]search.BM25Result, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if c.bm25Store == nil {
		return nil, ErrKeywordSearchUnavailable
	}
	return c.bm25Store.Search(ctx, search.NewBM25Request(queryText, topK))
}

// inferDialect determines the vector store dialect from a DB_URL-shaped
// connection string (spec.md §6.4), for callers who supply only
// WithAppConfig without WithSQLite/WithPostgres.
func inferDialect(dbURL string) databaseType {
	switch {
	case strings.HasPrefix(dbURL, "sqlite://"):
		return databaseSQLite
	case strings.HasPrefix(dbURL, "postgres://"), strings.HasPrefix(dbURL, "postgresql://"):
		return databasePostgres
	default:
		return databaseUnset
	}
}

// buildVectorStores constructs the DocTier/StepTier adapter for the
// configured dialect (spec.md §4.2).
func buildVectorStores(ctx context.Context, db database.Database, cfg *clientConfig) (search.DocEmbeddingStore, search.StepEmbeddingStore, error) {
	switch cfg.database {
	case databaseSQLite:
		docStore, err := persistence.NewSQLiteDocStore(db)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite doc store: %w", err)
		}
		stepStore, err := persistence.NewSQLiteStepStore(db)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite step store: %w", err)
		}
		return docStore, stepStore, nil
	case databasePostgres:
		dim := cfg.appConfig.EmbedDim()
		docStore, err := persistence.NewPgvectorDocStore(ctx, db, dim)
		if err != nil {
			return nil, nil, fmt.Errorf("pgvector doc store: %w", err)
		}
		stepStore, err := persistence.NewPgvectorStepStore(ctx, db, dim)
		if err != nil {
			return nil, nil, fmt.Errorf("pgvector step store: %w", err)
		}
		return docStore, stepStore, nil
	default:
		return nil, nil, ErrNoDatabase
	}
}

// searcherAdapter satisfies internal/mcp.Searcher over *Client.
type searcherAdapter struct{ c *Client }

func (a *searcherAdapter) Search(ctx context.Context, queryText string, topK int, rawFilter map[string]any, scope search.Scope) (service.SearchResult, error) {
	return a.c.Search(ctx, queryText, topK, rawFilter, scope)
}

func (a *searcherAdapter) FindSimilar(ctx context.Context, referenceUID string, topK int, scope search.Scope) (service.SearchResult, error) {
	return a.c.FindSimilar(ctx, referenceUID, topK, scope)
}

func (a *searcherAdapter) GetByKey(ctx context.Context, externalKey string) (testdoc.TestDoc, error) {
	return a.c.GetByKey(ctx, externalKey)
}

// ingesterAdapter satisfies internal/mcp.Ingester over *Client.
type ingesterAdapter struct{ c *Client }

func (a *ingesterAdapter) Ingest(ctx context.Context, source service.RawSource) (service.IngestReport, error) {
	return a.c.Ingest(ctx, source)
}

// healthAdapter satisfies internal/mcp.HealthChecker over *Client.
type healthAdapter struct{ c *Client }

func (a *healthAdapter) Check(ctx context.Context) health.Snapshot {
	return a.c.CheckHealth(ctx)
}

// keywordSearcherAdapter satisfies internal/mcp.KeywordSearcher over *Client.
type keywordSearcherAdapter struct{ c *Client }

func (a *keywordSearcherAdapter) KeywordSearch(ctx context.Context, queryText string, topK int) ([]search.BM25Result, error) {
	return a.c.KeywordSearch(ctx, queryText, topK)
}
