// Package mcp provides Model Context Protocol server functionality.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dmason-mlb/mlb-qbench/domain/search"
	"github.com/dmason-mlb/mlb-qbench/domain/service"
	"github.com/dmason-mlb/mlb-qbench/domain/testdoc"
	"github.com/dmason-mlb/mlb-qbench/infrastructure/normalize"
	"github.com/dmason-mlb/mlb-qbench/internal/health"
)

// Searcher runs the retrieval engine's three read operations.
type Searcher interface {
	Search(ctx context.Context, queryText string, topK int, rawFilter map[string]any, scope search.Scope) (service.SearchResult, error)
	FindSimilar(ctx context.Context, referenceUID string, topK int, scope search.Scope) (service.SearchResult, error)
	GetByKey(ctx context.Context, externalKey string) (testdoc.TestDoc, error)
}

// Ingester runs the ingestion pipeline over a caller-supplied batch of raw
// records.
type Ingester interface {
	Ingest(ctx context.Context, source service.RawSource) (service.IngestReport, error)
}

// HealthChecker reports the operational snapshot for check_health.
type HealthChecker interface {
	Check(ctx context.Context) health.Snapshot
}

// KeywordSearcher runs the ambient BM25 keyword-search tool (spec.md §1
// Non-goals: auxiliary only, never consulted by Fusion). Implementations
// may be nil — dialects without a keyword index simply omit the tool.
type KeywordSearcher interface {
	KeywordSearch(ctx context.Context, queryText string, topK int) ([]search.BM25Result, error)
}

// Server wraps the MCP server with the five test-retrieval tools
// (spec.md §4.7): search_tests, get_test_by_key, find_similar_tests,
// ingest_tests, check_health, plus the optional ambient keyword_search.
type Server struct {
	mcpServer *server.MCPServer
	search    Searcher
	ingest    Ingester
	health    HealthChecker
	keyword   KeywordSearcher
	counters  *health.Counters
	shutdown  *health.ShutdownCoordinator
	version   string
	logger    *slog.Logger
}

const instructions = "This server provides semantic search over test management " +
	"records (test cases and their steps).\n\n" +
	"**Available tools:**\n" +
	"- search_tests(query_text, top_k, scope, filter) - Find tests matching a natural language query\n" +
	"- find_similar_tests(uid, top_k, scope) - Find tests similar to a known test, by uid\n" +
	"- get_test_by_key(external_key) - Direct lookup of one test by its external identifier (e.g. a Jira/TestRail key)\n" +
	"- ingest_tests(source_id, records) - Normalise, embed, and index a batch of raw test records\n" +
	"- check_health() - Report store/embedding-provider reachability and record counts\n" +
	"- keyword_search(query_text, top_k) - Auxiliary BM25 exact-term search, not used for the primary ranking (only available on some deployments)\n\n" +
	"filter accepts a JSON object keyed by tags, platforms, priority, test_type, " +
	"folder_prefix, related_keys, or external_key_pattern."

// NewServer creates a new MCP server with the given dependencies. keyword
// may be nil, in which case keyword_search is not registered.
func NewServer(searcher Searcher, ingester Ingester, checker HealthChecker, keyword KeywordSearcher, counters *health.Counters, shutdown *health.ShutdownCoordinator, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if counters == nil {
		counters = health.NewCounters()
	}

	s := &Server{
		search:   searcher,
		ingest:   ingester,
		health:   checker,
		keyword:  keyword,
		counters: counters,
		shutdown: shutdown,
		version:  version,
		logger:   logger,
	}

	mcpServer := server.NewMCPServer(
		"qbench",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions(instructions),
	)

	s.registerTools(mcpServer)

	s.mcpServer = mcpServer
	return s
}

// registerTools registers the five test-retrieval tools with the MCP server.
func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("search_tests",
		mcp.WithDescription("Find tests matching a natural language query, ranked by semantic similarity"),
		mcp.WithString("query_text",
			mcp.Required(),
			mcp.Description("Natural language description of the behavior under test"),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Maximum number of results (default 20, max 100)"),
		),
		mcp.WithString("scope",
			mcp.Description("Which tier to search: docs, steps, or all (default all)"),
		),
		mcp.WithString("filter",
			mcp.Description("JSON object restricting results by tags/platforms/priority/test_type/folder_prefix/related_keys/external_key_pattern"),
		),
	), s.guarded("search_tests", s.handleSearchTests))

	mcpServer.AddTool(mcp.NewTool("find_similar_tests",
		mcp.WithDescription("Find tests similar to a known test, identified by its uid"),
		mcp.WithString("uid",
			mcp.Required(),
			mcp.Description("The uid of the reference test"),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Maximum number of results (default 20, max 100)"),
		),
		mcp.WithString("scope",
			mcp.Description("Which tier to search: docs, steps, or all (default all)"),
		),
	), s.guarded("find_similar_tests", s.handleFindSimilarTests))

	mcpServer.AddTool(mcp.NewTool("get_test_by_key",
		mcp.WithDescription("Look up one test directly by its external identifier (e.g. a Jira or TestRail key)"),
		mcp.WithString("external_key",
			mcp.Required(),
			mcp.Description("The test's external identifier"),
		),
	), s.guarded("get_test_by_key", s.handleGetTestByKey))

	mcpServer.AddTool(mcp.NewTool("ingest_tests",
		mcp.WithDescription("Normalise, embed, and index a batch of raw test records"),
		mcp.WithString("source_id",
			mcp.Required(),
			mcp.Description("Identifier for this ingestion source, used for checkpointing"),
		),
		mcp.WithString("records",
			mcp.Required(),
			mcp.Description("JSON array of raw test records in TestRail, Xray, or generic YAML-compatible shape"),
		),
	), s.guarded("ingest_tests", s.handleIngestTests))

	mcpServer.AddTool(mcp.NewTool("check_health",
		mcp.WithDescription("Report store and embedding-provider reachability, record counts, and version"),
	), s.guarded("check_health", s.handleCheckHealth))

	if s.keyword != nil {
		mcpServer.AddTool(mcp.NewTool("keyword_search",
			mcp.WithDescription("Auxiliary BM25 keyword search over indexed test text. Never used for the primary ranking (see search_tests); useful for exact-term lookups search_tests may miss"),
			mcp.WithString("query_text",
				mcp.Required(),
				mcp.Description("Keyword query"),
			),
			mcp.WithNumber("top_k",
				mcp.Description("Maximum number of results (default 10)"),
			),
		), s.guarded("keyword_search", s.handleKeywordSearch))
	}
}

// toolHandler is the signature AddTool expects for a tool's call handler.
type toolHandler func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

// guarded wraps a tool handler with shutdown-coordination and per-tool
// latency/count tracking (C8): rejects new calls once shutdown has begun,
// and records each call's duration regardless of outcome.
func (s *Server) guarded(name string, handler toolHandler) toolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if s.shutdown != nil {
			done, err := s.shutdown.Begin()
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			defer done()
		}
		start := time.Now()
		result, err := handler(ctx, request)
		s.counters.RecordTool(name, time.Since(start))
		return result, err
	}
}

func (s *Server) handleSearchTests(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	queryText, err := request.RequireString("query_text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	topK := int(request.GetFloat("top_k", 0))
	scope := search.Scope(request.GetString("scope", ""))

	var rawFilter map[string]any
	if raw := request.GetString("filter", ""); raw != "" {
		if jsonErr := json.Unmarshal([]byte(raw), &rawFilter); jsonErr != nil {
			return mcp.NewToolResultError("invalid filter JSON: " + jsonErr.Error()), nil
		}
	}

	result, err := s.search.Search(ctx, queryText, topK, rawFilter, scope)
	if err != nil {
		s.logger.Error("search_tests failed", slog.Any("error", err))
		return mcp.NewToolResultError(err.Error()), nil
	}
	return searchResultTool(result)
}

func (s *Server) handleFindSimilarTests(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := request.RequireString("uid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	topK := int(request.GetFloat("top_k", 0))
	scope := search.Scope(request.GetString("scope", ""))

	result, err := s.search.FindSimilar(ctx, uid, topK, scope)
	if err != nil {
		s.logger.Error("find_similar_tests failed", slog.Any("error", err))
		return mcp.NewToolResultError(err.Error()), nil
	}
	return searchResultTool(result)
}

func (s *Server) handleGetTestByKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	externalKey, err := request.RequireString("external_key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	doc, err := s.search.GetByKey(ctx, externalKey)
	if err != nil {
		s.logger.Error("get_test_by_key failed", slog.String("external_key", externalKey), slog.Any("error", err))
		return mcp.NewToolResultError(err.Error()), nil
	}

	jsonBytes, err := json.Marshal(docDTO(doc))
	if err != nil {
		return mcp.NewToolResultError("marshal result: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleIngestTests(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sourceID, err := request.RequireString("source_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	recordsJSON, err := request.RequireString("records")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var rawRecords []normalize.Raw
	if jsonErr := json.Unmarshal([]byte(recordsJSON), &rawRecords); jsonErr != nil {
		return mcp.NewToolResultError("invalid records JSON: " + jsonErr.Error()), nil
	}

	source := service.NewSliceSource(sourceID, rawRecords)
	report, err := s.ingest.Ingest(ctx, source)
	if err != nil {
		s.logger.Error("ingest_tests failed", slog.String("source_id", sourceID), slog.Any("error", err))
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.counters.RecordIngest(report.DocsIn, len(report.Warnings), len(report.Errors))

	jsonBytes, err := json.Marshal(report)
	if err != nil {
		return mcp.NewToolResultError("marshal report: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleCheckHealth(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snapshot := s.health.Check(ctx)
	jsonBytes, err := json.Marshal(snapshot)
	if err != nil {
		return mcp.NewToolResultError("marshal snapshot: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleKeywordSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	queryText, err := request.RequireString("query_text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	topK := int(request.GetFloat("top_k", 0))

	results, err := s.keyword.KeywordSearch(ctx, queryText, topK)
	if err != nil {
		s.logger.Error("keyword_search failed", slog.Any("error", err))
		return mcp.NewToolResultError(err.Error()), nil
	}

	hits := make([]bm25HitDTO, len(results))
	for i, r := range results {
		hits[i] = bm25HitDTO{UID: r.UID(), Score: r.Score()}
	}
	jsonBytes, err := json.Marshal(hits)
	if err != nil {
		return mcp.NewToolResultError("marshal results: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

type bm25HitDTO struct {
	UID   string  `json:"uid"`
	Score float64 `json:"score"`
}

// searchHitDTO and docDTO give testdoc.TestDoc's private-field value type a
// JSON-serializable shape for tool responses.
type searchHitDTO struct {
	UID                string  `json:"uid"`
	Score              float64 `json:"score"`
	MatchedStepIndices []int   `json:"matched_step_indices,omitempty"`
	Doc                docDTOt `json:"doc"`
}

type docDTOt struct {
	UID         string   `json:"uid"`
	ExternalKey string   `json:"external_key,omitempty"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary,omitempty"`
	Priority    string   `json:"priority"`
	TestType    string   `json:"test_type,omitempty"`
	Platforms   []string `json:"platforms,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	FolderPath  []string `json:"folder_path,omitempty"`
	RelatedKeys []string `json:"related_keys,omitempty"`
	Source      string   `json:"source"`
}

func docDTO(d testdoc.TestDoc) docDTOt {
	externalKey, _ := d.ExternalKey()
	summary, _ := d.Summary()
	testType, _ := d.TestType()
	return docDTOt{
		UID:         d.UID(),
		ExternalKey: externalKey,
		Title:       d.Title(),
		Summary:     summary,
		Priority:    string(d.Priority()),
		TestType:    testType,
		Platforms:   d.Platforms(),
		Tags:        d.Tags(),
		FolderPath:  d.FolderPath(),
		RelatedKeys: d.RelatedKeys(),
		Source:      d.Source(),
	}
}

type searchResultDTO struct {
	Hits    []searchHitDTO `json:"hits"`
	Warning string         `json:"warning,omitempty"`
}

func searchResultTool(result service.SearchResult) (*mcp.CallToolResult, error) {
	hits := make([]searchHitDTO, len(result.Hits))
	for i, h := range result.Hits {
		hits[i] = searchHitDTO{
			UID:                h.UID,
			Score:              h.Score,
			MatchedStepIndices: h.MatchedStepIndices,
			Doc:                docDTO(h.Doc),
		}
	}
	jsonBytes, err := json.Marshal(searchResultDTO{Hits: hits, Warning: result.Warning})
	if err != nil {
		return mcp.NewToolResultError("marshal results: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MCPServer returns the underlying MCP server for stdio or HTTP serving.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio runs the MCP server on stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
