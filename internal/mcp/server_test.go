package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dmason-mlb/mlb-qbench/domain/qerr"
	"github.com/dmason-mlb/mlb-qbench/domain/search"
	"github.com/dmason-mlb/mlb-qbench/domain/service"
	"github.com/dmason-mlb/mlb-qbench/domain/testdoc"
	"github.com/dmason-mlb/mlb-qbench/internal/health"
)

// fakeSearch implements Searcher with canned results and captured calls.
type fakeSearch struct {
	result      service.SearchResult
	err         error
	byKeyResult testdoc.TestDoc
	byKeyErr    error

	lastQuery string
	lastTopK  int
	lastScope search.Scope
}

func (f *fakeSearch) Search(_ context.Context, queryText string, topK int, _ map[string]any, scope search.Scope) (service.SearchResult, error) {
	f.lastQuery, f.lastTopK, f.lastScope = queryText, topK, scope
	return f.result, f.err
}

func (f *fakeSearch) FindSimilar(_ context.Context, referenceUID string, topK int, scope search.Scope) (service.SearchResult, error) {
	f.lastQuery, f.lastTopK, f.lastScope = referenceUID, topK, scope
	return f.result, f.err
}

func (f *fakeSearch) GetByKey(_ context.Context, externalKey string) (testdoc.TestDoc, error) {
	f.lastQuery = externalKey
	return f.byKeyResult, f.byKeyErr
}

// fakeIngest implements Ingester with a canned report.
type fakeIngest struct {
	report service.IngestReport
	err    error
	source service.RawSource
}

func (f *fakeIngest) Ingest(_ context.Context, source service.RawSource) (service.IngestReport, error) {
	f.source = source
	return f.report, f.err
}

// fakeHealth implements HealthChecker with a canned snapshot.
type fakeHealth struct {
	snapshot health.Snapshot
}

func (f *fakeHealth) Check(_ context.Context) health.Snapshot {
	return f.snapshot
}

// fakeKeywordSearch implements KeywordSearcher with canned results.
type fakeKeywordSearch struct {
	results   []search.BM25Result
	err       error
	lastQuery string
	lastTopK  int
}

func (f *fakeKeywordSearch) KeywordSearch(_ context.Context, queryText string, topK int) ([]search.BM25Result, error) {
	f.lastQuery, f.lastTopK = queryText, topK
	return f.results, f.err
}

func testDoc() testdoc.TestDoc {
	return testdoc.New("uid-1", "Login succeeds with valid credentials", "testrail",
		testdoc.WithExternalKey("QA-1"),
		testdoc.WithSummary("Exercises the happy-path login flow"),
	)
}

func testServer(searcher *fakeSearch, ingester *fakeIngest, checker *fakeHealth) *Server {
	return NewServer(searcher, ingester, checker, nil, health.NewCounters(), nil, "0.1.0", nil)
}

func initializeParams() map[string]any {
	return map[string]any{
		"protocolVersion": "2025-06-18",
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "test-client",
			"version": "0.0.1",
		},
	}
}

func TestServer_Initialize(t *testing.T) {
	srv := testServer(&fakeSearch{}, &fakeIngest{}, &fakeHealth{})
	resp := sendMessage(t, srv, "initialize", 1, initializeParams())

	var result mcp.InitializeResult
	resultJSON(t, resp, &result)

	if result.ServerInfo.Name != "qbench" {
		t.Errorf("expected server name qbench, got %s", result.ServerInfo.Name)
	}
	if result.Capabilities.Tools == nil {
		t.Error("expected tools capability to be present")
	}
}

func TestServer_ListTools(t *testing.T) {
	srv := testServer(&fakeSearch{}, &fakeIngest{}, &fakeHealth{})
	sendMessage(t, srv, "initialize", 1, initializeParams())

	resp := sendMessage(t, srv, "tools/list", 2, nil)

	var result mcp.ListToolsResult
	resultJSON(t, resp, &result)

	if len(result.Tools) != 5 {
		t.Fatalf("expected 5 tools, got %d", len(result.Tools))
	}

	names := map[string]bool{}
	for _, tool := range result.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"search_tests", "find_similar_tests", "get_test_by_key", "ingest_tests", "check_health"} {
		if !names[want] {
			t.Errorf("missing tool %q", want)
		}
	}
}

func TestServer_SearchTests(t *testing.T) {
	searcher := &fakeSearch{
		result: service.SearchResult{Hits: []service.SearchHit{
			{UID: "uid-1", Score: 0.9, Doc: testDoc()},
		}},
	}
	srv := testServer(searcher, &fakeIngest{}, &fakeHealth{})
	sendMessage(t, srv, "initialize", 1, initializeParams())

	resp := sendMessage(t, srv, "tools/call", 2, map[string]any{
		"name":      "search_tests",
		"arguments": map[string]any{"query_text": "login with valid credentials", "top_k": 5},
	})

	var result mcp.CallToolResult
	resultJSON(t, resp, &result)
	if result.IsError {
		t.Fatalf("expected success, got error: %s", textFromContent(t, result))
	}

	var parsed searchResultDTO
	if err := json.Unmarshal([]byte(textFromContent(t, result)), &parsed); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(parsed.Hits) != 1 || parsed.Hits[0].UID != "uid-1" {
		t.Errorf("unexpected hits: %+v", parsed.Hits)
	}
	if searcher.lastQuery != "login with valid credentials" || searcher.lastTopK != 5 {
		t.Errorf("search called with unexpected args: query=%q topK=%d", searcher.lastQuery, searcher.lastTopK)
	}
}

func TestServer_KeywordSearch_OmittedWhenNil(t *testing.T) {
	srv := testServer(&fakeSearch{}, &fakeIngest{}, &fakeHealth{})
	sendMessage(t, srv, "initialize", 1, initializeParams())

	resp := sendMessage(t, srv, "tools/list", 2, nil)
	var result mcp.ListToolsResult
	resultJSON(t, resp, &result)

	for _, tool := range result.Tools {
		if tool.Name == "keyword_search" {
			t.Fatal("keyword_search should not be registered when no KeywordSearcher is configured")
		}
	}
}

func TestServer_KeywordSearch(t *testing.T) {
	keyword := &fakeKeywordSearch{results: []search.BM25Result{search.NewBM25Result("uid-1", 4.2)}}
	srv := NewServer(&fakeSearch{}, &fakeIngest{}, &fakeHealth{}, keyword, health.NewCounters(), nil, "0.1.0", nil)
	sendMessage(t, srv, "initialize", 1, initializeParams())

	resp := sendMessage(t, srv, "tools/call", 2, map[string]any{
		"name":      "keyword_search",
		"arguments": map[string]any{"query_text": "exact phrase", "top_k": 3},
	})

	var result mcp.CallToolResult
	resultJSON(t, resp, &result)
	if result.IsError {
		t.Fatalf("expected success, got error: %s", textFromContent(t, result))
	}

	var hits []bm25HitDTO
	if err := json.Unmarshal([]byte(textFromContent(t, result)), &hits); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(hits) != 1 || hits[0].UID != "uid-1" {
		t.Errorf("unexpected hits: %+v", hits)
	}
	if keyword.lastQuery != "exact phrase" || keyword.lastTopK != 3 {
		t.Errorf("keyword search called with unexpected args: query=%q topK=%d", keyword.lastQuery, keyword.lastTopK)
	}
}

func TestServer_SearchTests_InvalidFilterJSON(t *testing.T) {
	srv := testServer(&fakeSearch{}, &fakeIngest{}, &fakeHealth{})
	sendMessage(t, srv, "initialize", 1, initializeParams())

	resp := sendMessage(t, srv, "tools/call", 2, map[string]any{
		"name":      "search_tests",
		"arguments": map[string]any{"query_text": "q", "filter": "{not json"},
	})

	var result mcp.CallToolResult
	resultJSON(t, resp, &result)
	if !result.IsError {
		t.Fatal("expected error for malformed filter JSON")
	}
}

func TestServer_GetTestByKey(t *testing.T) {
	searcher := &fakeSearch{byKeyResult: testDoc()}
	srv := testServer(searcher, &fakeIngest{}, &fakeHealth{})
	sendMessage(t, srv, "initialize", 1, initializeParams())

	resp := sendMessage(t, srv, "tools/call", 2, map[string]any{
		"name":      "get_test_by_key",
		"arguments": map[string]any{"external_key": "QA-1"},
	})

	var result mcp.CallToolResult
	resultJSON(t, resp, &result)
	if result.IsError {
		t.Fatalf("expected success, got error: %s", textFromContent(t, result))
	}

	var parsed docDTOt
	if err := json.Unmarshal([]byte(textFromContent(t, result)), &parsed); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if parsed.UID != "uid-1" {
		t.Errorf("expected uid-1, got %s", parsed.UID)
	}
}

func TestServer_GetTestByKey_NotFound(t *testing.T) {
	searcher := &fakeSearch{byKeyErr: qerr.NotFound("no test found")}
	srv := testServer(searcher, &fakeIngest{}, &fakeHealth{})
	sendMessage(t, srv, "initialize", 1, initializeParams())

	resp := sendMessage(t, srv, "tools/call", 2, map[string]any{
		"name":      "get_test_by_key",
		"arguments": map[string]any{"external_key": "missing"},
	})

	var result mcp.CallToolResult
	resultJSON(t, resp, &result)
	if !result.IsError {
		t.Fatal("expected error response for missing key")
	}
}

func TestServer_IngestTests(t *testing.T) {
	ingester := &fakeIngest{report: service.IngestReport{DocsIn: 2, DocsWritten: 2, StepsWritten: 4}}
	srv := testServer(&fakeSearch{}, ingester, &fakeHealth{})
	sendMessage(t, srv, "initialize", 1, initializeParams())

	records := `[{"id":"QA-1","title":"Login works"},{"id":"QA-2","title":"Logout works"}]`
	resp := sendMessage(t, srv, "tools/call", 2, map[string]any{
		"name":      "ingest_tests",
		"arguments": map[string]any{"source_id": "testrail-export", "records": records},
	})

	var result mcp.CallToolResult
	resultJSON(t, resp, &result)
	if result.IsError {
		t.Fatalf("expected success, got error: %s", textFromContent(t, result))
	}
	if ingester.source == nil || ingester.source.SourceID() != "testrail-export" {
		t.Error("ingest not called with expected source")
	}

	var parsed service.IngestReport
	if err := json.Unmarshal([]byte(textFromContent(t, result)), &parsed); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if parsed.DocsWritten != 2 {
		t.Errorf("expected 2 docs written, got %d", parsed.DocsWritten)
	}
}

func TestServer_IngestTests_InvalidRecordsJSON(t *testing.T) {
	srv := testServer(&fakeSearch{}, &fakeIngest{}, &fakeHealth{})
	sendMessage(t, srv, "initialize", 1, initializeParams())

	resp := sendMessage(t, srv, "tools/call", 2, map[string]any{
		"name":      "ingest_tests",
		"arguments": map[string]any{"source_id": "x", "records": "not json"},
	})

	var result mcp.CallToolResult
	resultJSON(t, resp, &result)
	if !result.IsError {
		t.Fatal("expected error for malformed records JSON")
	}
}

func TestServer_CheckHealth(t *testing.T) {
	checker := &fakeHealth{snapshot: health.Snapshot{StoreReachable: true, DocCount: 10, Version: "0.1.0"}}
	srv := testServer(&fakeSearch{}, &fakeIngest{}, checker)
	sendMessage(t, srv, "initialize", 1, initializeParams())

	resp := sendMessage(t, srv, "tools/call", 2, map[string]any{
		"name":      "check_health",
		"arguments": map[string]any{},
	})

	var result mcp.CallToolResult
	resultJSON(t, resp, &result)
	if result.IsError {
		t.Fatalf("expected success, got error: %s", textFromContent(t, result))
	}

	var parsed health.Snapshot
	if err := json.Unmarshal([]byte(textFromContent(t, result)), &parsed); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if !parsed.StoreReachable || parsed.DocCount != 10 {
		t.Errorf("unexpected snapshot: %+v", parsed)
	}
}

// sendMessage marshals a JSON-RPC request, sends it through HandleMessage,
// and returns the JSONRPCResponse. It fatals on marshal failure or unexpected
// response type.
func sendMessage(t *testing.T, srv *Server, method string, id int, params map[string]any) mcp.JSONRPCResponse {
	t.Helper()

	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
	}
	if params != nil {
		msg["params"] = params
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	result := srv.MCPServer().HandleMessage(context.Background(), raw)

	resp, ok := result.(mcp.JSONRPCResponse)
	if !ok {
		t.Fatalf("expected JSONRPCResponse, got %T: %+v", result, result)
	}
	return resp
}

// resultJSON re-marshals the Result field through JSON into dst.
func resultJSON(t *testing.T, resp mcp.JSONRPCResponse, dst any) {
	t.Helper()
	b, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		t.Fatalf("unmarshal result into %T: %v", dst, err)
	}
}

// textFromContent extracts the text string from the first content item
// of a CallToolResult. It round-trips through JSON because in-process
// responses may hold the content as a map rather than a typed struct.
func textFromContent(t *testing.T, result mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	b, err := json.Marshal(result.Content[0])
	if err != nil {
		t.Fatalf("marshal content: %v", err)
	}
	var tc struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(b, &tc); err != nil {
		t.Fatalf("unmarshal text content: %v", err)
	}
	return tc.Text
}
