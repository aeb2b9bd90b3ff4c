package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dmason-mlb/mlb-qbench/infrastructure/api"
)

func mcpRequest(t *testing.T, method string, id int, params map[string]any) []byte {
	t.Helper()
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
	}
	if params != nil {
		msg["params"] = params
	}
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return b
}

func postMCP(t *testing.T, handler http.Handler, body []byte, sessionID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// initMCPSession sends an initialize request and returns the session ID.
func initMCPSession(t *testing.T, handler http.Handler) string {
	t.Helper()
	body := mcpRequest(t, "initialize", 1, map[string]any{
		"protocolVersion": "2025-06-18",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "test", "version": "0.0.1"},
	})
	w := postMCP(t, handler, body, "")
	if w.Code != http.StatusOK {
		t.Fatalf("initialize: status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	sessionID := w.Header().Get("Mcp-Session-Id")
	if sessionID == "" {
		t.Fatal("initialize did not return a session ID")
	}
	return sessionID
}

// toolResultText decodes the JSON-RPC response from a tools/call and returns
// the text content and whether the tool reported an error.
func toolResultText(t *testing.T, w *httptest.ResponseRecorder) (string, bool) {
	t.Helper()
	var resp struct {
		Result struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode tool result: %v", err)
	}
	if len(resp.Result.Content) == 0 {
		return "", resp.Result.IsError
	}
	return resp.Result.Content[0].Text, resp.Result.IsError
}

func TestMCPEndpoint_Initialize(t *testing.T) {
	client := newTestClient(t)
	apiServer := api.NewAPIServer(client, nil)
	handler := apiServer.Handler()

	body := mcpRequest(t, "initialize", 1, map[string]any{
		"protocolVersion": "2025-06-18",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "test", "version": "0.0.1"},
	})

	w := postMCP(t, handler, body, "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Result struct {
			ServerInfo struct {
				Name    string `json:"name"`
				Version string `json:"version"`
			} `json:"serverInfo"`
			Capabilities struct {
				Tools json.RawMessage `json:"tools"`
			} `json:"capabilities"`
		} `json:"result"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if resp.Result.ServerInfo.Version != "1.0.0" {
		t.Errorf("server version = %q, want 1.0.0", resp.Result.ServerInfo.Version)
	}
	if resp.Result.Capabilities.Tools == nil {
		t.Error("expected tools capability to be present")
	}
}

func TestMCPEndpoint_ListTools(t *testing.T) {
	client := newTestClient(t)
	apiServer := api.NewAPIServer(client, nil)
	handler := apiServer.Handler()

	sessionID := initMCPSession(t, handler)

	body := mcpRequest(t, "tools/list", 2, nil)
	w := postMCP(t, handler, body, sessionID)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	names := map[string]bool{}
	for _, tool := range resp.Result.Tools {
		names[tool.Name] = true
	}

	expected := []string{
		"search_tests",
		"find_similar_tests",
		"get_test_by_key",
		"ingest_tests",
		"check_health",
		"keyword_search",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("missing %s tool", name)
		}
	}
	if len(resp.Result.Tools) != len(expected) {
		t.Errorf("expected %d tools, got %d", len(expected), len(resp.Result.Tools))
	}
}

func TestMCPEndpoint_RejectsInvalidContentType(t *testing.T) {
	client := newTestClient(t)
	apiServer := api.NewAPIServer(client, nil)
	handler := apiServer.Handler()

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestMCPEndpoint_IngestThenGetByKey(t *testing.T) {
	client := newTestClient(t)
	apiServer := api.NewAPIServer(client, nil)
	handler := apiServer.Handler()
	sessionID := initMCPSession(t, handler)

	records := `[{"external_key":"QA-1","title":"Login succeeds with valid credentials","description":"Verify login","priority":"High"}]`
	ingestBody := mcpRequest(t, "tools/call", 2, map[string]any{
		"name": "ingest_tests",
		"arguments": map[string]any{
			"source_id": "suite-1",
			"records":   records,
		},
	})
	w := postMCP(t, handler, ingestBody, sessionID)
	if w.Code != http.StatusOK {
		t.Fatalf("ingest_tests: status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	text, isError := toolResultText(t, w)
	if isError {
		t.Fatalf("ingest_tests returned error: %s", text)
	}

	getBody := mcpRequest(t, "tools/call", 3, map[string]any{
		"name":      "get_test_by_key",
		"arguments": map[string]any{"external_key": "QA-1"},
	})
	w = postMCP(t, handler, getBody, sessionID)
	if w.Code != http.StatusOK {
		t.Fatalf("get_test_by_key: status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	text, isError = toolResultText(t, w)
	if isError {
		t.Fatalf("get_test_by_key returned error: %s", text)
	}

	var doc struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		t.Fatalf("decode doc: %v", err)
	}
	if doc.Title != "Login succeeds with valid credentials" {
		t.Errorf("title = %q, want %q", doc.Title, "Login succeeds with valid credentials")
	}
}

// TestMCPEndpoint_ServerMiddlewareStack verifies that MCP works through the
// full server middleware stack (as built by ListenAndServe). chi's Timeout
// middleware must not wrap the MCP StreamableHTTPServer's ResponseWriter,
// since MCP manages its own response headers for session state.
func TestMCPEndpoint_ServerMiddlewareStack(t *testing.T) {
	client := newTestClient(t)
	apiServer := api.NewAPIServer(client, nil)
	apiServer.MountRoutes()

	srv := api.NewServer("", nil)
	srv.Router().Mount("/", apiServer.Router())
	handler := srv.Router()

	sessionID := initMCPSession(t, handler)

	body := mcpRequest(t, "tools/list", 2, nil)
	w := postMCP(t, handler, body, sessionID)
	if w.Code != http.StatusOK {
		t.Fatalf("tools/list: status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	callBody := mcpRequest(t, "tools/call", 3, map[string]any{
		"name":      "check_health",
		"arguments": map[string]any{},
	})
	w = postMCP(t, handler, callBody, sessionID)
	if w.Code != http.StatusOK {
		t.Fatalf("tools/call: status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	text, isError := toolResultText(t, w)
	if isError {
		t.Fatalf("check_health returned error: %s", text)
	}
	var snapshot struct {
		StoreReachable bool `json:"store_reachable"`
	}
	if err := json.Unmarshal([]byte(text), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if !snapshot.StoreReachable {
		t.Error("expected store_reachable = true")
	}
}
