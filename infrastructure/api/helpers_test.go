package api_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dmason-mlb/mlb-qbench"
	"github.com/dmason-mlb/mlb-qbench/internal/config"
)

// fakeEmbedder is a deterministic, dependency-free stand-in for a real
// embedding backend (OpenAI or Hugot) in HTTP-layer tests, which exercise
// routing, auth, and response shaping rather than retrieval quality.
type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, f.dim)
		for j, r := range text {
			vec[j%f.dim] += float64(r)
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Capacity() int { return 64 }

func (f *fakeEmbedder) Ping(ctx context.Context) error { return nil }

func (f *fakeEmbedder) Close() error { return nil }

const testEmbedDim = 8

func newTestClient(t *testing.T) *qbench.Client {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	client, err := qbench.New(
		qbench.WithAppConfig(config.NewAppConfig().Apply(config.WithEmbedDim(testEmbedDim))),
		qbench.WithDataDir(tmpDir),
		qbench.WithSQLite(dbPath),
		qbench.WithEmbeddingBackend(&fakeEmbedder{dim: testEmbedDim}),
		qbench.WithEmbeddingCacheSize(0),
		qbench.WithVersion("1.0.0"),
	)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}
