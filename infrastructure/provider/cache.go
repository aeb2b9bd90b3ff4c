package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 4096

// CachedBackend wraps a Backend with an in-process LRU cache keyed on the
// SHA-256 of each input text, so repeated ingestion/retrieval of the same
// text (common across re-ingested test documents) skips the network or
// local-inference round trip entirely. It complements CachingTransport,
// which caches at the HTTP layer for the OpenAI backend only; CachedBackend
// works for any Backend, including the local hugot one.
type CachedBackend struct {
	inner Backend
	cache *lru.Cache[string, []float64]
}

// NewCachedBackend wraps inner with an LRU cache holding up to size
// embeddings. size <= 0 uses a default of 4096.
func NewCachedBackend(inner Backend, size int) (*CachedBackend, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, []float64](size)
	if err != nil {
		return nil, err
	}
	return &CachedBackend{inner: inner, cache: cache}, nil
}

// Capacity delegates to the wrapped backend.
func (c *CachedBackend) Capacity() int { return c.inner.Capacity() }

// Ping delegates to the wrapped backend.
func (c *CachedBackend) Ping(ctx context.Context) error { return c.inner.Ping(ctx) }

// Close delegates to the wrapped backend.
func (c *CachedBackend) Close() error { return c.inner.Close() }

// Embed returns cached vectors for texts already seen, and embeds only the
// misses via the wrapped backend, preserving input order in the result.
func (c *CachedBackend) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	result := make([][]float64, len(texts))
	keys := make([]string, len(texts))
	var missTexts []string
	var missIndices []int

	for i, text := range texts {
		key := cacheKeyForText(text)
		keys[i] = key
		if vec, ok := c.cache.Get(key); ok {
			result[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIndices = append(missIndices, i)
	}

	if len(missTexts) == 0 {
		return result, nil
	}

	embedded, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range missIndices {
		result[idx] = embedded[j]
		c.cache.Add(keys[idx], embedded[j])
	}

	return result, nil
}

// LastUsage delegates to the wrapped backend if it reports usage.
func (c *CachedBackend) LastUsage() Usage {
	if reporter, ok := c.inner.(UsageReporter); ok {
		return reporter.LastUsage()
	}
	return Usage{}
}

func cacheKeyForText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

var _ Backend = (*CachedBackend)(nil)
var _ UsageReporter = (*CachedBackend)(nil)
