package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dmason-mlb/mlb-qbench/domain/qerr"
	openai "github.com/sashabaranov/go-openai"
)

const defaultBatchSize = 25 // B_embed default

// OpenAIProvider implements search.Embedder against the OpenAI embeddings
// API, batching requests and dispatching batches concurrently.
type OpenAIProvider struct {
	client         *openai.Client
	embeddingModel string
	batchSize      int
	maxRetries     int
	initialDelay   time.Duration
	backoffFactor  float64

	mu        sync.Mutex
	lastUsage Usage
}

// OpenAIOption is a functional option for OpenAIProvider.
type OpenAIOption func(*OpenAIProvider)

// WithEmbeddingModel sets the embedding model.
func WithEmbeddingModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) { p.embeddingModel = model }
}

// WithBatchSize sets the number of texts sent per embedding call (B_embed).
func WithBatchSize(n int) OpenAIOption {
	return func(p *OpenAIProvider) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithMaxRetries sets the maximum retry count.
func WithMaxRetries(n int) OpenAIOption {
	return func(p *OpenAIProvider) { p.maxRetries = n }
}

// WithInitialDelay sets the initial retry delay.
func WithInitialDelay(d time.Duration) OpenAIOption {
	return func(p *OpenAIProvider) { p.initialDelay = d }
}

// WithBackoffFactor sets the backoff multiplier.
func WithBackoffFactor(f float64) OpenAIOption {
	return func(p *OpenAIProvider) { p.backoffFactor = f }
}

// NewOpenAIProvider creates an OpenAIProvider for apiKey.
func NewOpenAIProvider(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{
		client:         openai.NewClient(apiKey),
		embeddingModel: "text-embedding-3-small",
		batchSize:      defaultBatchSize,
		maxRetries:     5,
		initialDelay:   2 * time.Second,
		backoffFactor:  2.0,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// OpenAIConfig holds configuration for constructing an OpenAIProvider from
// parsed application config (internal/config), rather than functional
// options.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	Timeout        time.Duration
	BatchSize      int
	MaxRetries     int
	InitialDelay   time.Duration
	BackoffFactor  float64

	// HTTPClient, when set, is used as-is for the OpenAI client (for
	// example to inject a CachingTransport). Takes precedence over
	// Timeout.
	HTTPClient *http.Client
}

// NewOpenAIProviderFromConfig creates a provider from configuration.
func NewOpenAIProviderFromConfig(cfg OpenAIConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)

	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	} else if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	p := &OpenAIProvider{
		client:         openai.NewClientWithConfig(clientCfg),
		embeddingModel: cfg.EmbeddingModel,
		batchSize:      cfg.BatchSize,
		maxRetries:     cfg.MaxRetries,
		initialDelay:   cfg.InitialDelay,
		backoffFactor:  cfg.BackoffFactor,
	}

	if p.embeddingModel == "" {
		p.embeddingModel = "text-embedding-3-small"
	}
	if p.batchSize == 0 {
		p.batchSize = defaultBatchSize
	}
	if p.initialDelay == 0 {
		p.initialDelay = 2 * time.Second
	}
	if p.backoffFactor == 0 {
		p.backoffFactor = 2.0
	}

	return p
}

// Capacity returns the maximum number of texts accepted per Embed call, as
// far as a single caller should rely on without re-batching (the backend
// still internally splits into batchSize-sized requests).
func (p *OpenAIProvider) Capacity() int { return p.batchSize }

// LastUsage returns token usage from the most recent Embed call.
func (p *OpenAIProvider) LastUsage() Usage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUsage
}

// Ping verifies the API key and connectivity by requesting an embedding
// for a single short string.
func (p *OpenAIProvider) Ping(ctx context.Context) error {
	_, err := p.embedBatch(ctx, []string{"ping"})
	return err
}

// Close is a no-op for the OpenAI backend; the underlying HTTP client owns
// no resources that need releasing.
func (p *OpenAIProvider) Close() error { return nil }

// Embed generates embeddings for texts, splitting into concurrent batches
// of p.batchSize to bound request size while maximizing throughput.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	if len(texts) <= p.batchSize {
		return p.embedBatch(ctx, texts)
	}

	type batchResult struct {
		embeddings [][]float64
		usage      Usage
		err        error
	}

	batches := partition(texts, p.batchSize)
	results := make([]batchResult, len(batches))

	var wg sync.WaitGroup
	for i, batch := range batches {
		wg.Add(1)
		go func(idx int, batch []string) {
			defer wg.Done()
			embeddings, usage, err := p.embedBatchWithUsage(ctx, batch)
			results[idx] = batchResult{embeddings: embeddings, usage: usage, err: err}
		}(i, batch)
	}
	wg.Wait()

	embeddings := make([][]float64, 0, len(texts))
	var totalPrompt, totalTokens int
	for _, r := range results {
		if r.err != nil {
			return nil, r.err
		}
		embeddings = append(embeddings, r.embeddings...)
		totalPrompt += r.usage.PromptTokens()
		totalTokens += r.usage.TotalTokens()
	}

	p.mu.Lock()
	p.lastUsage = NewUsage(totalPrompt, totalTokens)
	p.mu.Unlock()

	return embeddings, nil
}

func (p *OpenAIProvider) embedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	embeddings, usage, err := p.embedBatchWithUsage(ctx, texts)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.lastUsage = usage
	p.mu.Unlock()
	return embeddings, nil
}

// errEmbeddingCountMismatch indicates the backend returned fewer
// embeddings than texts sent, observed from some OpenAI-compatible
// gateways returning 200 with a short or empty data array under load.
var errEmbeddingCountMismatch = errors.New("embedding provider returned fewer embeddings than requested")

// embedBatchWithUsage sends a single embedding request for texts.
func (p *OpenAIProvider) embedBatchWithUsage(ctx context.Context, texts []string) ([][]float64, Usage, error) {
	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.embeddingModel),
		Input: texts,
	}

	var resp openai.EmbeddingResponse
	var err error

	err = p.withRetry(ctx, func() error {
		resp, err = p.client.CreateEmbeddings(ctx, req)
		if err == nil && len(resp.Data) != len(texts) {
			return errEmbeddingCountMismatch
		}
		return err
	})

	if err != nil {
		return nil, Usage{}, p.wrapError(err)
	}

	embeddings := make([][]float64, len(resp.Data))
	for i, data := range resp.Data {
		embeddings[i] = make([]float64, len(data.Embedding))
		for j, v := range data.Embedding {
			embeddings[i][j] = float64(v)
		}
	}

	return embeddings, NewUsage(resp.Usage.PromptTokens, resp.Usage.TotalTokens), nil
}

// partition splits texts into sub-slices of at most batchSize.
func partition(texts []string, batchSize int) [][]string {
	var batches [][]string
	for i := 0; i < len(texts); i += batchSize {
		end := min(i+batchSize, len(texts))
		batches = append(batches, texts[i:end])
	}
	return batches
}

// withRetry executes fn with exponential backoff, retrying only errors
// isRetryable classifies as transient.
func (p *OpenAIProvider) withRetry(ctx context.Context, fn func() error) error {
	delay := p.initialDelay
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !isRetryable(lastErr) {
			return lastErr
		}

		if attempt < p.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				delay = time.Duration(float64(delay) * p.backoffFactor)
			}
		}
	}

	return lastErr
}

// isRetryable determines whether a raw OpenAI/network error should be
// retried; once retries run out, wrapError maps the last error to its
// qerr kind.
func isRetryable(err error) bool {
	if errors.Is(err, errEmbeddingCountMismatch) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return true
	}

	return false
}

// wrapError converts a raw OpenAI/network error into the discriminated
// qerr taxonomy (§7): C1 is the lowest layer, so the mapping happens here
// and every caller above deals only in qerr kinds.
func (p *OpenAIProvider) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return qerr.RateLimited("openai embedding rate limit exceeded", int(p.initialDelay.Seconds()))
		case http.StatusUnauthorized, http.StatusForbidden:
			return qerr.FatalConfig("openai embedding request rejected: "+apiErr.Message, err)
		case http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return qerr.Transient("openai embedding backend unavailable", err)
		case http.StatusBadRequest:
			return qerr.InvalidInput("openai rejected embedding input: " + apiErr.Message)
		}
		return qerr.Internal("openai embedding call failed", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return qerr.Transient("openai embedding network error", err)
	}

	return qerr.Internal("openai embedding call failed", err)
}

var _ Backend = (*OpenAIProvider)(nil)
