// Package provider implements the pluggable embedding backend (C1): OpenAI
// over the network and hugot/onnxruntime for local/offline inference,
// behind the shared search.Embedder contract.
package provider

import (
	"context"

	"github.com/dmason-mlb/mlb-qbench/domain/search"
)

// Usage reports token consumption for a single Embed call, where the
// backend exposes it (the local hugot backend does not and reports zero).
type Usage struct {
	promptTokens int
	totalTokens  int
}

// NewUsage creates a Usage.
func NewUsage(prompt, total int) Usage {
	return Usage{promptTokens: prompt, totalTokens: total}
}

// PromptTokens returns the number of prompt tokens billed.
func (u Usage) PromptTokens() int { return u.promptTokens }

// TotalTokens returns the total number of tokens billed.
func (u Usage) TotalTokens() int { return u.totalTokens }

// UsageReporter is implemented by backends that can report token usage for
// their most recent Embed call, for cost/health telemetry.
type UsageReporter interface {
	LastUsage() Usage
}

// Backend is a pluggable embedding provider. Both OpenAIProvider and
// HugotProvider satisfy search.Embedder directly; Backend adds the
// lifecycle/health hooks the cache and health snapshot need.
type Backend interface {
	search.Embedder

	// Ping verifies the backend is reachable/loaded, without generating
	// an embedding. Used by the C8 health snapshot.
	Ping(ctx context.Context) error

	// Close releases any resources held by the backend.
	Close() error
}
