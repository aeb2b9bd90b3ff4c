// Package health implements the operational core's health snapshot and
// shutdown coordination (C8, spec.md §4.8).
package health

import (
	"context"
	"sync"
	"time"

	"github.com/dmason-mlb/mlb-qbench/domain/search"
	"github.com/dmason-mlb/mlb-qbench/infrastructure/provider"
)

// Snapshot is the check_health response shape (spec.md §4.8).
type Snapshot struct {
	StoreReachable        bool      `json:"store_reachable"`
	DocCount              int64     `json:"doc_count"`
	StepCount             int64     `json:"step_count"`
	EmbedProviderOK       bool      `json:"embed_provider_ok"`
	LastSuccessfulEmbedAt time.Time `json:"last_successful_embed_at,omitzero"`
	Version               string    `json:"version"`
}

// Checker produces health snapshots by probing the stores and the
// embedding backend, and tracks the last successful embed call's
// timestamp as reported by callers (RecordSuccessfulEmbed).
type Checker struct {
	docStore  search.DocEmbeddingStore
	stepStore search.StepEmbeddingStore
	embedder  provider.Backend
	version   string

	mu                    sync.RWMutex
	lastSuccessfulEmbedAt time.Time
}

// NewChecker creates a Checker.
func NewChecker(docStore search.DocEmbeddingStore, stepStore search.StepEmbeddingStore, embedder provider.Backend, version string) *Checker {
	return &Checker{docStore: docStore, stepStore: stepStore, embedder: embedder, version: version}
}

// RecordSuccessfulEmbed records that an Embed call just succeeded, for the
// health snapshot's last_successful_embed_at field.
func (c *Checker) RecordSuccessfulEmbed(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if at.After(c.lastSuccessfulEmbedAt) {
		c.lastSuccessfulEmbedAt = at
	}
}

// Check probes the stores and embedding backend and returns a Snapshot.
// Probe failures are reflected in the relevant boolean field rather than
// returned as an error — check_health always succeeds if it can run at
// all.
func (c *Checker) Check(ctx context.Context) Snapshot {
	snap := Snapshot{Version: c.version}

	c.mu.RLock()
	snap.LastSuccessfulEmbedAt = c.lastSuccessfulEmbedAt
	c.mu.RUnlock()

	docCount, docErr := c.docStore.Count(ctx)
	stepCount, stepErr := c.stepStore.Count(ctx)
	snap.StoreReachable = docErr == nil && stepErr == nil
	if docErr == nil {
		snap.DocCount = docCount
	}
	if stepErr == nil {
		snap.StepCount = stepCount
	}

	if c.embedder != nil {
		snap.EmbedProviderOK = c.embedder.Ping(ctx) == nil
	}

	return snap
}
