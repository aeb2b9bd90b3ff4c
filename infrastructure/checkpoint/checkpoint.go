// Package checkpoint persists ingestion progress so a crashed or
// restarted Ingest run resumes instead of reprocessing the whole source
// (spec.md §4.4 step 5, §6.5).
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
)

// Checkpoint is the durable ingestion progress record for one source.
type Checkpoint struct {
	SourceID           string           `json:"source_id"`
	LastChunkCompleted int              `json:"last_chunk_completed"`
	DeferredChunks     []int            `json:"deferred_chunks"`
	Counters           map[string]int64 `json:"counters"`
	StartedAt          time.Time        `json:"started_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// New creates a fresh Checkpoint for sourceID with chunk -1 (nothing
// completed yet) and zeroed counters.
func New(sourceID string, now time.Time) Checkpoint {
	return Checkpoint{
		SourceID:           sourceID,
		LastChunkCompleted: -1,
		Counters:           make(map[string]int64),
		StartedAt:          now,
		UpdatedAt:          now,
	}
}

// Completed reports whether chunkIndex has already been processed.
func (c Checkpoint) Completed(chunkIndex int) bool {
	return chunkIndex <= c.LastChunkCompleted
}

// WithChunkCompleted returns a copy advancing the high-water mark and
// dropping chunkIndex from the deferred set, if present.
func (c Checkpoint) WithChunkCompleted(chunkIndex int, now time.Time) Checkpoint {
	if chunkIndex > c.LastChunkCompleted {
		c.LastChunkCompleted = chunkIndex
	}
	c.DeferredChunks = removeInt(c.DeferredChunks, chunkIndex)
	c.UpdatedAt = now
	return c
}

// WithChunkDeferred returns a copy recording chunkIndex as deferred for
// end-of-run retry (spec.md §4.4 failure policy).
func (c Checkpoint) WithChunkDeferred(chunkIndex int, now time.Time) Checkpoint {
	for _, d := range c.DeferredChunks {
		if d == chunkIndex {
			return c
		}
	}
	c.DeferredChunks = append(append([]int(nil), c.DeferredChunks...), chunkIndex)
	sort.Ints(c.DeferredChunks)
	c.UpdatedAt = now
	return c
}

// WithCounters returns a copy with counters merged (added) into the
// existing values.
func (c Checkpoint) WithCounters(delta map[string]int64, now time.Time) Checkpoint {
	merged := make(map[string]int64, len(c.Counters)+len(delta))
	for k, v := range c.Counters {
		merged[k] = v
	}
	for k, v := range delta {
		merged[k] += v
	}
	c.Counters = merged
	c.UpdatedAt = now
	return c
}

func removeInt(in []int, v int) []int {
	out := in[:0:0]
	for _, x := range in {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// Store persists and loads a single source's Checkpoint.
type Store interface {
	Load(ctx context.Context, sourceID string) (Checkpoint, bool, error)
	Save(ctx context.Context, cp Checkpoint) error
}

// FileStore persists one checkpoint file per source under dir, using
// write-then-rename for atomicity and a file lock (github.com/gofrs/flock)
// to enforce the single-writer invariant (spec.md §5 "Checkpoint file:
// single writer; writes are atomic").
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir, creating it if absent.
func NewFileStore(dir string) (FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return FileStore{}, err
	}
	return FileStore{dir: dir}, nil
}

func (s FileStore) path(sourceID string) string {
	return filepath.Join(s.dir, sanitizeSourceID(sourceID)+".checkpoint.json")
}

func (s FileStore) lockPath(sourceID string) string {
	return s.path(sourceID) + ".lock"
}

// Load reads the checkpoint for sourceID, returning (zero, false, nil) if
// none exists yet.
func (s FileStore) Load(ctx context.Context, sourceID string) (Checkpoint, bool, error) {
	data, err := os.ReadFile(s.path(sourceID))
	if errors.Is(err, os.ErrNotExist) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, err
	}
	return cp, true, nil
}

// Save persists cp for its SourceID, holding a file lock for the duration
// and writing via a temp file + rename so a concurrent reader never
// observes a partial write.
func (s FileStore) Save(ctx context.Context, cp Checkpoint) error {
	lock := flock.New(s.lockPath(cp.SourceID))
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return err
	}
	if !locked {
		return errors.New("checkpoint: could not acquire file lock")
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}

	final := s.path(cp.SourceID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

func sanitizeSourceID(sourceID string) string {
	out := make([]rune, 0, len(sourceID))
	for _, r := range sourceID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-' || r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "default"
	}
	return string(out)
}

var _ Store = FileStore{}
