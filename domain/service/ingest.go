// Package service implements the ingestion pipeline (C4) and retrieval
// engine (C6) orchestration: the business logic that sits between the
// tool surface (C7) and the C1-C3/C5 components.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmason-mlb/mlb-qbench/domain/qerr"
	"github.com/dmason-mlb/mlb-qbench/domain/search"
	"github.com/dmason-mlb/mlb-qbench/domain/testdoc"
	"github.com/dmason-mlb/mlb-qbench/infrastructure/checkpoint"
	"github.com/dmason-mlb/mlb-qbench/infrastructure/normalize"
)

// Default ingestion tunables (spec.md §4.4, §6.4).
const (
	DefaultIngestChunkSize   = 500
	DefaultIngestParallelism = 2
	defaultIngestMaxRetries  = 3
	defaultIngestRetryDelay  = 200 * time.Millisecond
)

// RawSource is a lazy sequence of raw, not-yet-normalised records, pulled
// one at a time so the pipeline never holds the whole corpus in memory
// (spec.md §4.4 step 1).
type RawSource interface {
	// SourceID identifies this source for checkpointing.
	SourceID() string

	// Next returns the next raw record, or ok=false once exhausted.
	Next(ctx context.Context) (raw normalize.Raw, ok bool, err error)
}

// IngestReport summarises one Ingest run (spec.md §4.4 contract).
type IngestReport struct {
	DocsIn       int
	DocsWritten  int
	StepsWritten int
	Warnings     []string
	Errors       []string
}

func (r *IngestReport) addWarning(w string) {
	r.Warnings = append(r.Warnings, w)
}

func (r *IngestReport) addError(e string) {
	r.Errors = append(r.Errors, e)
}

// IngestService drives the ingestion pipeline: stream+chunk, normalise,
// embed, and upsert into the vector stores, with checkpointing and
// backpressure.
type IngestService struct {
	normaliser    *normalize.Normaliser
	docStore      search.DocEmbeddingStore
	stepStore     search.StepEmbeddingStore
	documentStore search.DocumentStore
	embedder      search.Embedder
	budget        search.TokenBudget
	checkpoints   checkpoint.Store
	locks         *keyedMutex

	chunkSize   int
	parallelism int
	maxRetries  int

	bm25Store search.BM25Store
}

// SetBM25Store attaches the auxiliary keyword index (SPEC_FULL.md §1
// Non-goals) so every upserted doc is also BM25-indexed. Optional: a nil
// store (the default) simply skips keyword indexing.
func (s *IngestService) SetBM25Store(store search.BM25Store) {
	s.bm25Store = store
}

// NewIngestService creates an IngestService. chunkSize/parallelism <= 0
// fall back to the spec defaults.
func NewIngestService(
	normaliser *normalize.Normaliser,
	docStore search.DocEmbeddingStore,
	stepStore search.StepEmbeddingStore,
	documentStore search.DocumentStore,
	embedder search.Embedder,
	budget search.TokenBudget,
	checkpoints checkpoint.Store,
	chunkSize, parallelism int,
) *IngestService {
	if chunkSize <= 0 {
		chunkSize = DefaultIngestChunkSize
	}
	if parallelism <= 0 {
		parallelism = DefaultIngestParallelism
	}
	return &IngestService{
		normaliser:    normaliser,
		docStore:      docStore,
		stepStore:     stepStore,
		documentStore: documentStore,
		embedder:      embedder,
		budget:        budget,
		checkpoints:   checkpoints,
		locks:         newKeyedMutex(32),
		chunkSize:     chunkSize,
		parallelism:   parallelism,
		maxRetries:    defaultIngestMaxRetries,
	}
}

// rawChunk is one pulled-and-buffered chunk awaiting processing.
type rawChunk struct {
	index   int
	records []normalize.Raw
}

// Ingest runs the full pipeline over source, resuming from any existing
// checkpoint and persisting progress after each chunk (spec.md §4.4).
func (s *IngestService) Ingest(ctx context.Context, source RawSource) (IngestReport, error) {
	sourceID := source.SourceID()
	cp, found, err := s.checkpoints.Load(ctx, sourceID)
	if err != nil {
		return IngestReport{}, fmt.Errorf("load checkpoint: %w", err)
	}
	if !found {
		cp = checkpoint.New(sourceID, time.Now())
	}

	var (
		report    IngestReport
		reportMu  sync.Mutex
		cpMu      sync.Mutex
		throttle  = newAdaptiveThrottle(s.parallelism)
		deferred  []rawChunk
		deferredMu sync.Mutex
	)

	processChunk := func(ctx context.Context, chunk rawChunk) error {
		n, written, steps, warnings, errs, err := s.processChunk(ctx, chunk.records)

		reportMu.Lock()
		report.DocsIn += n
		report.DocsWritten += written
		report.StepsWritten += steps
		report.Warnings = append(report.Warnings, warnings...)
		report.Errors = append(report.Errors, errs...)
		reportMu.Unlock()

		if err != nil {
			if qerr.Is(err, qerr.KindFatalConfig) {
				return err
			}
			if qerr.Is(err, qerr.KindRateLimited) {
				throttle.OnThrottled()
			}
			deferredMu.Lock()
			deferred = append(deferred, chunk)
			deferredMu.Unlock()
			reportMu.Lock()
			report.addError(fmt.Sprintf("chunk %d deferred: %v", chunk.index, err))
			reportMu.Unlock()
			return nil
		}

		throttle.OnSuccess()
		cpMu.Lock()
		now := time.Now()
		cp = cp.WithChunkCompleted(chunk.index, now).WithCounters(map[string]int64{
			"docs_in":       int64(n),
			"docs_written":  int64(written),
			"steps_written": int64(steps),
		}, now)
		saveErr := s.checkpoints.Save(ctx, cp)
		cpMu.Unlock()
		return saveErr
	}

	chunkIndex := 0
	exhausted := false
	for !exhausted {
		// Pull enough chunks to fill one wave's worth of concurrency
		// (P_ingest), skipping any already covered by the checkpoint.
		var wave []rawChunk
		for len(wave) < max(1, throttle.Limit()) {
			records, pulled, pullErr := s.pullChunk(ctx, source)
			if pullErr != nil {
				return report, fmt.Errorf("pull chunk %d: %w", chunkIndex, pullErr)
			}
			if len(records) == 0 {
				exhausted = true
				break
			}
			if !cp.Completed(chunkIndex) {
				wave = append(wave, rawChunk{index: chunkIndex, records: records})
			}
			chunkIndex++
			if !pulled {
				exhausted = true
				break
			}
		}

		if len(wave) == 0 {
			continue
		}
		if err := s.runWave(ctx, wave, throttle, processChunk); err != nil {
			return report, err
		}
	}

	// Retry deferred chunks once, at the end of the run (spec.md §4.4
	// failure policy).
	if len(deferred) > 0 {
		retry := deferred
		deferred = nil
		if err := s.runWave(ctx, retry, throttle, processChunk); err != nil {
			return report, err
		}
	}
	for _, d := range deferred {
		report.addError(fmt.Sprintf("chunk %d failed after retry, abandoned", d.index))
	}

	return report, nil
}

// runWave processes chunks with up to throttle.Limit() running
// concurrently, via golang.org/x/sync/errgroup for cancellation-propagating
// fan-out (SPEC_FULL §4.4).
func (s *IngestService) runWave(ctx context.Context, chunks []rawChunk, throttle *adaptiveThrottle, process func(context.Context, rawChunk) error) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(max(1, throttle.Limit()))
	for _, c := range chunks {
		c := c
		eg.Go(func() error {
			return process(egCtx, c)
		})
	}
	return eg.Wait()
}

// pullChunk reads up to chunkSize records from source. pulled is true if
// the source was not yet exhausted at chunk end.
func (s *IngestService) pullChunk(ctx context.Context, source RawSource) (records []normalize.Raw, pulled bool, err error) {
	for i := 0; i < s.chunkSize; i++ {
		raw, ok, nextErr := source.Next(ctx)
		if nextErr != nil {
			return records, false, nextErr
		}
		if !ok {
			return records, false, nil
		}
		records = append(records, raw)
	}
	return records, true, nil
}

// processChunk normalises, embeds, and upserts one chunk's records,
// returning the chunk-local counts, warnings, and soft errors. A non-nil
// error means the whole chunk must be deferred or, for KindFatalConfig,
// the run halted.
func (s *IngestService) processChunk(ctx context.Context, records []normalize.Raw) (docsIn, docsWritten, stepsWritten int, warnings, errs []string, err error) {
	docsIn = len(records)

	docs := make([]testdoc.TestDoc, 0, len(records))
	for _, raw := range records {
		doc, docWarnings, normErr := s.normaliser.Normalise(raw)
		warnings = append(warnings, docWarnings...)
		if normErr != nil {
			errs = append(errs, fmt.Sprintf("skipped record: %v", normErr))
			continue
		}
		if validateErr := doc.Validate(); validateErr != nil {
			errs = append(errs, fmt.Sprintf("skipped record %q: %v", doc.UID(), validateErr))
			continue
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return docsIn, 0, 0, warnings, errs, nil
	}

	docTexts := make([]string, len(docs))
	for i, d := range docs {
		docTexts[i] = s.budget.Truncate(d.Text())
	}

	type stepRef struct {
		docIndex  int
		stepIndex int
	}
	var stepTexts []string
	var stepRefs []stepRef
	for di, d := range docs {
		for _, step := range d.Steps() {
			stepTexts = append(stepTexts, s.budget.Truncate(step.Text()))
			stepRefs = append(stepRefs, stepRef{docIndex: di, stepIndex: step.Index()})
		}
	}

	docVectors, err := s.embedWithRetry(ctx, docTexts)
	if err != nil {
		return docsIn, 0, 0, warnings, errs, err
	}
	if len(docVectors) != len(docs) {
		return docsIn, 0, 0, warnings, errs, qerr.Internal("embed doc batch: vector count mismatch", nil)
	}

	var stepVectors [][]float64
	if len(stepTexts) > 0 {
		stepVectors, err = s.embedWithRetry(ctx, stepTexts)
		if err != nil {
			return docsIn, 0, 0, warnings, errs, err
		}
		if len(stepVectors) != len(stepTexts) {
			return docsIn, 0, 0, warnings, errs, qerr.Internal("embed step batch: vector count mismatch", nil)
		}
	}

	vectorsByDoc := make([][]float64, len(docs))
	for i := range docs {
		vectorsByDoc[i] = docVectors[i]
	}
	stepVectorsByDoc := make([][][]float64, len(docs))
	stepsByDoc := make([][]testdoc.TestStep, len(docs))
	for i, ref := range stepRefs {
		stepVectorsByDoc[ref.docIndex] = append(stepVectorsByDoc[ref.docIndex], stepVectors[i])
	}
	for di, d := range docs {
		stepsByDoc[di] = d.Steps()
	}

	for di, doc := range docs {
		if err := s.upsertOne(ctx, doc, vectorsByDoc[di], stepsByDoc[di], stepVectorsByDoc[di]); err != nil {
			errs = append(errs, fmt.Sprintf("upsert %q failed: %v", doc.UID(), err))
			if qerr.Is(err, qerr.KindFatalConfig) {
				return docsIn, docsWritten, stepsWritten, warnings, errs, err
			}
			continue
		}
		docsWritten++
		stepsWritten += len(stepsByDoc[di])
	}

	return docsIn, docsWritten, stepsWritten, warnings, errs, nil
}

// upsertOne performs the per-uid critical section (spec.md §4.4 step 4):
// delete-steps, upsert-doc, upsert-steps, in that order, serialised per
// uid so concurrent re-ingestion of the same uid cannot interleave (I4).
func (s *IngestService) upsertOne(ctx context.Context, doc testdoc.TestDoc, vector []float64, steps []testdoc.TestStep, stepVectors [][]float64) error {
	unlock := s.locks.lock(doc.UID())
	defer unlock()

	if _, err := s.stepStore.DeleteStepsByParent(ctx, doc.UID()); err != nil {
		return qerr.Wrap(qerr.KindTransient, "delete existing steps", err)
	}

	docRecord := toDocRecord(doc, vector)
	if err := s.docStore.UpsertDocs(ctx, []search.DocRecord{docRecord}); err != nil {
		return qerr.Wrap(qerr.KindTransient, "upsert doc", err)
	}
	if err := s.documentStore.SaveDoc(ctx, doc); err != nil {
		return qerr.Wrap(qerr.KindTransient, "save doc content", err)
	}
	if s.bm25Store != nil {
		// Best-effort: the keyword index is an ambient capability never
		// consulted by Fusion, so a failure here must not fail ingestion.
		_ = s.bm25Store.Index(ctx, search.NewIndexRequest([]search.Document{
			search.NewDocument(doc.UID(), doc.Text()),
		}))
	}

	if len(steps) == 0 {
		return nil
	}
	stepRecords := make([]search.StepRecord, len(steps))
	for i, step := range steps {
		stepRecords[i] = search.StepRecord{
			ParentUID: doc.UID(),
			Index:     step.Index(),
			Vector:    stepVectors[i],
			DocRecord: docRecord,
		}
	}
	if err := s.stepStore.UpsertSteps(ctx, stepRecords); err != nil {
		return qerr.Wrap(qerr.KindTransient, "upsert steps", err)
	}
	return nil
}

func toDocRecord(doc testdoc.TestDoc, vector []float64) search.DocRecord {
	externalKey, _ := doc.ExternalKey()
	testType, _ := doc.TestType()
	return search.DocRecord{
		UID:         doc.UID(),
		Vector:      vector,
		Tags:        doc.Tags(),
		Platforms:   doc.Platforms(),
		RelatedKeys: doc.RelatedKeys(),
		FolderPath:  doc.FolderPath(),
		Priority:    string(doc.Priority()),
		TestType:    testType,
		ExternalKey: externalKey,
	}
}

// embedWithRetry calls the embedder, retrying KindTransient and
// KindRateLimited failures up to maxRetries times with a backoff that grows
// linearly (defaultIngestRetryDelay times the attempt number) before
// surfacing the error to the chunk-level deferral logic. KindFatalConfig is
// returned as is; any other error is returned at once, wrapped as
// KindTransient. When the retries are exhausted on a rate-limit failure the
// result stays KindRateLimited, so Ingest can apply backpressure.
func (s *IngestService) embedWithRetry(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(defaultIngestRetryDelay * time.Duration(attempt)):
			}
		}
		vectors, err := s.embedder.Embed(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if qerr.Is(err, qerr.KindFatalConfig) {
			return nil, err
		}
		if !qerr.Is(err, qerr.KindTransient) && !qerr.Is(err, qerr.KindRateLimited) {
			return nil, qerr.Wrap(qerr.KindTransient, "embed", err)
		}
	}
	if qerr.Is(lastErr, qerr.KindRateLimited) {
		return nil, qerr.Wrap(qerr.KindRateLimited, "embed: retries exhausted", lastErr)
	}
	return nil, qerr.Wrap(qerr.KindTransient, "embed: retries exhausted", lastErr)
}

// SliceSource adapts an in-memory slice of raw records to RawSource, for
// small or already-buffered sources (e.g. a single uploaded file).
type SliceSource struct {
	sourceID string
	records  []normalize.Raw
	pos      int
}

// NewSliceSource creates a RawSource over an in-memory slice.
func NewSliceSource(sourceID string, records []normalize.Raw) *SliceSource {
	return &SliceSource{sourceID: sourceID, records: records}
}

// SourceID returns the configured source identifier.
func (s *SliceSource) SourceID() string { return s.sourceID }

// Next returns the next buffered record.
func (s *SliceSource) Next(ctx context.Context) (normalize.Raw, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if s.pos >= len(s.records) {
		return nil, false, nil
	}
	raw := s.records[s.pos]
	s.pos++
	return raw, true, nil
}

var _ RawSource = (*SliceSource)(nil)
