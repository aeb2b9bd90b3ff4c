package health

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counters tracks the per-operation request counts and latency totals
// named in spec.md §4.8 ("per-operation latency histograms, per-tool
// request counters, embedding calls/tokens, ingestion records/warnings/
// errors"). No metrics client library appears anywhere in the retrieved
// example pack, so this is implemented directly on sync/atomic rather
// than reaching for an out-of-pack dependency (documented in DESIGN.md).
type Counters struct {
	requests sync.Map // string -> *opCounter

	embedCalls  atomic.Int64
	embedTokens atomic.Int64

	ingestRecords atomic.Int64
	ingestWarns   atomic.Int64
	ingestErrors  atomic.Int64
}

type opCounter struct {
	count       atomic.Int64
	totalMicros atomic.Int64
}

// NewCounters creates an empty Counters.
func NewCounters() *Counters {
	return &Counters{}
}

// RecordTool counts one tool invocation and adds its latency to the total.
func (c *Counters) RecordTool(tool string, d time.Duration) {
	v, _ := c.requests.LoadOrStore(tool, &opCounter{})
	oc := v.(*opCounter)
	oc.count.Add(1)
	oc.totalMicros.Add(d.Microseconds())
}

// ToolStats returns the count and mean latency recorded for tool.
func (c *Counters) ToolStats(tool string) (count int64, meanLatency time.Duration) {
	v, ok := c.requests.Load(tool)
	if !ok {
		return 0, 0
	}
	oc := v.(*opCounter)
	n := oc.count.Load()
	if n == 0 {
		return 0, 0
	}
	return n, time.Duration(oc.totalMicros.Load()/n) * time.Microsecond
}

// RecordEmbed records one Embed call's token usage.
func (c *Counters) RecordEmbed(tokens int) {
	c.embedCalls.Add(1)
	c.embedTokens.Add(int64(tokens))
}

// RecordIngest records one Ingest run's record-level outcome counts.
func (c *Counters) RecordIngest(records, warnings, errors int) {
	c.ingestRecords.Add(int64(records))
	c.ingestWarns.Add(int64(warnings))
	c.ingestErrors.Add(int64(errors))
}

// EmbedTotals returns the cumulative Embed call and token counts.
func (c *Counters) EmbedTotals() (calls, tokens int64) {
	return c.embedCalls.Load(), c.embedTokens.Load()
}

// IngestTotals returns the cumulative ingestion record/warning/error counts.
func (c *Counters) IngestTotals() (records, warnings, errors int64) {
	return c.ingestRecords.Load(), c.ingestWarns.Load(), c.ingestErrors.Load()
}
