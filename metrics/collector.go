// Package metrics provides per-worker progress and throughput
// collection. The Collector accumulates counters during a single
// worker's run; its snapshot feeds both status documents and
// checkpoint part headers. It is a leaf package with no internal
// dependencies.
package metrics

import (
	"sync"
	"time"
)

// Snapshot is an immutable point-in-time view of worker progress.
// Returned by Collector.Snapshot(). Safe to read concurrently after
// creation.
type Snapshot struct {
	// Progress
	RowsProcessed int64
	TotalRows     int64
	ProgressPct   float64

	// Model traffic
	APICalls    int64
	TokensTotal int64

	// Throughput, measured over elapsed wall time
	RowsPerSec   float64
	TokensPerSec float64
	ETASeconds   float64

	// Failures
	BatchRetries int64
	FailedRows   int64

	// Checkpointing
	Checkpoints int64

	Elapsed time.Duration
}

// Collector accumulates progress during a single worker's run.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver
// safe so optional instrumentation never needs guarding.
type Collector struct {
	mu sync.Mutex

	startedAt time.Time
	totalRows int64

	rowsProcessed int64
	apiCalls      int64
	tokensTotal   int64
	batchRetries  int64
	failedRows    int64
	checkpoints   int64
}

// NewCollector creates a Collector for a range of totalRows rows.
// The throughput clock starts immediately.
func NewCollector(totalRows int64) *Collector {
	return &Collector{startedAt: time.Now(), totalRows: totalRows}
}

// AddRows records processed rows and their token usage.
func (c *Collector) AddRows(rows, tokens int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.rowsProcessed += rows
	c.tokensTotal += tokens
	c.mu.Unlock()
}

// IncAPICall records one model invocation.
func (c *Collector) IncAPICall() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.apiCalls++
	c.mu.Unlock()
}

// IncBatchRetry records one batch retry attempt.
func (c *Collector) IncBatchRetry() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.batchRetries++
	c.mu.Unlock()
}

// AddFailedRows records rows abandoned after exhausted retries.
func (c *Collector) AddFailedRows(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.failedRows += n
	c.mu.Unlock()
}

// IncCheckpoint records one checkpoint part written.
func (c *Collector) IncCheckpoint() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.checkpoints++
	c.mu.Unlock()
}

// Snapshot returns an immutable point-in-time view of all counters
// plus derived throughput. The Collector can continue to be mutated
// independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.startedAt)
	snap := Snapshot{
		RowsProcessed: c.rowsProcessed,
		TotalRows:     c.totalRows,
		APICalls:      c.apiCalls,
		TokensTotal:   c.tokensTotal,
		BatchRetries:  c.batchRetries,
		FailedRows:    c.failedRows,
		Checkpoints:   c.checkpoints,
		Elapsed:       elapsed,
	}

	if c.totalRows > 0 {
		snap.ProgressPct = 100 * float64(c.rowsProcessed) / float64(c.totalRows)
	}
	secs := elapsed.Seconds()
	if secs > 0 {
		snap.RowsPerSec = float64(c.rowsProcessed) / secs
		snap.TokensPerSec = float64(c.tokensTotal) / secs
	}
	if snap.RowsPerSec > 0 {
		remaining := c.totalRows - c.rowsProcessed
		if remaining > 0 {
			snap.ETASeconds = float64(remaining) / snap.RowsPerSec
		}
	}
	return snap
}
