package jobs

import "sync/atomic"

// Metrics counts embedding job outcomes. All counters are atomic so the
// runner, worker, and status reporting can share one instance freely.
type Metrics struct {
	totalSucceeded    atomic.Uint64
	totalRetryable    atomic.Uint64
	totalFailed       atomic.Uint64
	totalSkipped      atomic.Uint64
	totalBatches      atomic.Uint64
	totalEmbedTimeUS  atomic.Uint64
	totalDocsEmbedded atomic.Uint64
}

// NewMetrics creates zeroed metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordBatch folds one batch result into the counters.
func (m *Metrics) RecordBatch(result *BatchResult) {
	m.totalSucceeded.Add(uint64(result.Succeeded))
	m.totalRetryable.Add(uint64(result.Retryable))
	m.totalFailed.Add(uint64(result.Failed))
	m.totalSkipped.Add(uint64(result.Skipped))
	m.totalBatches.Add(1)
	m.totalEmbedTimeUS.Add(uint64(result.Elapsed.Microseconds()))
	m.totalDocsEmbedded.Add(uint64(result.Succeeded))
}

// Snapshot returns a serializable copy of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		TotalSucceeded:    m.totalSucceeded.Load(),
		TotalRetryable:    m.totalRetryable.Load(),
		TotalFailed:       m.totalFailed.Load(),
		TotalSkipped:      m.totalSkipped.Load(),
		TotalBatches:      m.totalBatches.Load(),
		TotalEmbedTimeUS:  m.totalEmbedTimeUS.Load(),
		TotalDocsEmbedded: m.totalDocsEmbedded.Load(),
	}
}

// MetricsSnapshot is a point-in-time view of job metrics.
type MetricsSnapshot struct {
	TotalSucceeded    uint64 `json:"total_succeeded"`
	TotalRetryable    uint64 `json:"total_retryable"`
	TotalFailed       uint64 `json:"total_failed"`
	TotalSkipped      uint64 `json:"total_skipped"`
	TotalBatches      uint64 `json:"total_batches"`
	TotalEmbedTimeUS  uint64 `json:"total_embed_time_us"`
	TotalDocsEmbedded uint64 `json:"total_docs_embedded"`
}

// AvgEmbedTimeUS is the mean embedding time per document, 0 when no
// documents have been embedded.
func (s MetricsSnapshot) AvgEmbedTimeUS() uint64 {
	if s.TotalDocsEmbedded == 0 {
		return 0
	}
	return s.TotalEmbedTimeUS / s.TotalDocsEmbedded
}
