// Package jobs implements the background embedding pipeline: a bounded
// deduplicating queue of embedding requests, a batch runner that feeds
// the vector index, and a refresh worker that drives it on an interval.
package jobs

import (
	"sync"
	"time"

	"github.com/Aman-CERP/mailidx/internal/canonical"
	"github.com/Aman-CERP/mailidx/internal/document"
)

// Config tunes the embedding pipeline.
type Config struct {
	// BatchSize is the maximum documents embedded in a single batch.
	BatchSize int `yaml:"batch_size"`
	// FlushInterval is the maximum wait before processing a partial batch.
	FlushInterval time.Duration `yaml:"flush_interval"`
	// BackpressureThreshold is the pending-job count above which new
	// enqueues are dropped.
	BackpressureThreshold int `yaml:"backpressure_threshold"`
	// MaxRetries bounds retry attempts for failed embedding operations.
	MaxRetries int `yaml:"max_retries"`
	// RetryBaseDelay is the first retry delay; it doubles per attempt.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	// Timeout bounds a single embedding operation.
	Timeout time.Duration `yaml:"timeout"`
	// PersistToDB controls whether embeddings are also written to the
	// primary store.
	PersistToDB bool `yaml:"persist_to_db"`
	// CanonPolicy selects the text canonicalization policy.
	CanonPolicy canonical.Policy `yaml:"canon_policy"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:             32,
		FlushInterval:         5 * time.Second,
		BackpressureThreshold: 1000,
		MaxRetries:            3,
		RetryBaseDelay:        100 * time.Millisecond,
		Timeout:               30 * time.Second,
		PersistToDB:           true,
		CanonPolicy:           canonical.PolicyFull,
	}
}

// Request asks for one document to be embedded.
type Request struct {
	DocID     document.DocID
	DocKind   document.DocKind
	ProjectID int64 // 0 when unscoped
	Title     string
	Body      string
	// Retries is the number of attempts so far.
	Retries int
	// EnqueuedAt is when the request entered the queue.
	EnqueuedAt time.Time
	// NextAttemptAt is the earliest time a retry may run.
	NextAttemptAt time.Time
}

// NewRequest creates a fresh embedding request.
func NewRequest(id document.DocID, kind document.DocKind, projectID int64, title, body string) Request {
	now := time.Now()
	return Request{
		DocID:         id,
		DocKind:       kind,
		ProjectID:     projectID,
		Title:         title,
		Body:          body,
		EnqueuedAt:    now,
		NextAttemptAt: now,
	}
}

// Key returns the deduplication key.
func (r Request) Key() document.Key {
	return document.Key{ID: r.DocID, Kind: r.DocKind}
}

// Stats is a point-in-time view of queue counters. Pending and retry
// counts are live; the totals are monotonic.
type Stats struct {
	PendingCount  int    `json:"pending_count"`
	RetryCount    int    `json:"retry_count"`
	TotalEnqueued uint64 `json:"total_enqueued"`
	TotalDropped  uint64 `json:"total_dropped"`
	TotalDeduped  uint64 `json:"total_deduped"`
}

// Queue collects pending embedding requests with backpressure and
// per-document deduplication across the main and retry queues.
type Queue struct {
	config Config

	mu         sync.Mutex
	queue      []Request
	retryQueue []Request
	dedup      map[document.Key]struct{}

	totalEnqueued uint64
	totalDropped  uint64
	totalDeduped  uint64
}

// NewQueue creates a queue with default configuration.
func NewQueue() *Queue {
	return NewQueueWithConfig(DefaultConfig())
}

// NewQueueWithConfig creates a queue with the given configuration.
func NewQueueWithConfig(config Config) *Queue {
	return &Queue{
		config: config,
		dedup:  make(map[document.Key]struct{}),
	}
}

// Enqueue adds a request. Returns false when the queue is saturated and
// the request was dropped. A request for a document already pending
// replaces the pending one in place so the freshest text wins.
func (q *Queue) Enqueue(req Request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Backpressure applies before dedup: a saturated queue drops even
	// requests that would have replaced an existing entry.
	if len(q.queue)+len(q.retryQueue) >= q.config.BackpressureThreshold {
		q.totalDropped++
		return false
	}

	key := req.Key()
	if _, pending := q.dedup[key]; pending {
		if q.replaceInPlace(q.queue, key, req) || q.replaceInPlace(q.retryQueue, key, req) {
			q.totalDeduped++
			return true
		}
		// Stale dedup key; clear and fall through to a normal enqueue.
		delete(q.dedup, key)
	}

	q.dedup[key] = struct{}{}
	q.queue = append(q.queue, req)
	q.totalEnqueued++
	return true
}

func (q *Queue) replaceInPlace(list []Request, key document.Key, req Request) bool {
	for i := range list {
		if list[i].Key() == key {
			list[i] = req
			return true
		}
	}
	return false
}

// EnqueueRetry schedules a failed request for retry with exponential
// backoff. If the document is already pending again, the retry is
// dropped in favor of the pending request.
func (q *Queue) EnqueueRetry(req Request) {
	req.Retries++

	q.mu.Lock()
	defer q.mu.Unlock()

	key := req.Key()
	if _, pending := q.dedup[key]; pending {
		q.totalDeduped++
		return
	}

	shift := req.Retries - 1
	if shift > 20 {
		shift = 20
	}
	delay := q.config.RetryBaseDelay * time.Duration(uint64(1)<<uint(shift))
	req.NextAttemptAt = time.Now().Add(delay)

	q.dedup[key] = struct{}{}
	q.retryQueue = append(q.retryQueue, req)
}

// DrainBatch removes and returns up to batchSize requests. Due retries
// drain first, then the main queue; retries whose backoff has not
// elapsed keep their relative order.
func (q *Queue) DrainBatch(batchSize int) []Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	batch := make([]Request, 0, batchSize)
	now := time.Now()

	deferred := q.retryQueue[:0]
	for _, req := range q.retryQueue {
		if len(batch) < batchSize && !req.NextAttemptAt.After(now) {
			delete(q.dedup, req.Key())
			batch = append(batch, req)
		} else {
			deferred = append(deferred, req)
		}
	}
	q.retryQueue = deferred

	for len(batch) < batchSize && len(q.queue) > 0 {
		req := q.queue[0]
		q.queue = q.queue[1:]
		delete(q.dedup, req.Key())
		batch = append(batch, req)
	}

	return batch
}

// IsEmpty reports whether both queues are empty.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue) == 0 && len(q.retryQueue) == 0
}

// Len returns the total pending count (main + retry).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue) + len(q.retryQueue)
}

// Stats returns current queue statistics.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		PendingCount:  len(q.queue),
		RetryCount:    len(q.retryQueue),
		TotalEnqueued: q.totalEnqueued,
		TotalDropped:  q.totalDropped,
		TotalDeduped:  q.totalDeduped,
	}
}

// Config returns the queue configuration.
func (q *Queue) Config() Config {
	return q.config
}
