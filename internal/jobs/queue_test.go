package jobs

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/mailidx/internal/document"
)

func msgRequest(id int64, body string) Request {
	return NewRequest(document.DocID(id), document.KindMessage, 0, fmt.Sprintf("subject %d", id), body)
}

func TestQueueEnqueueDrainOrder(t *testing.T) {
	q := NewQueue()

	for i := int64(1); i <= 3; i++ {
		assert.True(t, q.Enqueue(msgRequest(i, "body")))
	}
	assert.Equal(t, 3, q.Len())

	batch := q.DrainBatch(10)
	require.Len(t, batch, 3)
	for i, req := range batch {
		assert.Equal(t, document.DocID(i+1), req.DocID)
	}
	assert.True(t, q.IsEmpty())
}

func TestQueueDedupReplacesInPlace(t *testing.T) {
	q := NewQueue()

	assert.True(t, q.Enqueue(msgRequest(1, "old text")))
	assert.True(t, q.Enqueue(msgRequest(1, "new text")))

	assert.Equal(t, 1, q.Len())
	stats := q.Stats()
	assert.Equal(t, uint64(1), stats.TotalEnqueued)
	assert.Equal(t, uint64(1), stats.TotalDeduped)

	batch := q.DrainBatch(10)
	require.Len(t, batch, 1)
	assert.Equal(t, "new text", batch[0].Body)
}

func TestQueueBackpressure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BackpressureThreshold = 2
	q := NewQueueWithConfig(cfg)

	assert.True(t, q.Enqueue(msgRequest(1, "a")))
	assert.True(t, q.Enqueue(msgRequest(2, "b")))
	assert.False(t, q.Enqueue(msgRequest(3, "c")))

	stats := q.Stats()
	assert.Equal(t, uint64(1), stats.TotalDropped)
	assert.Equal(t, 2, q.Len())
}

func TestQueueBackpressureBeatsDedup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BackpressureThreshold = 2
	q := NewQueueWithConfig(cfg)

	assert.True(t, q.Enqueue(msgRequest(1, "a")))
	assert.True(t, q.Enqueue(msgRequest(2, "b")))

	// Doc 1 is already pending, but the saturated queue drops the
	// replacement instead of updating in place.
	assert.False(t, q.Enqueue(msgRequest(1, "newer")))
	assert.Equal(t, uint64(1), q.Stats().TotalDropped)
	assert.Equal(t, uint64(0), q.Stats().TotalDeduped)
}

func TestQueueDrainReleasesDedup(t *testing.T) {
	q := NewQueue()

	assert.True(t, q.Enqueue(msgRequest(1, "first")))
	require.Len(t, q.DrainBatch(10), 1)

	// Same document can be enqueued again after draining.
	assert.True(t, q.Enqueue(msgRequest(1, "second")))
	assert.Equal(t, uint64(2), q.Stats().TotalEnqueued)
	assert.Equal(t, uint64(0), q.Stats().TotalDeduped)
}

func TestQueueRetryBackoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = 50 * time.Millisecond
	q := NewQueueWithConfig(cfg)

	q.EnqueueRetry(msgRequest(1, "retry me"))
	assert.Equal(t, 1, q.Stats().RetryCount)

	// Backoff has not elapsed yet.
	assert.Empty(t, q.DrainBatch(10))
	assert.Equal(t, 1, q.Len())

	time.Sleep(70 * time.Millisecond)
	batch := q.DrainBatch(10)
	require.Len(t, batch, 1)
	assert.Equal(t, 1, batch[0].Retries)
}

func TestQueueRetryBackoffDoubles(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = 10 * time.Millisecond
	q := NewQueueWithConfig(cfg)

	req := msgRequest(1, "x")
	req.Retries = 3
	before := time.Now()
	q.EnqueueRetry(req)

	batch := func() []Request {
		for {
			if b := q.DrainBatch(1); len(b) > 0 {
				return b
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
	// Fourth attempt waits 10ms * 2^3 = 80ms.
	assert.GreaterOrEqual(t, time.Since(before), 80*time.Millisecond)
	assert.Equal(t, 4, batch[0].Retries)
}

func TestQueueRetryPriority(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = 0
	q := NewQueueWithConfig(cfg)

	assert.True(t, q.Enqueue(msgRequest(1, "main")))
	q.EnqueueRetry(msgRequest(2, "retry"))

	batch := q.DrainBatch(10)
	require.Len(t, batch, 2)
	// Due retries drain before the main queue.
	assert.Equal(t, document.DocID(2), batch[0].DocID)
	assert.Equal(t, document.DocID(1), batch[1].DocID)
}

func TestQueueRetryDroppedWhenPending(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = 0
	q := NewQueueWithConfig(cfg)

	assert.True(t, q.Enqueue(msgRequest(1, "fresh")))
	q.EnqueueRetry(msgRequest(1, "stale retry"))

	// The retry was dropped in favor of the pending request.
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, uint64(1), q.Stats().TotalDeduped)

	batch := q.DrainBatch(10)
	require.Len(t, batch, 1)
	assert.Equal(t, "fresh", batch[0].Body)
}

func TestQueueDrainPreservesDeferredOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = time.Hour
	q := NewQueueWithConfig(cfg)

	q.EnqueueRetry(msgRequest(1, "a"))
	q.EnqueueRetry(msgRequest(2, "b"))
	assert.Empty(t, q.DrainBatch(10))

	stats := q.Stats()
	assert.Equal(t, 2, stats.RetryCount)
}

func TestQueueDrainBatchSizeLimit(t *testing.T) {
	q := NewQueue()
	for i := int64(1); i <= 5; i++ {
		assert.True(t, q.Enqueue(msgRequest(i, "body")))
	}

	batch := q.DrainBatch(2)
	assert.Len(t, batch, 2)
	assert.Equal(t, 3, q.Len())
}

func TestQueueStats(t *testing.T) {
	q := NewQueue()
	assert.True(t, q.Enqueue(msgRequest(1, "a")))
	q.EnqueueRetry(msgRequest(2, "b"))

	stats := q.Stats()
	assert.Equal(t, 1, stats.PendingCount)
	assert.Equal(t, 1, stats.RetryCount)
	assert.Equal(t, uint64(1), stats.TotalEnqueued)
}
