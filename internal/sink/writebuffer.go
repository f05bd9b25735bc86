package sink

import (
	"context"
	"sync"
	"time"

	"github.com/rackwise/rackwise-core/internal/canonical"
	"github.com/rackwise/rackwise-core/internal/infrastructure/logging"
)

// backoffUnit is the base delay between batch retries; attempt n waits
// backoffUnit * (n+1).
const backoffUnit = time.Second

// Store is the persistence interface the write buffer flushes to.
type Store interface {
	SaveBatch(ctx context.Context, records []canonical.Record) error
	SaveHistory(ctx context.Context, rec canonical.Record) error
}

// BufferMetrics is a snapshot of write buffer counters.
type BufferMetrics struct {
	Pushed        uint64 `json:"pushed"`
	Flushes       uint64 `json:"flushes"`
	Saved         uint64 `json:"saved"`
	Retries       uint64 `json:"retries"`
	FallbackSaves uint64 `json:"fallbackSaves"`
	Dropped       uint64 `json:"dropped"`
	Size          int    `json:"size"`
}

// WriteBuffer coalesces canonical records into batched inserts.
//
// A flush triggers when the buffer reaches maxSize (synchronously, in
// the pushing goroutine) or on the flush ticker. At most one flush
// runs at a time. Transient batch failures retry with linear backoff;
// exhausted retries fall back to per-row inserts, and rows that still
// fail are dropped to bound memory.
//
// Thread Safety: safe for concurrent use.
type WriteBuffer struct {
	log   *logging.Logger
	store Store

	enabled       bool
	maxSize       int
	flushInterval time.Duration
	maxRetries    int

	mu         sync.Mutex
	items      []canonical.Record
	isFlushing bool
	closed     bool
	metrics    BufferMetrics

	// onBatchStored, when set, observes successful batch sizes.
	onBatchStored func(count int)

	done chan struct{}
	wg   sync.WaitGroup

	sleep func(ctx context.Context, d time.Duration) bool
}

// NewWriteBuffer creates a write buffer over the store. A nil store or
// enabled=false yields a no-op buffer; records still flow to the other
// sinks.
func NewWriteBuffer(log *logging.Logger, store Store, enabled bool, maxSize, maxRetries int, flushInterval time.Duration) *WriteBuffer {
	return &WriteBuffer{
		log:           log.With("component", "writebuffer"),
		store:         store,
		enabled:       enabled && store != nil,
		maxSize:       maxSize,
		flushInterval: flushInterval,
		maxRetries:    maxRetries,
		done:          make(chan struct{}),
		sleep:         sleepCtx,
	}
}

// OnBatchStored registers an observer for successful batch inserts.
// Must be called before Start.
func (b *WriteBuffer) OnBatchStored(fn func(count int)) {
	b.onBatchStored = fn
}

// Push appends a record. Reaching maxSize triggers a synchronous flush
// before Push returns.
//
// Returns:
//   - error: ErrBufferClosed after shutdown; nil otherwise (flush
//     failures are handled internally)
func (b *WriteBuffer) Push(ctx context.Context, rec canonical.Record) error {
	if !b.enabled {
		return nil
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBufferClosed
	}
	b.items = append(b.items, rec)
	b.metrics.Pushed++
	full := len(b.items) >= b.maxSize
	b.mu.Unlock()

	if full {
		b.Flush(ctx)
	}
	return nil
}

// Start launches the periodic flush ticker.
func (b *WriteBuffer) Start(ctx context.Context) {
	if !b.enabled {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.Flush(ctx)
			case <-b.done:
				return
			}
		}
	}()
}

// Flush drains the buffer into the store. At most one flush runs at a
// time; concurrent calls return immediately.
func (b *WriteBuffer) Flush(ctx context.Context) {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	if b.isFlushing || len(b.items) == 0 {
		b.mu.Unlock()
		return
	}
	b.isFlushing = true
	batch := b.items
	b.items = nil
	b.metrics.Flushes++
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.isFlushing = false
		b.mu.Unlock()
	}()

	b.saveBatch(ctx, batch)
}

// saveBatch attempts the batch insert with bounded retries, then the
// per-row fallback. An interrupted retry loop puts the batch back at
// the front of the buffer so a final flush can retry it.
func (b *WriteBuffer) saveBatch(ctx context.Context, batch []canonical.Record) {
	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			b.mu.Lock()
			b.metrics.Retries++
			b.mu.Unlock()
			if !b.sleep(ctx, backoffUnit*time.Duration(attempt)) {
				b.prependBack(batch)
				return
			}
		}

		lastErr = b.store.SaveBatch(ctx, batch)
		if lastErr == nil {
			b.mu.Lock()
			b.metrics.Saved += uint64(len(batch))
			b.mu.Unlock()
			if b.onBatchStored != nil {
				b.onBatchStored(len(batch))
			}
			return
		}
		if ctx.Err() != nil {
			b.prependBack(batch)
			return
		}
	}

	b.log.Warn("batch insert failed after retries, falling back to per-row saves",
		"batch_size", len(batch), "error", lastErr)
	b.fallbackRows(ctx, batch)
}

// fallbackRows inserts the batch one row at a time; rows that still
// fail are logged and dropped.
func (b *WriteBuffer) fallbackRows(ctx context.Context, batch []canonical.Record) {
	for _, rec := range batch {
		if err := b.store.SaveHistory(ctx, rec); err != nil {
			b.mu.Lock()
			b.metrics.Dropped++
			b.mu.Unlock()
			b.log.Error("dropping record after failed fallback insert",
				"device_id", rec.DeviceID, "kind", rec.MessageKind, "error", err)
			continue
		}
		b.mu.Lock()
		b.metrics.Saved++
		b.metrics.FallbackSaves++
		b.mu.Unlock()
	}
}

// prependBack returns an unsaved batch to the front of the buffer,
// preserving insertion order for the next flush.
func (b *WriteBuffer) prependBack(batch []canonical.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(batch, b.items...)
}

// Close stops the ticker and runs one final flush.
func (b *WriteBuffer) Close(ctx context.Context) {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	alreadyClosed := b.closed
	b.closed = true
	b.mu.Unlock()
	if alreadyClosed {
		return
	}

	close(b.done)
	b.wg.Wait()
	b.Flush(ctx)
}

// Metrics returns a counter snapshot.
func (b *WriteBuffer) Metrics() BufferMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.metrics
	m.Size = len(b.items)
	return m
}

// Size returns the number of buffered records.
func (b *WriteBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// sleepCtx sleeps for d unless the context ends first. Returns false
// when interrupted.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
