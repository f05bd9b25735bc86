package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rackwise/rackwise-core/internal/canonical"
	"github.com/rackwise/rackwise-core/internal/infrastructure/logging"
)

// fakeStore counts calls and fails the first failBatches SaveBatch
// calls.
type fakeStore struct {
	mu          sync.Mutex
	failBatches int
	failRows    bool
	batches     [][]canonical.Record
	rows        []canonical.Record
}

func (s *fakeStore) SaveBatch(ctx context.Context, records []canonical.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failBatches > 0 {
		s.failBatches--
		return errors.New("transient failure")
	}
	batch := make([]canonical.Record, len(records))
	copy(batch, records)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *fakeStore) SaveHistory(ctx context.Context, rec canonical.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRows {
		return errors.New("row failure")
	}
	s.rows = append(s.rows, rec)
	return nil
}

func (s *fakeStore) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func noSleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	default:
		return true
	}
}

func newTestBuffer(store Store, maxSize int) *WriteBuffer {
	b := NewWriteBuffer(logging.Default(), store, true, maxSize, 3, time.Hour)
	b.sleep = noSleep
	return b
}

func TestPushTriggersFlushAtMaxSize(t *testing.T) {
	store := &fakeStore{}
	b := newTestBuffer(store, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := b.Push(ctx, testRecord("GW1")); err != nil {
			t.Fatalf("Push() error: %v", err)
		}
	}
	if store.batchCount() != 0 {
		t.Fatalf("flush before maxSize reached")
	}

	// Third push reaches maxSize and flushes synchronously.
	if err := b.Push(ctx, testRecord("GW1")); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	if store.batchCount() != 1 || len(store.batches[0]) != 3 {
		t.Errorf("batches = %d, want one batch of 3", store.batchCount())
	}
	if b.Size() != 0 {
		t.Errorf("buffer size after flush = %d", b.Size())
	}
}

func TestFlushRetriesThenSucceeds(t *testing.T) {
	// Three transient failures, then success: the batch drains exactly
	// once and three retries are recorded.
	store := &fakeStore{failBatches: 3}
	b := newTestBuffer(store, 100)
	ctx := context.Background()

	var stored int
	b.OnBatchStored(func(count int) { stored = count })

	for i := 0; i < 5; i++ {
		if err := b.Push(ctx, testRecord("GW1")); err != nil {
			t.Fatalf("Push() error: %v", err)
		}
	}
	b.Flush(ctx)

	if store.batchCount() != 1 || len(store.batches[0]) != 5 {
		t.Fatalf("batches = %v", store.batchCount())
	}
	if stored != 5 {
		t.Errorf("onBatchStored = %d, want 5", stored)
	}

	m := b.Metrics()
	if m.Retries != 3 {
		t.Errorf("retries = %d, want 3", m.Retries)
	}
	if m.Saved != 5 || m.Size != 0 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestFlushFallsBackPerRow(t *testing.T) {
	// More failures than retries: batch path gives up, rows are saved
	// individually.
	store := &fakeStore{failBatches: 10}
	b := newTestBuffer(store, 100)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := b.Push(ctx, testRecord("GW1")); err != nil {
			t.Fatalf("Push() error: %v", err)
		}
	}
	b.Flush(ctx)

	store.mu.Lock()
	rowCount := len(store.rows)
	store.mu.Unlock()
	if rowCount != 4 {
		t.Errorf("fallback rows = %d, want 4", rowCount)
	}

	m := b.Metrics()
	if m.FallbackSaves != 4 || m.Dropped != 0 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestFlushDropsRowsThatStillFail(t *testing.T) {
	store := &fakeStore{failBatches: 10, failRows: true}
	b := newTestBuffer(store, 100)
	ctx := context.Background()

	if err := b.Push(ctx, testRecord("GW1")); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	b.Flush(ctx)

	m := b.Metrics()
	if m.Dropped != 1 || m.Saved != 0 {
		t.Errorf("metrics = %+v", m)
	}
	if b.Size() != 0 {
		t.Errorf("dropped rows re-enqueued, size = %d", b.Size())
	}
}

func TestInterruptedRetryPrependsBack(t *testing.T) {
	store := &fakeStore{failBatches: 10}
	b := newTestBuffer(store, 100)

	ctx, cancel := context.WithCancel(context.Background())
	if err := b.Push(ctx, testRecord("GW1")); err != nil {
		t.Fatalf("Push() error: %v", err)
	}

	// Cancel before the flush so the retry backoff aborts.
	cancel()
	b.Flush(ctx)

	if b.Size() != 1 {
		t.Errorf("size = %d, want batch prepended back", b.Size())
	}
}

func TestDisabledBufferIsNoOp(t *testing.T) {
	b := NewWriteBuffer(logging.Default(), nil, false, 10, 3, time.Hour)
	ctx := context.Background()

	if err := b.Push(ctx, testRecord("GW1")); err != nil {
		t.Errorf("Push() on disabled buffer: %v", err)
	}
	b.Flush(ctx)
	b.Close(ctx)
	if b.Size() != 0 {
		t.Errorf("size = %d", b.Size())
	}
}

func TestCloseFlushesRemaining(t *testing.T) {
	store := &fakeStore{}
	b := newTestBuffer(store, 100)
	ctx := context.Background()

	b.Start(ctx)
	for i := 0; i < 3; i++ {
		if err := b.Push(ctx, testRecord("GW1")); err != nil {
			t.Fatalf("Push() error: %v", err)
		}
	}
	b.Close(ctx)

	if store.batchCount() != 1 || len(store.batches[0]) != 3 {
		t.Errorf("final flush did not drain: %d batches", store.batchCount())
	}
	if err := b.Push(ctx, testRecord("GW1")); !errors.Is(err, ErrBufferClosed) {
		t.Errorf("Push() after close = %v, want ErrBufferClosed", err)
	}
}

func TestNoDoubleInsertAcrossFlushes(t *testing.T) {
	store := &fakeStore{}
	b := newTestBuffer(store, 100)
	ctx := context.Background()

	if err := b.Push(ctx, testRecord("GW1")); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	b.Flush(ctx)
	b.Flush(ctx)

	total := 0
	store.mu.Lock()
	for _, batch := range store.batches {
		total += len(batch)
	}
	store.mu.Unlock()
	if total != 1 {
		t.Errorf("records inserted = %d, want 1", total)
	}
}
