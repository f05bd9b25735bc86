package sink

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rackwise/rackwise-core/internal/infrastructure/logging"
)

func TestNotifyDeliversToAllURLs(t *testing.T) {
	var hits1, hits2 atomic.Int32
	srv1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits1.Add(1)
	}))
	defer srv1.Close()
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits2.Add(1)
	}))
	defer srv2.Close()

	c := NewCallbacks(logging.Default(), true, []string{srv1.URL, srv2.URL}, 0, time.Millisecond)
	rec := testRecord("GW1")
	c.Notify(context.Background(), &rec)

	if hits1.Load() != 1 || hits2.Load() != 1 {
		t.Errorf("hits = %d / %d, want 1 each", hits1.Load(), hits2.Load())
	}
	if delivered, failed := c.Stats(); delivered != 2 || failed != 0 {
		t.Errorf("stats = %d delivered, %d failed", delivered, failed)
	}
}

func TestNotifyRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	c := NewCallbacks(logging.Default(), true, []string{srv.URL}, 3, time.Millisecond)
	rec := testRecord("GW1")
	c.Notify(context.Background(), &rec)

	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if delivered, failed := c.Stats(); delivered != 1 || failed != 0 {
		t.Errorf("stats = %d delivered, %d failed", delivered, failed)
	}
}

func TestNotifyFailureIsIsolated(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	c := NewCallbacks(logging.Default(), true, []string{bad.URL, good.URL}, 1, time.Millisecond)
	rec := testRecord("GW1")
	c.Notify(context.Background(), &rec)

	if delivered, failed := c.Stats(); delivered != 1 || failed != 1 {
		t.Errorf("stats = %d delivered, %d failed", delivered, failed)
	}
}

func TestNotifyDisabled(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := NewCallbacks(logging.Default(), false, []string{srv.URL}, 0, time.Millisecond)
	rec := testRecord("GW1")
	c.Notify(context.Background(), &rec)

	if hits.Load() != 0 {
		t.Errorf("disabled callbacks delivered %d", hits.Load())
	}
}
