package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rackwise/rackwise-core/internal/canonical"
	"github.com/rackwise/rackwise-core/internal/infrastructure/logging"
)

// callbackTimeout bounds a single POST attempt.
const callbackTimeout = 10 * time.Second

// Callbacks POSTs every canonical record to the configured URLs.
// Deliveries run in parallel and are independent: a failing endpoint
// never affects the others. Each delivery retries up to retryLimit
// times with exponential backoff.
type Callbacks struct {
	log     *logging.Logger
	client  *http.Client
	urls    []string
	enabled bool

	retryLimit int
	retryDelay time.Duration

	mu        sync.Mutex
	delivered uint64
	failed    uint64
}

// NewCallbacks creates a callback notifier.
func NewCallbacks(log *logging.Logger, enabled bool, urls []string, retryLimit int, retryDelay time.Duration) *Callbacks {
	return &Callbacks{
		log:        log.With("component", "callbacks"),
		client:     &http.Client{Timeout: callbackTimeout},
		urls:       urls,
		enabled:    enabled && len(urls) > 0,
		retryLimit: retryLimit,
		retryDelay: retryDelay,
	}
}

// Notify delivers the record to every configured URL, waiting for all
// deliveries to settle. Failures are logged per endpoint.
func (c *Callbacks) Notify(ctx context.Context, rec *canonical.Record) {
	if !c.enabled {
		return
	}

	body, err := json.Marshal(rec)
	if err != nil {
		c.log.Error("marshaling record for callbacks", "error", err)
		return
	}

	var wg sync.WaitGroup
	for _, url := range c.urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			if err := c.deliver(ctx, url, body); err != nil {
				c.mu.Lock()
				c.failed++
				c.mu.Unlock()
				c.log.Warn("callback delivery failed",
					"url", url, "device_id", rec.DeviceID, "error", err)
				return
			}
			c.mu.Lock()
			c.delivered++
			c.mu.Unlock()
		}(url)
	}
	wg.Wait()
}

// deliver POSTs the body with bounded retries.
func (c *Callbacks) deliver(ctx context.Context, url string, body []byte) error {
	var lastErr error
	for attempt := 0; attempt <= c.retryLimit; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1))
			if !sleepCtx(ctx, delay) {
				return ctx.Err()
			}
		}

		lastErr = c.post(ctx, url, body)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func (c *Callbacks) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Stats returns delivered/failed counters.
func (c *Callbacks) Stats() (delivered, failed uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delivered, c.failed
}
