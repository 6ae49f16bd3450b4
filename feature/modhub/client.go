package modhub

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const backoffBase = 250 * time.Millisecond

// Client fetches upstream pages with global pacing and bounded retries.
// A single Client is shared by all crawl workers so the pacing policy
// applies across every concurrent request.
type Client struct {
	http   *http.Client
	cfg    Config
	logger *zap.Logger

	mu   sync.Mutex
	last time.Time
}

// NewClient creates a paced HTTP client for the configured upstream.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}
	return &Client{
		http:   &http.Client{Timeout: time.Duration(timeout) * time.Second},
		cfg:    cfg,
		logger: logger,
	}
}

// Fetch retrieves url, retrying transient failures with exponential backoff
// up to the configured attempt count. Exhausted retries return a
// TransientFetch error.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	return c.fetch(ctx, url, nil)
}

// Download retrieves a mod archive from the upstream CDN. The CDN rejects
// requests without the site referer.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	return c.fetch(ctx, url, map[string]string{"Referer": c.cfg.BaseURL})
}

func (c *Client) fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	attempts := c.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.pace(ctx); err != nil {
			return nil, transient(url, err)
		}

		body, err := c.doRequest(ctx, url, headers)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}

		c.logger.Warn("Upstream fetch failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt < attempts {
			backoff := backoffBase << (attempt - 1)
			// Jitter keeps retries from synchronizing across workers.
			backoff += time.Duration(rand.Int63n(int64(backoffBase)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, transient(url, ctx.Err())
			}
		}
	}

	return nil, transient(url, lastErr)
}

func (c *Client) doRequest(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "farmhand-ingest/1.0")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// pace blocks until the minimum inter-request interval has elapsed since
// the previous upstream request.
func (c *Client) pace(ctx context.Context) error {
	interval := time.Duration(c.cfg.PaceMillis) * time.Millisecond
	if interval <= 0 {
		return ctx.Err()
	}

	c.mu.Lock()
	wait := interval - time.Since(c.last)
	if wait > 0 {
		// Hold the lock through the sleep so concurrent workers queue
		// behind the single pacing policy instead of racing past it.
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			c.mu.Unlock()
			return ctx.Err()
		}
	}
	c.last = time.Now()
	c.mu.Unlock()
	return ctx.Err()
}
